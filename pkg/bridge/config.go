package bridge

import (
	"github.com/arzzra/iot_bridge/pkg/recorder"
	"github.com/arzzra/iot_bridge/pkg/relay"
	"github.com/arzzra/iot_bridge/pkg/session"
)

// Config — конфигурация экземпляра моста. Внешние интерфейсы опциональны:
// пустой адрес выключает соответствующий путь, ядро продолжает работать
// без него.
type Config struct {
	// Store — параметры хранилища сессий
	Store session.StoreConfig

	// Data — мост канала данных. Пустой ListenAddr выключает его.
	Data relay.DataBridgeConfig

	// Media — внешний отправитель медиа. Пустой Dest выключает его.
	Media relay.MediaSenderConfig

	// EchoMedia включает отражение медиа обратно в сессию, когда внешний
	// отправитель не настроен
	EchoMedia bool

	// RecordingDir — каталог файлов записи; пустое значение означает
	// временный каталог системы
	RecordingDir string

	// RecorderOpener подменяет фабрику рекордеров; nil означает
	// файловые записи в RecordingDir
	RecorderOpener recorder.Opener

	// Metrics — настройки сборщика метрик
	Metrics MetricsConfig
}

// DefaultConfig возвращает конфигурацию моста по умолчанию: внешние
// интерфейсы выключены, отражение медиа включено
func DefaultConfig() Config {
	return Config{
		Store:     session.DefaultStoreConfig(),
		Data:      relay.DefaultDataBridgeConfig(),
		EchoMedia: true,
		Metrics:   DefaultMetricsConfig(),
	}
}

// DataEnabled сообщает, настроен ли мост канала данных
func (c Config) DataEnabled() bool {
	return c.Data.ListenAddr != ""
}

// MediaEnabled сообщает, настроен ли внешний отправитель медиа
func (c Config) MediaEnabled() bool {
	return c.Media.Dest != ""
}
