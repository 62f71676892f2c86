// Package bridge реализует ядро моста: явный контекстный объект, владеющий
// хранилищем сессий, конвейером сигналинга, внешними интерфейсами реле и
// метриками. Несколько экземпляров моста сосуществуют в одном процессе —
// никакого глобального изменяемого состояния пакет не несет.
package bridge

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arzzra/iot_bridge/pkg/recorder"
	"github.com/arzzra/iot_bridge/pkg/relay"
	"github.com/arzzra/iot_bridge/pkg/session"
	"github.com/arzzra/iot_bridge/pkg/signaling"
)

// Ошибки жизненного цикла моста
var (
	// ErrNotStarted возвращается операциями над не запущенным мостом
	ErrNotStarted = errors.New("мост не запущен")
	// ErrStopping возвращается операциями во время остановки моста
	ErrStopping = errors.New("мост останавливается")
)

// Bridge — экземпляр ядра. Все зависимости создаются в New и живут до
// Close; хост получает объект целиком и зовет его callback методы из
// собственных потоков.
type Bridge struct {
	config  Config
	gateway Gateway

	store  *session.Store
	queue  *signaling.Queue
	opener recorder.Opener

	// data и media опциональны: отказ привязки при старте отключает
	// только соответствующий путь, не весь мост
	data  *relay.DataBridge
	media *relay.MediaSender

	metrics *metricsCollector

	mu         sync.Mutex
	started    bool
	stopping   atomic.Bool
	workerDone chan struct{}
}

// New собирает мост по конфигурации. Внешние интерфейсы, которые не
// удалось инициализировать, отключаются с записью в журнал — ядро обязано
// продолжать работать без них.
func New(config Config, gateway Gateway) (*Bridge, error) {
	if gateway == nil {
		return nil, fmt.Errorf("не задан шлюз хоста")
	}

	opener := config.RecorderOpener
	if opener == nil {
		opener = recorder.FileOpener(config.RecordingDir)
	}

	b := &Bridge{
		config:     config,
		gateway:    gateway,
		store:      session.NewStore(config.Store),
		queue:      signaling.NewQueue(),
		opener:     opener,
		metrics:    newMetricsCollector(config.Metrics),
		workerDone: make(chan struct{}),
	}

	if config.DataEnabled() {
		dataConfig := config.Data
		dataConfig.OnFrame = b.onExternalFrame
		data, err := relay.NewDataBridge(dataConfig)
		if err != nil {
			slog.Error("bridge.New data bridge disabled",
				slog.String("listen", dataConfig.ListenAddr),
				slog.Any("error", err))
		} else {
			b.data = data
		}
	}

	if config.MediaEnabled() {
		media, err := relay.NewMediaSender(config.Media)
		if err != nil {
			slog.Error("bridge.New media sender disabled",
				slog.String("dest", config.Media.Dest),
				slog.Any("error", err))
		} else {
			b.media = media
		}
	}

	b.metrics.trackDepths(
		func() float64 { return float64(b.store.Len()) },
		func() float64 { return float64(b.store.DeferredLen()) },
		func() float64 { return float64(b.queue.Len()) },
	)

	return b, nil
}

// Start запускает воркер конвейера и прием внешних кадров.
// Повторный вызов ошибочен.
func (b *Bridge) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopping.Load() {
		return ErrStopping
	}
	if b.started {
		return fmt.Errorf("мост уже запущен")
	}
	b.started = true

	go b.handlerLoop()

	if b.data != nil {
		if err := b.data.Start(); err != nil {
			slog.Error("bridge.Start data bridge failed",
				slog.Any("error", err))
		}
	}

	slog.Info("bridge.Bridge Started",
		slog.String("version", PluginVersionString),
		slog.Bool("data", b.data != nil),
		slog.Bool("media", b.media != nil))
	return nil
}

// Close останавливает мост в порядке teardown: флаг остановки, сентинел в
// очередь, ожидание воркера, затем внешние интерфейсы и хранилище.
// Сообщения, оказавшиеся в очереди после сентинела, не обрабатываются.
// Идемпотентен.
func (b *Bridge) Close() error {
	if !b.stopping.CompareAndSwap(false, true) {
		return nil
	}

	b.mu.Lock()
	started := b.started
	b.mu.Unlock()

	b.queue.PushShutdown()
	if started {
		<-b.workerDone
	}
	b.queue.Close()

	var errs []error
	if b.data != nil {
		if err := b.data.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if b.media != nil {
		if err := b.media.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := b.store.Close(); err != nil {
		errs = append(errs, err)
	}

	slog.Info("bridge.Bridge Stopped")
	return errors.Join(errs...)
}

// CreateSession регистрирует новую сессию под идентификатором хоста
func (b *Bridge) CreateSession(id session.HandleID) error {
	if b.stopping.Load() {
		return ErrStopping
	}

	if _, err := b.store.Create(id); err != nil {
		return err
	}
	b.metrics.SessionCreated()
	slog.Debug("bridge.CreateSession session registered",
		slog.Uint64("handle_id", uint64(id)))
	return nil
}

// DestroySession ставит надгробие на сессию и закрывает ее рекордеры.
// Память освобождает жнец хранилища спустя страховочное окно.
func (b *Bridge) DestroySession(id session.HandleID) error {
	sess, ok := b.store.Lookup(id)
	if !ok {
		return session.NewStoreError(session.ErrorCodeSessionNotFound, "сессия не найдена", id)
	}

	if err := b.store.Destroy(id); err != nil {
		return err
	}

	// Рекордеры закрываются сразу, не дожидаясь жнеца: файлы записи
	// должны быть пригодны к чтению как только хост снес сессию
	if err := sess.CloseRecorders(); err != nil {
		slog.Error("bridge.DestroySession recorder close failed",
			slog.Uint64("handle_id", uint64(id)),
			slog.Any("error", err))
	}

	b.metrics.SessionDestroyed()
	slog.Debug("bridge.DestroySession session tombstoned",
		slog.Uint64("handle_id", uint64(id)))
	return nil
}

// QuerySession возвращает структурный срез состояния сессии. Надгробия
// тоже видны: до прихода жнеца хост может наблюдать destroyed отметку.
func (b *Bridge) QuerySession(id session.HandleID) (session.Snapshot, error) {
	sess, ok := b.store.Find(id)
	if !ok {
		return session.Snapshot{}, session.NewStoreError(session.ErrorCodeSessionNotFound, "сессия не найдена", id)
	}
	return sess.Snapshot(), nil
}

// Info возвращает блок метаданных ядра
func (b *Bridge) Info() PluginInfo {
	return PluginInfo{
		Version:       PluginVersion,
		VersionString: PluginVersionString,
		Name:          PluginName,
		Description:   PluginDescription,
		Package:       PluginPackage,
	}
}

// DataLocalAddr возвращает адрес приема кадров моста данных, nil когда
// путь данных не поднялся
func (b *Bridge) DataLocalAddr() net.Addr {
	if b.data == nil {
		return nil
	}
	return b.data.LocalAddr()
}

// MetricsRegistry возвращает изолированный реестр метрик экземпляра,
// nil при внешнем Registerer или выключенных метриках
func (b *Bridge) MetricsRegistry() *prometheus.Registry {
	return b.metrics.Registry()
}

// pushEvent доставляет событие хосту и учитывает результат доставки
func (b *Bridge) pushEvent(id session.HandleID, transaction string, event *signaling.Event, jsep *signaling.Negotiation) {
	err := b.gateway.PushEvent(id, transaction, event, jsep)
	b.metrics.EventPushed(err == nil)
	if err != nil {
		slog.Warn("bridge.pushEvent delivery failed",
			slog.Uint64("handle_id", uint64(id)),
			slog.String("transaction", transaction),
			slog.Any("error", err))
	}
}
