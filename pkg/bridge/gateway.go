package bridge

import (
	"github.com/arzzra/iot_bridge/pkg/session"
	"github.com/arzzra/iot_bridge/pkg/signaling"
)

// Метаданные ядра, отдаваемые хосту через Info
const (
	PluginVersion       = 1
	PluginVersionString = "0.1.0"
	PluginName          = "IoT bridge"
	PluginDescription   = "Мост между согласованными хостом peer соединениями и внешними IoT интерфейсами"
	PluginPackage       = "iotbridge"
)

// Gateway — контракт хоста. Ядро не владеет ни peer соединениями, ни
// транспортом сигналинга: доставку медиа, RTCP, данных и событий назад
// в сессию выполняет хост. Все методы обязаны быть потокобезопасными,
// ядро зовет их из воркера конвейера и из циклов моста.
type Gateway interface {
	// RelayMediaOut доставляет медиа кадр в peer соединение сессии
	RelayMediaOut(id session.HandleID, video bool, payload []byte)

	// RelayRTCPOut доставляет RTCP пакет в peer соединение сессии.
	// Нулевые SSRC внутри пакета хост подставляет сам.
	RelayRTCPOut(id session.HandleID, video bool, payload []byte)

	// RelayDataOut доставляет сообщение в канал данных сессии
	RelayDataOut(id session.HandleID, payload []byte)

	// PushEvent отправляет асинхронное событие по сигнальному пути хоста.
	// Пустая транзакция означает событие вне запроса.
	PushEvent(id session.HandleID, transaction string, event *signaling.Event, jsep *signaling.Negotiation) error
}

// PluginInfo — блок метаданных ядра
type PluginInfo struct {
	Version       int    `json:"version"`
	VersionString string `json:"version_string"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	Package       string `json:"package"`
}
