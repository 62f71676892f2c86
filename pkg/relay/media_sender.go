package relay

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/dtls/v2"
)

// TransportDTLS — медиа уходит наружу по DTLS поверх UDP
const TransportDTLS = "dtls"

// DefaultHandshakeTimeout — предел ожидания DTLS рукопожатия
const DefaultHandshakeTimeout = 30 * time.Second

// DTLSConfig — настройки защищенной доставки медиа. Для IoT оконечников
// используется PSK: сертификатная инфраструктура на устройствах обычно
// недоступна.
type DTLSConfig struct {
	// PSK возвращает общий ключ по подсказке идентичности
	PSK func(hint []byte) ([]byte, error)
	// PSKIdentityHint — идентичность, предъявляемая при рукопожатии
	PSKIdentityHint []byte
	// CipherSuites — допустимые наборы шифров; пустой список означает
	// наборы по умолчанию для PSK
	CipherSuites []dtls.CipherSuiteID
	// ServerName — ожидаемое имя удаленной стороны
	ServerName string
	// InsecureSkipVerify отключает проверку удаленной стороны
	InsecureSkipVerify bool
	// HandshakeTimeout — предел ожидания рукопожатия
	HandshakeTimeout time.Duration
}

// MediaSenderConfig — конфигурация отправителя медиа
type MediaSenderConfig struct {
	// Dest — адрес доставки медиа (host:port)
	Dest string
	// Transport — TransportUDP либо TransportDTLS, по умолчанию UDP
	Transport string
	// WriteTimeout ограничивает каждую запись; ноль — без ограничения
	WriteTimeout time.Duration
	// DTLS обязателен при Transport == TransportDTLS
	DTLS *DTLSConfig
}

// MediaSender доставляет медиа кадры внешнему приемнику как есть, без
// префикса: медиа поток не мультиплексируется по сессиям.
type MediaSender struct {
	config MediaSenderConfig

	mu     sync.RWMutex
	conn   net.Conn
	active bool

	sent       atomic.Uint64
	sendErrors atomic.Uint64
}

// NewMediaSender подключает отправитель к приемнику медиа. Для DTLS
// выполняется рукопожатие, ошибки рукопожатия возвращаются сразу.
func NewMediaSender(config MediaSenderConfig) (*MediaSender, error) {
	if config.Dest == "" {
		return nil, fmt.Errorf("не задан адрес приемника медиа")
	}
	if config.Transport == "" {
		config.Transport = TransportUDP
	}

	sender := &MediaSender{config: config}

	switch config.Transport {
	case TransportUDP:
		conn, err := net.Dial("udp", config.Dest)
		if err != nil {
			return nil, fmt.Errorf("ошибка подключения отправителя медиа: %w", err)
		}
		sender.conn = conn

	case TransportDTLS:
		if config.DTLS == nil {
			return nil, fmt.Errorf("транспорт dtls требует настроек DTLS")
		}
		conn, err := dialDTLS(config.Dest, config.DTLS)
		if err != nil {
			return nil, err
		}
		sender.conn = conn

	default:
		return nil, fmt.Errorf("неизвестный транспорт отправителя медиа: %q", config.Transport)
	}

	sender.active = true
	slog.Info("relay.MediaSender Started",
		slog.String("transport", config.Transport),
		slog.String("dest", config.Dest))
	return sender, nil
}

// dialDTLS устанавливает DTLS соединение с приемником медиа
func dialDTLS(dest string, cfg *DTLSConfig) (net.Conn, error) {
	addr, err := net.ResolveUDPAddr("udp", dest)
	if err != nil {
		return nil, fmt.Errorf("ошибка разрешения адреса приемника: %w", err)
	}

	handshakeTimeout := cfg.HandshakeTimeout
	if handshakeTimeout == 0 {
		handshakeTimeout = DefaultHandshakeTimeout
	}

	cipherSuites := cfg.CipherSuites
	if len(cipherSuites) == 0 && cfg.PSK != nil {
		cipherSuites = []dtls.CipherSuiteID{
			dtls.TLS_PSK_WITH_AES_128_GCM_SHA256,
			dtls.TLS_PSK_WITH_AES_128_CCM_8,
		}
	}

	dtlsConfig := &dtls.Config{
		PSK:                cfg.PSK,
		PSKIdentityHint:    cfg.PSKIdentityHint,
		CipherSuites:       cipherSuites,
		ServerName:         cfg.ServerName,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
		ConnectContextMaker: func() (context.Context, func()) {
			return context.WithTimeout(context.Background(), handshakeTimeout)
		},
	}

	conn, err := dtls.Dial("udp", addr, dtlsConfig)
	if err != nil {
		return nil, fmt.Errorf("ошибка DTLS рукопожатия с приемником медиа: %w", err)
	}
	return conn, nil
}

// Send передает один медиа кадр приемнику
func (m *MediaSender) Send(payload []byte) error {
	if len(payload) == 0 {
		return nil
	}

	m.mu.RLock()
	active := m.active
	conn := m.conn
	m.mu.RUnlock()

	if !active {
		return fmt.Errorf("отправитель медиа остановлен")
	}

	if m.config.WriteTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(m.config.WriteTimeout))
	}
	if _, err := conn.Write(payload); err != nil {
		m.sendErrors.Add(1)
		return fmt.Errorf("ошибка передачи медиа кадра: %w", err)
	}
	m.sent.Add(1)
	return nil
}

// Sent возвращает число переданных кадров
func (m *MediaSender) Sent() uint64 {
	return m.sent.Load()
}

// SendErrors возвращает число неудачных передач
func (m *MediaSender) SendErrors() uint64 {
	return m.sendErrors.Load()
}

// LocalAddr возвращает локальный адрес отправителя
func (m *MediaSender) LocalAddr() net.Addr {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.conn == nil {
		return nil
	}
	return m.conn.LocalAddr()
}

// RemoteAddr возвращает адрес приемника медиа
func (m *MediaSender) RemoteAddr() net.Addr {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.conn == nil {
		return nil
	}
	return m.conn.RemoteAddr()
}

// Close закрывает соединение с приемником. Идемпотентен.
func (m *MediaSender) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.active {
		return nil
	}
	m.active = false

	slog.Info("relay.MediaSender Stopped")
	return m.conn.Close()
}
