package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

// Транспорты моста данных
const (
	// TransportTCP — внешний клиент подключается к мосту по TCP
	TransportTCP = "tcp"
	// TransportUDP — обмен датаграммами без соединения
	TransportUDP = "udp"
)

// Настройки моста данных по умолчанию
const (
	// DefaultReadBufferSize — размер буфера чтения внешнего интерфейса
	DefaultReadBufferSize = 64 * 1024
	// DefaultAcceptBackoff — пауза перед повторным ожиданием клиента
	DefaultAcceptBackoff = time.Second
)

// ErrBridgeClosed возвращается операциями над остановленным мостом
var ErrBridgeClosed = errors.New("мост внешнего интерфейса остановлен")

// FrameHandler получает разобранный входящий кадр. Полезная нагрузка
// принадлежит обработчику. Вызывается из цикла чтения моста: долгая
// обработка тормозит прием.
type FrameHandler func(id uint64, payload []byte)

// DataBridgeConfig — конфигурация моста канала данных
type DataBridgeConfig struct {
	// Transport — TransportTCP либо TransportUDP
	Transport string
	// ListenAddr — адрес приема внешних кадров (host:port)
	ListenAddr string
	// Dest — адрес доставки исходящих кадров в UDP режиме. Пустое
	// значение означает обучение по источнику последней датаграммы.
	// В TCP режиме не используется: исходящие идут подключенному клиенту.
	Dest string
	// ReadBufferSize — размер буфера чтения, по умолчанию 64КиБ
	ReadBufferSize int
	// AcceptBackoff — пауза между клиентами и после ошибок приема
	AcceptBackoff time.Duration
	// OnFrame — обработчик входящих кадров
	OnFrame FrameHandler
}

// DefaultDataBridgeConfig возвращает конфигурацию моста по умолчанию
func DefaultDataBridgeConfig() DataBridgeConfig {
	return DataBridgeConfig{
		Transport:      TransportTCP,
		ReadBufferSize: DefaultReadBufferSize,
		AcceptBackoff:  DefaultAcceptBackoff,
	}
}

// DataBridgeStats — счетчики моста данных
type DataBridgeStats struct {
	// Received — принятые и разобранные кадры
	Received uint64
	// Undecodable — отброшенные входящие: короче минимального кадра
	Undecodable uint64
	// Sent — кадры, переданные внешнему интерфейсу
	Sent uint64
	// DroppedSends — исходящие, отброшенные без подключенного клиента
	DroppedSends uint64
}

// DataBridge соединяет каналы данных сессий с внешним интерфейсом.
// В TCP режиме мост обслуживает одного внешнего клиента за раз: кадры
// подключившегося следующим начинают приниматься только после ухода
// текущего. Граница кадра — граница одного Read: внешняя сторона обязана
// писать кадр одним сегментом.
type DataBridge struct {
	config DataBridgeConfig

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	mu       sync.RWMutex
	listener net.Listener
	client   net.Conn
	udpConn  *net.UDPConn
	udpDest  *net.UDPAddr
	started  bool
	closed   bool

	received     atomic.Uint64
	undecodable  atomic.Uint64
	sent         atomic.Uint64
	droppedSends atomic.Uint64
}

// NewDataBridge привязывает сокет приема и готовит мост. Прием кадров
// начинается после Start.
func NewDataBridge(config DataBridgeConfig) (*DataBridge, error) {
	if config.Transport == "" {
		config.Transport = TransportTCP
	}
	if config.ReadBufferSize <= 0 {
		config.ReadBufferSize = DefaultReadBufferSize
	}
	if config.AcceptBackoff <= 0 {
		config.AcceptBackoff = DefaultAcceptBackoff
	}
	if config.ListenAddr == "" {
		return nil, fmt.Errorf("не задан адрес приема внешнего интерфейса")
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)

	bridge := &DataBridge{
		config: config,
		ctx:    ctx,
		cancel: cancel,
		group:  group,
	}

	lc := net.ListenConfig{
		Control: func(network, address string, raw syscall.RawConn) error {
			return tuneExternalSocket(raw, config.ReadBufferSize)
		},
	}

	switch config.Transport {
	case TransportTCP:
		listener, err := lc.Listen(context.Background(), "tcp", config.ListenAddr)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("ошибка привязки TCP приемника: %w", err)
		}
		bridge.listener = listener

	case TransportUDP:
		packetConn, err := lc.ListenPacket(context.Background(), "udp", config.ListenAddr)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("ошибка привязки UDP приемника: %w", err)
		}
		bridge.udpConn = packetConn.(*net.UDPConn)

		if config.Dest != "" {
			dest, err := net.ResolveUDPAddr("udp", config.Dest)
			if err != nil {
				bridge.udpConn.Close()
				cancel()
				return nil, fmt.Errorf("ошибка разрешения адреса доставки: %w", err)
			}
			bridge.udpDest = dest
		}

	default:
		cancel()
		return nil, fmt.Errorf("неизвестный транспорт моста данных: %q", config.Transport)
	}

	return bridge, nil
}

// Start запускает циклы приема. Повторный вызов ошибочен.
func (b *DataBridge) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBridgeClosed
	}
	if b.started {
		return fmt.Errorf("мост данных уже запущен")
	}
	b.started = true

	switch b.config.Transport {
	case TransportTCP:
		b.group.Go(b.acceptLoop)
		slog.Info("relay.DataBridge Started",
			slog.String("transport", TransportTCP),
			slog.String("listen", b.listener.Addr().String()))
	case TransportUDP:
		b.group.Go(b.datagramLoop)
		slog.Info("relay.DataBridge Started",
			slog.String("transport", TransportUDP),
			slog.String("listen", b.udpConn.LocalAddr().String()))
	}
	return nil
}

// acceptLoop последовательно обслуживает внешних TCP клиентов
func (b *DataBridge) acceptLoop() error {
	for {
		conn, err := b.listener.Accept()
		if err != nil {
			if b.ctx.Err() != nil {
				return nil
			}
			slog.Warn("relay.DataBridge accept failed",
				slog.Any("error", err))
			if !b.sleep(b.config.AcceptBackoff) {
				return nil
			}
			continue
		}

		b.setClient(conn)
		slog.Info("relay.DataBridge external client connected",
			slog.String("remote", conn.RemoteAddr().String()))

		b.readClient(conn)

		b.clearClient(conn)
		conn.Close()
		slog.Info("relay.DataBridge external client disconnected",
			slog.String("remote", conn.RemoteAddr().String()))

		if b.ctx.Err() != nil {
			return nil
		}
		if !b.sleep(b.config.AcceptBackoff) {
			return nil
		}
	}
}

// readClient читает кадры подключенного клиента до разрыва
func (b *DataBridge) readClient(conn net.Conn) {
	buf := make([]byte, b.config.ReadBufferSize)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		b.dispatch(buf[:n])
	}
}

// datagramLoop принимает кадры UDP датаграммами, одна датаграмма — один кадр
func (b *DataBridge) datagramLoop() error {
	buf := make([]byte, b.config.ReadBufferSize)
	for {
		n, addr, err := b.udpConn.ReadFromUDP(buf)
		if err != nil {
			if b.ctx.Err() != nil {
				return nil
			}
			slog.Warn("relay.DataBridge datagram read failed",
				slog.Any("error", err))
			if !b.sleep(b.config.AcceptBackoff) {
				return nil
			}
			continue
		}

		// Без явного адреса доставки отвечаем последнему источнику
		if b.config.Dest == "" {
			b.mu.Lock()
			b.udpDest = addr
			b.mu.Unlock()
		}

		b.dispatch(buf[:n])
	}
}

// dispatch разбирает кадр и передает его обработчику. Буфер чтения
// переиспользуется, поэтому полезная нагрузка копируется.
func (b *DataBridge) dispatch(frame []byte) {
	id, payload, ok := DecodeFrame(frame)
	if !ok {
		b.undecodable.Add(1)
		return
	}
	b.received.Add(1)

	if b.config.OnFrame == nil {
		return
	}
	data := make([]byte, len(payload))
	copy(data, payload)
	b.config.OnFrame(id, data)
}

// SendFrame передает кадр внешнему интерфейсу. Пустая полезная нагрузка
// молча пропускается: принимающая сторона такой кадр все равно отвергнет.
// В TCP режиме без подключенного клиента кадр теряется штатно.
func (b *DataBridge) SendFrame(id uint64, payload []byte) error {
	if len(payload) == 0 {
		return nil
	}

	b.mu.RLock()
	closed := b.closed
	client := b.client
	udpConn := b.udpConn
	udpDest := b.udpDest
	b.mu.RUnlock()

	if closed {
		return ErrBridgeClosed
	}

	frame := EncodeFrame(id, payload)

	switch b.config.Transport {
	case TransportTCP:
		if client == nil {
			b.droppedSends.Add(1)
			slog.Debug("relay.DataBridge no external client, frame dropped",
				slog.Uint64("id", id),
				slog.Int("payload_len", len(payload)))
			return nil
		}
		if _, err := client.Write(frame); err != nil {
			b.droppedSends.Add(1)
			return fmt.Errorf("ошибка передачи кадра внешнему клиенту: %w", err)
		}

	case TransportUDP:
		if udpDest == nil {
			b.droppedSends.Add(1)
			slog.Debug("relay.DataBridge destination unknown, frame dropped",
				slog.Uint64("id", id),
				slog.Int("payload_len", len(payload)))
			return nil
		}
		if _, err := udpConn.WriteToUDP(frame, udpDest); err != nil {
			b.droppedSends.Add(1)
			return fmt.Errorf("ошибка передачи кадра по UDP: %w", err)
		}
	}

	b.sent.Add(1)
	return nil
}

// ClientConnected сообщает, подключен ли сейчас внешний TCP клиент
func (b *DataBridge) ClientConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.client != nil
}

// LocalAddr возвращает адрес, на котором мост принимает кадры
func (b *DataBridge) LocalAddr() net.Addr {
	b.mu.RLock()
	defer b.mu.RUnlock()

	switch {
	case b.listener != nil:
		return b.listener.Addr()
	case b.udpConn != nil:
		return b.udpConn.LocalAddr()
	default:
		return nil
	}
}

// Stats возвращает снимок счетчиков моста
func (b *DataBridge) Stats() DataBridgeStats {
	return DataBridgeStats{
		Received:     b.received.Load(),
		Undecodable:  b.undecodable.Load(),
		Sent:         b.sent.Load(),
		DroppedSends: b.droppedSends.Load(),
	}
}

// setClient публикует подключенного клиента для исходящих кадров
func (b *DataBridge) setClient(conn net.Conn) {
	b.mu.Lock()
	b.client = conn
	b.mu.Unlock()
}

// clearClient снимает клиента, если он все еще текущий
func (b *DataBridge) clearClient(conn net.Conn) {
	b.mu.Lock()
	if b.client == conn {
		b.client = nil
	}
	b.mu.Unlock()
}

// sleep ждет паузу либо остановку моста; false означает остановку
func (b *DataBridge) sleep(d time.Duration) bool {
	select {
	case <-b.ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// Close останавливает мост: будит заблокированные приемы закрытием
// сокетов и дожидается завершения циклов. Идемпотентен.
func (b *DataBridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	listener := b.listener
	client := b.client
	udpConn := b.udpConn
	b.client = nil
	b.mu.Unlock()

	b.cancel()
	if listener != nil {
		listener.Close()
	}
	if client != nil {
		client.Close()
	}
	if udpConn != nil {
		udpConn.Close()
	}

	err := b.group.Wait()
	slog.Info("relay.DataBridge Stopped")
	return err
}
