package session

import (
	"log/slog"
	"sync"
	"time"
)

// Параметры хранилища по умолчанию
const (
	// DefaultGracePeriod — окно между пометкой уничтожения и фактическим
	// освобождением: транзитные ссылки из callback путей должны успеть
	// отработать
	DefaultGracePeriod = 5 * time.Second
	// DefaultReapInterval — период обхода списка отложенного уничтожения
	DefaultReapInterval = 500 * time.Millisecond
)

// StoreConfig — конфигурация хранилища сессий
type StoreConfig struct {
	// GracePeriod — минимальный возраст надгробия перед освобождением
	GracePeriod time.Duration
	// ReapInterval — период срабатывания фонового жнеца
	ReapInterval time.Duration
}

// DefaultStoreConfig возвращает конфигурацию хранилища по умолчанию
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		GracePeriod:  DefaultGracePeriod,
		ReapInterval: DefaultReapInterval,
	}
}

// Store — конкурентная таблица сессий с отложенным уничтожением.
// Uничтожение ленивое: Destroy лишь ставит надгробие и убирает сессию из
// живого индекса, память и ресурсы освобождает фоновый жнец спустя
// страховочное окно.
//
// КРИТИЧНО: живой индекс и список отложенного уничтожения защищены одной
// эксклюзивной блокировкой — Destroy и Reap никогда не меняют структуру
// списка конкурентно.
type Store struct {
	mu       sync.Mutex
	sessions map[HandleID]*Session
	deferred []*Session
	grace    time.Duration
	closed   bool

	stopReaper chan struct{}
	reaperDone chan struct{}
}

// NewStore создает хранилище и немедленно запускает фонового жнеца
func NewStore(cfg StoreConfig) *Store {
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = DefaultReapInterval
	}

	store := &Store{
		sessions:   make(map[HandleID]*Session),
		grace:      cfg.GracePeriod,
		stopReaper: make(chan struct{}),
		reaperDone: make(chan struct{}),
	}

	go store.reaperLoop(cfg.ReapInterval)
	return store
}

// reaperLoop — фоновый жнец: по таймеру освобождает надгробия, пережившие
// страховочное окно
func (s *Store) reaperLoop(interval time.Duration) {
	defer close(s.reaperDone)

	slog.Debug("session.reaperLoop Started")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopReaper:
			slog.Debug("session.reaperLoop Stopped")
			return
		case now := <-ticker.C:
			s.Reap(now)
		}
	}
}

// Create регистрирует новую сессию под идентификатором хоста.
// Отказывает, когда хранилище закрыто, идентификатор зарезервирован или
// уже занят живой сессией.
func (s *Store) Create(id HandleID) (*Session, error) {
	if id == ReservedBroadcastID {
		return nil, NewStoreError(ErrorCodeInvalidHandle, "идентификатор зарезервирован под вещание", id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	if _, exists := s.sessions[id]; exists {
		return nil, NewStoreError(ErrorCodeSessionExists, "сессия уже существует", id)
	}

	sess := newSession(id)
	s.sessions[id] = sess
	return sess, nil
}

// Lookup возвращает живую сессию по идентификатору. Сессии, ожидающие
// жнеца, не видны.
func (s *Store) Lookup(id HandleID) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	return sess, ok
}

// Find ищет сессию сначала в живом индексе, затем среди надгробий —
// последнее надгробие с совпавшим идентификатором. Снимок уничтоженной
// сессии остается наблюдаемым до прихода жнеца; мутировать такую сессию
// нельзя.
func (s *Store) Find(id HandleID) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[id]; ok {
		return sess, true
	}
	for i := len(s.deferred) - 1; i >= 0; i-- {
		if s.deferred[i].id == id {
			return s.deferred[i], true
		}
	}
	return nil, false
}

// Destroy ставит надгробие: атомарно под блокировкой хранилища метит
// сессию, убирает ее из живого индекса и переносит в список отложенного
// уничтожения. Повторное уничтожение того же идентификатора структурно
// безвредно — сессии в индексе уже нет.
func (s *Store) Destroy(id HandleID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return NewStoreError(ErrorCodeSessionNotFound, "сессия не найдена", id)
	}

	if sess.markDestroyed(time.Now().UnixMicro()) {
		delete(s.sessions, id)
		s.deferred = append(s.deferred, sess)
	}
	return nil
}

// Reap освобождает надгробия, чей возраст достиг страховочного окна.
// Берет ту же блокировку, что и Destroy. Идемпотентен: освобожденная
// сессия исключается из списка и повторно освобождена быть не может.
// Возвращает число освобожденных сессий.
func (s *Store) Reap(now time.Time) int {
	nowMicro := now.UnixMicro()
	graceMicro := s.grace.Microseconds()

	s.mu.Lock()
	var expired []*Session
	remaining := s.deferred[:0]
	for _, sess := range s.deferred {
		if nowMicro-sess.DestroyedAt() >= graceMicro {
			expired = append(expired, sess)
		} else {
			remaining = append(remaining, sess)
		}
	}
	for i := len(remaining); i < len(s.deferred); i++ {
		s.deferred[i] = nil
	}
	s.deferred = remaining
	s.mu.Unlock()

	// Ресурсы закрываются вне блокировки: сессия уже ни для кого не
	// достижима, а закрытие рекордеров упирается в I/O
	for _, sess := range expired {
		if err := sess.release(); err != nil {
			slog.Error("session.Reap release failed",
				slog.Uint64("handle_id", uint64(sess.id)),
				slog.Any("error", err))
		}
		slog.Debug("session.Reap freed session",
			slog.Uint64("handle_id", uint64(sess.id)))
	}
	return len(expired)
}

// Live возвращает снимок всех живых сессий для рассылки вещания
func (s *Store) Live() []*Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	live := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		live = append(live, sess)
	}
	return live
}

// Len возвращает число живых сессий
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// DeferredLen возвращает число надгробий, ожидающих жнеца
func (s *Store) DeferredLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.deferred)
}

// Close останавливает жнеца и принудительно освобождает все сессии,
// живые и отложенные. Идемпотентен.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.stopReaper)
	<-s.reaperDone

	s.mu.Lock()
	remaining := make([]*Session, 0, len(s.sessions)+len(s.deferred))
	for _, sess := range s.sessions {
		remaining = append(remaining, sess)
	}
	remaining = append(remaining, s.deferred...)
	s.sessions = make(map[HandleID]*Session)
	s.deferred = nil
	s.mu.Unlock()

	for _, sess := range remaining {
		if err := sess.release(); err != nil {
			slog.Error("session.Store Close release failed",
				slog.Uint64("handle_id", uint64(sess.id)),
				slog.Any("error", err))
		}
	}
	return nil
}
