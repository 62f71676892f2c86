// Package recorder реализует журналирование кадров сессии. Формат контейнера
// намеренно примитивен: заголовочная строка и кадры с префиксом длины.
// Муксинг в полноценный медиа формат — забота внешнего инструментария.
package recorder

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pion/rtp"
)

// Kind — вид записываемого потока
type Kind int

const (
	// KindAudio — аудио кадры (RTP)
	KindAudio Kind = iota
	// KindVideo — видео кадры (RTP)
	KindVideo
	// KindData — сообщения канала данных (сырые байты)
	KindData
)

// String возвращает суффикс вида потока для имени записи
func (k Kind) String() string {
	switch k {
	case KindAudio:
		return "audio"
	case KindVideo:
		return "video"
	case KindData:
		return "data"
	default:
		return "unknown"
	}
}

// IsMedia сообщает, несет ли поток RTP кадры
func (k Kind) IsMedia() bool {
	return k == KindAudio || k == KindVideo
}

// ErrRecorderClosed возвращается при записи кадра в закрытый рекордер.
// Гонка запись-при-закрытии штатная: входящие кадры могут прийти
// одновременно с остановкой записи, вызывающий просто теряет кадр.
var ErrRecorderClosed = errors.New("рекордер уже закрыт")

// Recorder — контракт приемника кадров. Реализации обязаны быть
// потокобезопасными и переживать SaveFrame после Close.
type Recorder interface {
	// SaveFrame дописывает один кадр в запись
	SaveFrame(payload []byte) error
	// Close завершает запись; повторный вызов безопасен
	Close() error
}

// Opener — фабрика рекордеров, внедряется в ядро. name — базовое имя записи
// без расширения, kind — вид потока.
type Opener func(name string, kind Kind) (Recorder, error)

// FileRecorder журналирует кадры в файл: заголовочная строка, затем кадры
// с 4-байтовым big-endian префиксом длины. Для медиа потоков у каждого
// кадра проверяется версия RTP заголовка; испорченные кадры считаются,
// но из журнала не выбрасываются.
type FileRecorder struct {
	mu      sync.Mutex
	file    *os.File
	writer  *bufio.Writer
	kind    Kind
	closed  bool
	frames  uint64
	invalid uint64
}

// Проверка реализации интерфейса
var _ Recorder = (*FileRecorder)(nil)

// NewFileRecorder создает файл записи и пишет заголовочную строку
func NewFileRecorder(path string, kind Kind) (*FileRecorder, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания файла записи: %w", err)
	}

	writer := bufio.NewWriter(file)
	if _, err := fmt.Fprintf(writer, "iotbridge-rec/1 %s %d\n", kind, time.Now().Unix()); err != nil {
		file.Close()
		return nil, fmt.Errorf("ошибка записи заголовка: %w", err)
	}

	return &FileRecorder{
		file:   file,
		writer: writer,
		kind:   kind,
	}, nil
}

// FileOpener возвращает Opener, складывающий записи в каталог dir.
// Пустой dir означает временный каталог системы.
func FileOpener(dir string) Opener {
	if dir == "" {
		dir = os.TempDir()
	}
	return func(name string, kind Kind) (Recorder, error) {
		return NewFileRecorder(filepath.Join(dir, name+".frames"), kind)
	}
}

// SaveFrame дописывает кадр в журнал
func (r *FileRecorder) SaveFrame(payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRecorderClosed
	}
	if len(payload) == 0 {
		return nil
	}

	if r.kind.IsMedia() {
		header := rtp.Header{}
		if _, err := header.Unmarshal(payload); err != nil || header.Version != 2 {
			r.invalid++
		}
	}

	var frameLen [4]byte
	binary.BigEndian.PutUint32(frameLen[:], uint32(len(payload)))
	if _, err := r.writer.Write(frameLen[:]); err != nil {
		return fmt.Errorf("ошибка записи кадра: %w", err)
	}
	if _, err := r.writer.Write(payload); err != nil {
		return fmt.Errorf("ошибка записи кадра: %w", err)
	}
	r.frames++
	return nil
}

// Close сбрасывает буфер и закрывает файл. Идемпотентен.
func (r *FileRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	flushErr := r.writer.Flush()
	closeErr := r.file.Close()
	if flushErr != nil {
		return fmt.Errorf("ошибка сброса буфера записи: %w", flushErr)
	}
	return closeErr
}

// Frames возвращает число записанных кадров
func (r *FileRecorder) Frames() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

// InvalidFrames возвращает число кадров с неверным RTP заголовком
func (r *FileRecorder) InvalidFrames() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.invalid
}

// Path возвращает путь файла записи
func (r *FileRecorder) Path() string {
	return r.file.Name()
}
