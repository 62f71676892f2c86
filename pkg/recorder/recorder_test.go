package recorder_test

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/iot_bridge/pkg/recorder"
)

// validRTPFrame собирает минимальный корректный RTP пакет (версия 2)
func validRTPFrame(seq uint16) []byte {
	frame := make([]byte, 12)
	frame[0] = 0x80
	frame[1] = 96
	binary.BigEndian.PutUint16(frame[2:4], seq)
	binary.BigEndian.PutUint32(frame[4:8], uint32(seq)*160)
	binary.BigEndian.PutUint32(frame[8:12], 0x11223344)
	return frame
}

// readJournal разбирает файл записи: заголовочная строка и кадры
func readJournal(t *testing.T, path string) (header string, frames [][]byte) {
	t.Helper()

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	reader := bufio.NewReader(file)
	header, err = reader.ReadString('\n')
	require.NoError(t, err)

	for {
		var frameLen [4]byte
		if _, err := io.ReadFull(reader, frameLen[:]); err == io.EOF {
			break
		} else {
			require.NoError(t, err)
		}
		payload := make([]byte, binary.BigEndian.Uint32(frameLen[:]))
		_, err := io.ReadFull(reader, payload)
		require.NoError(t, err)
		frames = append(frames, payload)
	}
	return header, frames
}

// TestKindString проверяет имена видов потоков
func TestKindString(t *testing.T) {
	assert.Equal(t, "audio", recorder.KindAudio.String())
	assert.Equal(t, "video", recorder.KindVideo.String())
	assert.Equal(t, "data", recorder.KindData.String())

	assert.True(t, recorder.KindAudio.IsMedia())
	assert.True(t, recorder.KindVideo.IsMedia())
	assert.False(t, recorder.KindData.IsMedia())
}

// TestFileRecorderJournal проверяет формат файла записи
func TestFileRecorderJournal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "call.frames")

	rec, err := recorder.NewFileRecorder(path, recorder.KindAudio)
	require.NoError(t, err)
	assert.Equal(t, path, rec.Path())

	first := validRTPFrame(1)
	second := validRTPFrame(2)
	require.NoError(t, rec.SaveFrame(first))
	require.NoError(t, rec.SaveFrame(second))

	// Пустой кадр молча пропускается
	require.NoError(t, rec.SaveFrame(nil))

	assert.Equal(t, uint64(2), rec.Frames())
	assert.Zero(t, rec.InvalidFrames())
	require.NoError(t, rec.Close())

	header, frames := readJournal(t, path)
	assert.True(t, strings.HasPrefix(header, "iotbridge-rec/1 audio "), "Unexpected header: %q", header)
	require.Len(t, frames, 2)
	assert.True(t, bytes.Equal(first, frames[0]))
	assert.True(t, bytes.Equal(second, frames[1]))
}

// TestFileRecorderCountsInvalidMedia проверяет счет кадров с испорченным
// RTP заголовком: они попадают в журнал, но учитываются отдельно
func TestFileRecorderCountsInvalidMedia(t *testing.T) {
	path := filepath.Join(t.TempDir(), "video.frames")

	rec, err := recorder.NewFileRecorder(path, recorder.KindVideo)
	require.NoError(t, err)

	require.NoError(t, rec.SaveFrame(validRTPFrame(10)))
	require.NoError(t, rec.SaveFrame([]byte{0x00, 0x01}))

	assert.Equal(t, uint64(2), rec.Frames())
	assert.Equal(t, uint64(1), rec.InvalidFrames())
	require.NoError(t, rec.Close())

	_, frames := readJournal(t, path)
	assert.Len(t, frames, 2, "Invalid frames must still be journaled")
}

// TestFileRecorderDataKindSkipsValidation проверяет, что данные не
// проверяются как RTP
func TestFileRecorderDataKindSkipsValidation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.frames")

	rec, err := recorder.NewFileRecorder(path, recorder.KindData)
	require.NoError(t, err)

	require.NoError(t, rec.SaveFrame([]byte("totally not rtp")))
	assert.Equal(t, uint64(1), rec.Frames())
	assert.Zero(t, rec.InvalidFrames())
	require.NoError(t, rec.Close())
}

// TestFileRecorderClose проверяет идемпотентность закрытия и отказ записи
// после него
func TestFileRecorderClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "closed.frames")

	rec, err := recorder.NewFileRecorder(path, recorder.KindAudio)
	require.NoError(t, err)

	require.NoError(t, rec.Close())
	require.NoError(t, rec.Close())

	err = rec.SaveFrame(validRTPFrame(1))
	assert.ErrorIs(t, err, recorder.ErrRecorderClosed)
}

// TestFileRecorderRefusesOverwrite проверяет, что существующая запись не
// затирается
func TestFileRecorderRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dup.frames")

	first, err := recorder.NewFileRecorder(path, recorder.KindAudio)
	require.NoError(t, err)
	defer first.Close()

	_, err = recorder.NewFileRecorder(path, recorder.KindAudio)
	require.Error(t, err)
}

// TestFileOpener проверяет фабрику рекордеров
func TestFileOpener(t *testing.T) {
	dir := t.TempDir()
	open := recorder.FileOpener(dir)

	rec, err := open("session-42-audio", recorder.KindAudio)
	require.NoError(t, err)

	fileRec, ok := rec.(*recorder.FileRecorder)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "session-42-audio.frames"), fileRec.Path())
	require.NoError(t, rec.Close())
}
