// Package relay реализует мост к внешнему интерфейсу устройства: проводной
// формат кадров с мультиплексирующим префиксом, TCP/UDP мост канала данных
// и отправитель исходящего медиа потока.
package relay

import "encoding/binary"

// HeaderSize — длина префикса кадра: 8 байт идентификатора сессии
const HeaderSize = 8

// BroadcastID — ключ вещания: кадр с этим идентификатором адресован всем
// живым сессиям (pubsub модель внешнего интерфейса)
const BroadcastID uint64 = 0xffffffffffffffff

// EncodeFrame собирает кадр проводного формата: big-endian идентификатор,
// затем полезная нагрузка
func EncodeFrame(id uint64, payload []byte) []byte {
	frame := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint64(frame[:HeaderSize], id)
	copy(frame[HeaderSize:], payload)
	return frame
}

// AppendFrame дописывает закодированный кадр в dst и возвращает
// получившийся срез. Позволяет переиспользовать буфер отправки.
func AppendFrame(dst []byte, id uint64, payload []byte) []byte {
	var header [HeaderSize]byte
	binary.BigEndian.PutUint64(header[:], id)
	dst = append(dst, header[:]...)
	return append(dst, payload...)
}

// DecodeFrame разбирает кадр проводного формата. Кадр обязан нести хотя бы
// один байт полезной нагрузки: голый префикс отвергается. Возвращаемый
// срез полезной нагрузки ссылается на buf.
func DecodeFrame(buf []byte) (id uint64, payload []byte, ok bool) {
	if len(buf) <= HeaderSize {
		return 0, nil, false
	}
	return binary.BigEndian.Uint64(buf[:HeaderSize]), buf[HeaderSize:], true
}

// IsBroadcast сообщает, адресован ли идентификатор всем сессиям
func IsBroadcast(id uint64) bool {
	return id == BroadcastID
}
