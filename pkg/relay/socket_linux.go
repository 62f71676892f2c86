//go:build linux

package relay

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// tuneExternalSocket настраивает сокет внешнего интерфейса до привязки:
// переиспользование адреса для быстрого рестарта и расширенный приемный
// буфер под всплески кадров от устройств
func tuneExternalSocket(raw syscall.RawConn, rcvBuf int) error {
	var sockErr error
	err := raw.Control(func(fd uintptr) {
		if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			sockErr = err
			return
		}
		// SO_RCVBUF может быть урезан ядром до rmem_max, это не ошибка
		unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, rcvBuf)
	})
	if err != nil {
		return err
	}
	return sockErr
}
