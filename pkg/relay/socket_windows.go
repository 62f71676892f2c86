//go:build windows

package relay

import "syscall"

// tuneExternalSocket настраивает сокет внешнего интерфейса для Windows.
// Семантика SO_REUSEADDR здесь отличается от Unix, поэтому включается
// только приемный буфер.
func tuneExternalSocket(raw syscall.RawConn, rcvBuf int) error {
	var sockErr error
	err := raw.Control(func(fd uintptr) {
		sockErr = syscall.SetsockoptInt(syscall.Handle(fd), syscall.SOL_SOCKET, syscall.SO_RCVBUF, rcvBuf)
	})
	if err != nil {
		return err
	}
	return sockErr
}
