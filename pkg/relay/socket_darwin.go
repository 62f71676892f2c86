//go:build darwin

package relay

import "syscall"

// tuneExternalSocket настраивает сокет внешнего интерфейса для macOS.
// SO_REUSEPORT здесь не используется: мост держит ровно один приемник.
func tuneExternalSocket(raw syscall.RawConn, rcvBuf int) error {
	var sockErr error
	err := raw.Control(func(fd uintptr) {
		if err := syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1); err != nil {
			sockErr = err
			return
		}
		syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_RCVBUF, rcvBuf)
	})
	if err != nil {
		return err
	}
	return sockErr
}
