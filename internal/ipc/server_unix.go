//go:build !windows

package ipc

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"
)

// PeerCredentials holds the identity of a peer process.
type PeerCredentials struct {
	PID int
	UID int
	GID int
}

// SetSocketPermissions restricts the socket file.
func SetSocketPermissions(path string, mode os.FileMode) error {
	return os.Chmod(path, mode)
}

// CleanupSocket removes a stale socket file. Refuses to remove a path
// that exists but is not a socket.
func CleanupSocket(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if info.Mode()&os.ModeSocket != 0 {
		return os.Remove(path)
	}
	return fmt.Errorf("path exists but is not a socket: %s", path)
}

// IsSocketListening reports whether something accepts on the socket.
func IsSocketListening(path string) bool {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func newPipeListener(socketPath string) (net.Listener, error) {
	return nil, errors.New("named pipes are windows-only")
}

func dialWindowsPipe(socketPath string, timeout time.Duration) (net.Conn, error) {
	return nil, errors.New("named pipes are windows-only")
}
