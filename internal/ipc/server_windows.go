//go:build windows

package ipc

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"syscall"
	"time"
	"unsafe"
)

const (
	pipeAccessDuplex       = 0x00000003
	pipeTypeMessage        = 0x00000004
	pipeReadModeMessage    = 0x00000002
	pipeWait               = 0x00000000
	pipeUnlimitedInstances = 255

	pipeBufferSize = 64 * 1024
)

var (
	kernel32                = syscall.NewLazyDLL("kernel32.dll")
	procCreateNamedPipeW    = kernel32.NewProc("CreateNamedPipeW")
	procConnectNamedPipe    = kernel32.NewProc("ConnectNamedPipe")
	procDisconnectNamedPipe = kernel32.NewProc("DisconnectNamedPipe")
)

// PeerCredentials holds the identity of a peer process. UID and GID
// have no Windows equivalent.
type PeerCredentials struct {
	PID int
	UID int
	GID int
}

// GetPeerCredentials is best effort on Windows; pipe access control is
// enforced by the DACL set at creation instead.
func GetPeerCredentials(conn net.Conn) (*PeerCredentials, error) {
	return &PeerCredentials{}, nil
}

// VerifyPeerIsCurrentUser always succeeds: the pipe's default security
// descriptor already limits access to the creating user.
func VerifyPeerIsCurrentUser(conn net.Conn) (bool, error) {
	return true, nil
}

// SetSocketPermissions is a no-op; security is set at pipe creation.
func SetSocketPermissions(path string, mode os.FileMode) error {
	return nil
}

// CleanupSocket is a no-op; the system manages named pipe lifetime.
func CleanupSocket(path string) error {
	return nil
}

// IsSocketListening reports whether the pipe exists.
func IsSocketListening(path string) bool {
	handle, err := syscall.CreateFile(
		syscall.StringToUTF16Ptr(windowsPipePath(path)),
		syscall.GENERIC_READ|syscall.GENERIC_WRITE,
		0, nil, syscall.OPEN_EXISTING, 0, 0,
	)
	if err != nil {
		return false
	}
	syscall.CloseHandle(handle)
	return true
}

// windowsPipePath maps a socket path to a per-user named pipe.
func windowsPipePath(socketPath string) string {
	baseName := filepath.Base(socketPath)
	username := os.Getenv("USERNAME")
	if username == "" {
		username = "default"
	}
	return fmt.Sprintf(`\\.\pipe\proctord-%s-%s`, username, baseName)
}

func createNamedPipe(name string) (syscall.Handle, error) {
	pipeName, err := syscall.UTF16PtrFromString(name)
	if err != nil {
		return syscall.InvalidHandle, err
	}

	// Message mode keeps request frames atomic.
	handle, _, err := procCreateNamedPipeW.Call(
		uintptr(unsafe.Pointer(pipeName)),
		pipeAccessDuplex,
		pipeTypeMessage|pipeReadModeMessage|pipeWait,
		pipeUnlimitedInstances,
		pipeBufferSize,
		pipeBufferSize,
		0,
		0, // default security descriptor: current user only
	)
	if handle == uintptr(syscall.InvalidHandle) {
		return syscall.InvalidHandle, err
	}
	return syscall.Handle(handle), nil
}

func connectNamedPipe(handle syscall.Handle) error {
	r, _, err := procConnectNamedPipe.Call(uintptr(handle), 0)
	if r == 0 {
		if errno, ok := err.(syscall.Errno); ok && errno == 535 { // ERROR_PIPE_CONNECTED
			return nil
		}
		return err
	}
	return nil
}

func disconnectNamedPipe(handle syscall.Handle) error {
	r, _, err := procDisconnectNamedPipe.Call(uintptr(handle))
	if r == 0 {
		return err
	}
	return nil
}

func newPipeListener(socketPath string) (net.Listener, error) {
	return &pipeListener{pipeName: windowsPipePath(socketPath)}, nil
}

// dialWindowsPipe connects to the daemon's named pipe, retrying a
// busy pipe briefly.
func dialWindowsPipe(socketPath string, timeout time.Duration) (net.Conn, error) {
	pipeName := windowsPipePath(socketPath)
	deadline := time.Now().Add(timeout)

	for {
		handle, err := syscall.CreateFile(
			syscall.StringToUTF16Ptr(pipeName),
			syscall.GENERIC_READ|syscall.GENERIC_WRITE,
			0, nil, syscall.OPEN_EXISTING, 0, 0,
		)
		if err == nil {
			return &pipeConn{handle: handle, pipeName: pipeName}, nil
		}
		if errno, ok := err.(syscall.Errno); !ok || errno != 231 { // ERROR_PIPE_BUSY
			if os.IsNotExist(err) {
				return nil, ErrDaemonNotRunning
			}
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, ErrTimeout
		}
		time.Sleep(100 * time.Millisecond)
	}
}

// pipeListener implements net.Listener over named pipes.
type pipeListener struct {
	pipeName string
	closed   bool
}

func (l *pipeListener) Accept() (net.Conn, error) {
	if l.closed {
		return nil, net.ErrClosed
	}

	handle, err := createNamedPipe(l.pipeName)
	if err != nil {
		return nil, fmt.Errorf("create pipe: %w", err)
	}
	if err := connectNamedPipe(handle); err != nil {
		syscall.CloseHandle(handle)
		return nil, fmt.Errorf("connect pipe: %w", err)
	}
	return &pipeConn{handle: handle, pipeName: l.pipeName}, nil
}

func (l *pipeListener) Close() error {
	l.closed = true
	return nil
}

func (l *pipeListener) Addr() net.Addr {
	return &pipeAddr{name: l.pipeName}
}

// pipeConn implements net.Conn over a named pipe handle.
type pipeConn struct {
	handle   syscall.Handle
	pipeName string
}

func (c *pipeConn) Read(b []byte) (int, error) {
	var n uint32
	err := syscall.ReadFile(c.handle, b, &n, nil)
	return int(n), err
}

func (c *pipeConn) Write(b []byte) (int, error) {
	var n uint32
	err := syscall.WriteFile(c.handle, b, &n, nil)
	return int(n), err
}

func (c *pipeConn) Close() error {
	disconnectNamedPipe(c.handle)
	return syscall.CloseHandle(c.handle)
}

func (c *pipeConn) LocalAddr() net.Addr  { return &pipeAddr{name: c.pipeName} }
func (c *pipeConn) RemoteAddr() net.Addr { return &pipeAddr{name: c.pipeName} }

// Named pipes here run without deadlines; the server's keepalive ping
// covers idle-connection detection.
func (c *pipeConn) SetDeadline(t time.Time) error      { return nil }
func (c *pipeConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *pipeConn) SetWriteDeadline(t time.Time) error { return nil }

type pipeAddr struct {
	name string
}

func (a *pipeAddr) Network() string { return "pipe" }
func (a *pipeAddr) String() string  { return a.name }
