/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

//go:build linux || darwin || freebsd

package reactor

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"slices"

	"golang.org/x/sys/unix"
)

// fdSocket is a non-blocking TCP socket owned by the reactor.
type fdSocket struct {
	fd int
}

func (s fdSocket) Read(p []byte) (int, error) {
	n, err := unix.Read(s.fd, p)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EINTR {
			return 0, errWouldBlock
		}
		return 0, os.NewSyscallError("read", err)
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

func (s fdSocket) Write(p []byte) (int, error) {
	n, err := unix.Write(s.fd, p)
	if n < 0 {
		n = 0
	}
	if err != nil {
		if err == unix.EAGAIN || err == unix.EINTR {
			return n, errWouldBlock
		}
		return n, os.NewSyscallError("write", err)
	}
	return n, nil
}

func (s fdSocket) Close() error {
	return unix.Close(s.fd)
}

// tcpListener is a non-blocking listening socket.
type tcpListener struct {
	lfd   int
	local *net.TCPAddr
}

func listenTCP(address string) (listener, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", address)
	if err != nil {
		return nil, err
	}

	family, sa := sockaddrFor(tcpAddr)
	fd, err := unix.Socket(family, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return nil, os.NewSyscallError("socket", err)
	}
	unix.CloseOnExec(fd)

	if err := setupListener(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("listen %s: %w", address, err)
	}

	local := tcpAddr
	if bound, err := unix.Getsockname(fd); err == nil {
		if a := sockaddrToTCPAddr(bound); a != nil {
			local = a
		}
	}
	return &tcpListener{lfd: fd, local: local}, nil
}

func setupListener(fd int, sa unix.Sockaddr) error {
	if err := unix.SetNonblock(fd, true); err != nil {
		return os.NewSyscallError("setnonblock", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return os.NewSyscallError("setsockopt", err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		return os.NewSyscallError("bind", err)
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		return os.NewSyscallError("listen", err)
	}
	return nil
}

func (l *tcpListener) fd() int {
	return l.lfd
}

func (l *tcpListener) addr() *net.TCPAddr {
	return l.local
}

func (l *tcpListener) accept() (socket, int, string, error) {
	fd, sa, err := acceptNonblock(l.lfd)
	if err != nil {
		return nil, -1, "", classifyAcceptErr(err)
	}
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)

	remote := "unknown"
	if a := sockaddrToTCPAddr(sa); a != nil {
		remote = a.String()
	}
	return fdSocket{fd: fd}, fd, remote, nil
}

func (l *tcpListener) close() error {
	return unix.Close(l.lfd)
}

// classifyAcceptErr sorts accept failures into would-block, retry-now,
// back-off and fatal. Only errors that invalidate the listening socket
// itself are fatal; failures of a single pending connection are retried.
func classifyAcceptErr(err error) error {
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return os.NewSyscallError("accept", err)
	}
	switch errno {
	case unix.EAGAIN:
		return errWouldBlock
	case unix.EBADF, unix.ENOTSOCK, unix.EINVAL, unix.EFAULT:
		return os.NewSyscallError("accept", err)
	case unix.EMFILE, unix.ENFILE, unix.ENOBUFS, unix.ENOMEM:
		return fmt.Errorf("%w: %w", errAcceptTransient, err)
	}
	if slices.Contains(acceptRetryErrnos, errno) {
		return fmt.Errorf("%w: %w", errAcceptRetry, err)
	}
	// Unknown errno: back off instead of stopping the listener.
	return fmt.Errorf("%w: %w", errAcceptTransient, err)
}

func sockaddrFor(a *net.TCPAddr) (int, unix.Sockaddr) {
	if ip4 := a.IP.To4(); ip4 != nil || len(a.IP) == 0 {
		sa := &unix.SockaddrInet4{Port: a.Port}
		if ip4 != nil {
			copy(sa.Addr[:], ip4)
		}
		return unix.AF_INET, sa
	}
	sa := &unix.SockaddrInet6{Port: a.Port}
	copy(sa.Addr[:], a.IP.To16())
	return unix.AF_INET6, sa
}

func sockaddrToTCPAddr(sa unix.Sockaddr) *net.TCPAddr {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		ip := make(net.IP, net.IPv4len)
		copy(ip, sa.Addr[:])
		return &net.TCPAddr{IP: ip, Port: sa.Port}
	case *unix.SockaddrInet6:
		ip := make(net.IP, net.IPv6len)
		copy(ip, sa.Addr[:])
		return &net.TCPAddr{IP: ip, Port: sa.Port}
	}
	return nil
}
