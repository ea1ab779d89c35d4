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

//go:build linux

package reactor

import (
	"encoding/binary"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// epollPoller multiplexes with epoll and wakes through an eventfd.
type epollPoller struct {
	epfd   int
	wakeFd int
	raw    []unix.EpollEvent
}

func newPoller(maxEvents int) (poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("epoll_create1", err)
	}
	wakeFd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, os.NewSyscallError("eventfd", err)
	}
	p := &epollPoller{
		epfd:   epfd,
		wakeFd: wakeFd,
		raw:    make([]unix.EpollEvent, maxEvents),
	}
	if err := p.add(wakeFd, interestRead); err != nil {
		p.close()
		return nil, err
	}
	return p, nil
}

func epollMask(in interest) uint32 {
	var mask uint32
	if in&interestRead != 0 {
		mask |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if in&interestWrite != 0 {
		mask |= unix.EPOLLOUT
	}
	return mask
}

func (p *epollPoller) add(fd int, in interest) error {
	ev := unix.EpollEvent{Events: epollMask(in), Fd: int32(fd)}
	return os.NewSyscallError("epoll_ctl", unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev))
}

func (p *epollPoller) modify(fd int, in interest) error {
	ev := unix.EpollEvent{Events: epollMask(in), Fd: int32(fd)}
	return os.NewSyscallError("epoll_ctl", unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev))
}

func (p *epollPoller) remove(fd int) error {
	var ev unix.EpollEvent
	return os.NewSyscallError("epoll_ctl", unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, &ev))
}

func (p *epollPoller) wait(events []event, timeout time.Duration) (int, error) {
	max := len(events)
	if max > len(p.raw) {
		max = len(p.raw)
	}
	n, err := unix.EpollWait(p.epfd, p.raw[:max], int(timeout.Milliseconds()))
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, os.NewSyscallError("epoll_wait", err)
	}

	k := 0
	for _, raw := range p.raw[:n] {
		fd := int(raw.Fd)
		if fd == p.wakeFd {
			var buf [8]byte
			_, _ = unix.Read(p.wakeFd, buf[:])
			continue
		}
		events[k] = epollEvent(fd, raw.Events)
		k++
	}
	return k, nil
}

// epollEvent translates an epoll mask. Hangups and errors mark both
// directions ready so whichever handler runs first sees the failure.
func epollEvent(fd int, mask uint32) event {
	const failed = unix.EPOLLHUP | unix.EPOLLERR
	return event{
		fd:       fd,
		readable: mask&(unix.EPOLLIN|unix.EPOLLRDHUP|failed) != 0,
		writable: mask&(unix.EPOLLOUT|failed) != 0,
	}
}

func (p *epollPoller) wake() error {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	_, err := unix.Write(p.wakeFd, buf[:])
	if err == unix.EAGAIN {
		// Counter saturated; a wake is already pending.
		return nil
	}
	return err
}

func (p *epollPoller) close() error {
	unix.Close(p.wakeFd)
	return unix.Close(p.epfd)
}
