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

//go:build darwin || freebsd

package reactor

import (
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// kqueuePoller multiplexes with kqueue. Read and write interest are
// separate filters, so wait merges notifications that share a descriptor.
type kqueuePoller struct {
	kq        int
	raw       []unix.Kevent_t
	interests map[int]interest
	index     map[int]int
}

// wakeIdent is the EVFILT_USER identifier used to interrupt wait.
const wakeIdent = 0

func newPoller(maxEvents int) (poller, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, os.NewSyscallError("kqueue", err)
	}
	unix.CloseOnExec(kq)

	var ev unix.Kevent_t
	unix.SetKevent(&ev, wakeIdent, unix.EVFILT_USER, unix.EV_ADD|unix.EV_CLEAR)
	if _, err := unix.Kevent(kq, []unix.Kevent_t{ev}, nil, nil); err != nil {
		unix.Close(kq)
		return nil, os.NewSyscallError("kevent", err)
	}

	return &kqueuePoller{
		kq:        kq,
		raw:       make([]unix.Kevent_t, maxEvents),
		interests: make(map[int]interest),
		index:     make(map[int]int, maxEvents),
	}, nil
}

func (p *kqueuePoller) apply(fd int, from, to interest) error {
	changes := make([]unix.Kevent_t, 0, 2)
	change := func(filter int, want bool) {
		var ev unix.Kevent_t
		flags := unix.EV_DELETE
		if want {
			flags = unix.EV_ADD
		}
		unix.SetKevent(&ev, fd, filter, flags)
		changes = append(changes, ev)
	}
	if (from^to)&interestRead != 0 {
		change(unix.EVFILT_READ, to&interestRead != 0)
	}
	if (from^to)&interestWrite != 0 {
		change(unix.EVFILT_WRITE, to&interestWrite != 0)
	}
	if len(changes) == 0 {
		return nil
	}
	if _, err := unix.Kevent(p.kq, changes, nil, nil); err != nil {
		return os.NewSyscallError("kevent", err)
	}
	return nil
}

func (p *kqueuePoller) add(fd int, in interest) error {
	if err := p.apply(fd, 0, in); err != nil {
		return err
	}
	p.interests[fd] = in
	return nil
}

func (p *kqueuePoller) modify(fd int, in interest) error {
	if err := p.apply(fd, p.interests[fd], in); err != nil {
		return err
	}
	p.interests[fd] = in
	return nil
}

func (p *kqueuePoller) remove(fd int) error {
	from, ok := p.interests[fd]
	if !ok {
		return nil
	}
	delete(p.interests, fd)
	return p.apply(fd, from, 0)
}

func (p *kqueuePoller) wait(events []event, timeout time.Duration) (int, error) {
	max := len(events)
	if max > len(p.raw) {
		max = len(p.raw)
	}
	ts := unix.NsecToTimespec(timeout.Nanoseconds())
	n, err := unix.Kevent(p.kq, nil, p.raw[:max], &ts)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, os.NewSyscallError("kevent", err)
	}

	clear(p.index)
	k := 0
	for _, raw := range p.raw[:n] {
		if raw.Filter == unix.EVFILT_USER {
			continue
		}
		fd := int(raw.Ident)
		i, seen := p.index[fd]
		if !seen {
			i = k
			p.index[fd] = k
			events[k] = event{fd: fd}
			k++
		}
		mergeKevent(&events[i], raw.Filter, raw.Flags)
	}
	return k, nil
}

// mergeKevent folds one filter notification into ev. EOF and errors are
// reported on the filter that saw them, so a write-only connection whose
// peer hung up still gets a write attempt that surfaces the failure.
func mergeKevent(ev *event, filter int16, flags uint16) {
	switch filter {
	case unix.EVFILT_READ:
		ev.readable = true
	case unix.EVFILT_WRITE:
		ev.writable = true
	default:
		if flags&(unix.EV_EOF|unix.EV_ERROR) != 0 {
			ev.readable = true
		}
	}
}

func (p *kqueuePoller) wake() error {
	var ev unix.Kevent_t
	unix.SetKevent(&ev, wakeIdent, unix.EVFILT_USER, 0)
	ev.Fflags = unix.NOTE_TRIGGER
	_, err := unix.Kevent(p.kq, []unix.Kevent_t{ev}, nil, nil)
	return err
}

func (p *kqueuePoller) close() error {
	return unix.Close(p.kq)
}
