// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pm

import (
	"fmt"
	"strings"
)

// An Errno is an error returned to the caller of a process operation.
// Process-table exhaustion is EAGAIN, an interrupted wait is EINTR
// and an operation on a process that no longer exists is ESRCH.
type Errno int8

const (
	EPERM  Errno = 1
	ESRCH  Errno = 3
	EINTR  Errno = 4
	ECHILD Errno = 10
	EAGAIN Errno = 11
	ENOMEM Errno = 12
	EINVAL Errno = 22
)

func (e Errno) Error() string {
	if 0 <= e && int(e) < len(enames) && enames[e] != "" {
		return enames[e]
	}
	return fmt.Sprintf("Errno(%d)", int(e))
}

var enames = [...]string{
	EPERM:  "EPERM",
	ESRCH:  "ESRCH",
	EINTR:  "EINTR",
	ECHILD: "ECHILD",
	EAGAIN: "EAGAIN",
	ENOMEM: "ENOMEM",
	EINVAL: "EINVAL",
}

// A Fatal is the value the kernel panics with when one of its
// invariants is found broken. It is never returned as an error.
type Fatal struct {
	Msg  string
	Dump string // process table at the time of the panic
}

func (f *Fatal) Error() string {
	return "pm: " + f.Msg
}

// panic halts the kernel with a table dump.
func (k *Kernel) panic(format string, args ...any) {
	f := &Fatal{Msg: fmt.Sprintf(format, args...), Dump: k.dump()}
	log.Criticalf("panic: %s\n%s", f.Msg, f.Dump)
	panic(f)
}

func (k *Kernel) dump() string {
	var b strings.Builder
	fmt.Fprintf(&b, "ticks=%d curr=%d\n", k.ticks, k.curr.slot)
	for i := range k.proctab {
		p := &k.proctab[i]
		if p.frame.Flags&FlagFree != 0 {
			continue
		}
		fmt.Fprintf(&b, "%3d pid=%d ppid=%d %v pri=%d nice=%d cnt=%d sig=%v chain=%v\n",
			i, p.pid, p.father, p.state, p.priority, p.nice, p.counter, p.received, p.chain != nil)
	}
	return b.String()
}
