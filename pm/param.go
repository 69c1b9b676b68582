// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pm

import "strconv"

/*
 * tunable variables
 */
const (
	NPROC     = 64    /* size of the process table */
	Quantum   = 100   /* ticks a process runs before mandatory rescheduling */
	ClockFreq = 100   /* ticks/second of the clock */
	NPREGIONS = 6     /* memory regions per process */
	MaxPID    = 32767 /* pids wrap after this */
	NiceMin   = -20
	NiceMax   = 19
)

/*
 * fundamental constants
 * cannot be changed
 */
const (
	SuperUser  = 0 /* superuser id */
	SuperGroup = 0 /* superuser group id */
	InitPID    = 1 /* pid of the process in slot 0 */
)

// A Priority is a scheduling priority.
// Lower values are more urgent.
// Negative priorities are used only for uninterruptible kernel waits.
type Priority int

const (
	PrioInode  Priority = -60 /* waiting for inode */
	PrioTTY    Priority = -40 /* waiting for terminal I/O */
	PrioRegion Priority = -20 /* waiting for memory region */
	PrioUser   Priority = 0   /* user priority */
	PrioDaemon Priority = 20  /* daemon priority */
	PrioInit   Priority = 40  /* init priority */
)

// Interruptible reports whether a sleep at priority pri
// can be cut short by a signal.
func (pri Priority) Interruptible() bool {
	return pri >= PrioUser
}

var prionames = map[Priority]string{
	PrioInode:  "inode",
	PrioTTY:    "tty",
	PrioRegion: "region",
	PrioUser:   "user",
	PrioDaemon: "daemon",
	PrioInit:   "init",
}

func (pri Priority) String() string {
	if s, ok := prionames[pri]; ok {
		return s
	}
	return strconv.Itoa(int(pri))
}

// ParsePriority parses a priority name or a decimal number.
func ParsePriority(s string) (Priority, bool) {
	for pri, name := range prionames {
		if name == s {
			return pri, true
		}
	}
	n, err := strconv.Atoi(s)
	return Priority(n), err == nil
}
