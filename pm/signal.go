// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pm

import (
	"fmt"
	"strconv"
	"strings"
)

// A Signal is a signal number, 1 through NSIG-1.
type Signal uint8

/*
 * signals
 * dont change
 */
const (
	NSIG              = 32
	SIGHUP    Signal = 1  /* hangup */
	SIGINT    Signal = 2  /* interrupt */
	SIGQUIT   Signal = 3  /* quit */
	SIGILL    Signal = 4  /* illegal instruction */
	SIGTRAP   Signal = 5  /* trace trap */
	SIGABRT   Signal = 6  /* abort */
	SIGBUS    Signal = 7  /* bus error */
	SIGFPE    Signal = 8  /* floating point exception */
	SIGKILL   Signal = 9  /* kill, cannot be caught or ignored */
	SIGUSR1   Signal = 10 /* user defined */
	SIGSEGV   Signal = 11 /* segmentation violation */
	SIGUSR2   Signal = 12 /* user defined */
	SIGPIPE   Signal = 13 /* write on a pipe with no reader */
	SIGALRM   Signal = 14 /* alarm clock */
	SIGTERM   Signal = 15 /* software termination */
	SIGSTKFLT Signal = 16 /* stack fault */
	SIGCHLD   Signal = 17 /* child stopped or exited */
	SIGCONT   Signal = 18 /* continue if stopped */
	SIGSTOP   Signal = 19 /* stop, cannot be caught or ignored */
	SIGTSTP   Signal = 20 /* stop from terminal */
	SIGTTIN   Signal = 21 /* background read from terminal */
	SIGTTOU   Signal = 22 /* background write to terminal */
	SIGURG    Signal = 23 /* urgent data */
	SIGXCPU   Signal = 24 /* cpu time limit */
	SIGXFSZ   Signal = 25 /* file size limit */
	SIGVTALRM Signal = 26 /* virtual alarm */
	SIGPROF   Signal = 27 /* profiling alarm */
	SIGWINCH  Signal = 28 /* window size change */
	SIGIO     Signal = 29 /* i/o possible */
	SIGPWR    Signal = 30 /* power failure */
	SIGSYS    Signal = 31 /* bad system call */
)

var signames = [NSIG]string{
	"", "HUP", "INT", "QUIT", "ILL", "TRAP", "ABRT", "BUS",
	"FPE", "KILL", "USR1", "SEGV", "USR2", "PIPE", "ALRM", "TERM",
	"STKFLT", "CHLD", "CONT", "STOP", "TSTP", "TTIN", "TTOU", "URG",
	"XCPU", "XFSZ", "VTALRM", "PROF", "WINCH", "IO", "PWR", "SYS",
}

func (s Signal) String() string {
	if s > 0 && s < NSIG {
		return "SIG" + signames[s]
	}
	return fmt.Sprintf("Signal(%d)", uint8(s))
}

// ParseSignal parses a signal name, with or without the SIG prefix,
// or a signal number.
func ParseSignal(name string) (Signal, bool) {
	name = strings.TrimPrefix(strings.ToUpper(name), "SIG")
	for i, n := range signames {
		if i > 0 && n == name {
			return Signal(i), true
		}
	}
	n, err := strconv.Atoi(name)
	if err != nil || n <= 0 || n >= NSIG {
		return 0, false
	}
	return Signal(n), true
}

// A SigSet is a set of signals, bit s for signal s.
type SigSet uint32

func sigbit(s Signal) SigSet { return 1 << s }

func (m SigSet) Has(s Signal) bool { return m&sigbit(s) != 0 }

func (m SigSet) String() string {
	if m == 0 {
		return "{}"
	}
	var names []string
	for s := Signal(1); s < NSIG; s++ {
		if m.Has(s) {
			names = append(names, signames[s])
		}
	}
	return "{" + strings.Join(names, ",") + "}"
}

var (
	stopSigs    = sigbit(SIGSTOP) | sigbit(SIGTSTP) | sigbit(SIGTTIN) | sigbit(SIGTTOU)
	uncatchable = sigbit(SIGKILL) | sigbit(SIGSTOP)
)

// A Disposition says what to do with a signal when it is delivered.
type Disposition uint8

const (
	SigDefault Disposition = iota // apply the signal's default class
	SigIgnore                     // discard
	SigCatch                      // run Handler
)

// An Action is a signal disposition.
// Handler is set only when Disp is SigCatch.
type Action struct {
	Disp    Disposition
	Handler func(Signal)
}

// A DefaultClass is what a signal does when its disposition is SigDefault.
type DefaultClass uint8

const (
	DefTerm   DefaultClass = iota // terminate
	DefCore                       // terminate, status marked with CoreFlag
	DefStop                       // stop
	DefIgnore                     // discard
	DefCont                       // continue if stopped, otherwise discard
)

// sigDefault is the default class of each signal.
// It is read-only.
var sigDefault = [NSIG]DefaultClass{
	SIGQUIT:  DefCore,
	SIGILL:   DefCore,
	SIGTRAP:  DefCore,
	SIGABRT:  DefCore,
	SIGBUS:   DefCore,
	SIGFPE:   DefCore,
	SIGSEGV:  DefCore,
	SIGXCPU:  DefCore,
	SIGXFSZ:  DefCore,
	SIGSYS:   DefCore,
	SIGCHLD:  DefIgnore,
	SIGURG:   DefIgnore,
	SIGWINCH: DefIgnore,
	SIGPWR:   DefIgnore,
	SIGCONT:  DefCont,
	SIGSTOP:  DefStop,
	SIGTSTP:  DefStop,
	SIGTTIN:  DefStop,
	SIGTTOU:  DefStop,
}

// SigDefaultClass returns the default class of s.
func SigDefaultClass(s Signal) DefaultClass {
	if s == 0 || s >= NSIG {
		return DefIgnore
	}
	return sigDefault[s]
}

/*
 * wait status encoding
 */
const (
	CoreFlag    = 0o200
	stoppedCode = 0o177
)

// Exited returns the wait status of a process that exited with code.
func Exited(code int) int { return (code & 0xff) << 8 }

// Signaled returns the wait status of a process killed by s.
func Signaled(s Signal) int { return int(s) & 0x7f }

// StoppedStatus returns the wait status reported for a process stopped by s.
func StoppedStatus(s Signal) int { return int(s)<<8 | stoppedCode }

// WaitStatus decodes a wait status.
type WaitStatus int

func (w WaitStatus) Exited() bool       { return w&0x7f == 0 }
func (w WaitStatus) ExitCode() int      { return int(w>>8) & 0xff }
func (w WaitStatus) Signaled() bool     { return w&0x7f != 0 && w&0x7f != stoppedCode }
func (w WaitStatus) Signal() Signal     { return Signal(w & 0x7f) }
func (w WaitStatus) CoreDump() bool     { return w.Signaled() && w&CoreFlag != 0 }
func (w WaitStatus) Stopped() bool      { return w&0xff == stoppedCode }
func (w WaitStatus) StopSignal() Signal { return Signal(w>>8) & 0xff }

func (w WaitStatus) String() string {
	switch {
	case w.Exited():
		return fmt.Sprintf("exit %d", w.ExitCode())
	case w.Stopped():
		return "stopped by " + w.StopSignal().String()
	case w.CoreDump():
		return w.Signal().String() + " (core dumped)"
	}
	return w.Signal().String()
}
