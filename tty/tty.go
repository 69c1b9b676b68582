// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package tty is a terminal line discipline for the process manager.
// Characters arrive from the device by Input, which runs in interrupt
// context, collects lines, signals the foreground process group on
// the interrupt, quit and suspend characters, and wakes readers.
// Processes block in Read on the terminal's wait chain.
package tty

import (
	"bytes"

	"github.com/op/go-logging"

	"rsc.io/pmsim/pm"
)

var log = logging.MustGetLogger("tty")

/* default special characters */
const (
	CERASE = 0o177      /* DEL */
	CEOT   = 0o004      /* ^D */
	CKILL  = 'U' - '@'  /* ^U */
	CQUIT  = 0o034      /* ^\ */
	CINTR  = 'C' - '@'  /* ^C */
	CSUSP  = 'Z' - '@'  /* ^Z */
	delim  = 0o377      /* marks the end of a line in the raw queue */
)

/* modes */
const (
	ECHO  = 0o10
	CRMOD = 0o20
	RAW   = 0o40
)

// A TTY is a terminal.
type TTY struct {
	Print func(b []byte) (int, error) // device output
	Flags uint16
	Erase byte
	Kill  byte

	raw   bytes.Buffer // raw input characters
	canon bytes.Buffer // canonicalized input characters
	delct int          // number of delimiters in raw
	rchan pm.Chain     // readers
	pgrp  int          // foreground process group
}

// New returns a terminal in cooked mode with echo,
// printing its output with print.
func New(print func([]byte) (int, error)) *TTY {
	return &TTY{
		Print: print,
		Flags: ECHO | CRMOD,
		Erase: CERASE,
		Kill:  CKILL,
	}
}

// SetPgrp makes pgrp the foreground process group.
func (t *TTY) SetPgrp(pgrp int) { t.pgrp = pgrp }

// Pgrp returns the foreground process group.
func (t *TTY) Pgrp() int { return t.pgrp }

// Readers returns the number of processes blocked reading t.
func (t *TTY) Readers(k *pm.Kernel) int { return len(k.Waiters(&t.rchan)) }

/*
 * Receive a character from the device.
 * Called at interrupt time.
 */
func (t *TTY) Input(k *pm.Kernel, c byte) {
	if c == '\b' {
		c = t.Erase
	}
	if c == '\r' && t.Flags&CRMOD != 0 {
		c = '\n'
	}
	if t.Flags&RAW == 0 {
		var sig pm.Signal
		switch c {
		case CINTR:
			sig = pm.SIGINT
		case CQUIT:
			sig = pm.SIGQUIT
		case CSUSP:
			sig = pm.SIGTSTP
		}
		if sig != 0 {
			log.Debugf("%v to pgrp %d", sig, t.pgrp)
			t.echo('^', c+'@', '\n')
			t.flush()
			if t.pgrp != 0 {
				k.SignalGroup(t.pgrp, sig)
			}
			k.Wakeup(&t.rchan)
			return
		}
	}

	t.raw.WriteByte(c)
	if t.Flags&RAW != 0 || c == '\n' || c == CEOT {
		t.raw.WriteByte(delim)
		t.delct++
		k.Wakeup(&t.rchan)
	}
	switch {
	case t.Flags&RAW != 0 || c == CEOT:
	case c == t.Erase:
		t.echo('\b', ' ', '\b')
	case c == t.Kill:
		t.echo('^', 'U', '\n')
	default:
		t.echo(c)
	}
}

func (t *TTY) echo(b ...byte) {
	if t.Flags&ECHO != 0 && t.Print != nil {
		t.Print(b)
	}
}

func (t *TTY) flush() {
	t.raw.Reset()
	t.canon.Reset()
	t.delct = 0
}

/*
 * Read from the terminal into b,
 * at most one line in cooked mode.
 * A process outside the foreground group
 * is stopped with SIGTTIN.
 * A read of zero bytes is end of file.
 */
func (t *TTY) Read(k *pm.Kernel, b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	p := k.Current()
	for {
		if t.pgrp != 0 && p.Pgrp() != t.pgrp {
			k.SignalGroup(p.Pgrp(), pm.SIGTTIN)
			return 0, pm.EINTR
		}
		if n, _ := t.canon.Read(b); n > 0 {
			return n, nil
		}
		if t.delct > 0 {
			t.canonicalize()
			n, _ := t.canon.Read(b)
			return n, nil
		}
		k.Sleep(&t.rchan, pm.PrioTTY)
		if k.Issig() {
			return 0, pm.EINTR
		}
	}
}

// canonicalize moves one line from raw to canon,
// applying erase and kill.
func (t *TTY) canonicalize() {
Loop:
	var canon []byte
	for {
		c, err := t.raw.ReadByte()
		if err != nil {
			panic("tty: canonicalize without delimiter")
		}
		if c == delim {
			t.delct--
			break
		}
		if t.Flags&RAW == 0 {
			cn := len(canon)
			if cn < 1 || canon[cn-1] != '\\' {
				if c == t.Erase {
					if cn > 0 {
						canon = canon[:cn-1]
					}
					continue
				}
				if c == t.Kill {
					goto Loop
				}
				if c == CEOT {
					continue
				}
			} else if c == t.Erase || c == t.Kill {
				canon = canon[:cn-1]
			}
		}
		canon = append(canon, c)
	}
	t.canon.Write(canon)
}

// Write prints b on the terminal.
func (t *TTY) Write(k *pm.Kernel, b []byte) (int, error) {
	if t.Print == nil {
		return len(b), nil
	}
	return t.Print(b)
}
