// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Pmrun boots the process manager on a simulated machine and runs a
// small job-control shell on the real terminal.
//
// Usage:
//
//	pmrun [-trace] [-mem pages]
//
// The terminal is put in raw mode and driven by the simulated line
// discipline, so ^C, ^\ and ^Z signal the foreground job. Typing ^\
// exits the emulator. The clock ticks ClockFreq times a second of
// real time. SIGTERM and SIGHUP sent to pmrun are passed on to the
// shell and the foreground job; SIGWINCH becomes a SIGWINCH for the
// foreground job.
package main

import (
	"bytes"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"runtime/pprof"
	"sync/atomic"
	"time"

	"github.com/op/go-logging"
	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"rsc.io/pmsim/machine"
	"rsc.io/pmsim/pm"
	"rsc.io/pmsim/region"
	"rsc.io/pmsim/tty"
)

var (
	trace      = flag.Bool("trace", false, "log kernel events to standard error")
	mem        = flag.Int("mem", 256, "physical memory in `pages`")
	cpuprofile = flag.String("cpuprofile", "", "write cpuprofile to `file`")
)

// width is the terminal width, for ps.
var width atomic.Int32

func main() {
	log.SetPrefix("pmrun: ")
	log.SetFlags(0)
	flag.Parse()

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			log.Fatal(err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal(err)
		}
		defer pprof.StopCPUProfile()
	}

	backend := logging.NewLogBackend(os.Stderr, "", 0)
	format := logging.MustStringFormatter(`%{time:15:04:05.000} %{module} %{level:.4s} %{message}`)
	leveled := logging.AddModuleLevel(logging.NewBackendFormatter(crlf{backend}, format))
	leveled.SetLevel(logging.WARNING, "")
	if *trace {
		leveled.SetLevel(logging.DEBUG, "")
	}
	logging.SetBackend(leveled)

	fd := int(os.Stdin.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		log.Fatal(err)
	}
	fixup := func() { term.Restore(fd, oldState) }
	defer fixup()
	resize()

	m := machine.New(region.NewPool(*mem), tty.New(printRaw))
	m.Realtime = true
	reaped := make(chan int, pm.NPROC)
	m.Reaped = func(pid int) {
		select {
		case reaped <- pid:
		default:
		}
	}

	shell, err := m.Spawn(sh)
	if err != nil {
		fixup()
		log.Fatal(err)
	}

	go func() {
		buf := make([]byte, 100)
		for {
			n, err := os.Stdin.Read(buf)
			if i := bytes.IndexByte(buf[:n], 0x1c); i >= 0 {
				pprof.StopCPUProfile()
				fixup()
				os.Exit(0)
			}
			m.Input(buf[:n])
			if err == io.EOF {
				m.Input([]byte{tty.CEOT})
				return
			} else if err != nil {
				fixup()
				log.Fatalf("reading stdin: %v", err)
			}
		}
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, unix.SIGTERM, unix.SIGHUP, unix.SIGWINCH)

	tick := time.NewTicker(time.Second / pm.ClockFreq)
	defer tick.Stop()
	for {
		select {
		case <-tick.C:
			m.Tick()
		case pid := <-reaped:
			if pid == shell {
				return
			}
		case s := <-sigc:
			sig := pm.SIGWINCH
			switch s {
			case unix.SIGTERM:
				sig = pm.SIGTERM
			case unix.SIGHUP:
				sig = pm.SIGHUP
			case unix.SIGWINCH:
				resize()
			}
			m.Interrupt(func() {
				if sig != pm.SIGWINCH {
					m.K.SndsigPID(shell, sig)
				}
				if pgrp := m.TTY.Pgrp(); pgrp != 0 && pgrp != shell {
					m.K.SignalGroup(pgrp, sig)
				}
			})
		}
	}
}

func resize() {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		w = 80
	}
	width.Store(int32(w))
}

// printRaw writes guest output to a terminal in raw mode,
// which does not turn \n into \r\n by itself.
func printRaw(b []byte) (int, error) {
	if _, err := os.Stdout.Write(bytes.ReplaceAll(b, []byte("\n"), []byte("\r\n"))); err != nil {
		return 0, err
	}
	return len(b), nil
}

// crlf is a logging backend for a terminal in raw mode.
type crlf struct {
	b *logging.LogBackend
}

func (c crlf) Log(level logging.Level, calldepth int, rec *logging.Record) error {
	return c.b.Logger.Output(calldepth+2, rec.Formatted(calldepth+1)+"\r")
}
