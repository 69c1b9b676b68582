// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package machine runs the process manager on a simulated single CPU.
//
// Every process is a goroutine running a Program. Exactly one of them
// holds the CPU at a time: the switch primitive hands a baton to the
// goroutine of the next process and blocks until its own process is
// dispatched again. Init, in slot 0, runs the idle loop, which handles
// interrupts when no process is ready.
//
// Code outside the machine talks to it only through Interrupt and the
// helpers built on it (Spawn, Input, Tick), and observes it with Wait
// and the kernel's Snapshot.
package machine

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/op/go-logging"

	"rsc.io/pmsim/pm"
	"rsc.io/pmsim/region"
	"rsc.io/pmsim/tty"
)

var log = logging.MustGetLogger("machine")

// A Program is the user-mode code of a process.
// Returning from it exits the process with status 0.
// A Program must not make system calls from deferred functions.
type Program func(u *User)

type thread struct {
	sched chan bool // dispatch baton; closed when the process is reclaimed
}

// A Machine is a CPU running a kernel.
type Machine struct {
	K    *pm.Kernel
	Pool *region.Pool // nil: processes have no memory
	TTY  *tty.TTY

	// AutoClock makes an idle machine advance the clock to
	// the next pending alarm instead of halting.
	AutoClock bool

	// Reaped, if set, is called in kernel context
	// when a process slot is reclaimed.
	Reaped func(pid int)

	// Realtime makes Compute take one host clock tick per tick,
	// leaving the clock to interrupts posted by Tick.
	Realtime bool

	/* cpu registers */
	sp  uint32
	cr3 uint32

	threads  [pm.NPROC]*thread
	progs    [pm.NPROC]Program
	cur      *thread
	switches int

	start  sync.Once
	mu     sync.Mutex
	cond   sync.Cond
	irqs   []func()
	wake   chan struct{}
	halted bool
}

/* process image, in pages */
const (
	TextPages  = 2
	DataPages  = 2
	StackPages = 1
)

// New returns a machine with a fresh kernel.
// Processes get memory from pool when it is not nil
// and do terminal I/O on t.
// The CPU starts with the first interrupt; the exported
// fields must be set before that.
func New(pool *region.Pool, t *tty.TTY) *Machine {
	m := &Machine{
		Pool: pool,
		TTY:  t,
		wake: make(chan struct{}, 1),
	}
	m.cond.L = &m.mu
	var rm pm.RegionManager
	if pool != nil {
		rm = pool
	}
	m.K = pm.New(m, rm)
	fr := m.K.Init().ABI()
	m.sp, m.cr3 = fr.KESP, fr.CR3
	m.cur = &thread{sched: make(chan bool)}
	m.threads[0] = m.cur
	return m
}

/*
 * Switch the CPU from prev to next.
 * The goroutine of a process dispatched for
 * the first time is started here.
 * A terminated prev never runs again:
 * its goroutine exits once next has the CPU.
 * A prev already reclaimed keeps its cleared frame.
 */
func (m *Machine) Switch(prev, next *pm.Proc) {
	pf, nf := prev.ABI(), next.ABI()
	if !prev.Free() {
		pf.KESP = m.sp
	}
	m.sp, m.cr3 = nf.KESP, nf.CR3
	m.switches++

	slot := next.Slot()
	nt := m.threads[slot]
	if nf.Flags&pm.FlagNew != 0 {
		nf.Flags &^= pm.FlagNew
		nt = &thread{sched: make(chan bool)}
		m.threads[slot] = nt
		go m.run(nt, next, m.progs[slot])
	}
	if nt == nil {
		panic(fmt.Sprintf("machine: switch to %v: no thread", next))
	}

	t := m.cur
	dead := prev.Free() || prev.State() == pm.Zombie
	m.cur = nt
	nt.sched <- true
	if dead {
		runtime.Goexit()
	}
	if !<-t.sched {
		runtime.Goexit()
	}
}

// Release drops the goroutine of a reclaimed process.
func (m *Machine) Release(p *pm.Proc) {
	if m.Reaped != nil {
		m.Reaped(p.PID())
	}
	slot := p.Slot()
	t := m.threads[slot]
	m.threads[slot] = nil
	m.progs[slot] = nil
	if t != nil && t != m.cur {
		close(t.sched)
	}
}

// CR3 returns the address-space root loaded in the CPU.
func (m *Machine) CR3() uint32 { return m.cr3 }

// Switches returns the number of context switches so far.
func (m *Machine) Switches() int { return m.switches }

func (m *Machine) run(t *thread, p *pm.Proc, prog Program) {
	if !<-t.sched {
		runtime.Goexit()
	}
	log.Debugf("[pid %d] start", p.PID())
	u := &User{m: m, p: p}
	u.leave()
	if prog != nil {
		prog(u)
	}
	u.Exit(0)
}

/*
 * The idle loop, run by init.
 * Handle interrupts, give the CPU to any
 * ready process, and halt when there is
 * nothing to do.
 */
func (m *Machine) idle() {
	k := m.K
	for {
		k.Enter()
		m.drain()
		if k.Runnable() {
			k.Yield()
			k.Leave()
			continue
		}
		if m.AutoClock {
			if t, ok := k.NextAlarm(); ok {
				for k.Ticks() < t && !k.Runnable() {
					k.Enter()
					k.Clock()
					k.Leave()
				}
				k.Leave()
				continue
			}
		}
		k.Leave()
		m.halt()
	}
}

func (m *Machine) halt() {
	m.mu.Lock()
	if len(m.irqs) > 0 {
		m.mu.Unlock()
		return
	}
	m.halted = true
	m.cond.Broadcast()
	m.mu.Unlock()

	<-m.wake

	m.mu.Lock()
	m.halted = false
	m.mu.Unlock()
}

// Wait blocks until the machine is halted with no interrupt pending:
// every process is blocked, stopped or gone.
func (m *Machine) Wait() {
	m.start.Do(func() { go m.idle() })
	m.mu.Lock()
	for !m.halted || len(m.irqs) > 0 {
		m.cond.Wait()
	}
	m.mu.Unlock()
}

// Interrupt posts f to run in interrupt context on the CPU.
// It runs with the kernel entered, between instructions of
// whatever is running, or in the idle loop.
func (m *Machine) Interrupt(f func()) {
	m.start.Do(func() { go m.idle() })
	m.mu.Lock()
	m.irqs = append(m.irqs, f)
	m.mu.Unlock()
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// drain runs the pending interrupts.
// An interrupt may reschedule when it returns,
// in which case the rest run on the next process.
func (m *Machine) drain() {
	k := m.K
	for {
		m.mu.Lock()
		if len(m.irqs) == 0 {
			m.mu.Unlock()
			return
		}
		f := m.irqs[0]
		m.irqs = m.irqs[1:]
		m.mu.Unlock()

		k.Enter()
		f()
		k.Leave()
	}
}

// Tick posts a clock interrupt.
func (m *Machine) Tick() {
	m.Interrupt(m.K.Clock)
}

// Input posts a terminal receive interrupt for each byte of b.
func (m *Machine) Input(b []byte) {
	for _, c := range b {
		c := c
		m.Interrupt(func() { m.TTY.Input(m.K, c) })
	}
}

// Spawn creates a process running prog as a child of init
// and returns its pid. Programs must not call it.
func (m *Machine) Spawn(prog Program) (int, error) {
	type result struct {
		pid int
		err error
	}
	c := make(chan result, 1)
	m.Interrupt(func() {
		pid, err := m.spawn(prog)
		c <- result{pid, err}
	})
	r := <-c
	return r.pid, r.err
}

func (m *Machine) spawn(prog Program) (int, error) {
	k := m.K
	p, err := k.Fork(k.Init())
	if err != nil {
		return 0, err
	}
	m.progs[p.Slot()] = prog
	if err := m.image(p); err != nil {
		k.Terminate(p, pm.Signaled(pm.SIGKILL))
		return 0, err
	}
	log.Debugf("[pid %d] spawned", p.PID())
	return p.PID(), nil
}

// image gives a new process its text, data and stack.
func (m *Machine) image(p *pm.Proc) error {
	if m.Pool == nil {
		return nil
	}
	k := m.K
	for _, r := range []struct {
		name        string
		slot, pages int
		shared      bool
	}{
		{"text", region.Text, TextPages, true},
		{"data", region.Data, DataPages, false},
		{"stack", region.Stack, StackPages, false},
	} {
		reg, err := m.Pool.Alloc(r.name, r.pages, r.shared)
		if err != nil {
			return err
		}
		if err := k.AttachRegion(p, r.slot, reg); err != nil {
			return err
		}
	}
	return nil
}
