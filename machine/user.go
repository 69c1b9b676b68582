// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package machine

import (
	"time"

	"rsc.io/pmsim/pm"
	"rsc.io/pmsim/region"
)

// A User is the system-call interface of one process.
// Its methods may be called only by that process's Program.
type User struct {
	m *Machine
	p *pm.Proc
}

/*
 * Trap into the kernel.
 * Pending interrupts are taken first,
 * as having interrupted user mode.
 */
func (u *User) enter() {
	u.m.drain()
	u.m.K.Enter()
}

/*
 * Return to user mode.
 * Pending signals are acted on here;
 * caught ones run their handler in
 * user mode before the return completes.
 */
func (u *User) leave() {
	k := u.m.K
	for {
		sig, h := k.Psig()
		if h == nil {
			break
		}
		k.Leave()
		h(sig)
		k.Enter()
	}
	k.Leave()
}

func (u *User) Getpid() int {
	return u.p.PID()
}

func (u *User) Getppid() int {
	u.enter()
	pid := u.p.Father()
	u.leave()
	return pid
}

func (u *User) Getpgrp() int {
	u.enter()
	pgrp := u.p.Pgrp()
	u.leave()
	return pgrp
}

func (u *User) Getuid() int {
	u.enter()
	uid := u.p.Uid()
	u.leave()
	return uid
}

// Fork creates a child process running child and returns its pid.
func (u *User) Fork(child Program) (int, error) {
	u.enter()
	c, err := u.m.K.Fork(u.p)
	pid := 0
	if err == nil {
		u.m.progs[c.Slot()] = child
		pid = c.PID()
	}
	u.leave()
	return pid, err
}

// Exec replaces the running program with prog.
// Caught signals revert to their default action.
// It does not return.
func (u *User) Exec(prog Program) {
	u.enter()
	u.m.K.ExecSignals(u.p)
	u.m.progs[u.p.Slot()] = prog
	u.leave()
	prog(u)
	u.Exit(0)
}

// Exit terminates the process. It does not return.
func (u *User) Exit(code int) {
	u.enter()
	u.m.K.Exit(code)
	panic("machine: exit returned")
}

// Fault reports an unrecoverable memory fault, aborting the process.
func (u *User) Fault() {
	u.enter()
	log.Warningf("[pid %d] memory fault", u.p.PID())
	u.m.K.Abort(u.p)
	u.m.K.Sched()
	panic("machine: abort returned")
}

// Wait waits for a child to exit (or stop, with pm.WUNTRACED).
func (u *User) Wait(pid, opts int) (int, pm.WaitStatus, error) {
	u.enter()
	cpid, status, err := u.m.K.Wait(pid, opts)
	u.leave()
	return cpid, pm.WaitStatus(status), err
}

func (u *User) Kill(pid int, sig pm.Signal) error {
	u.enter()
	err := u.m.K.Kill(pid, sig)
	u.leave()
	return err
}

// Signal sets the action for sig and returns the old one.
func (u *User) Signal(sig pm.Signal, act pm.Action) (pm.Action, error) {
	u.enter()
	old, err := u.m.K.Sigaction(sig, act)
	u.leave()
	return old, err
}

// Catch is Signal with a handler.
func (u *User) Catch(sig pm.Signal, h func(pm.Signal)) error {
	_, err := u.Signal(sig, pm.Action{Disp: pm.SigCatch, Handler: h})
	return err
}

func (u *User) Sigprocmask(how int, set pm.SigSet) (pm.SigSet, error) {
	u.enter()
	old, err := u.m.K.Sigprocmask(how, set)
	u.leave()
	return old, err
}

func (u *User) Alarm(secs uint) uint {
	u.enter()
	left := u.m.K.Alarm(secs)
	u.leave()
	return left
}

// Pause waits for a signal. It always returns pm.EINTR.
func (u *User) Pause() error {
	u.enter()
	err := u.m.K.Pause()
	u.leave()
	return err
}

func (u *User) Nice(incr int) error {
	u.enter()
	err := u.m.K.Nice(u.p, incr)
	u.leave()
	return err
}

func (u *User) Setpgrp() int {
	u.enter()
	pgrp := u.m.K.Setpgrp()
	u.leave()
	return pgrp
}

func (u *User) Setuid(uid int) error {
	u.enter()
	err := u.m.K.Setuid(uid)
	u.leave()
	return err
}

func (u *User) Times() (pm.Tms, uint) {
	u.enter()
	tms, ticks := u.m.K.Times()
	u.leave()
	return tms, ticks
}

// Yield gives up the rest of the quantum.
func (u *User) Yield() {
	u.enter()
	u.m.K.Yield()
	u.leave()
}

/*
 * Run user code for n clock ticks.
 * Each tick is a clock interrupt
 * taken by this process, so the
 * quantum runs out as it would
 * for a real computation.
 */
func (u *User) Compute(n int) {
	for i := 0; i < n; i++ {
		if u.m.Realtime {
			time.Sleep(time.Second / pm.ClockFreq)
			u.enter()
		} else {
			u.enter()
			u.m.K.Clock()
		}
		u.leave()
	}
}

// Read reads from the terminal.
func (u *User) Read(b []byte) (int, error) {
	if u.m.TTY == nil {
		return 0, pm.EINVAL
	}
	u.enter()
	n, err := u.m.TTY.Read(u.m.K, b)
	u.leave()
	return n, err
}

// Write writes to the terminal.
func (u *User) Write(b []byte) (int, error) {
	if u.m.TTY == nil {
		return 0, pm.EINVAL
	}
	u.enter()
	n, err := u.m.TTY.Write(u.m.K, b)
	u.leave()
	return n, err
}

// Tcsetpgrp makes pgrp the terminal's foreground process group.
func (u *User) Tcsetpgrp(pgrp int) {
	u.enter()
	if u.m.TTY != nil {
		u.m.TTY.SetPgrp(pgrp)
	}
	u.leave()
}

// Ps returns a snapshot of the process table.
func (u *User) Ps() []pm.Info {
	return u.m.K.Snapshot()
}

// region enters the kernel and returns the region in slot.
func (u *User) region(slot int) (*region.Region, bool) {
	u.enter()
	if slot < 0 || slot >= pm.NPREGIONS {
		return nil, false
	}
	r, ok := u.p.Region(slot).(*region.Region)
	return r, ok
}

// LockRegion locks one of the process's memory regions,
// waiting while another process holds it.
func (u *User) LockRegion(slot int) error {
	r, ok := u.region(slot)
	if ok {
		r.Lock(u.m.K)
	}
	u.leave()
	if !ok {
		return pm.EINVAL
	}
	return nil
}

// UnlockRegion unlocks a region the process locked with LockRegion.
func (u *User) UnlockRegion(slot int) error {
	r, ok := u.region(slot)
	ok = ok && r.Locked() && r.Owner() == u.p.PID()
	if ok {
		r.Unlock(u.m.K)
	}
	u.leave()
	if !ok {
		return pm.EINVAL
	}
	return nil
}
