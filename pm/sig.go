// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pm

/*
 * Send the specified signal to
 * the specified process.
 * A signal does not do anything
 * directly to a process; it sets
 * a flag that asks the process to
 * do something to itself when it
 * next returns to user mode (see Psig).
 * The exceptions are job control and
 * interruptible sleeps, which end early.
 */
func (k *Kernel) Sndsig(p *Proc, sig Signal) {
	if sig == 0 || sig >= NSIG || !p.valid() || p.state == Zombie {
		return
	}
	log.Debugf("[pid %d] sndsig %v", p.pid, sig)
	p.received |= sigbit(sig)

	switch {
	case sig == SIGCONT:
		p.received &^= stopSigs
		k.Resume(p)
	case stopSigs.Has(sig):
		p.received &^= sigbit(SIGCONT)
	case sig == SIGKILL:
		k.Resume(p)
	}

	if p.state == Waiting && p.deliverable().Has(sig) {
		k.unlink(p)
		p.intr = true
		k.setrun(p)
	}
}

// SignalGroup sends sig to every process in process group pgrp.
func (k *Kernel) SignalGroup(pgrp int, sig Signal) {
	for i := 1; i < NPROC; i++ {
		p := &k.proctab[i]
		if p.valid() && p.pgrp == pgrp {
			k.Sndsig(p, sig)
		}
	}
}

// Issig reports whether the current process has a signal to act on.
func (k *Kernel) Issig() bool {
	return k.curr.deliverable() != 0
}

/*
 * Perform the action specified by the pending signals
 * of the current process, lowest number first.
 * Called on every return to user mode.
 * Default actions are carried out here; a caught
 * signal is returned with its handler for the caller
 * to run in user mode. A process that terminates does
 * not return (unless the switch primitive is a no-op).
 */
func (k *Kernel) Psig() (Signal, func(Signal)) {
	p := k.curr
	for {
		m := p.deliverable()
		if m == 0 {
			// Nothing to act on; discard ignored signals.
			p.received &= p.blocked &^ uncatchable
			return 0, nil
		}
		sig := Signal(1)
		for !m.Has(sig) {
			sig++
		}
		p.received &^= sigbit(sig)

		act := p.handlers[sig]
		if act.Disp == SigCatch && !uncatchable.Has(sig) {
			return sig, act.Handler
		}

		switch sigDefault[sig] {
		case DefStop:
			k.stop(p, sig)
			k.Sched()
			if p.state != Running {
				return 0, nil
			}
		case DefTerm:
			k.Terminate(p, Signaled(sig))
			k.Sched()
			return 0, nil
		case DefCore:
			k.Terminate(p, Signaled(sig)|CoreFlag)
			k.Sched()
			return 0, nil
		}
	}
}

// Sigaction sets the disposition of sig for the current process
// and returns the old one.
func (k *Kernel) Sigaction(sig Signal, act Action) (Action, error) {
	p := k.curr
	if sig == 0 || sig >= NSIG || uncatchable.Has(sig) {
		return Action{}, EINVAL
	}
	if act.Disp == SigCatch && act.Handler == nil {
		return Action{}, EINVAL
	}
	old := p.handlers[sig]
	p.handlers[sig] = act
	if act.Disp == SigIgnore {
		p.received &^= sigbit(sig)
	}
	return old, nil
}

/* how for Sigprocmask */
const (
	SigBlock = iota
	SigUnblock
	SigSetmask
)

// Sigprocmask changes the blocked signals of the current process
// and returns the old mask. SIGKILL and SIGSTOP cannot be blocked.
func (k *Kernel) Sigprocmask(how int, set SigSet) (SigSet, error) {
	p := k.curr
	old := p.blocked
	switch how {
	case SigBlock:
		p.blocked |= set
	case SigUnblock:
		p.blocked &^= set
	case SigSetmask:
		p.blocked = set
	default:
		return old, EINVAL
	}
	p.blocked &^= uncatchable | 1
	return old, nil
}

// ExecSignals resets caught signals to their default disposition,
// as a new program image cannot hold the old handlers.
func (k *Kernel) ExecSignals(p *Proc) {
	for i := range p.handlers {
		if p.handlers[i].Disp == SigCatch {
			p.handlers[i] = Action{}
		}
	}
}

/*
 * Send sig to the processes selected by pid:
 *	pid > 0   that process
 *	pid == 0  the caller's process group
 *	pid == -1 everyone but init and the caller
 *	pid < -1  process group -pid
 * Sig 0 only checks that the targets exist.
 */
func (k *Kernel) Kill(pid int, sig Signal) error {
	if sig >= NSIG {
		return EINVAL
	}
	p := k.curr
	found, denied := 0, 0
	for i := 1; i < NPROC; i++ {
		q := &k.proctab[i]
		if !q.valid() {
			continue
		}
		switch {
		case pid > 0:
			if q.pid != pid {
				continue
			}
		case pid == 0:
			if q.pgrp != p.pgrp {
				continue
			}
		case pid == -1:
			if q == p {
				continue
			}
		default:
			if q.pgrp != -pid {
				continue
			}
		}
		if !p.IsSuperuser() && p.uid != q.uid && p.euid != q.uid {
			denied++
			continue
		}
		found++
		k.Sndsig(q, sig)
	}
	if pid == InitPID && found == 0 {
		return EPERM
	}
	if found == 0 {
		if denied > 0 {
			return EPERM
		}
		return ESRCH
	}
	return nil
}

// Alarm arranges for SIGALRM to be sent to the current process
// after secs seconds, cancelling any earlier alarm when secs is 0.
// It returns the seconds that were left on the earlier alarm.
func (k *Kernel) Alarm(secs uint) uint {
	p := k.curr
	var left uint
	if p.alarm > k.ticks {
		left = (p.alarm - k.ticks + ClockFreq - 1) / ClockFreq
	}
	p.alarm = 0
	if secs > 0 {
		p.alarm = k.ticks + secs*ClockFreq
	}
	return left
}
