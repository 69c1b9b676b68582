// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pm

/*
 * Release resources.
 * Save status for the father,
 * give the children to init
 * and wake up the father.
 * The record stays until the father
 * collects it (see Collect), or at once
 * if nobody is left to collect it.
 * The caller reschedules if p is current.
 */
func (k *Kernel) Terminate(p *Proc, status int) {
	if p.slot == 0 {
		k.panic("terminate init")
	}
	if !p.valid() || p.state == Zombie {
		return
	}
	log.Debugf("[pid %d] terminate %v", p.pid, WaitStatus(status))
	k.unlink(p)
	p.intr = false
	p.alarm = 0
	p.received = 0
	k.detachAll(p)
	p.status = status
	p.state = Zombie

	for i := 1; i < NPROC; i++ {
		q := &k.proctab[i]
		if !q.valid() || q.father != p.pid || q == p {
			continue
		}
		q.father = InitPID
		switch q.state {
		case Zombie:
			k.Reclaim(q)
		case Stopped:
			k.Sndsig(q, SIGCONT)
		}
	}

	if f := k.Lookup(p.father); f != nil && f.slot != 0 {
		k.Wakeup(&f.cwait)
		k.Sndsig(f, SIGCHLD)
	}
	if p != k.curr && k.orphan(p) {
		k.Reclaim(p)
	}
}

// orphan reports whether p has nobody to collect its status.
func (k *Kernel) orphan(p *Proc) bool {
	return p.father == InitPID || k.Lookup(p.father) == nil
}

// Abort terminates p abnormally, bypassing any handler.
func (k *Kernel) Abort(p *Proc) {
	k.Terminate(p, Signaled(SIGABRT)|CoreFlag)
}

// Stop stops p as if by SIGSTOP.
// A stopped current process gives up the processor.
func (k *Kernel) Stop(p *Proc) {
	k.stop(p, SIGSTOP)
	if p == k.curr && p.state == Stopped {
		k.Sched()
	}
}

/*
 * Stop a process for job control.
 * A process waiting interruptibly is taken
 * off its chain; its sleep returns EINTR
 * once it is resumed. Uninterruptible
 * sleepers are left alone.
 */
func (k *Kernel) stop(p *Proc, sig Signal) {
	if !p.valid() || p.slot == 0 {
		return
	}
	switch p.state {
	case Stopped, Zombie, Sleeping, Embryo:
		return
	case Waiting:
		k.unlink(p)
		p.intr = true
	}
	log.Debugf("[pid %d] stop %v", p.pid, sig)
	p.state = Stopped
	p.status = StoppedStatus(sig)
	p.reported = false
	if f := k.Lookup(p.father); f != nil && f.slot != 0 {
		k.Wakeup(&f.cwait)
		k.Sndsig(f, SIGCHLD)
	}
}

// Resume makes a stopped process ready again.
func (k *Kernel) Resume(p *Proc) {
	if !p.valid() || p.state != Stopped {
		return
	}
	log.Debugf("[pid %d] resume", p.pid)
	k.setrun(p)
}

/*
 * The pid forms of Sndsig, Stop and Resume
 * for callers that hold a pid rather than a slot,
 * which may have been reclaimed and reused since.
 */

func (k *Kernel) target(pid int) (*Proc, error) {
	p := k.Lookup(pid)
	if p == nil || p.state == Zombie {
		return nil, ESRCH
	}
	return p, nil
}

// SndsigPID sends sig to process pid.
func (k *Kernel) SndsigPID(pid int, sig Signal) error {
	p, err := k.target(pid)
	if err != nil {
		return err
	}
	k.Sndsig(p, sig)
	return nil
}

// StopPID stops process pid.
func (k *Kernel) StopPID(pid int) error {
	p, err := k.target(pid)
	if err != nil {
		return err
	}
	k.Stop(p)
	return nil
}

// ResumePID resumes process pid.
func (k *Kernel) ResumePID(pid int) error {
	p, err := k.target(pid)
	if err != nil {
		return err
	}
	k.Resume(p)
	return nil
}

// Exit terminates the current process with the given exit code.
// It does not return unless the switch primitive is a no-op.
func (k *Kernel) Exit(code int) {
	k.Terminate(k.curr, Exited(code))
	k.Sched()
}

/* options for Wait and Collect */
const (
	WNOHANG   = 1 /* do not sleep */
	WUNTRACED = 2 /* report stopped children */
)

/*
 * Look for a child of father matching pid
 * (as in Kill: a pid, 0 for father's group,
 * -1 for any, -pgrp for a group) that has
 * terminated, or stopped if WUNTRACED.
 * A terminated child is reclaimed and its
 * times are added to the father's.
 * Returns pid 0 if a matching child exists
 * but none has anything to report.
 */
func (k *Kernel) Collect(father *Proc, pid int, opts int) (int, int, error) {
	found := false
	for i := 1; i < NPROC; i++ {
		q := &k.proctab[i]
		if !q.valid() || q.father != father.pid {
			continue
		}
		switch {
		case pid > 0 && q.pid != pid,
			pid == 0 && q.pgrp != father.pgrp,
			pid < -1 && q.pgrp != -pid:
			continue
		}
		found = true
		switch {
		case q.state == Zombie:
			father.cutime += q.utime + q.cutime
			father.cktime += q.ktime + q.cktime
			cpid, status := q.pid, q.status
			k.Reclaim(q)
			return cpid, status, nil
		case q.state == Stopped && opts&WUNTRACED != 0 && !q.reported:
			q.reported = true
			return q.pid, q.status, nil
		}
	}
	if !found {
		return 0, 0, ECHILD
	}
	return 0, 0, nil
}

// Wait waits for a child of the current process to change state
// and returns its pid and wait status.
func (k *Kernel) Wait(pid int, opts int) (int, int, error) {
	p := k.curr
	for {
		cpid, status, err := k.Collect(p, pid, opts)
		if err != nil || cpid != 0 || opts&WNOHANG != 0 {
			return cpid, status, err
		}
		if err := k.Sleep(&p.cwait, PrioUser); err != nil {
			return 0, 0, err
		}
	}
}
