// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pm

/*
 * Reschedule.
 * The current process keeps the processor while it is running,
 * has quantum left and nothing more urgent has become ready.
 * Otherwise the most urgent ready process is chosen; among equals
 * the first one found scanning the table from just after the
 * current slot wins, so equal processes take turns.
 * Init (slot 0) runs only when nothing else is ready.
 */
func (k *Kernel) Sched() {
	prev := k.curr
	if prev.state == Running {
		if prev.counter > 0 {
			prev.counter--
		}
		if prev.counter > 0 && !k.runrun {
			return
		}
		prev.state = Ready
	}
	k.runrun = false

	next := k.pick(prev.slot)
	if next == nil {
		next = k.Init()
		if next.state != Ready {
			k.panic("sched: nothing to run, init %v", next.state)
		}
	}
	next.state = Running
	next.counter = Quantum
	next.priority = next.base
	k.curr = next

	if prev.state == Zombie && k.orphan(prev) {
		k.Reclaim(prev)
	}
	if prev == next {
		return
	}
	log.Debugf("[pid %d] switch -> %d", prev.pid, next.pid)
	k.sw.Switch(prev, next)
}

// pick returns the most urgent ready process other than init,
// scanning slots from just after from.
func (k *Kernel) pick(from int) *Proc {
	var next *Proc
	for j := 0; j < NPROC-1; j++ {
		p := &k.proctab[1+(from+j)%(NPROC-1)]
		if p.state != Ready {
			continue
		}
		if next == nil || p.Effective() < next.Effective() {
			next = p
		}
	}
	return next
}

// Yield gives up the rest of the current quantum.
func (k *Kernel) Yield() {
	k.curr.counter = 0
	k.Sched()
}

/*
 * Clock interrupt.
 * Charge the tick, post expired alarms and reschedule,
 * unless the interrupted process was running kernel code,
 * in which case the reschedule waits until it leaves.
 */
func (k *Kernel) Clock() {
	k.ticks++
	p := k.curr
	if KernelRunning(p) {
		p.ktime++
	} else {
		p.utime++
	}

	for i := range k.proctab {
		q := &k.proctab[i]
		if q.valid() && q.alarm != 0 && q.alarm <= k.ticks {
			q.alarm = 0
			k.Sndsig(q, SIGALRM)
		}
	}

	if KernelRunning(p) {
		k.defer_ = true
		return
	}
	k.Sched()
}

// Runnable reports whether any process other than init is ready.
func (k *Kernel) Runnable() bool {
	return k.pick(0) != nil
}

// NextAlarm returns the earliest pending alarm deadline.
func (k *Kernel) NextAlarm() (uint, bool) {
	var t uint
	for i := range k.proctab {
		q := &k.proctab[i]
		if q.valid() && q.alarm != 0 && (t == 0 || q.alarm < t) {
			t = q.alarm
		}
	}
	return t, t != 0
}

// SetPriority sets the base priority of p.
// A sleeping process keeps its wait priority until it runs again.
func (k *Kernel) SetPriority(p *Proc, base Priority) {
	p.base = base
	if !p.sleeping() {
		p.priority = base
	}
}

// Nice adds incr to the nice value of p.
// Only the superuser may make a process more urgent.
func (k *Kernel) Nice(p *Proc, incr int) error {
	if incr < 0 && !k.curr.IsSuperuser() {
		return EPERM
	}
	p.nice = min(max(p.nice+incr, NiceMin), NiceMax)
	return nil
}
