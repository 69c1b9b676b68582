// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pm

// A Chain is a list of processes waiting for the same event.
// The zero value is an empty chain. A Chain must not be copied
// while processes are waiting on it.
type Chain struct {
	head int // slot+1 of the first waiter, 0 if empty
}

// Empty reports whether no process waits on c.
func (c *Chain) Empty() bool { return c.head == 0 }

// Waiters returns the processes waiting on c, most recent first.
func (k *Kernel) Waiters(c *Chain) []*Proc {
	var list []*Proc
	for i := c.head; i != 0; i = k.proctab[i-1].next {
		list = append(list, &k.proctab[i-1])
	}
	return list
}

func (c *Chain) has(k *Kernel, p *Proc) bool {
	for i := c.head; i != 0; i = k.proctab[i-1].next {
		if i-1 == p.slot {
			return true
		}
	}
	return false
}

// link puts p at the front of c.
func (k *Kernel) link(c *Chain, p *Proc) {
	if p.chain != nil {
		k.panic("link %v: already on a chain", p)
	}
	p.prev = 0
	p.next = c.head
	if c.head != 0 {
		k.proctab[c.head-1].prev = p.slot + 1
	}
	c.head = p.slot + 1
	p.chain = c
}

// unlink removes p from the chain it is on.
func (k *Kernel) unlink(p *Proc) {
	c := p.chain
	if c == nil {
		return
	}
	if p.prev != 0 {
		k.proctab[p.prev-1].next = p.next
	} else {
		c.head = p.next
	}
	if p.next != 0 {
		k.proctab[p.next-1].prev = p.prev
	}
	p.next, p.prev = 0, 0
	p.chain = nil
}

/*
 * Give up the processor till a wakeup occurs
 * on chain, at which time the process
 * enters the scheduling queue at priority pri.
 * The most important effect of pri is that when
 * pri<0 a signal cannot disturb the sleep;
 * if pri>=0 signals will be processed and the
 * sleep ends early with EINTR.
 * Callers of this routine must be prepared for
 * premature return, and check that the reason for
 * sleeping has gone away.
 */
func (k *Kernel) Sleep(c *Chain, pri Priority) error {
	p := k.curr
	if p.slot == 0 {
		k.panic("sleep: init must not sleep")
	}
	if p.state != Running {
		k.panic("sleep %v: state %v", p, p.state)
	}
	if pri.Interruptible() && p.deliverable() != 0 {
		return EINTR
	}

	p.priority = pri
	p.intr = false
	k.link(c, p)
	if pri.Interruptible() {
		p.state = Waiting
	} else {
		p.state = Sleeping
	}
	log.Debugf("[pid %d] sleep pri=%v", p.pid, pri)
	k.Sched()

	if p.intr {
		p.intr = false
		return EINTR
	}
	return nil
}

/*
 * Wake up all processes sleeping on chain.
 * The caller keeps the processor.
 */
func (k *Kernel) Wakeup(c *Chain) {
	for c.head != 0 {
		p := &k.proctab[c.head-1]
		if !p.sleeping() {
			k.panic("wakeup %v: %v on a chain", p, p.state)
		}
		k.unlink(p)
		k.setrun(p)
		log.Debugf("[pid %d] wakeup", p.pid)
	}
}

/*
 * Make the process ready to run.
 * The rescheduling flag (runrun) is set
 * if it is more urgent than the current process.
 */
func (k *Kernel) setrun(p *Proc) {
	if p.state == Zombie || p.frame.Flags&FlagFree != 0 {
		k.panic("setrun %v: %v", p, p.state)
	}
	if p.chain != nil {
		k.panic("setrun %v: still on a chain", p)
	}
	p.state = Ready
	if p.Effective() < k.curr.Effective() {
		k.runrun = true
	}
}

// Pause puts the current process to sleep until a signal arrives,
// then returns EINTR.
func (k *Kernel) Pause() error {
	var never Chain
	return k.Sleep(&never, PrioUser)
}
