// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pm is the process-management core of a small Unix-like kernel:
// the process table, the scheduler, sleep and wakeup on wait chains,
// and signal delivery and process termination.
//
// The kernel models a single CPU. Code runs in the kernel between
// Enter and Leave; the outermost Enter takes the kernel lock, which
// stands in for disabling interrupts, and the lock is passed along
// with the CPU when the Switcher dispatches another process.
// Operations other than Enter, Leave and Snapshot assume the
// caller is in the kernel.
package pm

import (
	"fmt"
	"sync"

	"github.com/op/go-logging"
)

var log = logging.MustGetLogger("pm")

// A Kernel holds the process table and the scheduler state.
// It is created once at boot and lives forever.
type Kernel struct {
	mu      sync.Mutex
	proctab [NPROC]Proc
	curr    *Proc
	nextPid int
	ticks   uint
	runrun  bool /* a more urgent process became ready */
	defer_  bool /* reschedule deferred while the kernel was running */

	sw Switcher
	rm RegionManager
}

// New initializes the process table and returns the kernel.
// Slot 0 holds init, which is the current process.
// A nil Switcher dispatches nothing; a nil RegionManager
// records regions without telling anyone.
func New(sw Switcher, rm RegionManager) *Kernel {
	if sw == nil {
		sw = nopSwitch{}
	}
	k := &Kernel{sw: sw, rm: rm, nextPid: InitPID + 1}
	for i := range k.proctab {
		p := &k.proctab[i]
		p.slot = i
		p.frame.Flags = FlagFree
		p.frame.KStack = kstack(i)
	}

	ip := &k.proctab[0]
	ip.frame.Flags = 0
	ip.frame.KESP = ip.frame.KStack + KStackSize
	ip.frame.Regs = ip.frame.KStack + KStackSize - RegsSize
	ip.frame.CR3 = PgdirBase
	ip.pid = InitPID
	ip.pgrp = InitPID
	ip.state = Running
	ip.base = PrioInit
	ip.priority = PrioInit
	ip.counter = Quantum
	k.curr = ip
	return k
}

// Init returns the process in slot 0.
func (k *Kernel) Init() *Proc { return &k.proctab[0] }

// Current returns the running process.
func (k *Kernel) Current() *Proc { return k.curr }

// Ticks returns the number of clock ticks since boot.
func (k *Kernel) Ticks() uint { return k.ticks }

// Proc returns the process in the given slot.
func (k *Kernel) Proc(slot int) *Proc { return &k.proctab[slot] }

// Lookup returns the live process with the given pid, or nil.
func (k *Kernel) Lookup(pid int) *Proc {
	for i := range k.proctab {
		p := &k.proctab[i]
		if p.valid() && p.pid == pid {
			return p
		}
	}
	return nil
}

// Enter records entry into the kernel from a trap or interrupt.
// The outermost entry takes the kernel lock.
func (k *Kernel) Enter() {
	if k.curr.frame.IntLvl == 0 {
		k.mu.Lock()
	}
	k.curr.frame.IntLvl++
}

// Leave undoes Enter. A reschedule deferred because the kernel was
// running happens when the nesting returns to the base level.
// The outermost Leave releases the kernel lock.
func (k *Kernel) Leave() {
	p := k.curr
	if p.frame.IntLvl == 0 {
		k.panic("leave: not in kernel")
	}
	p.frame.IntLvl--
	if p.frame.IntLvl == 1 && k.defer_ {
		k.defer_ = false
		k.Sched()
	}
	if p.frame.IntLvl == 0 {
		k.mu.Unlock()
	}
}

/*
 * Find a free slot and a fresh pid.
 * Pids in use as a pid, a father or a
 * process group by any live process are skipped.
 */
func (k *Kernel) allocate() (*Proc, error) {
	var p *Proc
	for i := 1; i < NPROC; i++ {
		if k.proctab[i].frame.Flags&FlagFree != 0 {
			p = &k.proctab[i]
			break
		}
	}
	if p == nil {
		log.Warningf("process table full")
		return nil, EAGAIN
	}

Retry:
	pid := k.nextPid
	k.nextPid++
	if k.nextPid > MaxPID {
		k.nextPid = InitPID + 1
	}
	for i := range k.proctab {
		q := &k.proctab[i]
		if q.frame.Flags&FlagFree == 0 && (q.pid == pid || q.father == pid || q.pgrp == pid) {
			goto Retry
		}
	}

	slot, kstack := p.slot, p.frame.KStack
	*p = Proc{slot: slot}
	p.frame.KStack = kstack
	p.frame.KESP = kstack + KStackSize
	p.frame.Regs = kstack + KStackSize - RegsSize
	p.frame.CR3 = PgdirBase + uint32(slot)*0x1000
	p.frame.Flags = FlagNew
	p.pid = pid
	p.state = Embryo
	return p, nil
}

// Reclaim returns the slot of a terminated process to the free pool.
// Reclaiming a free slot does nothing.
func (k *Kernel) Reclaim(p *Proc) {
	if p.frame.Flags&FlagFree != 0 {
		return
	}
	if p.state != Zombie {
		k.panic("reclaim %v: state %v", p, p.state)
	}
	if p == k.curr {
		k.panic("reclaim %v: running", p)
	}
	log.Debugf("[pid %d] reclaim slot %d", p.pid, p.slot)
	k.detachAll(p)
	if r, ok := k.sw.(Releaser); ok {
		r.Release(p)
	}
	slot, kstack := p.slot, p.frame.KStack
	*p = Proc{slot: slot}
	p.frame.KStack = kstack
	p.frame.Flags = FlagFree
}

// Fork creates a child of parent.
// The child shares or copies parent's regions, inherits its
// credentials, signal dispositions and scheduling parameters,
// and is left ready to run.
func (k *Kernel) Fork(parent *Proc) (*Proc, error) {
	p, err := k.allocate()
	if err != nil {
		return nil, err
	}
	for i, r := range parent.pregs {
		if r == nil {
			continue
		}
		if err := k.AttachRegion(p, i, r); err != nil {
			k.detachAll(p)
			p.state = Zombie
			k.Reclaim(p)
			return nil, err
		}
	}
	p.father = parent.pid
	p.pgrp = parent.pgrp
	p.uid, p.euid, p.suid = parent.uid, parent.euid, parent.suid
	p.gid, p.egid, p.sgid = parent.gid, parent.egid, parent.sgid
	p.handlers = parent.handlers
	p.blocked = parent.blocked
	p.nice = parent.nice
	p.base = parent.base
	if parent == k.Init() {
		p.base = PrioUser
	}
	p.priority = p.base
	p.frame.IntLvl = 1 // child returns from fork through the trap path
	k.setrun(p)
	log.Debugf("[pid %d] fork -> %d", parent.pid, p.pid)
	return p, nil
}

// Snapshot returns the live entries of the process table.
// Unlike other operations it may be called from outside the kernel.
func (k *Kernel) Snapshot() []Info {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.snapshot()
}

func (k *Kernel) snapshot() []Info {
	var list []Info
	for i := range k.proctab {
		p := &k.proctab[i]
		if p.frame.Flags&FlagFree == 0 {
			list = append(list, p.info())
		}
	}
	return list
}

// Check verifies the process table invariants and returns
// a description of the first violation found.
func (k *Kernel) Check() error {
	if k.curr == nil || k.curr.state != Running {
		return fmt.Errorf("current process %v not running", k.curr)
	}
	pids := make(map[int]int)
	for i := range k.proctab {
		p := &k.proctab[i]
		if p.slot != i {
			return fmt.Errorf("slot %d: slot field %d", i, p.slot)
		}
		if p.frame.Flags&FlagFree != 0 {
			if p.chain != nil || p.next != 0 || p.prev != 0 {
				return fmt.Errorf("slot %d: free but linked on a chain", i)
			}
			if p.state != Dead {
				return fmt.Errorf("slot %d: free but %v", i, p.state)
			}
			continue
		}
		if j, ok := pids[p.pid]; ok {
			return fmt.Errorf("pid %d in slots %d and %d", p.pid, j, i)
		}
		pids[p.pid] = i
		if p.counter < 0 {
			return fmt.Errorf("%v: counter %d", p, p.counter)
		}
		if (p.chain != nil) != p.sleeping() {
			return fmt.Errorf("%v: state %v with chain %v", p, p.state, p.chain != nil)
		}
		if p.chain != nil && !p.chain.has(k, p) {
			return fmt.Errorf("%v: not found on its chain", p)
		}
		if p.state == Running && p != k.curr {
			return fmt.Errorf("%v: running but not current", p)
		}
		if i == 0 && p.state != Running && p.state != Ready {
			return fmt.Errorf("init %v", p.state)
		}
	}
	return nil
}
