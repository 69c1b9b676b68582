// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pm

import "fmt"

// A Proc is a process table entry.
type Proc struct {
	frame Frame // must be first: the switch routine addresses it by offset

	slot int

	/* identity */
	pid    int
	father int /* pid of the father */
	pgrp   int

	/* credentials */
	uid, euid, suid int
	gid, egid, sgid int

	/* scheduling */
	state    State
	counter  int      /* remaining quantum */
	priority Priority /* current priority, raised by sleep */
	base     Priority /* priority restored when dispatched */
	nice     int
	alarm    uint /* tick at which SIGALRM is due, 0 if none */

	/* signals */
	received SigSet
	blocked  SigSet
	handlers [NSIG]Action

	/* accounting */
	utime, ktime   int
	cutime, cktime int

	/* memory */
	pregs [NPREGIONS]Region
	size  int

	/* wait linkage: slot+1 of neighbours on chain, 0 for none */
	next, prev int
	chain      *Chain
	cwait      Chain /* where the process sleeps for its children */
	intr       bool  /* last sleep was cut short by a signal */

	status   int  /* wait status once terminated or stopped */
	reported bool /* stop already reported to the father */
}

// A State is a process state.
type State int

const (
	Dead     State = iota /* slot is unused */
	Zombie                /* terminated, status not yet collected */
	Running               /* current process */
	Ready                 /* ready to execute */
	Waiting               /* waiting, interruptible */
	Sleeping              /* waiting, uninterruptible */
	Stopped               /* stopped by job control */
	Embryo                /* being created */
)

var statenames = [...]string{
	Dead:     "DEAD",
	Zombie:   "ZOMBIE",
	Running:  "RUNNING",
	Ready:    "READY",
	Waiting:  "WAITING",
	Sleeping: "SLEEPING",
	Stopped:  "STOPPED",
	Embryo:   "NEW",
}

func (s State) String() string {
	if 0 <= s && int(s) < len(statenames) {
		return statenames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ParseState parses the name of a state.
func ParseState(name string) (State, bool) {
	for s, n := range statenames {
		if n == name {
			return State(s), true
		}
	}
	return 0, false
}

func (p *Proc) PID() int            { return p.pid }
func (p *Proc) Father() int         { return p.father }
func (p *Proc) Pgrp() int           { return p.pgrp }
func (p *Proc) Slot() int           { return p.slot }
func (p *Proc) State() State        { return p.state }
func (p *Proc) Priority() Priority  { return p.priority }
func (p *Proc) Base() Priority      { return p.base }
func (p *Proc) Nice() int           { return p.nice }
func (p *Proc) Counter() int        { return p.counter }
func (p *Proc) Pending() SigSet     { return p.received }
func (p *Proc) Blocked() SigSet     { return p.blocked }
func (p *Proc) Chain() *Chain       { return p.chain }
func (p *Proc) ABI() *Frame         { return &p.frame }
func (p *Proc) Size() int           { return p.size }
func (p *Proc) Region(i int) Region { return p.pregs[i] }
func (p *Proc) Uid() int            { return p.uid }
func (p *Proc) Euid() int           { return p.euid }
func (p *Proc) Gid() int            { return p.gid }
func (p *Proc) Egid() int           { return p.egid }
func (p *Proc) Free() bool          { return p.frame.Flags&FlagFree != 0 }

// Action returns the disposition of s in p.
func (p *Proc) Action(s Signal) Action { return p.handlers[s] }

// Effective returns the effective priority of p, priority plus nice.
func (p *Proc) Effective() int { return int(p.priority) + p.nice }

// IsSuperuser reports whether p runs with superuser privileges.
func (p *Proc) IsSuperuser() bool {
	return p.uid == SuperUser || p.euid == SuperUser
}

func (p *Proc) String() string {
	if p == nil {
		return "<nil>"
	}
	return fmt.Sprintf("pid %d", p.pid)
}

// valid reports whether p holds a live process.
func (p *Proc) valid() bool {
	return p != nil && p.frame.Flags&FlagFree == 0 && p.state != Dead
}

func (p *Proc) sleeping() bool {
	return p.state == Waiting || p.state == Sleeping
}

// deliverable returns the pending signals p must act on.
func (p *Proc) deliverable() SigSet {
	m := p.received &^ (p.blocked &^ uncatchable)
	for s := Signal(1); s < NSIG; s++ {
		if m.Has(s) && p.ignores(s) {
			m &^= sigbit(s)
		}
	}
	return m
}

// ignores reports whether delivering s to p would have no effect.
func (p *Proc) ignores(s Signal) bool {
	if uncatchable.Has(s) {
		return false
	}
	switch p.handlers[s].Disp {
	case SigIgnore:
		return true
	case SigCatch:
		return false
	}
	c := sigDefault[s]
	return c == DefIgnore || c == DefCont
}

// Info is a snapshot of a process table entry.
type Info struct {
	Slot     int
	PID      int
	Father   int
	Pgrp     int
	Uid      int
	Euid     int
	State    State
	Priority Priority
	Nice     int
	Counter  int
	UTime    int
	KTime    int
	Size     int
	Pending  SigSet
	Alarm    uint
}

func (p *Proc) info() Info {
	return Info{
		Slot:     p.slot,
		PID:      p.pid,
		Father:   p.father,
		Pgrp:     p.pgrp,
		Uid:      p.uid,
		Euid:     p.euid,
		State:    p.state,
		Priority: p.priority,
		Nice:     p.nice,
		Counter:  p.counter,
		UTime:    p.utime,
		KTime:    p.ktime,
		Size:     p.size,
		Pending:  p.received,
		Alarm:    p.alarm,
	}
}
