// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pm

// A Frame is the part of a process record read and written directly
// by the architecture-specific switch routine. Its layout is fixed:
// the routine addresses the fields by the Off constants below,
// never through the rest of the record.
type Frame struct {
	KESP   uint32 // saved kernel stack pointer
	CR3    uint32 // address-space root
	IntLvl uint32 // interrupt nesting level
	Regs   uint32 // saved register frame
	Flags  uint32 // FlagFree, FlagNew
	_      uint32 // reserved
	KStack uint32 // kernel stack base
}

/* offsets into Frame */
const (
	OffKESP   = 0
	OffCR3    = 4
	OffIntLvl = 8
	OffRegs   = 12
	OffFlags  = 16
	OffKStack = 24
	FrameSize = 28
)

/* process flags */
const (
	FlagFree uint32 = 1 /* slot is free */
	FlagNew  uint32 = 2 /* process has never been dispatched */
)

/*
 * Kernel stacks live at fixed addresses, one per slot,
 * with the saved registers at the top.
 */
const (
	KStackBase = 0xc0400000
	KStackSize = 0x1000
	RegsSize   = 68
	PgdirBase  = 0xc0800000
)

func kstack(slot int) uint32 {
	return KStackBase + uint32(slot)*KStackSize
}

// A Switcher is the context-switch primitive.
// Switch saves the machine state of prev into its frame and
// loads the state of next from its frame; it returns when prev is
// next dispatched, or not at all if prev has terminated.
// On the first dispatch of a process the Switcher clears FlagNew.
type Switcher interface {
	Switch(prev, next *Proc)
}

// A Releaser is a Switcher that holds per-process state
// which must be dropped when a slot is reclaimed.
type Releaser interface {
	Release(p *Proc)
}

// KernelRunning reports whether p was interrupted while
// executing kernel code and so must not be preempted.
func KernelRunning(p *Proc) bool {
	return p.frame.IntLvl > 1
}

type nopSwitch struct{}

func (nopSwitch) Switch(prev, next *Proc) {
	next.frame.Flags &^= FlagNew
}
