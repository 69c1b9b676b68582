// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pm

// A Region is a memory region owned by the region subsystem.
// The kernel keeps references to regions but never looks inside them.
type Region interface {
	Size() int // in pages
}

// A RegionManager attaches regions to and detaches them from
// process region slots. Attach may hand the process a different
// region than r (a private copy); the returned region is the one
// recorded in the slot. Detach may wake processes waiting
// for r through k.
type RegionManager interface {
	Attach(p *Proc, slot int, r Region) (Region, error)
	Detach(k *Kernel, p *Proc, slot int, r Region)
}

// AttachRegion attaches r to p's region slot.
func (k *Kernel) AttachRegion(p *Proc, slot int, r Region) error {
	if slot < 0 || slot >= NPREGIONS {
		return EINVAL
	}
	if p.pregs[slot] != nil {
		k.DetachRegion(p, slot)
	}
	if k.rm != nil {
		var err error
		r, err = k.rm.Attach(p, slot, r)
		if err != nil {
			return err
		}
	}
	p.pregs[slot] = r
	p.size += r.Size()
	return nil
}

// DetachRegion releases p's region slot. An empty slot is left alone.
func (k *Kernel) DetachRegion(p *Proc, slot int) {
	r := p.pregs[slot]
	if r == nil {
		return
	}
	if k.rm != nil {
		k.rm.Detach(k, p, slot, r)
	}
	p.pregs[slot] = nil
	p.size -= r.Size()
}

func (k *Kernel) detachAll(p *Proc) {
	for i := range p.pregs {
		k.DetachRegion(p, i)
	}
}
