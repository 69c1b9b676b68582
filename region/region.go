// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package region is a small memory-region allocator for the
// process manager. It hands out regions from a fixed pool of pages
// and decides, on every attach, whether a process shares a region
// or gets a private copy of it.
package region

import (
	"fmt"

	"github.com/op/go-logging"

	"rsc.io/pmsim/pm"
)

var log = logging.MustGetLogger("region")

/* process region slots */
const (
	Text  = 0
	Data  = 1
	Stack = 2
)

// A Region is a run of pages.
// Shared regions (text) are reference counted;
// private regions (data, stack) are copied on attach.
type Region struct {
	Name   string
	size   int
	shared bool
	ref    int
	locked bool
	owner  int // pid holding the lock
	wait   pm.Chain
	pool   *Pool
}

func (r *Region) Size() int    { return r.size }
func (r *Region) Shared() bool { return r.shared }
func (r *Region) Refs() int    { return r.ref }

func (r *Region) String() string {
	kind := "private"
	if r.shared {
		kind = "shared"
	}
	return fmt.Sprintf("%s(%d pages, %s, ref %d)", r.Name, r.size, kind, r.ref)
}

/*
 * Lock the region against other processes,
 * sleeping while another process holds it.
 * The sleep is uninterruptible; the holder
 * gives the lock up when it detaches r.
 */
func (r *Region) Lock(k *pm.Kernel) {
	for r.locked {
		k.Sleep(&r.wait, pm.PrioRegion)
	}
	r.locked = true
	r.owner = k.Current().PID()
}

// Unlock unlocks r and wakes anyone waiting for it.
func (r *Region) Unlock(k *pm.Kernel) {
	if !r.locked {
		panic("region: unlock of unlocked region")
	}
	r.locked = false
	r.owner = 0
	k.Wakeup(&r.wait)
}

// Locked reports whether r is locked.
func (r *Region) Locked() bool { return r.locked }

// Owner returns the pid of the process holding the lock, or 0.
func (r *Region) Owner() int { return r.owner }

// Waiting reports whether a process is waiting to lock r.
func (r *Region) Waiting() bool { return !r.wait.Empty() }

// A Pool is a fixed supply of pages.
// It implements pm.RegionManager.
type Pool struct {
	pages int
	used  int
}

// NewPool returns a pool of the given number of pages.
func NewPool(pages int) *Pool {
	return &Pool{pages: pages}
}

// InUse returns the number of allocated pages.
func (pl *Pool) InUse() int { return pl.used }

// Pages returns the size of the pool.
func (pl *Pool) Pages() int { return pl.pages }

// Alloc allocates a region of size pages.
// The region is owned by nobody until it is attached.
func (pl *Pool) Alloc(name string, size int, shared bool) (*Region, error) {
	if size <= 0 {
		return nil, pm.EINVAL
	}
	if pl.used+size > pl.pages {
		log.Warningf("alloc %s: %d pages, %d of %d in use", name, size, pl.used, pl.pages)
		return nil, pm.ENOMEM
	}
	pl.used += size
	return &Region{Name: name, size: size, shared: shared, pool: pl}, nil
}

func (pl *Pool) free(r *Region) {
	pl.used -= r.size
	log.Debugf("free %v", r)
}

// Attach attaches r to slot of p. A region nobody holds yet is
// handed over as is. A shared region gains a reference; a private
// region already held by another process is copied.
func (pl *Pool) Attach(p *pm.Proc, slot int, pr pm.Region) (pm.Region, error) {
	r, ok := pr.(*Region)
	if !ok || r.pool != pl {
		return nil, pm.EINVAL
	}
	if r.ref > 0 && !r.shared {
		c, err := pl.Alloc(r.Name, r.size, false)
		if err != nil {
			return nil, err
		}
		r = c
	}
	r.ref++
	log.Debugf("[pid %d] attach %d %v", p.PID(), slot, r)
	return r, nil
}

// Detach drops p's reference to r, freeing its pages with the last one.
// A lock p holds on r is released.
func (pl *Pool) Detach(k *pm.Kernel, p *pm.Proc, slot int, pr pm.Region) {
	r := pr.(*Region)
	if r.ref <= 0 {
		panic("region: detach of unattached region")
	}
	if r.locked && r.owner == p.PID() {
		log.Debugf("[pid %d] detach %d: release lock", p.PID(), slot)
		r.Unlock(k)
	}
	r.ref--
	log.Debugf("[pid %d] detach %d %v", p.PID(), slot, r)
	if r.ref == 0 {
		pl.free(r)
	}
}
