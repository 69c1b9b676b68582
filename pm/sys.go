// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pm

// Setpgrp makes the current process the leader of a new
// process group and returns the group id.
func (k *Kernel) Setpgrp() int {
	p := k.curr
	p.pgrp = p.pid
	return p.pgrp
}

/*
 * Set user id.
 * The superuser sets all three ids;
 * anyone else may only switch the effective
 * id between the real and saved ones.
 */
func (k *Kernel) Setuid(uid int) error {
	p := k.curr
	switch {
	case p.IsSuperuser():
		p.uid, p.euid, p.suid = uid, uid, uid
	case uid == p.uid || uid == p.suid:
		p.euid = uid
	default:
		return EPERM
	}
	return nil
}

// Setgid is Setuid for group ids.
func (k *Kernel) Setgid(gid int) error {
	p := k.curr
	switch {
	case p.IsSuperuser():
		p.gid, p.egid, p.sgid = gid, gid, gid
	case gid == p.gid || gid == p.sgid:
		p.egid = gid
	default:
		return EPERM
	}
	return nil
}

// Tms holds process times in clock ticks.
type Tms struct {
	UTime  int // user time
	KTime  int // kernel time
	CUTime int // user time of collected children
	CKTime int // kernel time of collected children
}

// Times returns the times of the current process
// and the number of ticks since boot.
func (k *Kernel) Times() (Tms, uint) {
	p := k.curr
	return Tms{p.utime, p.ktime, p.cutime, p.cktime}, k.ticks
}
