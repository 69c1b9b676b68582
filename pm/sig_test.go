// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pm

import "testing"

func TestParseSignal(t *testing.T) {
	tests := []struct {
		in   string
		want Signal
		ok   bool
	}{
		{"INT", SIGINT, true},
		{"sigterm", SIGTERM, true},
		{"SIGKILL", SIGKILL, true},
		{"9", SIGKILL, true},
		{"31", SIGSYS, true},
		{"32", 0, false},
		{"0", 0, false},
		{"BOGUS", 0, false},
	}
	for _, tt := range tests {
		have, ok := ParseSignal(tt.in)
		if have != tt.want || ok != tt.ok {
			t.Errorf("ParseSignal(%q) = %v, %v, want %v, %v", tt.in, have, ok, tt.want, tt.ok)
		}
	}
	if s := SIGTSTP.String(); s != "SIGTSTP" {
		t.Errorf("SIGTSTP.String() = %q", s)
	}
	if s := (sigbit(SIGINT) | sigbit(SIGCHLD)).String(); s != "{INT,CHLD}" {
		t.Errorf("SigSet.String() = %q", s)
	}
}

func TestDefaultClass(t *testing.T) {
	tests := []struct {
		sig  Signal
		want DefaultClass
	}{
		{SIGHUP, DefTerm},
		{SIGINT, DefTerm},
		{SIGKILL, DefTerm},
		{SIGALRM, DefTerm},
		{SIGQUIT, DefCore},
		{SIGSEGV, DefCore},
		{SIGABRT, DefCore},
		{SIGSTOP, DefStop},
		{SIGTSTP, DefStop},
		{SIGTTIN, DefStop},
		{SIGCHLD, DefIgnore},
		{SIGWINCH, DefIgnore},
		{SIGCONT, DefCont},
		{0, DefIgnore},
	}
	for _, tt := range tests {
		if have := SigDefaultClass(tt.sig); have != tt.want {
			t.Errorf("SigDefaultClass(%v) = %d, want %d", tt.sig, have, tt.want)
		}
	}
}

func TestWaitStatus(t *testing.T) {
	tests := []struct {
		status int
		str    string
	}{
		{Exited(0), "exit 0"},
		{Exited(3), "exit 3"},
		{Signaled(SIGTERM), "SIGTERM"},
		{Signaled(SIGABRT) | CoreFlag, "SIGABRT (core dumped)"},
		{StoppedStatus(SIGTSTP), "stopped by SIGTSTP"},
	}
	for _, tt := range tests {
		if have := WaitStatus(tt.status).String(); have != tt.str {
			t.Errorf("WaitStatus(%#o) = %q, want %q", tt.status, have, tt.str)
		}
	}
	w := WaitStatus(Exited(7))
	if !w.Exited() || w.ExitCode() != 7 || w.Signaled() || w.Stopped() {
		t.Errorf("exit 7: exited=%v code=%d", w.Exited(), w.ExitCode())
	}
	w = WaitStatus(StoppedStatus(SIGSTOP))
	if !w.Stopped() || w.StopSignal() != SIGSTOP || w.Signaled() || w.Exited() {
		t.Errorf("stopped: %v %v", w.Stopped(), w.StopSignal())
	}
}

func TestSndsigInvalidTarget(t *testing.T) {
	k, _ := newKernel(t)
	free := k.Proc(5)
	k.Sndsig(free, SIGTERM)
	k.Stop(free)
	k.Resume(free)
	if free.Pending() != 0 || !free.Free() {
		t.Errorf("free slot touched: pending %v", free.Pending())
	}
	a := fork(t, k, k.Init())
	k.Sndsig(a, 0)
	k.Sndsig(a, NSIG)
	if a.Pending() != 0 {
		t.Errorf("bad signal number recorded: %v", a.Pending())
	}
	check(t, k)
}

func TestPsig(t *testing.T) {
	k, _ := newKernel(t)
	a := fork(t, k, k.Init())
	b := fork(t, k, k.Init())
	k.Sched()

	var caught []Signal
	h := func(s Signal) { caught = append(caught, s) }
	if _, err := k.Sigaction(SIGUSR1, Action{Disp: SigCatch, Handler: h}); err != nil {
		t.Fatal(err)
	}
	if _, err := k.Sigaction(SIGKILL, Action{Disp: SigIgnore}); err != EINVAL {
		t.Errorf("ignore SIGKILL: have %v, want EINVAL", err)
	}
	if _, err := k.Sigaction(SIGSTOP, Action{Disp: SigCatch, Handler: h}); err != EINVAL {
		t.Errorf("catch SIGSTOP: have %v, want EINVAL", err)
	}
	if _, err := k.Sigaction(SIGUSR2, Action{Disp: SigCatch}); err != EINVAL {
		t.Errorf("catch without handler: have %v, want EINVAL", err)
	}

	k.Sndsig(a, SIGCHLD)
	k.Sndsig(a, SIGUSR1)
	if !k.Issig() {
		t.Fatal("Issig: no signal")
	}
	sig, fn := k.Psig()
	if sig != SIGUSR1 || fn == nil {
		t.Fatalf("Psig: have %v, want SIGUSR1 with handler", sig)
	}
	fn(sig)
	if sig, _ := k.Psig(); sig != 0 || a.Pending() != 0 {
		t.Fatalf("second Psig: %v, pending %v", sig, a.Pending())
	}
	if a.Action(SIGUSR1).Disp != SigCatch {
		t.Errorf("handler reset after delivery")
	}

	k.Sndsig(a, SIGTERM)
	k.Psig()
	if !a.Free() || k.Current() != b {
		t.Fatalf("SIGTERM: a free=%v, current %v", a.Free(), k.Current())
	}
	if len(caught) != 1 || caught[0] != SIGUSR1 {
		t.Errorf("caught %v", caught)
	}
	check(t, k)
}

func TestPsigStop(t *testing.T) {
	k, _ := newKernel(t)
	f := fork(t, k, k.Init())
	k.Sched()
	a := fork(t, k, f)
	k.Yield()
	if k.Current() != a {
		t.Fatalf("current %v, want %v", k.Current(), a)
	}

	k.Sndsig(a, SIGTSTP)
	if sig, _ := k.Psig(); sig != 0 {
		t.Fatalf("Psig returned %v", sig)
	}
	if a.State() != Stopped || k.Current() != f {
		t.Fatalf("SIGTSTP: a %v, current %v", a.State(), k.Current())
	}
	if !f.Pending().Has(SIGCHLD) {
		t.Errorf("father not told: pending %v", f.Pending())
	}
	pid, status, err := k.Collect(f, -1, WUNTRACED)
	if err != nil || pid != a.PID() || !WaitStatus(status).Stopped() || WaitStatus(status).StopSignal() != SIGTSTP {
		t.Fatalf("Collect stopped: %d %v %v", pid, WaitStatus(status), err)
	}
	if pid, _, _ := k.Collect(f, -1, WUNTRACED); pid != 0 {
		t.Errorf("stop reported twice")
	}

	k.Sndsig(a, SIGCONT)
	if a.State() != Ready {
		t.Fatalf("SIGCONT: %v, want READY", a.State())
	}
	k.Sndsig(a, SIGTTIN)
	k.Sndsig(a, SIGCONT)
	if a.Pending().Has(SIGTTIN) {
		t.Errorf("SIGCONT left stop signal pending: %v", a.Pending())
	}
	k.Sndsig(a, SIGSTOP)
	if a.Pending().Has(SIGCONT) {
		t.Errorf("SIGSTOP left SIGCONT pending: %v", a.Pending())
	}
	check(t, k)
}

func TestStopResume(t *testing.T) {
	k, _ := newKernel(t)
	a := fork(t, k, k.Init())
	b := fork(t, k, k.Init())
	k.Sched()

	var ch Chain
	k.Sleep(&ch, PrioUser)
	k.Sleep(&ch, PrioTTY) // b
	k.Stop(a)
	k.Stop(b)
	if a.State() != Stopped || a.Chain() != nil || !a.intr {
		t.Fatalf("stop waiting: %v chain %v intr %v", a.State(), a.Chain(), a.intr)
	}
	if b.State() != Sleeping {
		t.Fatalf("stop sleeping: %v, want SLEEPING", b.State())
	}
	k.Stop(a)
	k.Stop(k.Init())
	if k.Init().State() != Running {
		t.Fatalf("init stopped")
	}
	k.Resume(a)
	k.Resume(a)
	if a.State() != Ready {
		t.Fatalf("resume: %v", a.State())
	}
	k.Resume(b)
	if b.State() != Sleeping {
		t.Fatalf("resume of sleeper: %v", b.State())
	}
	check(t, k)

	k.Stop(a)
	k.Sndsig(a, SIGKILL)
	if a.State() != Ready {
		t.Fatalf("SIGKILL to stopped process: %v, want READY", a.State())
	}
}

func TestStopCurrent(t *testing.T) {
	k, r := newKernel(t)
	a := fork(t, k, k.Init())
	k.Sched()
	k.Stop(a)
	if a.State() != Stopped || k.Current() != k.Init() {
		t.Fatalf("stop current: %v, current %v", a.State(), k.Current())
	}
	check(t, k)
	k.Resume(a)
	k.Sched()
	if k.Current() != a || a.State() != Running {
		t.Fatalf("resume: current %v, %v", k.Current(), a.State())
	}
	if have, want := r.String(), "1->2 2->1 1->2"; have != want {
		t.Errorf("switches %q, want %q", have, want)
	}
	check(t, k)
}

// A pid outlives its slot: once the slot is reused,
// the old pid must not reach the new process.
func TestStaleTarget(t *testing.T) {
	k, _ := newKernel(t)
	a := fork(t, k, k.Init())
	old := a.PID()
	k.Terminate(a, Exited(0))
	if !a.Free() {
		t.Fatalf("orphan not reclaimed: %v", a.State())
	}
	b := fork(t, k, k.Init())
	if b != a || b.PID() == old {
		t.Fatalf("slot %d pid %d, want slot %d reused with a new pid", b.Slot(), b.PID(), a.Slot())
	}
	if err := k.SndsigPID(old, SIGTERM); err != ESRCH {
		t.Errorf("SndsigPID stale: have %v, want ESRCH", err)
	}
	if err := k.StopPID(old); err != ESRCH {
		t.Errorf("StopPID stale: have %v, want ESRCH", err)
	}
	if err := k.ResumePID(old); err != ESRCH {
		t.Errorf("ResumePID stale: have %v, want ESRCH", err)
	}
	if b.Pending() != 0 || b.State() != Ready {
		t.Errorf("new process touched: %v pending %v", b.State(), b.Pending())
	}
	if err := k.StopPID(b.PID()); err != nil || b.State() != Stopped {
		t.Errorf("StopPID: %v, %v", err, b.State())
	}
	if err := k.SndsigPID(b.PID(), SIGCONT); err != nil || b.State() != Ready {
		t.Errorf("SndsigPID CONT: %v, %v", err, b.State())
	}
	k.Sndsig(nil, SIGTERM)
	check(t, k)
}

// Terminating a process with two children gives them to init
// and wakes the father waiting for them.
func TestTerminateReparent(t *testing.T) {
	k, _ := newKernel(t)
	f := fork(t, k, k.Init())
	k.Sched()
	a := fork(t, k, f)
	if err := k.Sleep(&f.cwait, PrioUser); err != nil {
		t.Fatal(err)
	}
	if k.Current() != a {
		t.Fatalf("current %v, want %v", k.Current(), a)
	}
	c1 := fork(t, k, a)
	c2 := fork(t, k, a)

	k.Exit(3)
	if a.State() != Zombie || a.Free() {
		t.Fatalf("exited: %v free=%v", a.State(), a.Free())
	}
	for _, c := range []*Proc{c1, c2} {
		if c.Father() != InitPID {
			t.Errorf("%v: father %d, want %d", c, c.Father(), InitPID)
		}
	}
	if f.State() != Ready || f.Chain() != nil || !f.Pending().Has(SIGCHLD) {
		t.Fatalf("father: %v chain %v pending %v", f.State(), f.Chain(), f.Pending())
	}
	check(t, k)

	a.utime = 5
	apid := a.PID()
	pid, status, err := k.Collect(f, -1, 0)
	if err != nil || pid != apid || status != Exited(3) {
		t.Fatalf("Collect: %d %v %v, want %d exit 3", pid, WaitStatus(status), err, apid)
	}
	if !a.Free() || f.cutime != 5 {
		t.Errorf("collected: free=%v cutime %d", a.Free(), f.cutime)
	}
	if _, _, err := k.Collect(f, -1, WNOHANG); err != ECHILD {
		t.Errorf("no children: have %v, want ECHILD", err)
	}

	if k.Current() != c1 {
		t.Fatalf("current %v, want %v", k.Current(), c1)
	}
	k.Terminate(c2, Signaled(SIGTERM))
	if !c2.Free() {
		t.Errorf("orphan not reclaimed")
	}
	check(t, k)
}

func TestTerminateZombieChildren(t *testing.T) {
	k, _ := newKernel(t)
	f := fork(t, k, k.Init())
	k.Sched()
	a := fork(t, k, f)
	k.Terminate(a, Exited(0))
	if a.State() != Zombie {
		t.Fatalf("child: %v, want ZOMBIE", a.State())
	}
	k.Exit(0)
	if !a.Free() || !f.Free() {
		t.Errorf("zombie orphans not reclaimed: child free=%v father free=%v", a.Free(), f.Free())
	}
	if k.Current() != k.Init() {
		t.Errorf("current %v, want init", k.Current())
	}
	check(t, k)
}

func TestAbort(t *testing.T) {
	k, _ := newKernel(t)
	f := fork(t, k, k.Init())
	k.Sched()
	a := fork(t, k, f)
	k.Sigaction(SIGABRT, Action{Disp: SigIgnore})
	a.handlers = f.handlers
	k.Abort(a)
	_, status, err := k.Collect(f, a.PID(), WNOHANG)
	if err != nil || !WaitStatus(status).CoreDump() || WaitStatus(status).Signal() != SIGABRT {
		t.Errorf("abort: %v %v", WaitStatus(status), err)
	}
}

func TestKill(t *testing.T) {
	k, _ := newKernel(t)
	a := fork(t, k, k.Init())
	b := fork(t, k, k.Init())
	c := fork(t, k, k.Init())
	a.uid, a.euid = 100, 100
	b.uid, b.euid = 200, 200
	c.uid, c.euid = 100, 100
	k.Sched()
	if k.Current() != a {
		t.Fatalf("current %v, want %v", k.Current(), a)
	}

	tests := []struct {
		pid  int
		sig  Signal
		want error
	}{
		{b.PID(), SIGTERM, EPERM},
		{9999, SIGTERM, ESRCH},
		{c.PID(), NSIG, EINVAL},
		{InitPID, SIGTERM, EPERM},
		{c.PID(), 0, nil},
		{c.PID(), SIGUSR2, nil},
	}
	for _, tt := range tests {
		if err := k.Kill(tt.pid, tt.sig); err != tt.want {
			t.Errorf("Kill(%d, %v) = %v, want %v", tt.pid, tt.sig, err, tt.want)
		}
	}
	if c.Pending() != sigbit(SIGUSR2) || b.Pending() != 0 {
		t.Errorf("pending: c %v b %v", c.Pending(), b.Pending())
	}

	k.Setpgrp()
	c.pgrp = a.PID()
	if err := k.Kill(-a.PID(), SIGUSR1); err != nil {
		t.Fatal(err)
	}
	if !a.Pending().Has(SIGUSR1) || !c.Pending().Has(SIGUSR1) || b.Pending() != 0 {
		t.Errorf("group kill: a %v c %v b %v", a.Pending(), c.Pending(), b.Pending())
	}
	if err := k.Kill(-1, SIGHUP); err != nil {
		t.Fatal(err)
	}
	if a.Pending().Has(SIGHUP) || !c.Pending().Has(SIGHUP) || k.Init().Pending() != 0 {
		t.Errorf("broadcast: a %v c %v init %v", a.Pending(), c.Pending(), k.Init().Pending())
	}
}

func TestSetuid(t *testing.T) {
	k, _ := newKernel(t)
	a := fork(t, k, k.Init())
	k.Sched()
	if err := k.Setuid(100); err != nil {
		t.Fatal(err)
	}
	if a.Uid() != 100 || a.Euid() != 100 || a.suid != 100 {
		t.Fatalf("superuser setuid: %d %d %d", a.uid, a.euid, a.suid)
	}
	if err := k.Setuid(0); err != EPERM {
		t.Errorf("setuid 0 as user: have %v, want EPERM", err)
	}
	a.suid = 300
	if err := k.Setuid(300); err != nil || a.Euid() != 300 || a.Uid() != 100 {
		t.Errorf("setuid to saved id: %v euid %d", err, a.Euid())
	}
	if err := k.Setgid(5); err != EPERM {
		t.Errorf("setgid as user: have %v, want EPERM", err)
	}
}

func TestAlarm(t *testing.T) {
	k, _ := newKernel(t)
	a := fork(t, k, k.Init())
	k.Sched()
	if left := k.Alarm(2); left != 0 {
		t.Fatalf("first alarm: %d left", left)
	}
	if when, ok := k.NextAlarm(); !ok || when != 2*ClockFreq {
		t.Fatalf("NextAlarm = %d, %v", when, ok)
	}
	k.Clock()
	if left := k.Alarm(1); left != 2 {
		t.Errorf("replace alarm: %d left, want 2", left)
	}
	for i := 0; i < ClockFreq; i++ {
		k.Clock()
	}
	if !a.Pending().Has(SIGALRM) {
		t.Fatalf("no SIGALRM after %d ticks", k.Ticks())
	}
	if _, ok := k.NextAlarm(); ok {
		t.Errorf("alarm still armed")
	}
	tms, ticks := k.Times()
	if ticks != ClockFreq+1 || tms.UTime != int(ticks) {
		t.Errorf("times: %+v at %d", tms, ticks)
	}
}

func TestExecSignals(t *testing.T) {
	k, _ := newKernel(t)
	a := fork(t, k, k.Init())
	k.Sched()
	k.Sigaction(SIGINT, Action{Disp: SigIgnore})
	k.Sigaction(SIGUSR1, Action{Disp: SigCatch, Handler: func(Signal) {}})
	k.ExecSignals(a)
	if a.Action(SIGINT).Disp != SigIgnore || a.Action(SIGUSR1).Disp != SigDefault {
		t.Errorf("after exec: INT %v USR1 %v", a.Action(SIGINT).Disp, a.Action(SIGUSR1).Disp)
	}
}
