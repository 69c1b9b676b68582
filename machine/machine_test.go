// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package machine

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
	"time"

	"rsc.io/pmsim/pm"
	"rsc.io/pmsim/region"
	"rsc.io/pmsim/tty"
)

func newMachine(t *testing.T) (*Machine, *bytes.Buffer) {
	var out bytes.Buffer
	m := New(region.NewPool(64), tty.New(out.Write))
	return m, &out
}

// wait waits for m to halt.
func wait(t *testing.T, m *Machine) {
	t.Helper()
	done := make(chan bool)
	go func() {
		m.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatalf("machine did not halt\n%v", m.K.Snapshot())
	}
}

func spawn(t *testing.T, m *Machine, prog Program) int {
	t.Helper()
	pid, err := m.Spawn(prog)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	return pid
}

func info(m *Machine, pid int) (pm.Info, bool) {
	for _, in := range m.K.Snapshot() {
		if in.PID == pid {
			return in, true
		}
	}
	return pm.Info{}, false
}

// idle checks that only init is left, all memory is free
// and no free slot was written after it was reclaimed.
func idle(t *testing.T, m *Machine) {
	t.Helper()
	if list := m.K.Snapshot(); len(list) != 1 || list[0].PID != pm.InitPID {
		t.Errorf("process table not empty: %v", list)
	}
	if n := m.Pool.InUse(); n != 0 {
		t.Errorf("%d pages still in use", n)
	}
	if have, want := m.CR3(), m.K.Init().ABI().CR3; have != want {
		t.Errorf("halted with cr3 %#x, want %#x", have, want)
	}
	for i := 1; i < pm.NPROC; i++ {
		if fr := m.K.Proc(i).ABI(); fr.Flags&pm.FlagFree != 0 && fr.KESP != 0 {
			t.Errorf("free slot %d has saved stack pointer %#x", i, fr.KESP)
		}
	}
}

func TestReadWakeup(t *testing.T) {
	m, out := newMachine(t)
	var have string
	pid := spawn(t, m, func(u *User) {
		u.Tcsetpgrp(u.Setpgrp())
		buf := make([]byte, 100)
		n, err := u.Read(buf)
		have = fmt.Sprintf("%q %v", buf[:n], err)
	})
	wait(t, m)
	in, ok := info(m, pid)
	if !ok || in.State != pm.Sleeping || in.Priority != pm.PrioTTY {
		t.Fatalf("reader: %+v, want sleeping at tty priority", in)
	}
	if m.TTY.Readers(m.K) != 1 {
		t.Errorf("%d readers, want 1", m.TTY.Readers(m.K))
	}

	m.Input([]byte("hi\r"))
	wait(t, m)
	if want := `"hi\n" <nil>`; have != want {
		t.Errorf("read %s, want %s", have, want)
	}
	if out.String() != "hi\n" {
		t.Errorf("echo %q, want %q", out.String(), "hi\n")
	}
	idle(t, m)
}

func TestInterruptKillsReader(t *testing.T) {
	m, out := newMachine(t)
	done := false
	spawn(t, m, func(u *User) {
		u.Tcsetpgrp(u.Setpgrp())
		u.Read(make([]byte, 10))
		done = true
	})
	wait(t, m)
	m.Input([]byte{tty.CINTR})
	wait(t, m)
	if done {
		t.Errorf("reader survived ^C")
	}
	if out.String() != "^C\n" {
		t.Errorf("echo %q, want %q", out.String(), "^C\n")
	}
	idle(t, m)
}

func TestPauseSignal(t *testing.T) {
	m, _ := newMachine(t)
	var caught pm.Signal
	var err error
	pid := spawn(t, m, func(u *User) {
		u.Catch(pm.SIGUSR1, func(sig pm.Signal) { caught = sig })
		err = u.Pause()
	})
	wait(t, m)
	if in, _ := info(m, pid); in.State != pm.Waiting {
		t.Fatalf("paused process %v, want waiting", in.State)
	}
	m.Interrupt(func() { m.K.SndsigPID(pid, pm.SIGUSR1) })
	wait(t, m)
	if caught != pm.SIGUSR1 || err != pm.EINTR {
		t.Errorf("caught %v, Pause = %v, want SIGUSR1, EINTR", caught, err)
	}
	idle(t, m)
}

func TestStopContinue(t *testing.T) {
	m, _ := newMachine(t)
	var events []string
	parent := spawn(t, m, func(u *User) {
		child, _ := u.Fork(func(u *User) {
			err := u.Pause()
			events = append(events, fmt.Sprint("child ", err))
			u.Exit(7)
		})
		pid, st, err := u.Wait(child, pm.WUNTRACED)
		events = append(events, fmt.Sprint("wait ", pid == child, " ", st, " ", err))
		u.Kill(child, pm.SIGCONT)
		pid, st, err = u.Wait(child, 0)
		events = append(events, fmt.Sprint("wait ", pid == child, " ", st, " ", err))
	})
	wait(t, m)

	child := 0
	for _, in := range m.K.Snapshot() {
		if in.Father == parent {
			child = in.PID
		}
	}
	if child == 0 {
		t.Fatalf("no child of %d: %v", parent, m.K.Snapshot())
	}
	m.Interrupt(func() { m.K.SndsigPID(child, pm.SIGSTOP) })
	wait(t, m)

	want := []string{
		"wait true stopped by SIGSTOP <nil>",
		"child EINTR",
		"wait true exit 7 <nil>",
	}
	if strings.Join(events, "\n") != strings.Join(want, "\n") {
		t.Errorf("events:\n%s\nwant:\n%s", strings.Join(events, "\n"), strings.Join(want, "\n"))
	}
	idle(t, m)
}

func TestAlarm(t *testing.T) {
	m, _ := newMachine(t)
	m.AutoClock = true
	var ticks uint
	var left uint
	spawn(t, m, func(u *User) {
		u.Catch(pm.SIGALRM, func(pm.Signal) {})
		u.Alarm(5)
		left = u.Alarm(2)
		u.Pause()
		_, ticks = u.Times()
	})
	wait(t, m)
	if left != 5 {
		t.Errorf("Alarm left %d, want 5", left)
	}
	if ticks != 2*pm.ClockFreq {
		t.Errorf("woke at tick %d, want %d", ticks, 2*pm.ClockFreq)
	}
	idle(t, m)
}

func TestForkWait(t *testing.T) {
	m, _ := newMachine(t)
	var codes []int
	var last error
	spawn(t, m, func(u *User) {
		for i := 1; i <= 2; i++ {
			code := i
			u.Fork(func(u *User) { u.Exit(code) })
		}
		for {
			_, st, err := u.Wait(-1, 0)
			if err != nil {
				last = err
				break
			}
			codes = append(codes, st.ExitCode())
		}
	})
	wait(t, m)
	if fmt.Sprint(codes) != "[1 2]" || last != pm.ECHILD {
		t.Errorf("collected %v then %v, want [1 2] then ECHILD", codes, last)
	}
	idle(t, m)
}

func TestOrphan(t *testing.T) {
	m, _ := newMachine(t)
	var reaped []int
	m.Reaped = func(pid int) { reaped = append(reaped, pid) }
	parent := spawn(t, m, func(u *User) {
		u.Fork(func(u *User) { u.Pause() })
		u.Exit(0)
	})
	wait(t, m)
	list := m.K.Snapshot()
	if len(list) != 2 {
		t.Fatalf("table %v, want init and the orphan", list)
	}
	orphan := list[1]
	if orphan.PID == parent || orphan.Father != pm.InitPID {
		t.Fatalf("orphan %+v, want child of init", orphan)
	}
	m.Interrupt(func() { m.K.SndsigPID(orphan.PID, pm.SIGTERM) })
	wait(t, m)
	if fmt.Sprint(reaped) != fmt.Sprint([]int{parent, orphan.PID}) {
		t.Errorf("reaped %v, want [%d %d]", reaped, parent, orphan.PID)
	}
	idle(t, m)
}

func TestRoundRobin(t *testing.T) {
	m, _ := newMachine(t)
	var log []string
	var tms pm.Tms
	compute := func(name string) Program {
		return func(u *User) {
			for i := 0; i < 3; i++ {
				log = append(log, name)
				u.Compute(pm.Quantum)
			}
		}
	}
	spawn(t, m, func(u *User) {
		u.Fork(compute("A"))
		u.Fork(compute("B"))
		for {
			if _, _, err := u.Wait(-1, 0); err != nil {
				break
			}
		}
		tms, _ = u.Times()
	})
	wait(t, m)
	if s := strings.Join(log, ""); s != "ABABAB" {
		t.Errorf("ran %s, want ABABAB", s)
	}
	if tms.CUTime != 6*pm.Quantum {
		t.Errorf("children used %d ticks, want %d", tms.CUTime, 6*pm.Quantum)
	}
	idle(t, m)
}

func TestRegionLock(t *testing.T) {
	m, _ := newMachine(t)
	var log []string
	spawn(t, m, func(u *User) {
		u.LockRegion(region.Text)
		child, _ := u.Fork(func(u *User) {
			u.LockRegion(region.Text)
			log = append(log, "locked")
			u.UnlockRegion(region.Text)
		})
		u.Yield()
		log = append(log, "unlock")
		u.UnlockRegion(region.Text)
		u.Wait(child, 0)
	})
	wait(t, m)
	if s := strings.Join(log, " "); s != "unlock locked" {
		t.Errorf("log %q, want %q", s, "unlock locked")
	}
	idle(t, m)
}

func TestLockHolderExits(t *testing.T) {
	m, _ := newMachine(t)
	var unlock, relock error
	locked := false
	spawn(t, m, func(u *User) {
		u.LockRegion(region.Text)
		u.Fork(func(u *User) {
			unlock = u.UnlockRegion(region.Text)
			u.LockRegion(region.Text)
			locked = true
			relock = u.UnlockRegion(region.Text)
		})
		u.Yield()
	})
	wait(t, m)
	if unlock != pm.EINVAL {
		t.Errorf("unlock of another process's lock: %v, want EINVAL", unlock)
	}
	if !locked || relock != nil {
		t.Errorf("waiter locked=%v unlock=%v after holder exit", locked, relock)
	}
	idle(t, m)
}

func TestBadRegion(t *testing.T) {
	m, _ := newMachine(t)
	var err1, err2 error
	spawn(t, m, func(u *User) {
		err1 = u.LockRegion(pm.NPREGIONS)
		err2 = u.UnlockRegion(region.Data)
	})
	wait(t, m)
	if err1 != pm.EINVAL || err2 != pm.EINVAL {
		t.Errorf("bad regions: %v, %v, want EINVAL", err1, err2)
	}
	idle(t, m)
}

func TestFault(t *testing.T) {
	m, _ := newMachine(t)
	var st pm.WaitStatus
	spawn(t, m, func(u *User) {
		child, _ := u.Fork(func(u *User) { u.Fault() })
		_, st, _ = u.Wait(child, 0)
	})
	wait(t, m)
	if !st.Signaled() || st.Signal() != pm.SIGABRT || !st.CoreDump() {
		t.Errorf("status %v, want SIGABRT with core", st)
	}
	idle(t, m)
}

func TestExec(t *testing.T) {
	m, _ := newMachine(t)
	var before, after pm.Action
	spawn(t, m, func(u *User) {
		u.Catch(pm.SIGUSR1, func(pm.Signal) {})
		before, _ = u.Signal(pm.SIGUSR2, pm.Action{Disp: pm.SigIgnore})
		u.Exec(func(u *User) {
			after, _ = u.Signal(pm.SIGUSR1, pm.Action{})
			before, _ = u.Signal(pm.SIGUSR2, pm.Action{})
		})
	})
	wait(t, m)
	if after.Disp != pm.SigDefault {
		t.Errorf("caught signal after exec: %v, want default", after.Disp)
	}
	if before.Disp != pm.SigIgnore {
		t.Errorf("ignored signal after exec: %v, want ignored", before.Disp)
	}
	idle(t, m)
}

func TestKillPermission(t *testing.T) {
	m, _ := newMachine(t)
	var err error
	spawn(t, m, func(u *User) {
		u.Setuid(100)
		err = u.Kill(pm.InitPID, pm.SIGTERM)
	})
	wait(t, m)
	if err != pm.EPERM {
		t.Errorf("kill init: %v, want EPERM", err)
	}
	idle(t, m)
}

func TestTick(t *testing.T) {
	m, _ := newMachine(t)
	for i := 0; i < 3; i++ {
		m.Tick()
	}
	wait(t, m)
	if m.K.Ticks() != 3 {
		t.Errorf("ticks %d, want 3", m.K.Ticks())
	}
	idle(t, m)
}
