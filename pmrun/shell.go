// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"rsc.io/pmsim/machine"
	"rsc.io/pmsim/pm"
)

/* signals a shell ignores and its jobs do not */
var jobSignals = []pm.Signal{pm.SIGINT, pm.SIGQUIT, pm.SIGTSTP, pm.SIGTTIN, pm.SIGTTOU}

type shell struct {
	u    *machine.User
	pgrp int
	jobs map[int]string // command line by pid
}

// sh is the program run by the first process.
func sh(u *machine.User) {
	s := &shell{u: u, jobs: make(map[int]string)}
	for _, sig := range jobSignals {
		u.Signal(sig, pm.Action{Disp: pm.SigIgnore})
	}
	s.pgrp = u.Setpgrp()
	u.Tcsetpgrp(s.pgrp)
	s.printf("pmrun: type help for commands, ^\\ to quit\n")

	buf := make([]byte, 256)
	for {
		s.reap()
		s.printf("$ ")
		n, err := u.Read(buf)
		if err != nil {
			s.printf("\n")
			continue
		}
		if n == 0 {
			s.printf("\n")
			return
		}
		line := strings.TrimSpace(string(buf[:n]))
		f := strings.Fields(line)
		if len(f) == 0 {
			continue
		}
		if f[0] == "exit" {
			return
		}
		s.run(line, f)
	}
}

func (s *shell) printf(format string, args ...any) {
	s.u.Write([]byte(fmt.Sprintf(format, args...)))
}

func (s *shell) run(line string, f []string) {
	if b, ok := builtins[f[0]]; ok {
		b(s, f[1:])
		return
	}
	bg := false
	if f[len(f)-1] == "&" {
		bg = true
		f = f[:len(f)-1]
		line = strings.TrimSpace(strings.TrimSuffix(line, "&"))
		if len(f) == 0 {
			return
		}
	}
	prog, err := command(f)
	if err != nil {
		s.printf("%v\n", err)
		return
	}
	s.start(line, prog, bg)
}

var builtins map[string]func(s *shell, args []string)

func init() {
	builtins = map[string]func(s *shell, args []string){
		"help": (*shell).help,
		"ps":   (*shell).ps,
		"kill": (*shell).kill,
		"jobs": (*shell).list,
		"fg":   (*shell).fg,
	}
}

/*
 * Commands run as jobs:
 *	spin n    compute for n clock ticks
 *	nap n     sleep n seconds
 *	fault     die of a memory fault
 *	nice n c  run c with nice value raised by n
 */
func command(f []string) (machine.Program, error) {
	switch f[0] {
	case "spin", "nap":
		if len(f) != 2 {
			return nil, fmt.Errorf("usage: %s n", f[0])
		}
		n, err := strconv.Atoi(f[1])
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("%s: bad count %s", f[0], f[1])
		}
		if f[0] == "spin" {
			return spin(n), nil
		}
		return nap(n), nil
	case "fault":
		return func(u *machine.User) { u.Fault() }, nil
	case "nice":
		if len(f) < 3 {
			return nil, fmt.Errorf("usage: nice n command")
		}
		n, err := strconv.Atoi(f[1])
		if err != nil {
			return nil, fmt.Errorf("nice: bad value %s", f[1])
		}
		prog, err := command(f[2:])
		if err != nil {
			return nil, err
		}
		return func(u *machine.User) {
			if err := u.Nice(n); err != nil {
				u.Write([]byte(fmt.Sprintf("nice: %v\n", err)))
				u.Exit(1)
			}
			u.Exec(prog)
		}, nil
	}
	return nil, fmt.Errorf("%s: command not found", f[0])
}

func spin(n int) machine.Program {
	return func(u *machine.User) {
		u.Compute(n)
		tms, _ := u.Times()
		u.Write([]byte(fmt.Sprintf("[%d] spin: %d ticks user, %d system\n", u.Getpid(), tms.UTime, tms.KTime)))
	}
}

func nap(secs int) machine.Program {
	return func(u *machine.User) {
		u.Catch(pm.SIGALRM, func(pm.Signal) {})
		u.Alarm(uint(secs))
		u.Pause()
		u.Write([]byte(fmt.Sprintf("[%d] nap: awake\n", u.Getpid())))
	}
}

// start runs prog as a new job in its own process group.
func (s *shell) start(line string, prog machine.Program, bg bool) {
	pid, err := s.u.Fork(func(u *machine.User) {
		u.Setpgrp()
		for _, sig := range jobSignals {
			u.Signal(sig, pm.Action{})
		}
		u.Exec(prog)
	})
	if err != nil {
		s.printf("fork: %v\n", err)
		return
	}
	s.jobs[pid] = line
	if bg {
		s.printf("[%d]\n", pid)
		return
	}
	s.wait(pid)
}

// wait runs job pid in the foreground until it exits or stops.
func (s *shell) wait(pid int) {
	s.u.Tcsetpgrp(pid)
	s.u.Kill(-pid, pm.SIGCONT)
	_, st, err := s.u.Wait(pid, pm.WUNTRACED)
	s.u.Tcsetpgrp(s.pgrp)
	if err != nil {
		s.printf("wait: %v\n", err)
		delete(s.jobs, pid)
		return
	}
	s.report(pid, st, false)
}

// reap reports background jobs that have finished or stopped.
func (s *shell) reap() {
	for {
		pid, st, err := s.u.Wait(-1, pm.WNOHANG|pm.WUNTRACED)
		if err != nil || pid == 0 {
			return
		}
		s.report(pid, st, true)
	}
}

func (s *shell) report(pid int, st pm.WaitStatus, bg bool) {
	line := s.jobs[pid]
	switch {
	case st.Stopped():
		s.printf("[%d] stopped (%v)\t%s\n", pid, st.StopSignal(), line)
		return
	case st.Exited() && st.ExitCode() == 0:
		if bg {
			s.printf("[%d] done\t%s\n", pid, line)
		}
	case st.Signaled() && st.Signal() == pm.SIGINT && !bg:
		s.printf("\n")
	default:
		s.printf("[%d] %v\t%s\n", pid, st, line)
	}
	delete(s.jobs, pid)
}

func (s *shell) help([]string) {
	s.printf("builtins: ps, kill [-SIG] pid, jobs, fg [pid], exit\n" +
		"commands: spin n, nap n, fault, nice n command; end with & to run in background\n")
}

func (s *shell) ps([]string) {
	w := int(width.Load())
	lines := []string{fmt.Sprintf("%5s %5s %5s %-8s %6s %4s %5s %4s %s",
		"PID", "PPID", "PGRP", "STATE", "PRI", "NICE", "TIME", "SIZE", "PENDING")}
	for _, in := range s.u.Ps() {
		lines = append(lines, fmt.Sprintf("%5d %5d %5d %-8v %6v %4d %5d %4d %v",
			in.PID, in.Father, in.Pgrp, in.State, in.Priority, in.Nice,
			in.UTime+in.KTime, in.Size, in.Pending))
	}
	for _, l := range lines {
		if len(l) > w {
			l = l[:w]
		}
		s.printf("%s\n", l)
	}
}

func (s *shell) kill(args []string) {
	sig := pm.SIGTERM
	if len(args) > 0 && strings.HasPrefix(args[0], "-") {
		var ok bool
		if sig, ok = pm.ParseSignal(args[0][1:]); !ok {
			s.printf("kill: bad signal %s\n", args[0][1:])
			return
		}
		args = args[1:]
	}
	if len(args) != 1 {
		s.printf("usage: kill [-SIG] pid\n")
		return
	}
	pid, err := strconv.Atoi(args[0])
	if err != nil {
		s.printf("kill: bad pid %s\n", args[0])
		return
	}
	if err := s.u.Kill(pid, sig); err != nil {
		s.printf("kill: %v\n", err)
	}
}

func (s *shell) list([]string) {
	state := make(map[int]pm.State)
	for _, in := range s.u.Ps() {
		state[in.PID] = in.State
	}
	var pids []int
	for pid := range s.jobs {
		pids = append(pids, pid)
	}
	slices.Sort(pids)
	for _, pid := range pids {
		s.printf("[%d] %v\t%s\n", pid, state[pid], s.jobs[pid])
	}
}

func (s *shell) fg(args []string) {
	pid := 0
	if len(args) > 0 {
		var err error
		if pid, err = strconv.Atoi(args[0]); err != nil {
			s.printf("fg: bad pid %s\n", args[0])
			return
		}
	} else {
		for p := range s.jobs {
			pid = max(pid, p)
		}
	}
	if _, ok := s.jobs[pid]; !ok {
		s.printf("fg: no such job\n")
		return
	}
	s.wait(pid)
}
