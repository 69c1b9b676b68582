// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package script runs scheduler scenarios against a kernel
// with no machine underneath.
//
// A scenario is a txtar archive. Its comment describes it, the file
// "script" holds one command per line, and the optional file "trace"
// holds the expected output. Processes are named by the script;
// init is always "init". Blank lines and lines starting with # are
// ignored.
//
// Commands acting on the current process:
//
//	sched                 reschedule
//	yield                 give up the quantum
//	tick [n]              take n clock interrupts (default 1)
//	sleep chan prio       sleep on chan at prio
//	exit code             terminate with an exit code
//	psig                  act on pending signals
//	catch sig             catch sig
//	ignore sig            ignore sig
//	block sig             add sig to the blocked mask
//	alarm secs            set the alarm clock
//	kill target sig       send sig to a process name or a numeric pid selector
//	setpgrp               start a process group
//	setuid uid            set the user id
//	reap name [child]     collect a child of name, without waiting
//
// Commands acting on any process:
//
//	spawn name [parent]   fork name from parent (default init)
//	wakeup chan           wake every process sleeping on chan
//	send name sig         post sig to name, as an interrupt would
//	stop name             stop name
//	resume name           continue name
//	terminate name [code] terminate name with an exit code
//	abort name            terminate name with a core dump
//	nice name n           add n to the nice value of name
//	setprio name prio     set the base priority of name
//	ps                    print the process table
//
// Assertions, which fail the script when false:
//
//	cur name
//	state name STATE
//	chain name chan|-
//	prio name prio
//	father name parent
//	pending name {SIG,...}
//	counter name n
//
// Context switches appear in the output as "switch a -> b".
// A kernel panic ends the script with a "fatal:" line.
package script

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/op/go-logging"
	"golang.org/x/tools/txtar"

	"rsc.io/pmsim/pm"
)

var log = logging.MustGetLogger("script")

// A State is the world a script runs in.
type State struct {
	K *pm.Kernel

	names  [pm.NPROC]string // process name by slot
	pids   map[string]int
	chains map[string]*pm.Chain
	out    bytes.Buffer
}

// NewState returns a fresh kernel whose only process is init.
func NewState() *State {
	s := &State{
		pids:   map[string]int{"init": pm.InitPID},
		chains: make(map[string]*pm.Chain),
	}
	s.names[0] = "init"
	s.K = pm.New(s, nil)
	return s
}

// Switch records a context switch.
func (s *State) Switch(prev, next *pm.Proc) {
	next.ABI().Flags &^= pm.FlagNew
	fmt.Fprintf(&s.out, "switch %s -> %s\n", s.names[prev.Slot()], s.names[next.Slot()])
}

// Output returns what the script has printed so far.
func (s *State) Output() string { return s.out.String() }

// Run runs the script in ar and returns its output.
func Run(ar *txtar.Archive) (string, error) {
	text, ok := File(ar, "script")
	if !ok {
		return "", fmt.Errorf("no script file")
	}
	s := NewState()
	err := s.Exec(text)
	return s.Output(), err
}

// File returns the contents of the named file in ar.
func File(ar *txtar.Archive, name string) ([]byte, bool) {
	for _, f := range ar.Files {
		if f.Name == name {
			return f.Data, true
		}
	}
	return nil, false
}

// SetFile replaces or adds the named file in ar.
func SetFile(ar *txtar.Archive, name string, data []byte) {
	for i := range ar.Files {
		if ar.Files[i].Name == name {
			ar.Files[i].Data = data
			return
		}
	}
	ar.Files = append(ar.Files, txtar.File{Name: name, Data: data})
}

// Exec runs the commands in text.
// It stops at the first failing command or kernel panic.
func (s *State) Exec(text []byte) error {
	for i, line := range strings.Split(string(text), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		f := strings.Fields(line)
		log.Debugf("%d: %s", i+1, line)
		fatal, err := s.do(f[0], f[1:])
		if fatal != nil {
			fmt.Fprintf(&s.out, "fatal: %s\n", fatal.Msg)
			return nil
		}
		if err != nil {
			return fmt.Errorf("line %d: %s: %v", i+1, line, err)
		}
	}
	return nil
}

func (s *State) do(cmd string, args []string) (fatal *pm.Fatal, err error) {
	defer func() {
		if e := recover(); e != nil {
			f, ok := e.(*pm.Fatal)
			if !ok {
				panic(e)
			}
			fatal = f
		}
	}()
	c, ok := commands[cmd]
	if !ok {
		return nil, fmt.Errorf("unknown command")
	}
	if len(args) < c.min || len(args) > c.max {
		return nil, fmt.Errorf("usage: %s %s", cmd, c.usage)
	}
	return nil, c.run(s, args)
}

type command struct {
	min, max int
	usage    string
	run      func(s *State, args []string) error
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"sched":     {0, 0, "", (*State).sched},
		"yield":     {0, 0, "", (*State).yield},
		"tick":      {0, 1, "[n]", (*State).tick},
		"sleep":     {2, 2, "chan prio", (*State).sleep},
		"exit":      {1, 1, "code", (*State).exit},
		"psig":      {0, 0, "", (*State).psig},
		"catch":     {1, 1, "sig", (*State).catch},
		"ignore":    {1, 1, "sig", (*State).ignore},
		"block":     {1, 1, "sig", (*State).block},
		"alarm":     {1, 1, "secs", (*State).alarm},
		"kill":      {2, 2, "target sig", (*State).kill},
		"setpgrp":   {0, 0, "", (*State).setpgrp},
		"setuid":    {1, 1, "uid", (*State).setuid},
		"reap":      {1, 2, "name [child]", (*State).reap},
		"spawn":     {1, 2, "name [parent]", (*State).spawn},
		"wakeup":    {1, 1, "chan", (*State).wakeup},
		"send":      {2, 2, "name sig", (*State).send},
		"stop":      {1, 1, "name", (*State).stop},
		"resume":    {1, 1, "name", (*State).resume},
		"terminate": {1, 2, "name [code]", (*State).terminate},
		"abort":     {1, 1, "name", (*State).abort},
		"nice":      {2, 2, "name n", (*State).nice},
		"setprio":   {2, 2, "name prio", (*State).setprio},
		"ps":        {0, 0, "", (*State).ps},
		"cur":       {1, 1, "name", (*State).cur},
		"state":     {2, 2, "name STATE", (*State).state},
		"chain":     {2, 2, "name chan|-", (*State).chain},
		"prio":      {2, 2, "name prio", (*State).prio},
		"father":    {2, 2, "name parent", (*State).father},
		"pending":   {2, 2, "name {SIG,...}", (*State).pending},
		"counter":   {2, 2, "name n", (*State).counter},
	}
}

// proc returns the live process with the given name.
func (s *State) proc(name string) (*pm.Proc, error) {
	pid, ok := s.pids[name]
	if !ok {
		return nil, fmt.Errorf("unknown process %s", name)
	}
	p := s.K.Lookup(pid)
	if p == nil {
		return nil, fmt.Errorf("process %s is gone", name)
	}
	return p, nil
}

func (s *State) name(pid int) string {
	for name, n := range s.pids {
		if n == pid {
			return name
		}
	}
	return strconv.Itoa(pid)
}

func (s *State) curName() string { return s.names[s.K.Current().Slot()] }

func (s *State) channel(name string) *pm.Chain {
	c := s.chains[name]
	if c == nil {
		c = new(pm.Chain)
		s.chains[name] = c
	}
	return c
}

func signal(name string) (pm.Signal, error) {
	sig, ok := pm.ParseSignal(name)
	if !ok {
		return 0, fmt.Errorf("bad signal %s", name)
	}
	return sig, nil
}

func priority(name string) (pm.Priority, error) {
	pri, ok := pm.ParsePriority(name)
	if !ok {
		return 0, fmt.Errorf("bad priority %s", name)
	}
	return pri, nil
}

func (s *State) sched([]string) error {
	s.K.Sched()
	return nil
}

func (s *State) yield([]string) error {
	s.K.Yield()
	return nil
}

func (s *State) tick(args []string) error {
	n := 1
	if len(args) > 0 {
		var err error
		if n, err = strconv.Atoi(args[0]); err != nil || n < 0 {
			return fmt.Errorf("bad count %s", args[0])
		}
	}
	for i := 0; i < n; i++ {
		s.K.Clock()
	}
	return nil
}

func (s *State) sleep(args []string) error {
	pri, err := priority(args[1])
	if err != nil {
		return err
	}
	name := s.curName()
	if err := s.K.Sleep(s.channel(args[0]), pri); err != nil {
		fmt.Fprintf(&s.out, "%s: sleep: %v\n", name, err)
	}
	return nil
}

func (s *State) exit(args []string) error {
	code, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("bad exit code %s", args[0])
	}
	s.K.Exit(code)
	return nil
}

func (s *State) psig([]string) error {
	name := s.curName()
	sig, h := s.K.Psig()
	if h != nil {
		h(sig)
		fmt.Fprintf(&s.out, "%s: caught %v\n", name, sig)
	}
	return nil
}

func (s *State) action(name string, act pm.Action) error {
	sig, err := signal(name)
	if err != nil {
		return err
	}
	_, err = s.K.Sigaction(sig, act)
	return err
}

func (s *State) catch(args []string) error {
	return s.action(args[0], pm.Action{Disp: pm.SigCatch, Handler: func(pm.Signal) {}})
}

func (s *State) ignore(args []string) error {
	return s.action(args[0], pm.Action{Disp: pm.SigIgnore})
}

func (s *State) block(args []string) error {
	sig, err := signal(args[0])
	if err != nil {
		return err
	}
	_, err = s.K.Sigprocmask(pm.SigBlock, 1<<sig)
	return err
}

func (s *State) alarm(args []string) error {
	secs, err := strconv.ParseUint(args[0], 10, 0)
	if err != nil {
		return fmt.Errorf("bad time %s", args[0])
	}
	if left := s.K.Alarm(uint(secs)); left != 0 {
		fmt.Fprintf(&s.out, "%s: alarm: %d left\n", s.curName(), left)
	}
	return nil
}

func (s *State) kill(args []string) error {
	sig, err := signal(args[1])
	if err != nil {
		return err
	}
	pid, ok := s.pids[args[0]]
	if !ok {
		if pid, err = strconv.Atoi(args[0]); err != nil {
			return fmt.Errorf("unknown process %s", args[0])
		}
	}
	if err := s.K.Kill(pid, sig); err != nil {
		fmt.Fprintf(&s.out, "%s: kill: %v\n", s.curName(), err)
	}
	return nil
}

func (s *State) setpgrp([]string) error {
	s.K.Setpgrp()
	return nil
}

func (s *State) setuid(args []string) error {
	uid, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("bad uid %s", args[0])
	}
	if err := s.K.Setuid(uid); err != nil {
		fmt.Fprintf(&s.out, "%s: setuid: %v\n", s.curName(), err)
	}
	return nil
}

func (s *State) reap(args []string) error {
	p, err := s.proc(args[0])
	if err != nil {
		return err
	}
	pid := -1
	if len(args) > 1 {
		var ok bool
		if pid, ok = s.pids[args[1]]; !ok {
			return fmt.Errorf("unknown process %s", args[1])
		}
	}
	cpid, status, err := s.K.Collect(p, pid, pm.WNOHANG|pm.WUNTRACED)
	switch {
	case err != nil:
		fmt.Fprintf(&s.out, "%s: reap: %v\n", args[0], err)
	case cpid == 0:
		fmt.Fprintf(&s.out, "%s: reap: nothing\n", args[0])
	default:
		fmt.Fprintf(&s.out, "%s: reap %s: %v\n", args[0], s.name(cpid), pm.WaitStatus(status))
	}
	return nil
}

func (s *State) spawn(args []string) error {
	name := args[0]
	if p, ok := s.pids[name]; ok && s.K.Lookup(p) != nil {
		return fmt.Errorf("process %s exists", name)
	}
	parent := s.K.Init()
	if len(args) > 1 {
		var err error
		if parent, err = s.proc(args[1]); err != nil {
			return err
		}
	}
	p, err := s.K.Fork(parent)
	if err != nil {
		fmt.Fprintf(&s.out, "spawn %s: %v\n", name, err)
		return nil
	}
	s.pids[name] = p.PID()
	s.names[p.Slot()] = name
	return nil
}

func (s *State) wakeup(args []string) error {
	s.K.Wakeup(s.channel(args[0]))
	return nil
}

func (s *State) send(args []string) error {
	p, err := s.proc(args[0])
	if err != nil {
		return err
	}
	sig, err := signal(args[1])
	if err != nil {
		return err
	}
	s.K.Sndsig(p, sig)
	return nil
}

func (s *State) stop(args []string) error {
	p, err := s.proc(args[0])
	if err != nil {
		return err
	}
	s.K.Stop(p)
	return nil
}

func (s *State) resume(args []string) error {
	p, err := s.proc(args[0])
	if err != nil {
		return err
	}
	s.K.Resume(p)
	return nil
}

func (s *State) terminate(args []string) error {
	p, err := s.proc(args[0])
	if err != nil {
		return err
	}
	code := 0
	if len(args) > 1 {
		if code, err = strconv.Atoi(args[1]); err != nil {
			return fmt.Errorf("bad exit code %s", args[1])
		}
	}
	s.K.Terminate(p, pm.Exited(code))
	return nil
}

func (s *State) abort(args []string) error {
	p, err := s.proc(args[0])
	if err != nil {
		return err
	}
	s.K.Abort(p)
	return nil
}

func (s *State) nice(args []string) error {
	p, err := s.proc(args[0])
	if err != nil {
		return err
	}
	n, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("bad nice value %s", args[1])
	}
	if err := s.K.Nice(p, n); err != nil {
		fmt.Fprintf(&s.out, "%s: nice: %v\n", args[0], err)
	}
	return nil
}

func (s *State) setprio(args []string) error {
	p, err := s.proc(args[0])
	if err != nil {
		return err
	}
	pri, err := priority(args[1])
	if err != nil {
		return err
	}
	s.K.SetPriority(p, pri)
	return nil
}

func (s *State) ps([]string) error {
	fmt.Fprintf(&s.out, "%-8s %5s %5s %-8s %6s %4s %4s %5s %s\n",
		"NAME", "PID", "PPID", "STATE", "PRI", "NICE", "CNT", "TIME", "PENDING")
	for _, in := range s.K.Snapshot() {
		fmt.Fprintf(&s.out, "%-8s %5d %5d %-8v %6v %4d %4d %5d %v\n",
			s.names[in.Slot], in.PID, in.Father, in.State, in.Priority,
			in.Nice, in.Counter, in.UTime+in.KTime, in.Pending)
	}
	return nil
}

func (s *State) cur(args []string) error {
	if have := s.curName(); have != args[0] {
		return fmt.Errorf("current process is %s", have)
	}
	return nil
}

func (s *State) state(args []string) error {
	want, ok := pm.ParseState(strings.ToUpper(args[1]))
	if !ok {
		return fmt.Errorf("bad state %s", args[1])
	}
	have := pm.Dead
	if pid, ok := s.pids[args[0]]; !ok {
		return fmt.Errorf("unknown process %s", args[0])
	} else if p := s.K.Lookup(pid); p != nil {
		have = p.State()
	}
	if have != want {
		return fmt.Errorf("%s is %v", args[0], have)
	}
	return nil
}

func (s *State) chain(args []string) error {
	p, err := s.proc(args[0])
	if err != nil {
		return err
	}
	have := "-"
	for name, c := range s.chains {
		if p.Chain() == c {
			have = name
		}
	}
	if p.Chain() != nil && have == "-" {
		have = "?"
	}
	if have != args[1] {
		return fmt.Errorf("%s is on chain %s", args[0], have)
	}
	return nil
}

func (s *State) prio(args []string) error {
	p, err := s.proc(args[0])
	if err != nil {
		return err
	}
	want, err := priority(args[1])
	if err != nil {
		return err
	}
	if p.Priority() != want {
		return fmt.Errorf("%s has priority %v", args[0], p.Priority())
	}
	return nil
}

func (s *State) father(args []string) error {
	p, err := s.proc(args[0])
	if err != nil {
		return err
	}
	if have := s.name(p.Father()); have != args[1] {
		return fmt.Errorf("%s has father %s", args[0], have)
	}
	return nil
}

func (s *State) pending(args []string) error {
	p, err := s.proc(args[0])
	if err != nil {
		return err
	}
	if have := p.Pending().String(); have != args[1] {
		return fmt.Errorf("%s has pending %s", args[0], have)
	}
	return nil
}

func (s *State) counter(args []string) error {
	p, err := s.proc(args[0])
	if err != nil {
		return err
	}
	if have := strconv.Itoa(p.Counter()); have != args[1] {
		return fmt.Errorf("%s has counter %s", args[0], have)
	}
	return nil
}
