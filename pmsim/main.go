// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Pmsim runs scheduler scenario scripts against the process manager.
//
// Usage:
//
//	pmsim [-trace] [-update] file.txt...
//
// Each file is a txtar archive holding a "script" and, optionally, the
// "trace" it is expected to print (see package rsc.io/pmsim/script).
// Pmsim prints the output of each script and reports scripts whose
// output differs from their trace.
//
// The -update flag rewrites the trace section of each file instead.
//
// The -trace flag logs every kernel event to standard error.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/op/go-logging"
	"golang.org/x/tools/txtar"

	"rsc.io/pmsim/script"
)

var (
	trace  = flag.Bool("trace", false, "log kernel events")
	update = flag.Bool("update", false, "rewrite the trace in each file")
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: pmsim [-trace] [-update] file.txt...\n")
	os.Exit(2)
}

func main() {
	log.SetPrefix("pmsim: ")
	log.SetFlags(0)
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() == 0 {
		usage()
	}

	backend := logging.NewLogBackend(os.Stderr, "", 0)
	format := logging.MustStringFormatter(`%{module}: %{message}`)
	leveled := logging.AddModuleLevel(logging.NewBackendFormatter(backend, format))
	leveled.SetLevel(logging.WARNING, "")
	if *trace {
		leveled.SetLevel(logging.DEBUG, "")
	}
	logging.SetBackend(leveled)

	failed := false
	for _, file := range flag.Args() {
		ar, err := txtar.ParseFile(file)
		if err != nil {
			log.Fatal(err)
		}
		out, err := script.Run(ar)
		if err != nil {
			log.Printf("%s: %v", file, err)
			failed = true
			continue
		}
		if *update {
			script.SetFile(ar, "trace", []byte(out))
			if err := os.WriteFile(file, txtar.Format(ar), 0666); err != nil {
				log.Fatal(err)
			}
			continue
		}
		if len(flag.Args()) > 1 {
			fmt.Printf("# %s\n", file)
		}
		fmt.Print(out)
		if want, ok := script.File(ar, "trace"); ok && string(want) != out {
			log.Printf("%s: output differs from trace", file)
			failed = true
		}
	}
	if failed {
		os.Exit(1)
	}
}
