// crap-clone is a one-shot converter from a CVS repository to a git
// fast-import stream.
//
// Copyright by Eric S. Raymond
// SPDX-License-Identifier: BSD-2-Clause

package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"crap-clone/branch"
	"crap-clone/changeset"
	"crap-clone/control"
	"crap-clone/emit"
	"crap-clone/fetch"
	"crap-clone/history"
	"crap-clone/remote"
)

var doc = `crap-clone - convert a CVS repository to a git fast-import stream
general usage: crap-clone [-z LEVEL] [-v] <root> <module>

The fast-import stream is written to standard output; connect it to
'git fast-import' directly or save it to a file for later replay.

  <root>    a CVS root, in :pserver:, :ext:, :fake: or local-path form
  <module>  the module (top-level directory) within that root to convert
`

func usage(code int) {
	out := os.Stdout
	if code != 0 {
		out = os.Stderr
	}
	fmt.Fprint(out, doc)
	os.Exit(code)
}

func main() {
	var (
		compress = flag.Int("z", 0, "gzip compression level (0-9) for the CVS connection")
		verbose  = flag.Bool("v", false, "verbose progress diagnostics")
		help     = flag.Bool("h", false, "show usage")
	)
	flag.IntVar(compress, "compress", 0, "same as -z")
	flag.BoolVar(verbose, "verbose", false, "same as -v")
	flag.BoolVar(help, "help", false, "same as -h")
	flag.Usage = func() { usage(2) }
	flag.Parse()

	if *help {
		usage(0)
	}
	if *compress < 0 || *compress > 9 {
		fmt.Fprintln(os.Stderr, "crap-clone: compression level must be 0-9")
		usage(2)
	}
	if flag.NArg() != 2 {
		usage(2)
	}
	root, module := flag.Arg(0), flag.Arg(1)

	ctl := control.New(os.Stderr)
	ctl.Verbose = *verbose

	if err := run(ctl, root, module, *compress, os.Stdout); err != nil {
		ctl.Croak("%s", err)
		os.Exit(1)
	}
}

// run is the driving loop: connect, ingest the rlog, build and
// schedule changesets, then emit them in order. Grounded on
// original_source/crap-clone.c's main().
func run(ctl *control.Control, root, module string, compress int, out *os.File) error {
	conn, err := remote.Dial(root)
	if err != nil {
		return err
	}
	defer conn.Close()

	if compress != 0 {
		if err := conn.Send("Gzip-stream " + strconv.Itoa(compress)); err != nil {
			return err
		}
		if err := conn.Compress(compress); err != nil {
			return err
		}
	}

	db := history.NewDatabase(ctl)

	if err := conn.Sendf(
		"Global_option -q\nArgument --\nArgument %s\nrlog\n", module,
	); err != nil {
		return err
	}
	if err := remote.ReadRlog(conn, module, db); err != nil {
		return err
	}

	changeset.BuildCommits(db, ctl)
	changeset.BuildTags(db)
	branch.Analyse(db)
	changeset.Wire(db)

	// Branch tips start out empty; each branch's own tag changeset
	// copies its parent branch's tips when it is emitted (see
	// emit.Emitter.Tag). Trunk is also seeded here from its (normally
	// empty) TagFiles; its tag changeset has no parent, so emitting it
	// resets every trunk tip to nil.
	for _, tag := range db.Tags {
		tag.IsReleased = false
		if tag == db.Trunk() {
			for _, fv := range tag.TagFiles {
				db.SetBranchTip(tag, fv.File, fv.Version)
			}
		}
	}

	sched := changeset.NewScheduler(db)
	sched.Seed()

	driver := fetch.New(conn, module, ctl, db, out)
	emitter := emit.New(db, ctl, driver, out)

	emittedCommits := 0
	for {
		cs, ok := sched.Next()
		if !ok {
			break
		}

		if cs.Kind == history.KindCommit {
			emittedCommits++
			if err := emitter.Commit(cs); err != nil {
				return err
			}
		} else {
			cs.Tag.IsReleased = true
			if err := emitter.Tag(cs); err != nil {
				return err
			}
		}

		sched.Emitted(cs)
	}

	if err := emitter.FinalFixups(); err != nil {
		return err
	}

	ctl.Logit("%d commits emitted", emittedCommits)
	return nil
}
