package emit

import (
	"strings"
	"testing"

	"crap-clone/control"
	"crap-clone/fetch"
	"crap-clone/history"
)

// S1 — single trunk commit. The version's blob mark is pre-assigned
// (as if the fetch driver had already retrieved it), so the emitter
// never has to dial out: this isolates the record-formatting logic
// print_commit implements.
func TestCommitSingleVersion(t *testing.T) {
	ctl := control.New(nil)
	db := history.NewDatabase(ctl)
	trunk := db.Trunk()

	f := db.AddFile("a.txt")
	v := f.AddVersion(db, "1.1", nil, trunk, "u", "init", 1000, false)
	v.Mark = ctl.AllocMark() // blob already fetched: takes mark 1

	trunk.Changeset = db.NewChangeset(history.KindTag)
	trunk.Changeset.Tag = trunk
	trunk.Last = trunk.Changeset

	cs := db.NewChangeset(history.KindCommit)
	cs.Branch = trunk
	cs.Author = "u"
	cs.Log = "init"
	cs.Time = 1000
	cs.Versions = []*history.Version{v}

	var out strings.Builder
	driver := fetch.New(nil, "mod", ctl, db, &out)
	e := New(db, ctl, driver, &out)

	if err := e.Commit(cs); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	got := out.String()
	if cs.Mark != 2 {
		t.Fatalf("expected the commit to take the next mark after the blob, got %d", cs.Mark)
	}
	if !strings.Contains(got, "commit refs/heads/cvs_master\n") {
		t.Fatalf("expected a commit on cvs_master, got %q", got)
	}
	if !strings.Contains(got, "mark :2\n") {
		t.Fatalf("expected mark :2, got %q", got)
	}
	if !strings.Contains(got, "committer u <u> 1000 +0000\n") {
		t.Fatalf("expected the prescribed committer line, got %q", got)
	}
	if !strings.Contains(got, "M 644 :1 a.txt\n") {
		t.Fatalf("expected 'M 644 :1 a.txt', got %q", got)
	}
}

// S3 — delete: a dead version emits a D line and never needs a blob.
func TestCommitDeadVersionEmitsDelete(t *testing.T) {
	ctl := control.New(nil)
	db := history.NewDatabase(ctl)
	trunk := db.Trunk()

	f := db.AddFile("x")
	v1 := f.AddVersion(db, "1.1", nil, trunk, "u", "add", 0, false)
	v1.Mark = 1
	db.SetBranchTip(trunk, f, v1)
	v2 := f.AddVersion(db, "1.2", v1, trunk, "u", "remove", 100, true)

	trunk.Changeset = db.NewChangeset(history.KindTag)
	trunk.Changeset.Tag = trunk
	trunk.Last = trunk.Changeset

	cs := db.NewChangeset(history.KindCommit)
	cs.Branch = trunk
	cs.Author = "u"
	cs.Log = "remove"
	cs.Time = 100
	cs.Versions = []*history.Version{v2}

	var out strings.Builder
	driver := fetch.New(nil, "mod", ctl, db, &out)
	e := New(db, ctl, driver, &out)

	if err := e.Commit(cs); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	got := out.String()
	if !strings.Contains(got, "D x\n") {
		t.Fatalf("expected a D line for the dead version, got %q", got)
	}
	if strings.Contains(got, "blob") {
		t.Fatalf("a dead version must not produce a blob record, got %q", got)
	}
}

// Verbose mode logs a unified diff of the fixup's before/after state
// through go-difflib; quiet mode stays silent about it.
func TestTagFlushesFixupWithVerboseDiff(t *testing.T) {
	var log strings.Builder
	ctl := control.New(&log)
	ctl.Verbose = true
	db := history.NewDatabase(ctl)
	trunk := db.Trunk()

	a := db.AddFile("a")
	b := db.AddFile("b")
	av1 := a.AddVersion(db, "1.1", nil, trunk, "u", "a init", 10, false)
	av1.Mark = 1
	bv1 := b.AddVersion(db, "1.1", nil, trunk, "u", "b init", 10, false)
	bv1.Mark = 2
	bv2 := b.AddVersion(db, "1.2", bv1, trunk, "u", "b next", 20, false)
	bv2.Mark = 3

	db.SetBranchTip(trunk, a, av1)
	db.SetBranchTip(trunk, b, bv2)

	trunk.Changeset = db.NewChangeset(history.KindTag)
	trunk.Changeset.Tag = trunk
	trunk.Last = trunk.Changeset

	v1 := db.AddTag("v1", false)
	v1.Parent = trunk.Changeset
	v1.TagFiles = []history.FileVersion{
		{File: a, Version: av1},
		{File: b, Version: bv1}, // stale relative to trunk's tip
	}

	cs := db.NewChangeset(history.KindTag)
	cs.Tag = v1
	cs.Time = 30
	v1.Changeset = cs

	driver := fetch.New(nil, "mod", ctl, db, &strings.Builder{})
	e := New(db, ctl, driver, &strings.Builder{})

	if err := e.Tag(cs); err != nil {
		t.Fatalf("Tag: %v", err)
	}

	got := log.String()
	if !strings.Contains(got, "fixup diff for v1") {
		t.Fatalf("expected a verbose fixup diff header, got %q", got)
	}
	if !strings.Contains(got, "-b 1.2") || !strings.Contains(got, "+b 1.1") {
		t.Fatalf("expected the unified diff to show b moving from 1.2 to 1.1, got %q", got)
	}
}

// A commit whose versions already match the branch tip collapses to a
// no-op: it reuses the previous mark rather than emitting a new
// commit record (property 4's "collapsed set").
func TestCommitCollapsesNoOp(t *testing.T) {
	ctl := control.New(nil)
	db := history.NewDatabase(ctl)
	trunk := db.Trunk()

	f := db.AddFile("a.txt")
	v := f.AddVersion(db, "1.1", nil, trunk, "u", "init", 0, false)
	v.Mark = 1
	db.SetBranchTip(trunk, f, v)

	trunk.Changeset = db.NewChangeset(history.KindTag)
	trunk.Changeset.Tag = trunk
	trunk.Changeset.Mark = 99
	trunk.Last = trunk.Changeset

	cs := db.NewChangeset(history.KindCommit)
	cs.Branch = trunk
	cs.Author = "u"
	cs.Log = "noop"
	cs.Time = 10
	cs.Versions = []*history.Version{v} // already the tip: no real change

	var out strings.Builder
	driver := fetch.New(nil, "mod", ctl, db, &out)
	e := New(db, ctl, driver, &out)

	if err := e.Commit(cs); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if out.Len() != 0 {
		t.Fatalf("expected no output for a collapsed no-op commit, got %q", out.String())
	}
	if cs.Mark != 99 {
		t.Fatalf("expected the collapsed commit to reuse the branch's last mark, got %d", cs.Mark)
	}
}
