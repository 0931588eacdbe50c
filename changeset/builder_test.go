package changeset

import (
	"testing"
	"time"

	"crap-clone/control"
	"crap-clone/history"
)

func newTestDB(t *testing.T) (*history.Database, *control.Control) {
	t.Helper()
	ctl := control.New(nil)
	return history.NewDatabase(ctl), ctl
}

// S1 — single trunk commit: one file, one version, one changeset.
func TestBuildCommitsSingleVersion(t *testing.T) {
	db, ctl := newTestDB(t)
	trunk := db.Trunk()
	f := db.AddFile("a.txt")
	f.AddVersion(db, "1.1", nil, trunk, "u", "init", 1000, false)

	BuildCommits(db, ctl)

	if len(db.Changesets) != 1 {
		t.Fatalf("expected 1 changeset, got %d", len(db.Changesets))
	}
	cs := db.Changesets[0]
	if cs.Kind != history.KindCommit || cs.Author != "u" || cs.Log != "init" || cs.Time != 1000 {
		t.Fatalf("unexpected changeset: %+v", cs)
	}
}

// S2 — coalesce: three files committed within the window by the same
// author/log collapse into one changeset with the max time.
func TestBuildCommitsCoalesce(t *testing.T) {
	db, ctl := newTestDB(t)
	trunk := db.Trunk()
	for i, path := range []string{"a.txt", "b.txt", "c.txt"} {
		f := db.AddFile(path)
		f.AddVersion(db, "1.1", nil, trunk, "u", "same log", 1000+int64(i*3), false)
	}

	BuildCommits(db, ctl)

	if len(db.Changesets) != 1 {
		t.Fatalf("expected versions within the window to coalesce into 1 changeset, got %d", len(db.Changesets))
	}
	cs := db.Changesets[0]
	if len(cs.Versions) != 3 {
		t.Fatalf("expected 3 versions in the coalesced changeset, got %d", len(cs.Versions))
	}
	if cs.Time != 1006 {
		t.Fatalf("expected committer time to be the max of the group, got %d", cs.Time)
	}
}

// A gap wider than the window splits the group into separate changesets.
func TestBuildCommitsSplitsOnWideGap(t *testing.T) {
	db, ctl := newTestDB(t)
	ctl.Window = 10 * time.Second
	trunk := db.Trunk()
	f := db.AddFile("x")
	f.AddVersion(db, "1.1", nil, trunk, "u", "msg", 0, false)
	f.AddVersion(db, "1.2", f.FindVersion("1.1"), trunk, "u", "msg", 500, true)

	BuildCommits(db, ctl)

	if len(db.Changesets) != 2 {
		t.Fatalf("S3: expected two separate commits across a wide gap, got %d", len(db.Changesets))
	}
	if !db.Changesets[1].Versions[0].Dead {
		t.Fatalf("second commit should carry the dead revision")
	}
}

func TestBuildTagsTimeFromLatestTagFile(t *testing.T) {
	db, ctl := newTestDB(t)
	trunk := db.Trunk()
	f := db.AddFile("a.txt")
	v1 := f.AddVersion(db, "1.1", nil, trunk, "u", "init", 100, false)
	v2 := f.AddVersion(db, "1.2", v1, trunk, "u", "next", 200, false)
	BuildCommits(db, ctl)

	rel := db.AddTag("v1", false)
	rel.TagFiles = []history.FileVersion{{File: f, Version: v2}}

	BuildTags(db)

	if rel.Changeset == nil || rel.Changeset.Time != 200 {
		t.Fatalf("expected tag changeset time to be 200, got %+v", rel.Changeset)
	}
}

func TestWireFirstCommitDependsOnBranchTag(t *testing.T) {
	db, ctl := newTestDB(t)
	trunk := db.Trunk()
	f := db.AddFile("a.txt")
	f.AddVersion(db, "1.1", nil, trunk, "u", "init", 100, false)

	BuildCommits(db, ctl)
	BuildTags(db)
	Wire(db)

	var commit *history.Changeset
	for _, cs := range db.Changesets {
		if cs.Kind == history.KindCommit {
			commit = cs
		}
	}
	if commit == nil {
		t.Fatalf("expected a commit changeset")
	}
	if commit.UnreadyCount == 0 {
		t.Fatalf("schedule legality (property 8): first commit on a branch must depend on that branch's reset")
	}
}
