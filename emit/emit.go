// Package emit renders scheduled changesets as git-fast-import
// records, fetching blob content on demand and flushing fixup commits
// as needed to keep every branch and tag consistent.
//
// Grounded on original_source/crap-clone.c's print_commit, print_tag
// and print_fixups, and on the ground truth's per-record Save(w
// io.Writer) idiom in inner.go (Blob.Save/Commit.Save/FileOp.Save):
// every record type here writes itself to an io.Writer rather than
// building an intermediate representation.
package emit

import (
	"fmt"
	"io"
	"time"

	difflib "github.com/ianbruene/go-difflib/difflib"

	"crap-clone/control"
	"crap-clone/fetch"
	"crap-clone/fixup"
	"crap-clone/history"
)

// Emitter renders the scheduled changeset stream to w, using driver to
// fetch blob content as commits need it.
type Emitter struct {
	db     *history.Database
	ctl    *control.Control
	driver *fetch.Driver
	w      io.Writer
}

func New(db *history.Database, ctl *control.Control, driver *fetch.Driver, w io.Writer) *Emitter {
	return &Emitter{db: db, ctl: ctl, driver: driver, w: w}
}

// Commit emits one commit changeset: any pending fixups on its branch
// first, then the commit proper, or a fast no-op mark reuse when the
// commit's versions already match the branch tip (the "revision
// appears in the selected changeset but isn't actually different"
// case crap-clone.c's print_commit guards against). Grounded on
// print_commit.
func (e *Emitter) Commit(cs *history.Changeset) error {
	branch := cs.Branch

	if err := e.flushFixups(branch, cs); err != nil {
		return err
	}

	var toFetch []*history.Version
	nilCommit := true
	for _, v := range cs.Versions {
		if !v.Used {
			continue
		}
		cv := history.Live(v)
		tip := history.Live(e.db.BranchTip(branch, v.File))
		if cv == tip {
			continue
		}
		nilCommit = false
		if cv != nil && cv.Mark == 0 {
			toFetch = append(toFetch, cv)
		}
	}

	if nilCommit {
		cs.Mark = branch.Last.Mark
		branch.Last = cs
		return nil
	}

	e.ctl.Logit("%s COMMIT", formatDate(cs.Time))

	if err := e.driver.GrabVersions(toFetch); err != nil {
		return err
	}

	branch.Last = cs
	cs.Mark = e.ctl.AllocMark()

	ref := branch.Name
	if ref == "" {
		ref = "cvs_master"
	}
	fmt.Fprintf(e.w, "commit refs/heads/%s\n", ref)
	fmt.Fprintf(e.w, "mark :%d\n", cs.Mark)
	fmt.Fprintf(e.w, "committer %s <%s> %d +0000\n", cs.Author, cs.Author, cs.Time)
	fmt.Fprintf(e.w, "data %d\n%s\n", len(cs.Log), cs.Log)

	for _, v := range cs.Versions {
		if !v.Used {
			continue
		}
		vv := history.Normalise(v)
		if vv.Dead {
			fmt.Fprintf(e.w, "D %s\n", vv.File.Path)
		} else {
			mode := "644"
			if vv.Exec {
				mode = "755"
			}
			fmt.Fprintf(e.w, "M %s :%d %s\n", mode, vv.Mark, vv.File.Path)
		}
		e.db.SetBranchTip(branch, v.File, vv)
	}

	return nil
}

// Tag emits a tag or branch-creation changeset: the `reset` record,
// then either an immediate fixup flush (ordinary tags) or a seeded,
// lazily-flushed branch tip (branches). Grounded on print_tag.
func (e *Emitter) Tag(cs *history.Changeset) error {
	tag := cs.Tag
	e.ctl.Logit("%s %s %s", formatDate(cs.Time), kindWord(tag), tag.Name)

	parentBranch := fixup.ParentBranch(tag.Parent)

	kind := "tags"
	ref := tag.Name
	if tag.IsBranch {
		kind = "heads"
	}
	if ref == "" {
		ref = "cvs_master"
	}
	fmt.Fprintf(e.w, "reset refs/%s/%s\n", kind, ref)

	if tag.Parent != nil {
		cs.Mark = tag.Parent.Mark
	} else {
		cs.Mark = 0
	}
	if cs.Mark != 0 {
		fmt.Fprintf(e.w, "from :%d\n\n", cs.Mark)
	}
	tag.Last = cs

	if tag.IsBranch {
		for _, f := range e.db.Files {
			var v *history.Version
			if parentBranch != nil {
				v = e.db.BranchTip(parentBranch, f)
			}
			e.db.SetBranchTip(tag, f, v)
		}
		return nil
	}

	return e.flushFixups(tag, nil)
}

// flushFixups emits a synthetic fix-up commit covering every fixup
// whose time hint precedes cs (nil means: flush everything). A no-op
// if there is nothing pending. Grounded on print_fixups.
func (e *Emitter) flushFixups(tag *history.Tag, cs *history.Changeset) error {
	var cutoff *int64
	if cs != nil {
		t := cs.Time
		cutoff = &t
	}

	parentBranch := fixup.ParentBranch(tag.Parent)
	fixups := fixup.FlushBefore(e.db, tag, cutoff)
	if len(fixups) == 0 {
		return nil
	}

	if e.ctl.Verbose {
		before, after := fixup.VerboseDiff(e.db, parentBranch, fixups)
		diff := difflib.UnifiedDiff{
			A:        before,
			B:        after,
			FromFile: "parent",
			ToFile:   tag.Name,
			Context:  0,
		}
		if text, err := difflib.GetUnifiedDiffString(diff); err == nil && text != "" {
			e.ctl.Debugf("fixup diff for %s:\n%s", tag.Name, text)
		}
	}

	var toFetch []*history.Version
	for _, fx := range fixups {
		if fx.Version != nil && !fx.Version.Dead && fx.Version.Mark == 0 {
			toFetch = append(toFetch, fx.Version)
		}
	}
	if err := e.driver.GrabVersions(toFetch); err != nil {
		return err
	}

	tag.FixupFlag = true
	mark := e.ctl.AllocMark()

	kind := "tags"
	ref := tag.Name
	if tag.IsBranch {
		kind = "heads"
	}
	if ref == "" {
		ref = "cvs_master"
	}
	fmt.Fprintf(e.w, "commit refs/%s/%s\n", kind, ref)
	fmt.Fprintf(e.w, "mark :%d\n", mark)

	committerTime := tag.Changeset.Time
	if tag.IsBranch && tag.Last != nil {
		committerTime = tag.Last.Time
	}
	fmt.Fprintf(e.w, "committer crap-clone <crap-clone> %d +0000\n", committerTime)

	comment := fixup.CommitComment(e.db, parentBranch, fixups)
	fmt.Fprintf(e.w, "data %d\n%s", len(comment), comment)

	for _, fx := range fixups {
		var bv *history.Version
		if parentBranch != nil {
			bv = history.Live(e.db.BranchTip(parentBranch, fx.File))
		}
		tv := fx.Version
		if tv == bv {
			continue
		}
		if tv == nil {
			fmt.Fprintf(e.w, "D %s\n", fx.File.Path)
		} else {
			mode := "644"
			if tv.Exec {
				mode = "755"
			}
			fmt.Fprintf(e.w, "M %s :%d %s\n", mode, tv.Mark, fx.File.Path)
		}
		if tag.IsBranch {
			e.db.SetBranchTip(tag, fx.File, tv)
		}
	}

	tag.Changeset.Mark = mark
	return nil
}

// FinalFixups forces out every outstanding fixup across every branch,
// once the main schedule has drained. Grounded on the "Final fixups"
// pass at the end of crap-clone.c's main().
func (e *Emitter) FinalFixups() error {
	for _, tag := range e.db.Tags {
		if !tag.IsBranch {
			continue
		}
		if err := e.flushFixups(tag, nil); err != nil {
			return err
		}
	}
	return nil
}

func kindWord(tag *history.Tag) string {
	if tag.IsBranch {
		return "BRANCH"
	}
	return "TAG"
}

// formatDate renders a Unix timestamp for diagnostics, matching the
// ground truth's format_date (strftime "%F %T %Z").
func formatDate(t int64) string {
	return time.Unix(t, 0).UTC().Format("2006-01-02 15:04:05 UTC")
}
