// Package fixup computes, for a tag or branch being released, the set
// of per-file adjustments needed to reconcile the tag's declared
// snapshot with whatever the parent branch's real commits actually
// produced, and formats the synthetic fix-up commit's log message.
//
// Grounded on original_source/fixup.c's create_fixups() and
// fixup_commit_comment(), translated line-for-line where the
// semantics carry over to Go; the exact log message shape in
// CommitComment below is byte-for-byte the one fixup_commit_comment
// emits.
package fixup

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"crap-clone/history"
)

// ParentBranch returns the branch a changeset belongs to: a commit's
// own Branch field, or -- if the changeset is itself a tag/branch
// creation -- that tag (which must itself be a branch for this to be
// meaningful). Grounded on the branch-selection ternary in
// crap-clone.c's print_tag(): "tag->parent->type == ct_commit ?
// tag->parent->versions[0]->branch : as_tag(tag->parent)".
func ParentBranch(cs *history.Changeset) *history.Tag {
	if cs == nil {
		return nil
	}
	if cs.Kind == history.KindCommit {
		return cs.Branch
	}
	return cs.Tag
}

// Ensure computes tag's fixup vector (once) against the current tip
// state of its parent branch, sorted by time ascending. A no-op if
// already computed.
func Ensure(db *history.Database, tag *history.Tag) {
	if tag.FixupsComputed() {
		return
	}

	parentBranch := ParentBranch(tag.Parent)

	var fixups []history.FixupEntry
	tf := tag.TagFiles
	ti := 0
	for _, f := range db.Files {
		var bv *history.Version
		if parentBranch != nil {
			bv = history.Normalise(db.BranchTip(parentBranch, f))
		}
		var tv *history.Version
		if ti < len(tf) && tf[ti].File == f {
			tv = history.Normalise(tf[ti].Version)
			ti++
		}

		bvl := history.Live(bv)
		tvl := history.Live(tv)
		if bvl == tvl {
			continue
		}

		fixTime := int64(math.MinInt64)
		if tv != nil {
			fixTime = tv.Time
		}
		fixups = append(fixups, history.FixupEntry{File: f, Version: tvl, Time: fixTime})
	}

	sort.SliceStable(fixups, func(i, j int) bool { return fixups[i].Time < fixups[j].Time })
	tag.SetFixups(fixups)
}

// FlushBefore returns (and consumes) every pending fixup whose time
// hint precedes cutoff. A nil cutoff flushes everything remaining --
// the non-branch-tag case, where the whole set is released at once
// (spec.md §4.4).
func FlushBefore(db *history.Database, tag *history.Tag, cutoff *int64) []history.FixupEntry {
	Ensure(db, tag)

	pending := tag.PendingFixups()
	n := 0
	for n < len(pending) {
		if cutoff != nil && pending[n].Time >= *cutoff {
			break
		}
		n++
	}
	out := append([]history.FixupEntry(nil), pending[:n]...)
	tag.Advance(n)
	return out
}

// VerboseDiff renders the per-file state a fixup batch moves a branch
// from and to, as two line slices ready for a unified diff -- a debug
// aid for -v, independent of CommitComment's counts and log text.
func VerboseDiff(db *history.Database, parentBranch *history.Tag, fixups []history.FixupEntry) (before, after []string) {
	byFile := make(map[*history.File]*history.FixupEntry, len(fixups))
	for i := range fixups {
		byFile[fixups[i].File] = &fixups[i]
	}

	for _, f := range db.Files {
		var bv *history.Version
		if parentBranch != nil {
			bv = history.Live(db.BranchTip(parentBranch, f))
		}
		var tv *history.Version
		if fe, ok := byFile[f]; ok {
			tv = fe.Version
		} else {
			tv = bv
		}
		if bv != nil {
			before = append(before, fmt.Sprintf("%s %s\n", f.Path, bv.ID))
		}
		if tv != nil {
			after = append(after, fmt.Sprintf("%s %s\n", f.Path, tv.ID))
		}
	}
	return before, after
}

// Stats summarizes a fixup batch for the commit comment.
type Stats struct {
	Modified, Added, Deleted, Kept int
}

// CommitComment builds the fix-up commit's log message, exactly
// matching original_source/fixup.c's fixup_commit_comment(): a
// header line with counts, then one "<path> <old>-><new>" line per
// changed file (ADD/DELETE standing in for a missing side), and, only
// when kept <= deleted, a "<path> KEEP <version>" line for every file
// that didn't change.
func CommitComment(db *history.Database, parentBranch *history.Tag, fixups []history.FixupEntry) string {
	byFile := make(map[*history.File]*history.FixupEntry, len(fixups))
	for i := range fixups {
		byFile[fixups[i].File] = &fixups[i]
	}

	var stats Stats
	for _, f := range db.Files {
		var bv *history.Version
		if parentBranch != nil {
			bv = history.Live(db.BranchTip(parentBranch, f))
		}
		var tv *history.Version
		if fe, ok := byFile[f]; ok {
			tv = fe.Version
		} else {
			tv = bv
		}

		if bv == tv {
			if bv != nil {
				stats.Kept++
			}
			continue
		}
		switch {
		case tv == nil:
			stats.Deleted++
		case bv == nil:
			stats.Added++
		default:
			stats.Modified++
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Fix-up commit generated by crap-clone.  (~%d +%d -%d =%d)\n",
		stats.Modified, stats.Added, stats.Deleted, stats.Kept)

	for _, f := range db.Files {
		var bv *history.Version
		if parentBranch != nil {
			bv = history.Live(db.BranchTip(parentBranch, f))
		}
		var tv *history.Version
		if fe, ok := byFile[f]; ok {
			tv = fe.Version
		} else {
			tv = bv
		}

		if bv == tv {
			if bv != nil && stats.Kept <= stats.Deleted {
				fmt.Fprintf(&b, "%s KEEP %s\n", f.Path, bv.ID)
			}
			continue
		}

		oldID := "ADD"
		if bv != nil {
			oldID = bv.ID
		}
		newID := "DELETE"
		if tv != nil {
			newID = tv.ID
		}
		fmt.Fprintf(&b, "%s %s->%s\n", f.Path, oldID, newID)
	}

	return b.String()
}
