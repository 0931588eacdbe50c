// Package branch determines each branch's and tag's parent point in the
// parent history. It does not touch branch-version state; that is
// seeded when the branch's tag changeset is emitted (emit.Emitter.Tag).
//
// Grounded on spec.md §4.2. The ground truth's branch_analyse() isn't
// among the three original_source/ files this pack carries (only
// crap-clone.c, fixup.c and server.c survived distillation), so the
// tie-break policy below is this implementation's own documented
// decision, exactly as spec.md §9's Open Questions invites: "the
// source's exact tie-break among equally-matching candidates is not
// fully documented here; implementers should pick the latest-time
// candidate and document the choice."
package branch

import (
	"sort"

	"crap-clone/history"
)

// Analyse assigns Tag.Parent for every non-trunk tag and branch. Must
// run after changeset.BuildCommits and changeset.BuildTags, and
// before changeset.Wire (which consumes Tag.Parent to link
// dependencies).
func Analyse(db *history.Database) {
	commitsByBranch := make(map[*history.Tag][]*history.Changeset)
	for _, cs := range db.Changesets {
		if cs.Kind == history.KindCommit {
			commitsByBranch[cs.Branch] = append(commitsByBranch[cs.Branch], cs)
		}
	}
	for _, commits := range commitsByBranch {
		sort.SliceStable(commits, func(i, j int) bool { return commits[i].Time < commits[j].Time })
	}

	trunk := db.Trunk()
	for _, tag := range db.Tags {
		if tag == trunk {
			continue // the root: no parent by definition
		}
		tag.Parent = parentOf(db, tag, commitsByBranch)
	}
}

// parentOf finds the parent-branch commit whose post-commit state
// matches tag's declared snapshot most closely, preferring the latest
// such candidate on ties (spec.md §4.2).
func parentOf(db *history.Database, tag *history.Tag, commitsByBranch map[*history.Tag][]*history.Changeset) *history.Changeset {
	parentBranch := dominantParentBranch(db, tag)
	commits := commitsByBranch[parentBranch]

	tip := make(map[*history.File]*history.Version)

	var best *history.Changeset
	bestScore := -1
	for _, cs := range commits {
		for _, v := range cs.Versions {
			if v.Used {
				tip[v.File] = v
			}
		}
		score := matchScore(tag, parentBranch, tip)
		if score >= bestScore {
			bestScore = score
			best = cs
		}
	}

	if best != nil {
		return best
	}
	// No commit yet exists on the parent branch (the branch point is
	// the branch's own creation, e.g. tagging the tip of a just-
	// created, still-empty branch): fall back to the parent branch's
	// own tag changeset.
	if parentBranch != nil {
		return parentBranch.Changeset
	}
	return nil
}

// dominantParentBranch picks the branch that the plurality of tag's
// declared versions actually live on -- almost always unanimous for a
// real CVS tag/branch, since a branch diverges from exactly one point
// in exactly one parent history.
func dominantParentBranch(db *history.Database, tag *history.Tag) *history.Tag {
	counts := make(map[*history.Tag]int)
	var best *history.Tag
	bestCount := -1
	for _, fv := range tag.TagFiles {
		b := fv.Version.Branch
		counts[b]++
		if counts[b] > bestCount {
			bestCount = counts[b]
			best = b
		}
	}
	if best == nil {
		return db.Trunk()
	}
	return best
}

// matchScore counts how many of tag's declared (file, version) pairs
// agree with the current tip state on parentBranch.
func matchScore(tag *history.Tag, parentBranch *history.Tag, tip map[*history.File]*history.Version) int {
	score := 0
	for _, fv := range tag.TagFiles {
		if fv.Version.Branch != parentBranch {
			continue
		}
		if history.Live(tip[fv.File]) == history.Live(fv.Version) {
			score++
		}
	}
	return score
}
