// Package changeset groups per-file versions into atomic commit
// changesets, creates tag-release changesets, and schedules the whole
// lot into a legal, deterministic emission order.
//
// Grounded on spec.md §4.1 and §4.3, and on crap-clone.c's main()
// driving loop (create_changesets / branch_analyse / the
// unready_count wiring just before the emission loop) for how the
// pieces fit together end to end.
package changeset

import (
	"sort"

	"crap-clone/control"
	"crap-clone/history"
)

// versionGroup is the partition key spec.md §4.1 clusters versions by:
// branch identity, author string, and log text.
type versionGroup struct {
	branch *history.Tag
	author string
	log    string
}

// BuildCommits partitions every version across every file into
// maximal commit changesets: consecutive (by time), same branch/
// author/log, no gap wider than window.
func BuildCommits(db *history.Database, ctl *control.Control) {
	groups := make(map[versionGroup][]*history.Version)
	var order []versionGroup

	for _, f := range db.Files {
		for _, v := range f.Versions {
			key := versionGroup{branch: v.Branch, author: v.Author, log: v.Log}
			if _, ok := groups[key]; !ok {
				order = append(order, key)
			}
			groups[key] = append(groups[key], v)
		}
	}

	for _, key := range order {
		versions := groups[key]
		sort.Slice(versions, func(i, j int) bool { return versions[i].Time < versions[j].Time })

		windowSecs := int64(ctl.Window.Seconds())
		start := 0
		for i := 1; i <= len(versions); i++ {
			if i < len(versions) && versions[i].Time-versions[i-1].Time <= windowSecs {
				continue
			}
			group := versions[start:i]
			cs := db.NewChangeset(history.KindCommit)
			cs.Branch = key.branch
			cs.Author = key.author
			cs.Log = key.log
			cs.Versions = append([]*history.Version(nil), group...)
			maxTime := group[0].Time
			for _, v := range group[1:] {
				if v.Time > maxTime {
					maxTime = v.Time
				}
			}
			cs.Time = maxTime
			start = i
		}
	}
}

// BuildTags creates one tag changeset per tag/branch, including
// trunk. Its time is the latest time among the tag's defining
// versions; a tag with no defining versions (the initial trunk, or an
// otherwise-empty branch) takes the earliest time seen anywhere so it
// schedules first.
func BuildTags(db *history.Database) {
	var globalMin int64
	haveMin := false
	for _, f := range db.Files {
		for _, v := range f.Versions {
			if !haveMin || v.Time < globalMin {
				globalMin = v.Time
				haveMin = true
			}
		}
	}

	for _, tag := range db.Tags {
		cs := db.NewChangeset(history.KindTag)
		cs.Tag = tag
		tag.Changeset = cs

		maxTime := globalMin
		found := false
		for _, fv := range tag.TagFiles {
			if !found || fv.Version.Time > maxTime {
				maxTime = fv.Version.Time
				found = true
			}
		}
		cs.Time = maxTime
	}
}

// Wire links every changeset to its scheduling predecessors, setting
// UnreadyCount so the scheduler can find the initially-ready set.
// Three kinds of dependency, all from spec.md §4.1-§4.3:
//
//   - A tag/branch changeset depends on its Parent changeset (root tags
//     have no parent and are ready immediately).
//   - The first commit on a branch depends on that branch's own tag
//     changeset (its `reset` record), guaranteeing the schedule-
//     legality property that no commit precedes its branch's reset.
//   - Each subsequent commit on a branch depends on the previous one.
func Wire(db *history.Database) {
	byBranch := make(map[*history.Tag][]*history.Changeset)
	for _, cs := range db.Changesets {
		if cs.Kind == history.KindCommit {
			byBranch[cs.Branch] = append(byBranch[cs.Branch], cs)
		}
	}
	for _, commits := range byBranch {
		sort.SliceStable(commits, func(i, j int) bool { return commits[i].Time < commits[j].Time })
	}

	for _, tag := range db.Tags {
		if tag.Parent != nil {
			tag.Parent.AddChild(tag.Changeset)
		}
		if commits, ok := byBranch[tag]; ok && len(commits) > 0 {
			tag.Changeset.AddChild(commits[0])
			for i := 1; i < len(commits); i++ {
				commits[i-1].AddChild(commits[i])
			}
		}
	}
}
