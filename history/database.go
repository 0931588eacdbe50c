package history

import "crap-clone/control"

// Database owns every file, version, tag and changeset for the
// process lifetime (spec.md §9's single-owner rule). Branch-version
// arrays live on their owning Tag; indices into Files give them a
// stable slot regardless of ingest order, per-file.
type Database struct {
	ctl *control.Control

	Files       []*File
	filesByPath map[string]*File
	fileIndex   map[*File]int

	Tags       []*Tag
	tagsByName map[string]*Tag

	Changesets []*Changeset
}

// NewDatabase builds an empty database, including the trunk tag
// (Name == "", IsBranch == true, Parent == nil) that every ingested
// trunk version's Branch field points at -- the ground truth's
// crap-clone.c never represents trunk with a nil branch pointer
// either; it always has a tag_t with tag="" so the print_commit /
// print_tag logic can treat trunk uniformly with real branches.
func NewDatabase(ctl *control.Control) *Database {
	db := &Database{
		ctl:         ctl,
		filesByPath: make(map[string]*File),
		fileIndex:   make(map[*File]int),
		tagsByName:  make(map[string]*Tag),
	}
	db.AddTag("", true)
	return db
}

// Trunk returns the database's trunk branch.
func (db *Database) Trunk() *Tag {
	return db.tagsByName[""]
}

// AddFile registers a new file. Path must be unique.
func (db *Database) AddFile(path string) *File {
	path = db.ctl.Intern(path)
	f := &File{Path: path, byID: make(map[string]*Version)}
	db.fileIndex[f] = len(db.Files)
	db.Files = append(db.Files, f)
	db.filesByPath[path] = f
	return f
}

// FindFile looks up a file by path.
func (db *Database) FindFile(path string) *File {
	return db.filesByPath[path]
}

// FileIndex returns f's stable slot, used to index BranchVersions
// arrays.
func (db *Database) FileIndex(f *File) int {
	return db.fileIndex[f]
}

// AddVersion appends a new version to f. parent, if non-nil, must lie
// earlier on the same branch within the same file (spec.md §3's
// invariant); branch must be non-nil (use db.Trunk() for trunk
// revisions).
func (f *File) AddVersion(db *Database, id string, parent *Version, branch *Tag, author, log string, t int64, dead bool) *Version {
	v := &Version{
		File:   f,
		ID:     db.ctl.Intern(id),
		Parent: parent,
		Branch: branch,
		Author: db.ctl.Intern(author),
		Log:    log,
		Time:   t,
		Dead:   dead,
		Used:   true,
	}
	f.Versions = append(f.Versions, v)
	f.byID[v.ID] = v
	return v
}

// AddTag registers a new tag (or branch, including trunk) and
// allocates its BranchVersions array up front (spec.md §3: "Branch-
// version arrays are allocated once per branch").
func (db *Database) AddTag(name string, isBranch bool) *Tag {
	name = db.ctl.Intern(name)
	t := &Tag{Name: name, IsBranch: isBranch}
	if isBranch {
		t.BranchVersions = make([]*Version, 0)
	}
	db.Tags = append(db.Tags, t)
	db.tagsByName[name] = t
	return t
}

// FindTag looks up a tag or branch by name.
func (db *Database) FindTag(name string) *Tag {
	return db.tagsByName[name]
}

// branchTip returns the current tip version of file f on branch b, or
// nil if the branch has not touched the file yet.
func (db *Database) branchTip(b *Tag, f *File) *Version {
	idx := db.FileIndex(f)
	if idx >= len(b.BranchVersions) {
		return nil
	}
	return b.BranchVersions[idx]
}

// setBranchTip records the current tip version of file f on branch b.
func (db *Database) setBranchTip(b *Tag, f *File, v *Version) {
	idx := db.FileIndex(f)
	for idx >= len(b.BranchVersions) {
		b.BranchVersions = append(b.BranchVersions, nil)
	}
	b.BranchVersions[idx] = v
}

// BranchTip is the exported form of branchTip, used by the emitter
// and fixup engine.
func (db *Database) BranchTip(b *Tag, f *File) *Version {
	return db.branchTip(b, f)
}

// SetBranchTip is the exported form of setBranchTip.
func (db *Database) SetBranchTip(b *Tag, f *File, v *Version) {
	db.setBranchTip(b, f, v)
}

// NewChangeset allocates a changeset with a stable ID (its index into
// Database.Changesets, the "weak index" spec.md §9 asks the ready-
// heap to store instead of a pointer).
func (db *Database) NewChangeset(kind ChangesetKind) *Changeset {
	cs := &Changeset{ID: len(db.Changesets), Kind: kind}
	db.Changesets = append(db.Changesets, cs)
	return cs
}
