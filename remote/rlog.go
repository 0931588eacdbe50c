package remote

import (
	"strconv"
	"strings"
	"time"

	"crap-clone/errs"
	"crap-clone/history"
)

// rlog's per-file and per-revision record separators.
const (
	fileSep = "============================================================================="
	revSep  = "----------------------------"
)

// ReadRlog drives an already-sent `rlog` request to completion,
// populating db with every file, version and symbolic tag/branch name
// it describes.
//
// The ground truth's equivalent (log_parse.c) did not survive
// distillation into original_source/ -- only crap-clone.c, fixup.c
// and server.c did -- so this is a deliberately minimal, self-
// contained parser of the well-known `cvs rlog` wire format rather
// than a line-for-line port; it covers exactly the fields
// crap-clone.c's read_version/branch_analyse/changeset machinery
// needs (path, revision id, parent, date, author, dead state, log
// text, and the symbolic-name table) and not CVS's full rlog
// vocabulary (locks, keyword substitution mode, and so on).
func ReadRlog(conn *Conn, module string, db *history.Database) error {
	for {
		line, err := conn.NextLine()
		if err != nil {
			return err
		}
		if line == "ok" {
			return nil
		}
		if strings.HasPrefix(line, "M ") {
			if err := readOneFile(conn, line[len("M "):], module, db); err != nil {
				return err
			}
			continue
		}
		if strings.HasPrefix(line, "E ") || strings.HasPrefix(line, "MT ") {
			continue
		}
		if line == "error" || strings.HasPrefix(line, "error ") {
			return errs.New(errs.Upstream, "rlog", "server reported error: %q", line)
		}
	}
}

func readOneFile(conn *Conn, firstLine, module string, db *history.Database) error {
	var path string
	branchNames := map[string]string{} // symbolic name -> revision as listed (magic a.b.0.n for branches)
	line := firstLine

	for {
		switch {
		case strings.HasPrefix(line, "RCS file: "):
			// fall through to read the next line
		case strings.HasPrefix(line, "Working file: "):
			path = strings.TrimPrefix(line, "Working file: ")
		case line == "symbolic names:":
			var err error
			line, err = readSymbolicNames(conn, branchNames)
			if err != nil {
				return err
			}
			continue
		case line == fileSep || strings.HasPrefix(line, "revision "):
			goto revisions
		}

		next, err := nextDataLine(conn)
		if err != nil {
			return err
		}
		line = next
	}

revisions:
	if path == "" {
		return errs.New(errs.Protocol, "rlog", "rlog entry with no Working file")
	}
	file := db.FindFile(path)
	if file == nil {
		file = db.AddFile(path)
	}

	for _, name := range sortedBranchOrder(branchNames) {
		point := branchNames[name]
		registerBranch(db, name, point)
	}

	for {
		if line == fileSep {
			// rlog lists newer revisions first, so parents are linked
			// once every revision of the file is known.
			for _, v := range file.Versions {
				v.Parent = parentVersion(file, v.ID, v.Branch)
			}
			resolveTagFiles(db, file, branchNames)
			return nil
		}
		if !strings.HasPrefix(line, "revision ") {
			var err error
			line, err = nextDataLine(conn)
			if err != nil {
				return err
			}
			continue
		}

		id := strings.TrimSpace(strings.TrimPrefix(line, "revision "))

		meta, err := nextDataLine(conn)
		if err != nil {
			return err
		}
		t, author, dead := parseRevMeta(meta)

		logLines, next, err := readLogBody(conn)
		if err != nil {
			return err
		}
		line = next

		branch := branchFor(db, id, branchNames)
		parent := parentVersion(file, id, branch)

		file.AddVersion(db, id, parent, branch, author, strings.Join(logLines, "\n"), t, dead)
	}
}

// nextDataLine reads a line, transparently skipping interleaved
// M-prefixed framing the server may still emit mid-record.
func nextDataLine(conn *Conn) (string, error) {
	line, err := conn.NextLine()
	if err != nil {
		return "", err
	}
	return strings.TrimPrefix(line, "M "), nil
}

func readSymbolicNames(conn *Conn, branchNames map[string]string) (string, error) {
	for {
		line, err := nextDataLine(conn)
		if err != nil {
			return "", err
		}
		trimmed := strings.TrimSpace(line)
		if !strings.Contains(trimmed, ":") {
			return line, nil
		}
		parts := strings.SplitN(trimmed, ":", 2)
		name := strings.TrimSpace(parts[0])
		rev := strings.TrimSpace(parts[1])
		branchNames[name] = rev
	}
}

// sortedBranchOrder gives a deterministic registration order so two
// runs over the same rlog output produce identical Database.Tags
// ordering.
func sortedBranchOrder(m map[string]string) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	for i := 1; i < len(names); i++ {
		for j := i; j > 0 && names[j-1] > names[j]; j-- {
			names[j-1], names[j] = names[j], names[j-1]
		}
	}
	return names
}

// isBranchTag reports whether rev looks like a CVS magic branch
// number, i.e. it has an embedded "0" component:
// "1.2.0.2" names branch "1.2.2".
func isBranchTag(rev string) (string, bool) {
	parts := strings.Split(rev, ".")
	if len(parts) >= 2 && parts[len(parts)-2] == "0" {
		branchRev := append(append([]string{}, parts[:len(parts)-2]...), parts[len(parts)-1])
		return strings.Join(branchRev, "."), true
	}
	return "", false
}

// resolveTagFiles appends this file's tagged version onto every symbolic
// name's declared TagFiles snapshot. Must run after every revision in
// file has been added, since a branch's declared version is the branch
// point rather than the branch name's own (nonexistent) revision.
func resolveTagFiles(db *history.Database, file *history.File, branchNames map[string]string) {
	for _, name := range sortedBranchOrder(branchNames) {
		rev := branchNames[name]
		tag := db.FindTag(name)
		if tag == nil {
			continue
		}
		var v *history.Version
		if point, isBranch := branchPoint(rev); isBranch {
			v = file.FindVersion(point)
		} else {
			v = file.FindVersion(rev)
		}
		if v == nil {
			continue
		}
		tag.TagFiles = append(tag.TagFiles, history.FileVersion{File: file, Version: v})
	}
}

// branchPoint reports the revision a branch was created from: "1.2.0.2"
// was created at "1.2". Distinct from isBranchTag's returned branch
// number ("1.2.2"), which identifies the branch itself rather than the
// revision it forked from.
func branchPoint(rev string) (string, bool) {
	parts := strings.Split(rev, ".")
	if len(parts) >= 2 && parts[len(parts)-2] == "0" {
		return strings.Join(parts[:len(parts)-2], "."), true
	}
	return "", false
}

func registerBranch(db *history.Database, name, rev string) {
	if _, isBranch := isBranchTag(rev); isBranch {
		if db.FindTag(name) == nil {
			db.AddTag(name, true)
		}
		return
	}
	if db.FindTag(name) == nil {
		db.AddTag(name, false)
	}
}

func branchFor(db *history.Database, id string, branchNames map[string]string) *history.Tag {
	parts := strings.Split(id, ".")
	if len(parts) <= 2 {
		return db.Trunk()
	}
	prefix := strings.Join(parts[:len(parts)-1], ".")
	for name, rev := range branchNames {
		if branchRev, isBranch := isBranchTag(rev); isBranch && branchRev == prefix {
			if t := db.FindTag(name); t != nil {
				return t
			}
		}
	}
	return db.Trunk()
}

func parentVersion(file *history.File, id string, branch *history.Tag) *history.Version {
	parts := strings.Split(id, ".")
	if len(parts) == 2 {
		n, _ := strconv.Atoi(parts[1])
		if n <= 1 {
			return nil
		}
		return file.FindVersion(parts[0] + "." + strconv.Itoa(n-1))
	}
	// Branch revision a.b.c.d: predecessor is either a.b.c.(d-1) on the
	// same branch, or the branch point a.b otherwise.
	n, _ := strconv.Atoi(parts[len(parts)-1])
	if n > 1 {
		prior := append(append([]string{}, parts[:len(parts)-1]...), strconv.Itoa(n-1))
		if v := file.FindVersion(strings.Join(prior, ".")); v != nil {
			return v
		}
	}
	return file.FindVersion(strings.Join(parts[:len(parts)-2], "."))
}

// parseRevMeta parses an rlog "date: ...;  author: ...;  state: ...;"
// line into a Unix timestamp, author name and dead flag.
func parseRevMeta(line string) (t int64, author string, dead bool) {
	fields := strings.Split(line, ";")
	for _, f := range fields {
		f = strings.TrimSpace(f)
		switch {
		case strings.HasPrefix(f, "date: "):
			raw := strings.TrimPrefix(f, "date: ")
			raw = strings.ReplaceAll(raw, "/", "-")
			for _, layout := range []string{"2006-01-02 15:04:05 -0700", "2006-01-02 15:04:05"} {
				if parsed, err := time.Parse(layout, raw); err == nil {
					t = parsed.Unix()
					break
				}
			}
		case strings.HasPrefix(f, "author: "):
			author = strings.TrimPrefix(f, "author: ")
		case strings.HasPrefix(f, "state: "):
			dead = strings.TrimPrefix(f, "state: ") == "dead"
		}
	}
	return
}

// readLogBody reads a revision's free-text log message, terminated by
// either the next "revision " marker or the file separator, returning
// the body lines and the line that terminated it.
func readLogBody(conn *Conn) ([]string, string, error) {
	var lines []string
	for {
		line, err := nextDataLine(conn)
		if err != nil {
			return nil, "", err
		}
		if line == revSep || line == fileSep {
			return lines, line, nil
		}
		lines = append(lines, line)
	}
}
