package remote

import (
	"bufio"
	"strings"
	"testing"

	"crap-clone/control"
	"crap-clone/history"
)

func TestIsBranchTag(t *testing.T) {
	cases := []struct {
		rev        string
		wantBranch string
		wantIsBr   bool
	}{
		{"1.2.0.2", "1.2.2", true},
		{"1.4", "", false},
		{"1.2.4.6.0.2", "1.2.4.6.2", true},
	}
	for _, c := range cases {
		branch, isBr := isBranchTag(c.rev)
		if isBr != c.wantIsBr || (isBr && branch != c.wantBranch) {
			t.Errorf("isBranchTag(%q) = (%q, %v), want (%q, %v)", c.rev, branch, isBr, c.wantBranch, c.wantIsBr)
		}
	}
}

func TestParseRevMeta(t *testing.T) {
	line := "date: 2020-01-02 03:04:05 +0000;  author: user;  state: Exp;"
	ts, author, dead := parseRevMeta(line)
	if author != "user" || dead {
		t.Fatalf("parseRevMeta: got author=%q dead=%v", author, dead)
	}
	if ts == 0 {
		t.Fatalf("parseRevMeta: expected a non-zero timestamp")
	}
}

func TestParseRevMetaDeadState(t *testing.T) {
	_, _, dead := parseRevMeta("date: 2020-01-02 03:04:05 +0000;  author: user;  state: dead;")
	if !dead {
		t.Fatalf("expected state: dead to set the dead flag")
	}
}

// S4/S5 — a real rlog transcript with a symbolic-names section must
// leave both a plain tag and a branch with their declared
// (file, version) snapshot populated, not just a registered Tag
// record: dominantParentBranch and fixup.Ensure both read TagFiles,
// not the Tag's mere existence.
func TestReadRlogPopulatesTagFiles(t *testing.T) {
	transcript := strings.Join([]string{
		"M RCS file: /cvsroot/mod/a.txt,v",
		"M Working file: a.txt",
		"M symbolic names:",
		"M \tREL1: 1.1",
		"M \tBR1: 1.1.0.2",
		"M ----------------------------",
		"M revision 1.2",
		"M date: 2020-01-02 03:04:05 +0000;  author: user;  state: Exp;",
		"M log line one",
		"M ----------------------------",
		"M revision 1.1",
		"M date: 2020-01-01 00:00:00 +0000;  author: user;  state: Exp;",
		"M initial",
		"M =============================================================================",
		"ok",
		"",
	}, "\n")

	conn := &Conn{reader: bufio.NewReader(strings.NewReader(transcript))}
	ctl := control.New(nil)
	db := history.NewDatabase(ctl)

	if err := ReadRlog(conn, "mod", db); err != nil {
		t.Fatalf("ReadRlog: %v", err)
	}

	file := db.FindFile("a.txt")
	if file == nil {
		t.Fatalf("expected a.txt to be registered")
	}
	v11 := file.FindVersion("1.1")
	if v11 == nil {
		t.Fatalf("expected revision 1.1 to be registered")
	}

	rel1 := db.FindTag("REL1")
	if rel1 == nil {
		t.Fatalf("expected REL1 to be registered")
	}
	if len(rel1.TagFiles) != 1 || rel1.TagFiles[0].Version != v11 {
		t.Fatalf("expected REL1.TagFiles to declare a.txt@1.1, got %+v", rel1.TagFiles)
	}

	br1 := db.FindTag("BR1")
	if br1 == nil || !br1.IsBranch {
		t.Fatalf("expected BR1 to be registered as a branch")
	}
	if len(br1.TagFiles) != 1 || br1.TagFiles[0].Version != v11 {
		t.Fatalf("expected BR1.TagFiles to declare its branch point a.txt@1.1, got %+v", br1.TagFiles)
	}
}

func TestSortedBranchOrderIsDeterministic(t *testing.T) {
	m := map[string]string{"zeta": "1.1", "alpha": "1.2", "mid": "1.3"}
	got := sortedBranchOrder(m)
	want := []string{"alpha", "mid", "zeta"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}
