package fetch

import "testing"

func TestParseEntryLine(t *testing.T) {
	path, id, err := parseEntryLine("/a.txt/1.4/Result of merge/-kk/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != "a.txt" || id != "1.4" {
		t.Fatalf("got (%q, %q), want (\"a.txt\", \"1.4\")", path, id)
	}
}

func TestParseEntryLineRejectsMalformed(t *testing.T) {
	if _, _, err := parseEntryLine("not an entry line"); err == nil {
		t.Fatalf("expected an error for a malformed entry line")
	}
}

func TestParseLength(t *testing.T) {
	n, err := parseLength("1234")
	if err != nil || n != 1234 {
		t.Fatalf("got (%d, %v), want (1234, nil)", n, err)
	}
}

func TestFormatUpdateDate(t *testing.T) {
	got := formatUpdateDate(0)
	want := "01 Jan 1970 00:00:00 -0000"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
