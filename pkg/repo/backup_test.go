package repo

import (
	"testing"
	"time"
)

func TestEscapeFieldRoundTrip(t *testing.T) {
	cases := []string{
		"plain",
		"",
		"with\ttab",
		"with\nnewline",
		"with\\backslash",
		"mix\t\\of\nall\r",
	}
	for _, tc := range cases {
		escaped := escapeField(tc)
		if got := unescapeField(escaped); got != tc {
			t.Errorf("round trip of %q: escaped=%q unescaped=%q", tc, escaped, got)
		}
	}
}

func TestEscapedFieldsStayOneLine(t *testing.T) {
	escaped := escapeField("a\nb\tc")
	for _, r := range escaped {
		if r == '\n' || r == '\t' {
			t.Fatalf("escaped field %q contains a raw separator", escaped)
		}
	}
}

func TestNullMarkerSurvivesEscaping(t *testing.T) {
	if escapeField(nullField) != nullField {
		t.Errorf("escapeField(\\N) = %q", escapeField(nullField))
	}
	if unescapeField(nullField) != nullField {
		t.Errorf("unescapeField(\\N) = %q", unescapeField(nullField))
	}
}

func TestTimeFieldRoundTrip(t *testing.T) {
	ts := time.Date(2013, 4, 24, 1, 2, 3, 456789000, time.UTC)

	if got := parseTime(formatTime(ts)); !got.Equal(ts) {
		t.Errorf("time round trip = %v, want %v", got, ts)
	}

	if formatTimePtr(nil) != nullField {
		t.Errorf("formatTimePtr(nil) = %q", formatTimePtr(nil))
	}
	if parseTimePtr(nullField) != nil {
		t.Error("parseTimePtr(\\N) should be nil")
	}
	if got := parseTimePtr(formatTimePtr(&ts)); got == nil || !got.Equal(ts) {
		t.Errorf("time ptr round trip = %v", got)
	}
}

func TestBoolField(t *testing.T) {
	if formatBool(true) != "t" || formatBool(false) != "f" {
		t.Error("bool encoding should match pg text format")
	}
}

func TestBackupKeysSortChronologically(t *testing.T) {
	older := time.Date(2013, 4, 24, 1, 0, 0, 0, time.UTC).Format(backupKeyFormat)
	newer := time.Date(2013, 11, 2, 23, 0, 0, 0, time.UTC).Format(backupKeyFormat)
	if older >= newer {
		t.Errorf("key order broken: %s >= %s", older, newer)
	}
}

func TestBackupColumnsCoverEveryTable(t *testing.T) {
	for _, table := range backupTables {
		cols, ok := backupColumns[table]
		if !ok || len(cols) == 0 {
			t.Errorf("table %s has no column contract", table)
		}
	}
	// files is the widest table and the one whose ordering the dump format
	// leans on hardest.
	if len(backupColumns["s3_repo.files"]) != 15 {
		t.Errorf("files column contract has %d columns", len(backupColumns["s3_repo.files"]))
	}
}
