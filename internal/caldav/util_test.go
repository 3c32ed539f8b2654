package caldav

import (
	"testing"
	"time"
)

func TestSplitPath(t *testing.T) {
	cases := []struct {
		name       string
		path       string
		wantUser   string
		wantUID    string
		wantOK     bool
	}{
		{"collection", "/42/", "42", "", true},
		{"collection no trailing slash", "42", "42", "", true},
		{"resource", "/42/abc-123.ics", "42", "abc-123", true},
		{"empty", "/", "", "", false},
		{"resource missing ics suffix", "/42/abc-123", "", "", false},
		{"too many segments", "/42/abc/def.ics", "", "", false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			user, uid, ok := splitPath(c.path)
			if ok != c.wantOK || user != c.wantUser || uid != c.wantUID {
				t.Fatalf("splitPath(%q) = (%q, %q, %v), want (%q, %q, %v)",
					c.path, user, uid, ok, c.wantUser, c.wantUID, c.wantOK)
			}
		})
	}
}

func TestJoinURL(t *testing.T) {
	cases := []struct {
		parts []string
		want  string
	}{
		{[]string{"/caldav", "42", "abc.ics"}, "/caldav/42/abc.ics"},
		{[]string{"caldav/", "/42/"}, "/caldav/42"},
		{[]string{""}, "/"},
		{nil, "/"},
	}
	for _, c := range cases {
		if got := joinURL(c.parts...); got != c.want {
			t.Fatalf("joinURL(%v) = %q, want %q", c.parts, got, c.want)
		}
	}
}

func TestParseICalTime(t *testing.T) {
	got, err := parseICalTime("20260130T120000Z")
	if err != nil {
		t.Fatalf("parse datetime: %v", err)
	}
	want := time.Date(2026, 1, 30, 12, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}

	got, err = parseICalTime("20260130")
	if err != nil {
		t.Fatalf("parse date: %v", err)
	}
	want = time.Date(2026, 1, 30, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}

	if _, err := parseICalTime("not-a-time"); err == nil {
		t.Fatal("expected error for malformed time")
	}
}

func TestSafeSegment(t *testing.T) {
	ok := []string{"abc-123", "event_1", "uid.with.dots"}
	bad := []string{"", "a/b", "a\\b", "..", "../escape"}
	for _, s := range ok {
		if !safeSegment(s) {
			t.Errorf("safeSegment(%q) = false, want true", s)
		}
	}
	for _, s := range bad {
		if safeSegment(s) {
			t.Errorf("safeSegment(%q) = true, want false", s)
		}
	}
}
