package util

import (
	"strconv"
	"testing"
	"time"
)

func TestParseTimeRFC3339(t *testing.T) {
	s := "2024-10-10T10:10:10Z"
	got, ok := ParseTime(s)
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.UTC().Format(time.RFC3339) != s {
		t.Fatalf("unexpected time %v", got)
	}
}

func TestParseTimeUnix(t *testing.T) {
	ts := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC)
	got, ok := ParseTime(strconv.FormatInt(ts.Unix(), 10))
	if !ok || !got.Equal(ts) {
		t.Fatalf("unexpected unix seconds %v", got)
	}
	got, ok = ParseTime(strconv.FormatInt(ts.UnixMilli(), 10))
	if !ok || !got.Equal(ts) {
		t.Fatalf("unexpected unix millis %v", got)
	}
}

func TestParseTimeInLocation(t *testing.T) {
	kst := time.FixedZone("KST", 9*3600)
	got, ok := ParseTimeIn("2024-03-04 09:01:00", kst)
	if !ok {
		t.Fatalf("expected ok")
	}
	want := time.Date(2024, 3, 4, 0, 1, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestParseTimeDefault(t *testing.T) {
	def := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC)
	got := ParseTimeDefault("", def)
	if !got.Equal(def) {
		t.Fatalf("expected default")
	}
	if _, ok := ParseTime("not a time"); ok {
		t.Fatalf("expected failure")
	}
}

func TestParseTimeDateOnly(t *testing.T) {
	kst := time.FixedZone("KST", 9*3600)
	got, ok := ParseTimeIn("2024-03-04", kst)
	if !ok || !got.Equal(time.Date(2024, 3, 4, 0, 0, 0, 0, kst)) {
		t.Fatalf("unexpected date %v", got)
	}
}
