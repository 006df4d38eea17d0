package util

import (
	"testing"
	"time"
)

func krxCalendar(t *testing.T) *Calendar {
	t.Helper()
	c, err := NewCalendar(CalendarSpec{
		Timezone: "Asia/Seoul", Open: "09:00", Close: "15:30",
		ScanStart: "09:00", ScanEnd: "11:00", ForceClose: "15:20",
	})
	if err != nil {
		t.Fatalf("calendar: %v", err)
	}
	return c
}

func TestCalendarWindows(t *testing.T) {
	c := krxCalendar(t)
	kst := c.Location()
	at := func(h, m int) time.Time { return time.Date(2024, 3, 4, h, m, 0, 0, kst) }

	cases := []struct {
		name                   string
		t                      time.Time
		session, scan, closing bool
	}{
		{"pre-open", at(8, 59), false, false, false},
		{"open", at(9, 0), true, true, false},
		{"scan end inclusive", at(11, 0), true, true, false},
		{"after scan", at(11, 1), true, false, false},
		{"force close", at(15, 20), true, false, true},
		{"close", at(15, 30), true, false, true},
		{"after close", at(15, 31), false, false, true},
	}
	for _, tc := range cases {
		if got := c.InSession(tc.t); got != tc.session {
			t.Errorf("%s: InSession=%v", tc.name, got)
		}
		if got := c.InScanWindow(tc.t); got != tc.scan {
			t.Errorf("%s: InScanWindow=%v", tc.name, got)
		}
		if got := c.AtForceClose(tc.t); got != tc.closing {
			t.Errorf("%s: AtForceClose=%v", tc.name, got)
		}
	}
}

func TestCalendarSessionDateUsesExchangeZone(t *testing.T) {
	c := krxCalendar(t)
	// 2024-03-04 23:30 UTC is 2024-03-05 08:30 KST
	utc := time.Date(2024, 3, 4, 23, 30, 0, 0, time.UTC)
	if got := c.SessionDate(utc); got != "2024-03-05" {
		t.Fatalf("session date %s", got)
	}
	if got := c.SinceOpen(utc); got != -30*time.Minute {
		t.Fatalf("since open %s", got)
	}
	want := time.Date(2024, 3, 5, 9, 0, 0, 0, c.Location())
	if got := c.SessionStart(utc); !got.Equal(want) {
		t.Fatalf("session start %v", got)
	}
}

func TestNewCalendarRejectsBadSpecs(t *testing.T) {
	bad := []CalendarSpec{
		{Timezone: "Nowhere/City", Open: "09:00", Close: "15:30", ScanStart: "09:00", ScanEnd: "11:00"},
		{Timezone: "UTC", Open: "15:30", Close: "09:00", ScanStart: "09:00", ScanEnd: "11:00"},
		{Timezone: "UTC", Open: "09:00", Close: "15:30", ScanStart: "11:00", ScanEnd: "10:00"},
		{Timezone: "UTC", Open: "09:00", Close: "15:30", ScanStart: "08:00", ScanEnd: "10:00"},
		{Timezone: "UTC", Open: "09:00", Close: "15:30", ScanStart: "09:00", ScanEnd: "11:00", ForceClose: "16:00"},
		{Timezone: "UTC", Open: "9am", Close: "15:30", ScanStart: "09:00", ScanEnd: "11:00"},
	}
	for i, spec := range bad {
		if _, err := NewCalendar(spec); err == nil {
			t.Errorf("spec %d: expected error", i)
		}
	}
}
