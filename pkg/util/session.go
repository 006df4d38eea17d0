package util

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"
)

// ParseClock parses a wall-clock time of day in HH:MM or HH:MM:SS form
// and returns its offset from midnight.
func ParseClock(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"15:04", "15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Duration(t.Hour())*time.Hour +
				time.Duration(t.Minute())*time.Minute +
				time.Duration(t.Second())*time.Second, nil
		}
	}
	return 0, fmt.Errorf("invalid clock %q", s)
}

// Calendar answers session questions for bar timestamps in the exchange's timezone.
type Calendar struct {
	loc           *time.Location
	open          time.Duration
	close         time.Duration
	scanStart     time.Duration
	scanEnd       time.Duration
	forceClose    time.Duration
	hasForceClose bool
}

// CalendarSpec is the textual form of a Calendar.
type CalendarSpec struct {
	Timezone   string
	Open       string
	Close      string
	ScanStart  string
	ScanEnd    string
	ForceClose string // empty disables forced close
}

func NewCalendar(spec CalendarSpec) (*Calendar, error) {
	loc, err := time.LoadLocation(spec.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", spec.Timezone, err)
	}
	c := &Calendar{loc: loc}
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"open", spec.Open, &c.open},
		{"close", spec.Close, &c.close},
		{"scan_start", spec.ScanStart, &c.scanStart},
		{"scan_end", spec.ScanEnd, &c.scanEnd},
	}
	for _, f := range fields {
		d, err := ParseClock(f.raw)
		if err != nil {
			return nil, fmt.Errorf("session %s: %w", f.name, err)
		}
		*f.dst = d
	}
	if spec.ForceClose != "" {
		d, err := ParseClock(spec.ForceClose)
		if err != nil {
			return nil, fmt.Errorf("session force_close: %w", err)
		}
		c.forceClose = d
		c.hasForceClose = true
	}

	switch {
	case c.open >= c.close:
		return nil, fmt.Errorf("session open %s must be before close %s", spec.Open, spec.Close)
	case c.scanStart >= c.scanEnd:
		return nil, fmt.Errorf("scan window %s-%s is empty", spec.ScanStart, spec.ScanEnd)
	case c.scanStart < c.open || c.scanEnd > c.close:
		return nil, fmt.Errorf("scan window %s-%s outside session", spec.ScanStart, spec.ScanEnd)
	case c.hasForceClose && (c.forceClose <= c.open || c.forceClose > c.close):
		return nil, fmt.Errorf("force_close %s outside session", spec.ForceClose)
	}
	return c, nil
}

func (c *Calendar) Location() *time.Location { return c.loc }

// TimeOfDay is the offset of t from local midnight.
func (c *Calendar) TimeOfDay(t time.Time) time.Duration {
	local := t.In(c.loc)
	h, m, s := local.Clock()
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute +
		time.Duration(s)*time.Second + time.Duration(local.Nanosecond())
}

// SessionDate is the local trading date of t, formatted 2006-01-02.
func (c *Calendar) SessionDate(t time.Time) string {
	return t.In(c.loc).Format("2006-01-02")
}

// SinceOpen is negative before the open.
func (c *Calendar) SinceOpen(t time.Time) time.Duration {
	return c.TimeOfDay(t) - c.open
}

func (c *Calendar) InSession(t time.Time) bool {
	tod := c.TimeOfDay(t)
	return tod >= c.open && tod <= c.close
}

// InScanWindow reports whether new entries may be considered at t. Both ends are inclusive.
func (c *Calendar) InScanWindow(t time.Time) bool {
	tod := c.TimeOfDay(t)
	return tod >= c.scanStart && tod <= c.scanEnd
}

// AtForceClose reports whether open positions must be flattened at t.
func (c *Calendar) AtForceClose(t time.Time) bool {
	if !c.hasForceClose {
		return c.TimeOfDay(t) >= c.close
	}
	return c.TimeOfDay(t) >= c.forceClose
}

// SessionStart returns the open of the session containing t.
func (c *Calendar) SessionStart(t time.Time) time.Time {
	local := t.In(c.loc)
	y, mo, d := local.Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, c.loc).Add(c.open)
}
