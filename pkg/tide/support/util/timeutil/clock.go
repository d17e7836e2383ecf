// Package timeutil holds the clock used to stamp status records in the
// configured business time zone.
package timeutil

import (
	"time"

	"github.com/tigerroll/tide/pkg/tide/support/util/logger"
)

// DefaultZone is used when no zone is configured or the configured one is unknown.
const DefaultZone = "America/Chicago"

// DisplayLayout is the layout used by Format.
const DisplayLayout = "2006-01-02 15:04:05 MST"

// Clock returns the current time in a fixed location.
type Clock struct {
	loc *time.Location
	now func() time.Time
}

// NewClock loads zone and returns a Clock for it. Unknown zones fall back to
// DefaultZone, and to UTC when the tz database is unavailable.
func NewClock(zone string) *Clock {
	if zone == "" {
		zone = DefaultZone
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		logger.Warnf("Unknown time zone '%s', falling back to %s: %v", zone, DefaultZone, err)
		loc, err = time.LoadLocation(DefaultZone)
		if err != nil {
			logger.Warnf("Time zone %s unavailable, using UTC: %v", DefaultZone, err)
			loc = time.UTC
		}
	}
	return &Clock{loc: loc, now: time.Now}
}

// NewFixedClock returns a Clock that always reports t. Used by tests.
func NewFixedClock(t time.Time) *Clock {
	return &Clock{loc: t.Location(), now: func() time.Time { return t }}
}

// Now returns the current time in the clock's location.
func (c *Clock) Now() time.Time {
	return c.now().In(c.loc)
}

// Location returns the clock's location.
func (c *Clock) Location() *time.Location {
	return c.loc
}

// Format renders t in the clock's location.
func (c *Clock) Format(t time.Time) string {
	return t.In(c.loc).Format(DisplayLayout)
}
