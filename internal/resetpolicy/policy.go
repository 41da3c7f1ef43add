// Package resetpolicy defines the civil day that daily usage counters belong to
// and the instant they roll over.
//
// The policy runs on a real IANA location, so TodayKey changes exactly at civil
// midnight and days around DST transitions are 23 or 25 hours long. When the
// location cannot be loaded the policy degrades to a fixed UTC offset; in that
// mode the reset instant can be off from civil midnight by up to one hour while
// daylight saving time is in effect.
package resetpolicy

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"
)

const dateKeyLayout = "2006-01-02"

type Policy struct {
	loc         *time.Location
	approximate bool
}

// New loads timezone, falling back to a fixed offset of fallbackOffsetHours.
func New(timezone string, fallbackOffsetHours int) *Policy {
	timezone = strings.TrimSpace(timezone)
	if timezone != "" {
		if loc, err := time.LoadLocation(timezone); err == nil {
			return &Policy{loc: loc}
		}
	}
	name := fmt.Sprintf("UTC%+d", fallbackOffsetHours)
	return &Policy{
		loc:         time.FixedZone(name, fallbackOffsetHours*3600),
		approximate: true,
	}
}

// NewWithLocation is mostly useful in tests.
func NewWithLocation(loc *time.Location) *Policy {
	if loc == nil {
		loc = time.UTC
	}
	return &Policy{loc: loc}
}

func (p *Policy) Location() *time.Location {
	return p.loc
}

// Approximate reports whether the policy runs on the fixed-offset fallback.
func (p *Policy) Approximate() bool {
	return p.approximate
}

// TodayKey formats now as YYYY-MM-DD in the policy location.
func (p *Policy) TodayKey(now time.Time) string {
	return now.In(p.loc).Format(dateKeyLayout)
}

// NextReset returns the next civil midnight after now, in UTC.
func (p *Policy) NextReset(now time.Time) time.Time {
	y, m, d := now.In(p.loc).Date()
	next := time.Date(y, m, d+1, 0, 0, 0, 0, p.loc)
	// Zones that skip midnight on a transition day may normalize backwards.
	for !next.After(now) {
		next = next.Add(time.Hour)
	}
	return next.UTC()
}
