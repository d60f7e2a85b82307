package recur

import (
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"lifecal/internal/model"
)

// shorthands maps the single-word rule forms to RRULE bodies.
var shorthands = map[string]string{
	"DAILY":   "FREQ=DAILY",
	"WEEKLY":  "FREQ=WEEKLY",
	"MONTHLY": "FREQ=MONTHLY",
	"YEARLY":  "FREQ=YEARLY",
}

// ParseRule parses an RFC 5545 RRULE body ("FREQ=WEEKLY;INTERVAL=2",
// optionally prefixed with "RRULE:") or one of the shorthands daily,
// weekly, monthly, yearly. DTSTART inside the rule is ignored; the series
// is always anchored at the root event's start.
func ParseRule(raw string) (rrule.ROption, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return rrule.ROption{}, fmt.Errorf("%w: empty rule", model.ErrInvalidRecurrenceRule)
	}
	if body, ok := shorthands[strings.ToUpper(s)]; ok {
		s = body
	}
	s = strings.TrimPrefix(s, "RRULE:")

	opt, err := rrule.StrToROption(s)
	if err != nil {
		return rrule.ROption{}, fmt.Errorf("%w: %q: %v", model.ErrInvalidRecurrenceRule, raw, err)
	}
	if opt.Interval < 0 {
		return rrule.ROption{}, fmt.Errorf("%w: %q: negative interval", model.ErrInvalidRecurrenceRule, raw)
	}
	return *opt, nil
}

// ValidateRule reports whether raw parses, without building a series.
func ValidateRule(raw string) error {
	_, err := ParseRule(raw)
	return err
}

// Series is a parsed recurrence root ready to produce occurrence starts.
type Series struct {
	root  model.CalendarEvent
	rule  *rrule.RRule
	loc   *time.Location
	span  time.Duration
	until time.Time
}

// NewSeries anchors the root's rule at its start in loc (the root's own
// location when loc is nil). The earlier of the rule's UNTIL and the
// root's RecurrenceEndDate bounds the series.
func NewSeries(root model.CalendarEvent, loc *time.Location) (*Series, error) {
	if !root.IsRecurrenceRoot() {
		return nil, fmt.Errorf("%w: event %s has no recurrence rule", model.ErrInvalidRecurrenceRule, root.ID)
	}
	opt, err := ParseRule(*root.RecurrenceRule)
	if err != nil {
		return nil, err
	}
	if loc == nil {
		loc = root.StartDateTime.Location()
	}

	start := root.StartDateTime.In(loc)
	if root.IsAllDay {
		start = model.DateOnly(start, loc)
	}
	opt.Dtstart = start

	if root.RecurrenceEndDate != nil {
		end := root.RecurrenceEndDate.In(loc)
		if opt.Until.IsZero() || end.Before(opt.Until) {
			opt.Until = end
		}
	}

	r, err := rrule.NewRRule(opt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrInvalidRecurrenceRule, err)
	}

	return &Series{
		root:  root,
		rule:  r,
		loc:   loc,
		span:  root.Duration(),
		until: opt.Until,
	}, nil
}

// Between returns occurrence starts in [after, before], inclusive.
func (s *Series) Between(after, before time.Time) []time.Time {
	return s.rule.Between(after.In(s.loc), before.In(s.loc), true)
}

// Occurs reports whether t is one of the series' occurrence starts.
func (s *Series) Occurs(t time.Time) bool {
	for _, occ := range s.Between(t, t) {
		if occ.Equal(t) {
			return true
		}
	}
	return false
}

// End returns the occurrence end for an occurrence starting at start.
// All-day occurrences cover whole days in the series location.
func (s *Series) End(start time.Time) time.Time {
	if !s.root.IsAllDay {
		return start.Add(s.span)
	}
	days := int((s.span + 12*time.Hour) / (24 * time.Hour))
	if days < 1 {
		days = 1
	}
	return start.AddDate(0, 0, days)
}

// lookback is how far before a window an occurrence may start and still
// overlap it.
func (s *Series) lookback() time.Duration {
	if s.root.IsAllDay {
		return s.span + 24*time.Hour
	}
	return s.span
}

// Spans reports whether the series can have any occurrence overlapping
// [start, end]: the root must start no later than end, and the series
// must not have ended before start.
func (s *Series) Spans(start, end time.Time) bool {
	if s.root.StartDateTime.After(end) {
		return false
	}
	if !s.until.IsZero() && s.until.Add(s.lookback()).Before(start) {
		return false
	}
	return true
}

// CanonicalRule returns the root's rule as an RRULE body with shorthands
// expanded and RecurrenceEndDate folded into UNTIL.
func CanonicalRule(root model.CalendarEvent) (string, error) {
	if !root.IsRecurrenceRoot() {
		return "", fmt.Errorf("%w: event %s has no recurrence rule", model.ErrInvalidRecurrenceRule, root.ID)
	}
	opt, err := ParseRule(*root.RecurrenceRule)
	if err != nil {
		return "", err
	}
	opt.Dtstart = time.Time{}
	if root.RecurrenceEndDate != nil {
		end := root.RecurrenceEndDate.UTC()
		if opt.Until.IsZero() || end.Before(opt.Until) {
			opt.Until = end
		}
	}
	return opt.RRuleString(), nil
}
