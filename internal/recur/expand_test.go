package recur

import (
	"errors"
	"strings"
	"testing"
	"time"

	"lifecal/internal/model"
)

func date(y int, m time.Month, d, h, min int) time.Time {
	return time.Date(y, m, d, h, min, 0, 0, time.UTC)
}

func standup() model.CalendarEvent {
	return model.CalendarEvent{
		ID:               "root",
		CalendarSourceID: "work",
		Title:            "Weekly Standup",
		StartDateTime:    date(2024, 1, 1, 9, 0),
		EndDateTime:      date(2024, 1, 1, 9, 30),
		RecurrenceRule:   model.Ptr("weekly"),
	}
}

func starts(events []model.CalendarEvent) []time.Time {
	out := make([]time.Time, 0, len(events))
	for _, e := range events {
		out = append(out, e.StartDateTime)
	}
	return out
}

func TestExpandWeeklyStandupSingleWeek(t *testing.T) {
	res, err := Expand(standup(), nil, date(2024, 1, 8, 0, 0), date(2024, 1, 15, 0, 0), Config{})
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if len(res.Events) != 1 {
		t.Fatalf("got %d occurrences, want 1: %v", len(res.Events), starts(res.Events))
	}

	occ := res.Events[0]
	if !occ.StartDateTime.Equal(date(2024, 1, 8, 9, 0)) || !occ.EndDateTime.Equal(date(2024, 1, 8, 9, 30)) {
		t.Fatalf("occurrence = %v - %v", occ.StartDateTime, occ.EndDateTime)
	}
	if !occ.IsRecurringInstance || model.Deref(occ.ParentEventID) != "root" {
		t.Fatalf("virtual instance fields not set: %+v", occ)
	}
	if occ.OriginalStartDateTime == nil || !occ.OriginalStartDateTime.Equal(occ.StartDateTime) {
		t.Fatalf("original start = %v", occ.OriginalStartDateTime)
	}
	if occ.RecurrenceRule != nil {
		t.Fatal("virtual instance must not carry the rule")
	}
	if occ.ID != InstanceID("root", occ.StartDateTime) {
		t.Fatalf("id = %s", occ.ID)
	}
}

func TestExpandIsAnchorStable(t *testing.T) {
	root := standup()
	root.RecurrenceRule = model.Ptr("FREQ=DAILY;INTERVAL=3")

	w1, w2, w3 := date(2024, 1, 5, 0, 0), date(2024, 1, 20, 12, 0), date(2024, 2, 10, 0, 0)

	whole, err := Expand(root, nil, w1, w3, Config{})
	if err != nil {
		t.Fatal(err)
	}
	first, err := Expand(root, nil, w1, w2, Config{})
	if err != nil {
		t.Fatal(err)
	}
	second, err := Expand(root, nil, w2, w3, Config{})
	if err != nil {
		t.Fatal(err)
	}

	seen := map[time.Time]bool{}
	for _, e := range append(first.Events, second.Events...) {
		seen[e.StartDateTime] = true
	}
	if len(seen) != len(whole.Events) {
		t.Fatalf("split windows gave %d distinct starts, whole gave %d", len(seen), len(whole.Events))
	}
	for _, e := range whole.Events {
		if !seen[e.StartDateTime] {
			t.Fatalf("occurrence %v missing from split query", e.StartDateTime)
		}
		if days := int(e.StartDateTime.Sub(root.StartDateTime).Hours()) / 24; days%3 != 0 {
			t.Fatalf("occurrence %v drifted from anchor", e.StartDateTime)
		}
	}
}

func TestExpandDetachedOverrideReplacesVirtual(t *testing.T) {
	root := standup()
	orig := date(2024, 1, 15, 9, 0)
	moved := model.CalendarEvent{
		ID:                    "detached",
		CalendarSourceID:      "work",
		Title:                 "Standup (moved)",
		StartDateTime:         date(2024, 1, 15, 11, 0),
		EndDateTime:           date(2024, 1, 15, 11, 30),
		ParentEventID:         model.Ptr("root"),
		IsRecurringInstance:   true,
		OriginalStartDateTime: &orig,
	}

	res, err := Expand(root, []model.CalendarEvent{moved}, date(2024, 1, 8, 0, 0), date(2024, 1, 22, 23, 0), Config{})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Events) != 3 {
		t.Fatalf("got %v", starts(res.Events))
	}
	count := 0
	for _, e := range res.Events {
		if e.StartDateTime.Equal(orig) {
			t.Fatal("virtual occurrence at overridden slot was emitted")
		}
		if e.ID == "detached" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("override emitted %d times, want 1", count)
	}
}

func TestExpandTombstoneOmitsOccurrence(t *testing.T) {
	root := standup()
	orig := date(2024, 1, 8, 9, 0)
	tomb := model.CalendarEvent{
		ID:                    "tomb",
		CalendarSourceID:      "work",
		StartDateTime:         orig,
		EndDateTime:           orig.Add(30 * time.Minute),
		ParentEventID:         model.Ptr("root"),
		IsRecurringInstance:   true,
		OriginalStartDateTime: &orig,
		IsCancelled:           true,
	}

	res, err := Expand(root, []model.CalendarEvent{tomb}, date(2024, 1, 8, 0, 0), date(2024, 1, 15, 0, 0), Config{})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Events) != 0 {
		t.Fatalf("tombstoned occurrence emitted: %v", starts(res.Events))
	}
}

func TestExpandOverrideMovedIntoWindow(t *testing.T) {
	root := standup()
	orig := date(2024, 1, 8, 9, 0)
	moved := model.CalendarEvent{
		ID:                    "moved",
		CalendarSourceID:      "work",
		Title:                 "Standup",
		StartDateTime:         date(2024, 1, 12, 9, 0),
		EndDateTime:           date(2024, 1, 12, 9, 30),
		ParentEventID:         model.Ptr("root"),
		IsRecurringInstance:   true,
		OriginalStartDateTime: &orig,
	}

	res, err := Expand(root, []model.CalendarEvent{moved}, date(2024, 1, 10, 0, 0), date(2024, 1, 13, 0, 0), Config{})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Events) != 1 || res.Events[0].ID != "moved" {
		t.Fatalf("want moved override only, got %v", starts(res.Events))
	}

	// Querying the original slot shows neither the virtual nor the moved instance.
	res, err = Expand(root, []model.CalendarEvent{moved}, date(2024, 1, 8, 0, 0), date(2024, 1, 8, 23, 0), Config{})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Events) != 0 {
		t.Fatalf("original slot still shows %v", starts(res.Events))
	}
}

func TestExpandHonorsRecurrenceEndDate(t *testing.T) {
	root := standup()
	root.RecurrenceRule = model.Ptr("FREQ=DAILY")
	root.RecurrenceEndDate = model.Ptr(date(2024, 1, 3, 9, 0))

	res, err := Expand(root, nil, date(2024, 1, 1, 0, 0), date(2024, 2, 1, 0, 0), Config{})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Events) != 3 {
		t.Fatalf("want 3 occurrences through Jan 3, got %v", starts(res.Events))
	}
}

func TestExpandEarlierOfUntilAndEndDate(t *testing.T) {
	root := standup()
	root.RecurrenceRule = model.Ptr("FREQ=DAILY;UNTIL=20240102T235959Z")
	root.RecurrenceEndDate = model.Ptr(date(2024, 1, 10, 0, 0))

	res, err := Expand(root, nil, date(2024, 1, 1, 0, 0), date(2024, 1, 31, 0, 0), Config{})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Events) != 2 {
		t.Fatalf("want 2 occurrences, got %v", starts(res.Events))
	}
}

func TestExpandIncludesOccurrenceStartedBeforeWindow(t *testing.T) {
	root := standup()
	root.RecurrenceRule = model.Ptr("FREQ=DAILY")
	root.EndDateTime = root.StartDateTime.Add(3 * time.Hour)

	res, err := Expand(root, nil, date(2024, 1, 2, 10, 0), date(2024, 1, 2, 11, 0), Config{})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Events) != 1 || !res.Events[0].StartDateTime.Equal(date(2024, 1, 2, 9, 0)) {
		t.Fatalf("overlapping occurrence missing: %v", starts(res.Events))
	}
}

func TestExpandAllDay(t *testing.T) {
	root := model.CalendarEvent{
		ID:               "bday",
		CalendarSourceID: "personal",
		Title:            "Birthday",
		StartDateTime:    date(2020, 3, 14, 0, 0),
		EndDateTime:      date(2020, 3, 15, 0, 0),
		IsAllDay:         true,
		RecurrenceRule:   model.Ptr("yearly"),
	}
	res, err := Expand(root, nil, date(2024, 3, 14, 12, 0), date(2024, 3, 14, 13, 0), Config{})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Events) != 1 {
		t.Fatalf("got %v", starts(res.Events))
	}
	if got := res.Events[0]; !got.StartDateTime.Equal(date(2024, 3, 14, 0, 0)) || !got.EndDateTime.Equal(date(2024, 3, 15, 0, 0)) {
		t.Fatalf("all-day occurrence = %v - %v", got.StartDateTime, got.EndDateTime)
	}
}

func TestExpandStepsInConfiguredLocation(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	root := standup()
	root.StartDateTime = time.Date(2024, 3, 25, 9, 0, 0, 0, berlin).UTC()
	root.EndDateTime = root.StartDateTime.Add(30 * time.Minute)
	root.RecurrenceRule = model.Ptr("FREQ=DAILY")

	// Crossing back over the October DST change keeps 09:00 local.
	res, err := Expand(root, nil, time.Date(2024, 10, 28, 0, 0, 0, 0, berlin), time.Date(2024, 10, 28, 23, 0, 0, 0, berlin), Config{Location: berlin})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Events) != 1 {
		t.Fatalf("got %v", starts(res.Events))
	}
	if h := res.Events[0].StartDateTime.In(berlin).Hour(); h != 9 {
		t.Fatalf("local hour = %d, want 9", h)
	}
}

func TestExpandCapTruncates(t *testing.T) {
	root := standup()
	root.RecurrenceRule = model.Ptr("FREQ=HOURLY")
	root.EndDateTime = root.StartDateTime.Add(time.Minute)

	res, err := Expand(root, nil, date(2024, 1, 1, 0, 0), date(2024, 2, 1, 0, 0), Config{MaxOccurrences: 10})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Truncated || len(res.Events) != 10 {
		t.Fatalf("truncated=%v len=%d", res.Truncated, len(res.Events))
	}
}

func TestExpandErrors(t *testing.T) {
	root := standup()
	_, err := Expand(root, nil, date(2024, 2, 1, 0, 0), date(2024, 1, 1, 0, 0), Config{})
	if !errors.Is(err, model.ErrMalformedWindow) {
		t.Fatalf("want ErrMalformedWindow, got %v", err)
	}

	root.RecurrenceRule = model.Ptr("FREQ=SOMETIMES")
	_, err = Expand(root, nil, date(2024, 1, 1, 0, 0), date(2024, 2, 1, 0, 0), Config{})
	if !errors.Is(err, model.ErrInvalidRecurrenceRule) {
		t.Fatalf("want ErrInvalidRecurrenceRule, got %v", err)
	}

	root.RecurrenceRule = nil
	_, err = Expand(root, nil, date(2024, 1, 1, 0, 0), date(2024, 2, 1, 0, 0), Config{})
	if !errors.Is(err, model.ErrInvalidRecurrenceRule) {
		t.Fatalf("non-root should be rejected, got %v", err)
	}
}

func TestParseRuleForms(t *testing.T) {
	for _, raw := range []string{"daily", "Weekly", "RRULE:FREQ=MONTHLY;INTERVAL=2", "FREQ=WEEKLY;BYDAY=MO,WE;COUNT=4"} {
		if err := ValidateRule(raw); err != nil {
			t.Errorf("ValidateRule(%q): %v", raw, err)
		}
	}
	for _, raw := range []string{"", "fortnightly", "INTERVAL=2"} {
		if err := ValidateRule(raw); !errors.Is(err, model.ErrInvalidRecurrenceRule) {
			t.Errorf("ValidateRule(%q) = %v, want ErrInvalidRecurrenceRule", raw, err)
		}
	}
}

func TestInstanceIDRoundTrip(t *testing.T) {
	start := date(2024, 1, 8, 9, 0)
	rootID, got, ok := ParseInstanceID(InstanceID("9b1c-aa", start))
	if !ok || rootID != "9b1c-aa" || !got.Equal(start) {
		t.Fatalf("ParseInstanceID = %q %v %v", rootID, got, ok)
	}
	if _, _, ok := ParseInstanceID("plain-id"); ok {
		t.Fatal("plain id parsed as instance id")
	}
}

func TestCanonicalRule(t *testing.T) {
	root := standup()
	got, err := CanonicalRule(root)
	if err != nil || got != "FREQ=WEEKLY" {
		t.Fatalf("CanonicalRule = %q, %v", got, err)
	}

	root.RecurrenceEndDate = model.Ptr(date(2024, 2, 1, 0, 0))
	got, err = CanonicalRule(root)
	if err != nil || !strings.Contains(got, "UNTIL=20240201T000000Z") {
		t.Fatalf("end date not folded into UNTIL: %q, %v", got, err)
	}
}
