package query

import (
	"strings"
	"time"
)

// DefaultPeriod applies when a query names no period.
const DefaultPeriod = "this_month"

// Range is a half-open [From, To) span of calendar days. A zero bound is
// unbounded on that side.
type Range struct {
	From  time.Time
	To    time.Time
	Label string
}

// Contains reports whether t falls inside the range.
func (r Range) Contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && !t.Before(r.To) {
		return false
	}
	return true
}

// Periods lists every period name ResolvePeriod understands.
var Periods = []string{
	"today", "yesterday",
	"this_week", "last_week",
	"this_month", "last_month",
	"this_year", "last_year",
	"last_7_days", "last_30_days", "last_90_days",
	"all_time",
}

// ResolvePeriod turns a period name into a date range relative to now.
// Weeks start on Monday. Names are matched case-insensitively and accept
// spaces or dashes in place of underscores.
func ResolvePeriod(name string, now time.Time) (Range, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	key = strings.NewReplacer(" ", "_", "-", "_").Replace(key)
	if key == "" {
		key = DefaultPeriod
	}

	y, m, d := now.UTC().Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	tomorrow := today.AddDate(0, 0, 1)
	monday := today.AddDate(0, 0, -((int(today.Weekday()) + 6) % 7))
	firstOfMonth := time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
	firstOfYear := time.Date(y, time.January, 1, 0, 0, 0, 0, time.UTC)

	label := strings.ReplaceAll(key, "_", " ")
	switch key {
	case "today":
		return Range{today, tomorrow, label}, true
	case "yesterday":
		return Range{today.AddDate(0, 0, -1), today, label}, true
	case "this_week":
		return Range{monday, monday.AddDate(0, 0, 7), label}, true
	case "last_week":
		return Range{monday.AddDate(0, 0, -7), monday, label}, true
	case "this_month":
		return Range{firstOfMonth, firstOfMonth.AddDate(0, 1, 0), label}, true
	case "last_month":
		return Range{firstOfMonth.AddDate(0, -1, 0), firstOfMonth, label}, true
	case "this_year":
		return Range{firstOfYear, firstOfYear.AddDate(1, 0, 0), label}, true
	case "last_year":
		return Range{firstOfYear.AddDate(-1, 0, 0), firstOfYear, label}, true
	case "last_7_days":
		return Range{tomorrow.AddDate(0, 0, -7), tomorrow, label}, true
	case "last_30_days":
		return Range{tomorrow.AddDate(0, 0, -30), tomorrow, label}, true
	case "last_90_days":
		return Range{tomorrow.AddDate(0, 0, -90), tomorrow, label}, true
	case "all_time":
		return Range{Label: label}, true
	}
	return Range{}, false
}
