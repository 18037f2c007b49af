package sync

import (
	"strings"
	"time"
)

// DateFilter selects how far back a sync looks.
type DateFilter string

const (
	DateAll        DateFilter = "all"
	DateToday      DateFilter = "today"
	DateLast7Days  DateFilter = "last7days"
	DateLast30Days DateFilter = "last30days"
)

// Valid reports whether f is a known selector. The empty filter means DateAll.
func (f DateFilter) Valid() bool {
	switch f {
	case "", DateAll, DateToday, DateLast7Days, DateLast30Days:
		return true
	}
	return false
}

// Since returns the start of the window relative to now, truncated to the day
// in now's location. ok is false for DateAll.
func (f DateFilter) Since(now time.Time) (since time.Time, ok bool) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	switch f {
	case DateToday:
		return today, true
	case DateLast7Days:
		return today.AddDate(0, 0, -7), true
	case DateLast30Days:
		return today.AddDate(0, 0, -30), true
	}
	return time.Time{}, false
}

// BuildQuery renders the Gmail search query for one list call.
func BuildQuery(now time.Time, unreadOnly bool, filter DateFilter) string {
	var parts []string
	if unreadOnly {
		parts = append(parts, "is:unread")
	}
	if since, ok := filter.Since(now); ok {
		parts = append(parts, "after:"+since.Format("2006/01/02"))
	}
	return strings.Join(parts, " ")
}
