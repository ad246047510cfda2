package llm

import (
	"regexp"
	"strings"
	"time"
)

// ISODate is the layout forecasts are requested with.
const ISODate = "2006-01-02"

var isoDateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// Layouts tried, in order, for tokens that are neither keywords nor ISO
// dates. Numeric forms are read day first.
var fallbackLayouts = []string{
	"2006/01/02",
	"02/01/2006",
	"2/1/2006",
	"02-01-2006",
	"January 2, 2006",
	"January 2 2006",
	"2 January 2006",
	"Jan 2, 2006",
	"2 Jan 2006",
	time.RFC3339,
}

// NormalizeDate turns the date token of a sentinel into YYYY-MM-DD relative
// to now. "today" and "tomorrow" (also "hoy" and "mañana") are resolved,
// an ISO token passes through untouched, other tokens are parsed leniently
// and anything unparseable resolves to tomorrow. It never fails.
func NormalizeDate(token string, now time.Time) string {
	t := strings.TrimSpace(token)
	switch strings.ToLower(t) {
	case "today", "hoy":
		return now.Format(ISODate)
	case "tomorrow", "mañana", "manana":
		return now.AddDate(0, 0, 1).Format(ISODate)
	}
	if isoDateRe.MatchString(t) {
		return t
	}
	for _, layout := range fallbackLayouts {
		if d, err := time.ParseInLocation(layout, t, now.Location()); err == nil {
			return d.Format(ISODate)
		}
	}
	return now.AddDate(0, 0, 1).Format(ISODate)
}
