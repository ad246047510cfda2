package llm

import (
	"regexp"
	"strings"

	"github.com/unisoflta/chatbot-back/internal/apperr"
)

// SentinelKeyword marks a reply that asks for external data.
const SentinelKeyword = "REQUIRES_DATA:"

var (
	sentinelRe = regexp.MustCompile(`(?i)REQUIRES_DATA:`)
	// Bracketed values may contain spaces and commas; bare ones stop at a comma.
	cityRe = regexp.MustCompile(`(?i)city\s*=\s*(?:\[([^\]]*)\]|([^,\]\r\n]+))`)
	dateRe = regexp.MustCompile(`(?i)date\s*=\s*(?:\[([^\]]*)\]|([^\s,\]]+))`)
)

// DataRequest is the parsed content of a sentinel line.
type DataRequest struct {
	City string
	Date string // raw token, see NormalizeDate
}

// HasSentinel reports whether reply asks for external data.
func HasSentinel(reply string) bool { return sentinelRe.MatchString(reply) }

// ParseSentinel extracts city and date from the sentinel line of reply.
// Both `city=[Madrid], date=[tomorrow]` and `city=Madrid, date=today` are
// accepted. It fails with a protocol error when the keyword is present but
// either field is missing or empty.
func ParseSentinel(reply string) (DataRequest, error) {
	const op = "llm.ParseSentinel"

	loc := sentinelRe.FindStringIndex(reply)
	if loc == nil {
		return DataRequest{}, apperr.Protocol(op, "no sentinel in reply")
	}
	line := reply[loc[1]:]
	if i := strings.IndexAny(line, "\r\n"); i >= 0 {
		line = line[:i]
	}

	city := firstGroup(cityRe.FindStringSubmatch(line))
	date := firstGroup(dateRe.FindStringSubmatch(line))
	if city == "" || date == "" {
		return DataRequest{}, apperr.Protocol(op, "malformed sentinel: "+strings.TrimSpace(line))
	}
	return DataRequest{City: city, Date: date}, nil
}

func firstGroup(m []string) string {
	if len(m) < 2 {
		return ""
	}
	for _, g := range m[1:] {
		if s := strings.TrimRight(strings.TrimSpace(g), ".;"); s != "" {
			return s
		}
	}
	return ""
}
