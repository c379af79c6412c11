package intent

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// MaxRange is the longest window a command may ask for.
const MaxRange = 365 * 24 * time.Hour

var (
	compactRange = regexp.MustCompile(`^(\d+)([hdw])$`)
	proseRange   = regexp.MustCompile(`\b(?:last|past)?\s*(\d+)\s*(hours?|hrs?|h|days?|d|weeks?|wks?|w)\b`)
)

// ParseRange parses one range token: Nh, Nd, Nw, "today", "yesterday" or
// "week". The second return is false when tok is not a range.
func ParseRange(tok string, now time.Time) (TimeRange, bool) {
	tok = strings.ToLower(strings.TrimSpace(tok))
	switch tok {
	case "today":
		midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		return TimeRange{Duration: now.Sub(midnight), Label: "today"}, true
	case "yesterday":
		midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		return TimeRange{Duration: now.Sub(midnight.AddDate(0, 0, -1)), Label: "since yesterday"}, true
	case "week":
		return rangeOf(7, 'd'), true
	}

	m := compactRange.FindStringSubmatch(tok)
	if m == nil {
		return TimeRange{}, false
	}
	return countRange(m[1], m[2][0])
}

// findRange looks for a range expression anywhere in free text, such as
// "last 3 days" or "past 12h".
func findRange(text string, now time.Time) (TimeRange, bool) {
	lower := strings.ToLower(text)
	for _, word := range []string{"today", "yesterday"} {
		if containsWord(lower, word) {
			return ParseRange(word, now)
		}
	}
	if containsWord(lower, "this week") || containsWord(lower, "last week") {
		return ParseRange("week", now)
	}

	m := proseRange.FindStringSubmatch(lower)
	if m == nil {
		return TimeRange{}, false
	}
	return countRange(m[1], m[2][0])
}

// countRange builds the range for a count of units, rejecting zero and
// anything longer than MaxRange.
func countRange(count string, unit byte) (TimeRange, bool) {
	n, err := strconv.Atoi(count)
	if err != nil || n <= 0 || n > int(MaxRange/unitLength(unit)) {
		return TimeRange{}, false
	}
	return rangeOf(n, unit), true
}

func unitLength(unit byte) time.Duration {
	switch unit {
	case 'h':
		return time.Hour
	case 'w':
		return 7 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

func rangeOf(n int, unit byte) TimeRange {
	d := time.Duration(n) * unitLength(unit)
	switch unit {
	case 'h':
		return TimeRange{Duration: d, Label: plural(n, "hour")}
	case 'w':
		return TimeRange{Duration: d, Label: plural(n, "week")}
	default:
		return TimeRange{Duration: d, Label: plural(n, "day")}
	}
}

// HoursRange is the range used when a command gives no explicit window.
func HoursRange(hours int) TimeRange {
	return rangeOf(hours, 'h')
}

func plural(n int, unit string) string {
	if n == 1 {
		return "the last " + unit
	}
	return fmt.Sprintf("the last %d %ss", n, unit)
}
