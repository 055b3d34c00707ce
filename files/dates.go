package files

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	isoDate   = regexp.MustCompile(`\b(20\d{2})[-/](\d{1,2})[-/](\d{1,2})\b`)
	usDate    = regexp.MustCompile(`\b(\d{1,2})[/-](\d{1,2})\b`)
	monthDate = regexp.MustCompile(`(?i)\b(Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)[a-z]*\s+(\d{1,2})\b`)
)

// ParseDueDate finds the first date in text. ISO dates win over US m/d
// dates, which win over "Month day". Dates without a year use now's year.
// A match that is not a real calendar date yields nil.
func ParseDueDate(text string, now time.Time) *time.Time {
	if m := isoDate.FindStringSubmatch(text); m != nil {
		return makeDate(atoi(m[1]), atoi(m[2]), atoi(m[3]))
	}
	if m := usDate.FindStringSubmatch(text); m != nil {
		return makeDate(now.Year(), atoi(m[1]), atoi(m[2]))
	}
	if m := monthDate.FindStringSubmatch(text); m != nil {
		month := monthIndex(m[1])
		return makeDate(now.Year(), month, atoi(m[2]))
	}
	return nil
}

func makeDate(year, month, day int) *time.Time {
	if month < 1 || month > 12 || day < 1 {
		return nil
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day {
		return nil
	}
	return &t
}

func monthIndex(s string) int {
	const months = "janfebmaraprmayjunjulaugsepoctnovdec"
	i := strings.Index(months, strings.ToLower(s[:3]))
	if i < 0 {
		return 0
	}
	return i/3 + 1
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// InferDeliverable guesses what kind of work a file relates to.
func InferDeliverable(name, text string) string {
	haystack := strings.ToLower(name + " " + text)
	switch {
	case strings.Contains(haystack, "discussion"):
		return "discussion post"
	case strings.Contains(haystack, "quiz"):
		return "quiz submission"
	case strings.Contains(haystack, "exam"):
		return "exam prep"
	case strings.Contains(haystack, "project"):
		return "project milestone"
	case strings.Contains(haystack, "module"), strings.Contains(haystack, "week"):
		return "weekly module deliverable"
	}
	return "assignment deliverable"
}
