// Package toolorchestrator selects and executes MCP tools for a user query
// through four paths tried in order: multi-step plan execution, deep
// research, two-phase single-tool selection with a calculator fast path,
// and mid-deliberation web-search assessment.
package toolorchestrator

import (
	"strings"
	"time"
)

// dayNames maps token names to Go weekdays.
var dayNames = map[string]time.Weekday{
	"MONDAY":    time.Monday,
	"TUESDAY":   time.Tuesday,
	"WEDNESDAY": time.Wednesday,
	"THURSDAY":  time.Thursday,
	"FRIDAY":    time.Friday,
	"SATURDAY":  time.Saturday,
	"SUNDAY":    time.Sunday,
}

const dateLayout = "2006-01-02"

// ResolveDateReference resolves symbolic date tokens (YESTERDAY, TODAY,
// TOMORROW, LAST WEEK, LAST/THIS/NEXT <DAYNAME>) against now, returning a
// concrete YYYY-MM-DD. Unrecognized values pass through unchanged.
//
// Day-name rules: LAST <day> is the most recent past
// occurrence, where "today is that day" means a week ago; THIS <day> is the
// current week's occurrence (today if today matches); NEXT <day> is next
// week's occurrence (a week ahead if today matches).
func ResolveDateReference(value string, now time.Time) string {
	upper := strings.ToUpper(strings.TrimSpace(value))

	switch upper {
	case "YESTERDAY":
		return now.AddDate(0, 0, -1).Format(dateLayout)
	case "TODAY":
		return now.Format(dateLayout)
	case "TOMORROW":
		return now.AddDate(0, 0, 1).Format(dateLayout)
	case "LAST WEEK", "LAST_WEEK":
		return now.AddDate(0, 0, -7).Format(dateLayout)
	case "NEXT WEEK", "NEXT_WEEK":
		return now.AddDate(0, 0, 7).Format(dateLayout)
	}

	for name, weekday := range dayNames {
		if strings.Contains(upper, "LAST "+name) || strings.Contains(upper, "LAST_"+name) {
			daysAgo := int(now.Weekday()-weekday+7) % 7
			if daysAgo == 0 {
				daysAgo = 7
			}
			return now.AddDate(0, 0, -daysAgo).Format(dateLayout)
		}
		if strings.Contains(upper, "THIS "+name) || strings.Contains(upper, "THIS_"+name) {
			daysUntil := int(weekday-now.Weekday()+7) % 7
			return now.AddDate(0, 0, daysUntil).Format(dateLayout)
		}
		if strings.Contains(upper, "NEXT "+name) || strings.Contains(upper, "NEXT_"+name) {
			daysUntil := int(weekday-now.Weekday()+7) % 7
			if daysUntil == 0 {
				daysUntil = 7
			} else {
				daysUntil += 7
			}
			return now.AddDate(0, 0, daysUntil).Format(dateLayout)
		}
	}

	return value
}

// IsDateReference reports whether value looks like a symbolic date token
// that ResolveDateReference would rewrite.
func IsDateReference(value string) bool {
	upper := strings.ToUpper(strings.TrimSpace(value))
	switch upper {
	case "YESTERDAY", "TODAY", "TOMORROW", "LAST WEEK", "LAST_WEEK", "NEXT WEEK", "NEXT_WEEK":
		return true
	}
	for name := range dayNames {
		for _, prefix := range []string{"LAST ", "LAST_", "THIS ", "THIS_", "NEXT ", "NEXT_"} {
			if strings.Contains(upper, prefix+name) {
				return true
			}
		}
	}
	return false
}

// dateContext renders the concrete date block injected into tool-argument
// prompts so models stop hallucinating last year's dates.
func dateContext(now time.Time) string {
	weekStart := now.AddDate(0, 0, -int(now.Weekday()-time.Monday+7)%7)
	weekEnd := weekStart.AddDate(0, 0, 6)
	var b strings.Builder
	b.WriteString("CURRENT DATE CONTEXT:\n")
	b.WriteString("- Today is " + now.Format("Monday, January 2, 2006") + " (" + now.Format(dateLayout) + ")\n")
	b.WriteString("- This week runs " + weekStart.Format(dateLayout) + " through " + weekEnd.Format(dateLayout) + "\n")
	b.WriteString("- This month is " + now.Format("January 2006") + "\n")
	return b.String()
}
