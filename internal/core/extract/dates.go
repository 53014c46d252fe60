package extract

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joseph-ayodele/health-reports/internal/core/report"
)

const rocOffset = 1911

var monthAbbr = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March,
	"apr": time.April, "may": time.May, "jun": time.June,
	"jul": time.July, "aug": time.August, "sep": time.September,
	"oct": time.October, "nov": time.November, "dec": time.December,
}

const monthNames = `(Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)[a-z]*\.?`

// FormatDate returns YYYY-MM-DD when (y, m, d) is a real calendar date.
func FormatDate(y, m, d int) (string, bool) {
	if y <= 0 || m < 1 || m > 12 || d < 1 {
		return "", false
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	if t.Year() != y || int(t.Month()) != m || t.Day() != d {
		return "", false
	}
	return fmt.Sprintf("%04d-%02d-%02d", y, m, d), true
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return -1
	}
	return n
}

func setDate(r *report.ExtractionResult, y, m, d int) bool {
	s, ok := FormatDate(y, m, d)
	if !ok {
		return false
	}
	r.TestDate = s
	return true
}

// ymdApply reads year, month and day from groups 1..3. Years below 200 are
// Republic of China years.
func ymdApply(m []string, r *report.ExtractionResult) bool {
	y := atoi(m[1])
	if y >= 0 && y < 200 {
		y += rocOffset
	} else if y < 1000 {
		return false
	}
	return setDate(r, y, atoi(m[2]), atoi(m[3]))
}

func monthDayYearApply(m []string, r *report.ExtractionResult) bool {
	mon, ok := monthAbbr[strings.ToLower(m[1])]
	if !ok {
		return false
	}
	return setDate(r, atoi(m[3]), int(mon), atoi(m[2]))
}

func dayMonthYearApply(m []string, r *report.ExtractionResult) bool {
	mon, ok := monthAbbr[strings.ToLower(m[2])]
	if !ok {
		return false
	}
	return setDate(r, atoi(m[3]), int(mon), atoi(m[1]))
}

const dateField = "test_date"

var dateRules = Table{
	// 113年11月15日; the leading guard keeps 2024年 from reading as 024年
	{Field: dateField, Pattern: regexp.MustCompile(`(?:^|\D)(\d{2,3})\s*年\s*(\d{1,2})\s*月\s*(\d{1,2})\s*日`), Apply: ymdApply},
	{Field: dateField, Pattern: regexp.MustCompile(`((?:19|20)\d{2})\s*年\s*(\d{1,2})\s*月\s*(\d{1,2})\s*日`), Apply: ymdApply},
	{Field: dateField, Pattern: regexp.MustCompile(`((?:19|20)\d{2})[/\-.](\d{1,2})[/\-.](\d{1,2})`), Apply: ymdApply},
	// ROC slash form printed by many Taiwanese clinics: 113/11/15
	{Field: dateField, Pattern: regexp.MustCompile(`(?:^|[^\d/])(1\d{2})/(\d{1,2})/(\d{1,2})(?:$|[^\d/])`), Apply: ymdApply},
	{Field: dateField, Pattern: regexp.MustCompile(`(?i)\b` + monthNames + `\s+(\d{1,2}),?\s+((?:19|20)\d{2})`), Apply: monthDayYearApply},
	{Field: dateField, Pattern: regexp.MustCompile(`(?i)\b(\d{1,2})\s+` + monthNames + `,?\s+((?:19|20)\d{2})`), Apply: dayMonthYearApply},
}
