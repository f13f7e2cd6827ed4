package agents

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"geoquery/pkg/llm"
	"geoquery/pkg/model"
)

// DatetimeMode tags the datetime translation output.
type DatetimeMode string

const (
	DatetimeNone       DatetimeMode = "none"
	DatetimeSingle     DatetimeMode = "single"
	DatetimeComparison DatetimeMode = "comparison"
)

// DatetimeResult is the datetime agent output.
type DatetimeResult struct {
	Mode               DatetimeMode
	Range              model.DatetimeRange
	Comparison         *model.ComparisonRange
	Explanation        string
	NeedsClarification bool
	Suggestion         string
}

const datetimePrompt = `Translate the temporal expression in this satellite-data question into ISO date ranges.

Current date: %s

Conversion rules:
- Year only -> the full year. Month + year -> the full month.
- "recent" -> the last 30 days. Quarters: Q1=Jan-Mar, Q2=Apr-Jun, Q3=Jul-Sep, Q4=Oct-Dec.
- Seasons are 3-month windows (summer=Jun-Aug, winter=Dec-Feb, spring=Mar-May, fall=Sep-Nov).
- "near <date>" -> 9 days either side. A specific date -> that single day.
- If the question compares two periods ("between X and Y", "before vs after"), use comparison mode.
- If no temporal expression exists, use mode "none".

QUERY: %s

Respond with JSON:
{"mode": "single|comparison|none",
 "datetime_range": "YYYY-MM-DD/YYYY-MM-DD",
 "before": "YYYY-MM-DD/YYYY-MM-DD", "after": "YYYY-MM-DD/YYYY-MM-DD",
 "explanation": "...", "needs_clarification": false, "suggestion": ""}`

// ExtractDatetime translates temporal phrasing into date ranges.
func (a *Agents) ExtractDatetime(ctx context.Context, query string) DatetimeResult {
	if a.agentTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.agentTimeout)
		defer cancel()
	}

	var out struct {
		Mode               string `json:"mode"`
		DatetimeRange      string `json:"datetime_range"`
		Before             string `json:"before"`
		After              string `json:"after"`
		Explanation        string `json:"explanation"`
		NeedsClarification bool   `json:"needs_clarification"`
		Suggestion         string `json:"suggestion"`
	}
	prompt := fmt.Sprintf(datetimePrompt, a.now().Format(model.DateOnly), query)
	if err := llm.GenerateJSONRetry(ctx, a.llm, "datetime", prompt, &out); err != nil {
		slog.Warn("Datetime translation failed, using rule fallback", "error", err)
		a.tracker.TrackFallback("datetime")
		return ruleDatetime(query, a.now())
	}

	switch out.Mode {
	case "none", "":
		return DatetimeResult{Mode: DatetimeNone, Explanation: out.Explanation}
	case "comparison":
		before, errB := model.ParseDatetimeRange(out.Before)
		after, errA := model.ParseDatetimeRange(out.After)
		if errB != nil || errA != nil {
			slog.Warn("Datetime comparison parse failed, using rule fallback", "before", out.Before, "after", out.After)
			a.tracker.TrackFallback("datetime")
			return ruleDatetime(query, a.now())
		}
		return DatetimeResult{
			Mode:               DatetimeComparison,
			Comparison:         &model.ComparisonRange{Before: before, After: after},
			Explanation:        out.Explanation,
			NeedsClarification: out.NeedsClarification,
			Suggestion:         out.Suggestion,
		}
	default:
		r, err := model.ParseDatetimeRange(out.DatetimeRange)
		if err != nil {
			slog.Warn("Datetime parse failed, using rule fallback", "range", out.DatetimeRange, "error", err)
			a.tracker.TrackFallback("datetime")
			return ruleDatetime(query, a.now())
		}
		return DatetimeResult{Mode: DatetimeSingle, Range: r, Explanation: out.Explanation}
	}
}

var (
	lastNRe     = regexp.MustCompile(`(?i)\b(?:last|past)\s+(\d+)\s+(day|week|month|year)s?\b`)
	yearRe      = regexp.MustCompile(`\b(19\d{2}|20\d{2})\b`)
	monthYearRe = regexp.MustCompile(`(?i)\b(january|february|march|april|may|june|july|august|september|october|november|december)\s+(19\d{2}|20\d{2})\b`)
	seasonRe    = regexp.MustCompile(`(?i)\b(spring|summer|fall|autumn|winter)(?:\s+(?:of\s+)?(19\d{2}|20\d{2}))?\b`)
)

var monthNum = map[string]time.Month{
	"january": 1, "february": 2, "march": 3, "april": 4, "may": 5, "june": 6,
	"july": 7, "august": 8, "september": 9, "october": 10, "november": 11, "december": 12,
}

// ruleDatetime handles the common temporal phrasings deterministically.
func ruleDatetime(query string, now time.Time) DatetimeResult {
	lower := strings.ToLower(query)
	today := now.Truncate(24 * time.Hour)

	single := func(start, end time.Time, why string) DatetimeResult {
		return DatetimeResult{
			Mode:        DatetimeSingle,
			Range:       model.DatetimeRange{Start: start, End: end},
			Explanation: why,
		}
	}

	if m := lastNRe.FindStringSubmatch(query); m != nil {
		n, _ := strconv.Atoi(m[1])
		var d time.Duration
		switch strings.ToLower(m[2]) {
		case "day":
			d = time.Duration(n) * 24 * time.Hour
		case "week":
			d = time.Duration(n) * 7 * 24 * time.Hour
		case "month":
			d = time.Duration(n) * 30 * 24 * time.Hour
		case "year":
			d = time.Duration(n) * 365 * 24 * time.Hour
		}
		return single(today.Add(-d), today, fmt.Sprintf("last %d %ss", n, strings.ToLower(m[2])))
	}

	switch {
	case strings.Contains(lower, "last month"):
		firstOfThis := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		return single(firstOfThis.AddDate(0, -1, 0), firstOfThis.AddDate(0, 0, -1), "previous calendar month")
	case strings.Contains(lower, "last week"):
		return single(today.AddDate(0, 0, -7), today, "last 7 days")
	case strings.Contains(lower, "last year"):
		y := now.Year() - 1
		return single(date(y, 1, 1), date(y, 12, 31), "previous year")
	case containsAny(lower, "recent", "lately", "latest"):
		return single(today.AddDate(0, 0, -30), today, "last 30 days")
	case strings.Contains(lower, "yesterday"):
		return single(today.AddDate(0, 0, -1), today.AddDate(0, 0, -1), "yesterday")
	case strings.Contains(lower, "today"):
		return single(today, today, "today")
	}

	if m := monthYearRe.FindStringSubmatch(query); m != nil {
		year, _ := strconv.Atoi(m[2])
		month := monthNum[strings.ToLower(m[1])]
		start := date(year, month, 1)
		return single(start, start.AddDate(0, 1, -1), "full month")
	}

	if m := seasonRe.FindStringSubmatch(query); m != nil {
		year := now.Year()
		if m[2] != "" {
			year, _ = strconv.Atoi(m[2])
		}
		switch strings.ToLower(m[1]) {
		case "spring":
			return single(date(year, 3, 1), date(year, 5, 31), "spring")
		case "summer":
			return single(date(year, 6, 1), date(year, 8, 31), "summer")
		case "fall", "autumn":
			return single(date(year, 9, 1), date(year, 11, 30), "fall")
		case "winter":
			return single(date(year, 12, 1), date(year+1, 2, 28), "winter")
		}
	}

	if m := yearRe.FindStringSubmatch(query); m != nil {
		year, _ := strconv.Atoi(m[1])
		return single(date(year, 1, 1), date(year, 12, 31), "full year")
	}

	return DatetimeResult{Mode: DatetimeNone}
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
