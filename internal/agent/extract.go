package agent

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Instruction-aware parsing patterns. Swedish roasteries publish roasting
// dates as "Rostningsdatum YYYY-MM-DD" and prices in kronor.
var (
	roastingDateRe = regexp.MustCompile(`Rostningsdatum\s+(\d{4}-\d{2}-\d{2})`)
	isoDateRe      = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)
	sekPriceRe     = regexp.MustCompile(`(\d+)\s*kr`)
	usdPriceRe     = regexp.MustCompile(`\$(\d+\.?\d*)`)
	titleTagRe     = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	h1TagRe        = regexp.MustCompile(`(?is)<h1[^>]*>(.*?)</h1>`)
	tagRe          = regexp.MustCompile(`<[^>]+>`)
)

// ParseExtracted mines an extracted text fragment for the fields the
// instruction asks about. Which patterns run depends on the instruction's
// wording; unrelated fields are never guessed at.
func ParseExtracted(instruction, text string) map[string]interface{} {
	if text == "" {
		return nil
	}
	lower := strings.ToLower(instruction)
	out := make(map[string]interface{})

	if strings.Contains(lower, "roast") || strings.Contains(lower, "date") {
		parseDates(text, out)
	}
	if strings.Contains(lower, "price") || strings.Contains(lower, "cost") {
		parsePrice(text, out)
	}
	if strings.Contains(lower, "title") || strings.Contains(lower, "name") {
		parseTitle(text, out)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// parseDates prefers the labeled roasting date; otherwise the newest ISO
// date found stands in, with the full list kept for context.
func parseDates(text string, out map[string]interface{}) {
	if m := roastingDateRe.FindStringSubmatch(text); m != nil {
		out["roastingDate"] = m[1]
		return
	}
	dates := isoDateRe.FindAllString(text, -1)
	if len(dates) == 0 {
		return
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	out["roastingDate"] = dates[0]
	all := make([]interface{}, len(dates))
	for i, d := range dates {
		all[i] = d
	}
	out["allDatesFound"] = all
}

func parsePrice(text string, out map[string]interface{}) {
	if m := sekPriceRe.FindStringSubmatch(text); m != nil {
		if v, err := strconv.Atoi(m[1]); err == nil {
			out["price"] = float64(v)
			out["currency"] = "SEK"
			return
		}
	}
	if m := usdPriceRe.FindStringSubmatch(text); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			out["price"] = v
			out["currency"] = "USD"
		}
	}
}

func parseTitle(text string, out map[string]interface{}) {
	if m := titleTagRe.FindStringSubmatch(text); m != nil {
		if title := cleanFragment(m[1]); title != "" {
			out["title"] = title
			return
		}
	}
	if m := h1TagRe.FindStringSubmatch(text); m != nil {
		if title := cleanFragment(m[1]); title != "" {
			out["title"] = title
		}
	}
}

func cleanFragment(s string) string {
	s = tagRe.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}
