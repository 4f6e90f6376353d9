// Package textutil normalizes text and dates pulled out of heterogeneous pages.
package textutil

import (
	"regexp"
	"strings"
	"time"
)

type datePattern struct {
	expr   *regexp.Regexp
	layout string
}

// Ordered most specific first; the first match wins.
var datePatterns = []datePattern{
	{regexp.MustCompile(`(\d{4}-\d{1,2}-\d{1,2} \d{1,2}:\d{1,2}:\d{1,2})`), "2006-1-2 15:4:5"},
	{regexp.MustCompile(`(\d{4}-\d{1,2}-\d{1,2} \d{1,2}:\d{1,2})`), "2006-1-2 15:4"},
	{regexp.MustCompile(`(\d{4}/\d{1,2}/\d{1,2} \d{1,2}:\d{1,2})`), "2006/1/2 15:4"},
	{regexp.MustCompile(`(\d{4}-\d{1,2}-\d{1,2})`), "2006-1-2"},
	{regexp.MustCompile(`(\d{4}/\d{1,2}/\d{1,2})`), "2006/1/2"},
	{regexp.MustCompile(`(\d{4}\.\d{1,2}\.\d{1,2})`), "2006.1.2"},
	{regexp.MustCompile(`(\d{4}年\d{1,2}月\d{1,2}日)`), "2006年1月2日"},
}

var spaceRun = regexp.MustCompile(`[ \t]+`)

// ParseDate finds the first recognizable date in text and parses it in loc.
// Unrecognized text yields ok == false.
func ParseDate(text string, loc *time.Location) (time.Time, bool) {
	if loc == nil {
		loc = time.Local
	}
	text = strings.ReplaceAll(text, "\u00a0", " ")
	text = spaceRun.ReplaceAllString(strings.TrimSpace(text), " ")
	if text == "" {
		return time.Time{}, false
	}

	for _, p := range datePatterns {
		match := p.expr.FindStringSubmatch(text)
		if match == nil {
			continue
		}
		parsed, err := time.ParseInLocation(p.layout, match[1], loc)
		if err != nil {
			continue
		}
		return parsed, true
	}
	return time.Time{}, false
}
