package textutil

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

var lineReplacer = strings.NewReplacer("\r\n", "\n", "\r", "\n", "\u00a0", " ", "\u3000", " ", "\u200b", "")

// Normalize returns NFC plain text with trimmed lines, collapsed blanks and no empty lines.
func Normalize(s string) string {
	s = norm.NFC.String(lineReplacer.Replace(s))

	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, line := range lines {
		line = spaceRun.ReplaceAllString(strings.TrimSpace(line), " ")
		if line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

// Flatten normalizes s and joins its lines with single spaces.
func Flatten(s string) string {
	return strings.ReplaceAll(Normalize(s), "\n", " ")
}
