package scanner

import (
	"regexp"
	"strings"
)

// Reset-phrase library. Patterns run against lowercased content, so they are
// written lowercase. The list is deliberately permissive: missing a reset
// means posting on top of an invalidated sequence, which is the worst
// failure mode this system has.
var resetPatterns = []*regexp.Regexp{
	regexp.MustCompile(`next number is \*\*1\*\*`),
	regexp.MustCompile(`next number is 1`),
	regexp.MustCompile(`counting starts at 1`),
	regexp.MustCompile(`count starts.*?at 1`),
	regexp.MustCompile(`count starts.*?at \*\*1\*\*`),
	regexp.MustCompile(`ruined it at`),
	regexp.MustCompile(`we reached \d+ before the streak ended`),
	regexp.MustCompile(`start again from 1`),
	regexp.MustCompile(`the.*?next.*?number.*?is.*?1`),
}

// IsModerator reports whether the author name matches one of the recognized
// moderator-bot names (case-insensitive substring membership).
func IsModerator(authorName string, botNames []string) bool {
	lowered := strings.ToLower(authorName)
	for _, name := range botNames {
		if name == "" {
			continue
		}
		if strings.Contains(lowered, strings.ToLower(name)) {
			return true
		}
	}
	return false
}

// IsResetNotice reports whether a moderator message invalidates the current
// sequence. Pure function: no I/O, no clock.
func IsResetNotice(content string) bool {
	lowered := strings.ToLower(content)

	for _, pattern := range resetPatterns {
		if pattern.MatchString(lowered) {
			return true
		}
	}

	// Warning glyph plus a "1" is how the moderator announces restarts.
	if strings.Contains(content, "⚠") && strings.Contains(content, "1") {
		return true
	}
	if strings.Contains(lowered, "ruined") {
		if strings.Contains(lowered, "1") || strings.Contains(lowered, "one") {
			return true
		}
		if strings.Contains(lowered, "next number") {
			return true
		}
	}
	return false
}

// isCountLiteral reports whether content is a pure non-negative integer
// literal after trimming.
func isCountLiteral(content string) bool {
	content = strings.TrimSpace(content)
	if content == "" {
		return false
	}
	for _, r := range content {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
