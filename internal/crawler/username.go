package crawler

import (
	"regexp"
	"strings"
)

const maxUsernameLength = 30

var usernamePattern = regexp.MustCompile(`^[a-z0-9._]+$`)

// NormalizeUsername trims, strips a leading @ and lowercases raw.
// It returns false for anything that cannot be a username.
func NormalizeUsername(raw string) (string, bool) {
	name := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(raw), "@"))
	if name == "" || len(name) > maxUsernameLength {
		return "", false
	}
	if !usernamePattern.MatchString(name) {
		return "", false
	}
	return name, true
}
