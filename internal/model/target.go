package model

import (
	"regexp"
	"strings"
)

var whitespace = regexp.MustCompile(`\s+`)

// CleanHandle trims whitespace and strips the prefixes users tend to paste
// along with a handle ("@alice", "r/golang", "t.me/channel").
func CleanHandle(p Platform, s string) string {
	s = strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
	switch p {
	case PlatformReddit:
		s = strings.TrimPrefix(strings.TrimPrefix(s, "/"), "r/")
	case PlatformTelegram:
		s = strings.TrimPrefix(strings.TrimPrefix(s, "https://"), "t.me/")
	}
	return strings.TrimPrefix(s, "@")
}

// ParseTarget parses "platform:handle", e.g. "x:@alice" or "reddit:r/golang".
func ParseTarget(s string) (Target, bool) {
	name, handle, ok := strings.Cut(s, ":")
	if !ok {
		return Target{}, false
	}
	p, ok := ParsePlatform(name)
	if !ok {
		return Target{}, false
	}
	handle = CleanHandle(p, handle)
	if handle == "" {
		return Target{}, false
	}
	return Target{Platform: p, Handle: handle}, true
}
