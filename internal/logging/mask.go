package logging

import (
	"fmt"
	"log/slog"
	"path"
	"strings"
)

// MaskRule maps a module glob to a level.
type MaskRule struct {
	Pattern string
	Level   slog.Level
}

// LevelMask is an ordered list of rules; the last matching rule wins.
type LevelMask []MaskRule

// ParseLevelMask parses "pattern:level[,pattern:level...]".
func ParseLevelMask(mask string) (LevelMask, error) {
	var rules LevelMask
	for _, item := range strings.Split(mask, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		pattern, levelStr, ok := strings.Cut(item, ":")
		if !ok || pattern == "" {
			return nil, fmt.Errorf("invalid mask entry %q: want module:level", item)
		}
		if _, err := path.Match(pattern, ""); err != nil {
			return nil, fmt.Errorf("invalid module pattern %q: %w", pattern, err)
		}
		level := parseLevel(levelStr)
		if level == nil {
			return nil, fmt.Errorf("invalid level %q for %q", levelStr, pattern)
		}
		rules = append(rules, MaskRule{Pattern: strings.ToLower(pattern), Level: *level})
	}
	return rules, nil
}

// Match returns the level of the last rule matching module.
func (m LevelMask) Match(module string) (slog.Level, bool) {
	module = strings.ToLower(module)
	var (
		level slog.Level
		found bool
	)
	for _, r := range m {
		if ok, _ := path.Match(r.Pattern, module); ok {
			level, found = r.Level, true
		}
	}
	return level, found
}
