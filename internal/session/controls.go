package session

import (
	"fmt"
	"slices"
	"strings"
	"syscall"

	"github.com/smazurov/camback/internal/cameraif"
)

// ParseControls splits a comma-separated control list such as
// "contrast,brightness" into names. Blank entries are skipped; unknown names
// and duplicates are rejected.
func ParseControls(list string) ([]string, error) {
	var names []string
	for _, field := range strings.Split(list, ",") {
		name := strings.ToLower(strings.TrimSpace(field))
		if name == "" {
			continue
		}
		if _, err := cameraif.ControlTypeByName(name); err != nil {
			return nil, err
		}
		if slices.Contains(names, name) {
			return nil, fmt.Errorf("control %q listed twice: %w", name, syscall.EINVAL)
		}
		names = append(names, name)
	}
	return names, nil
}

// assigned resolves a wire control type to a name assigned to the session.
func (h *Handler) assigned(t cameraif.ControlType) (string, error) {
	name, err := cameraif.ControlName(t)
	if err != nil {
		return "", err
	}
	if !slices.Contains(h.controls, name) {
		return "", NewError(syscall.EACCES, fmt.Sprintf("control %s not assigned to domain %d", name, h.domID), nil)
	}
	return name, nil
}
