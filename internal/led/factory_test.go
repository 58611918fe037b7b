package led

import (
	"log/slog"
	"os"
	"testing"
)

func TestNew(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctrl, _ := New(logger)
	if ctrl == nil {
		t.Fatal("New() returned nil")
	}
	if ctrl.Available() == nil {
		t.Error("Available() returned nil")
	}
	if ctrl.Patterns() == nil {
		t.Error("Patterns() returned nil")
	}
}

func TestNewForModel(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	tests := []struct {
		model         string
		wantIndicator string
		wantNoop      bool
	}{
		{"FriendlyElec NanoPC-T6", "system", false},
		{"Xunlong Orange Pi 5 Plus", "green", false},
		{"Raspberry Pi 4 Model B Rev 1.4", "act", false},
		{"unknown", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			ctrl, indicator := newForModel(tt.model, t.TempDir(), logger)
			if indicator != tt.wantIndicator {
				t.Errorf("indicator = %q, want %q", indicator, tt.wantIndicator)
			}
			if _, isNoop := ctrl.(*noop); isNoop != tt.wantNoop {
				t.Errorf("controller %T, want noop=%v", ctrl, tt.wantNoop)
			}
		})
	}
}

func TestDetectBoard(t *testing.T) {
	if model := detectBoard(); model == "" {
		t.Error("detectBoard() returned empty string")
	}
}
