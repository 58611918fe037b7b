package led

import (
	"log/slog"
	"os"
	"strings"
)

const deviceTreeModelPath = "/proc/device-tree/model"

// board maps a device tree model substring to the board's LEDs. The first
// LED listed is the default indicator.
type board struct {
	model string
	leds  []boardLED
}

type boardLED struct {
	ledType   string
	sysfsName string
}

var boards = []board{
	{model: "NanoPC-T6", leds: []boardLED{{"system", "sys_led"}, {"user", "usr_led"}}},
	{model: "Orange Pi", leds: []boardLED{{"green", "green_led"}, {"blue", "blue_led"}}},
	{model: "Raspberry Pi", leds: []boardLED{{"act", "ACT"}}},
}

// New creates a controller for the detected board, falling back to a no-op
// controller when the board has no known LEDs. It also returns the LED type
// used as the in-use indicator.
func New(logger *slog.Logger) (Controller, string) {
	if logger == nil {
		logger = slog.Default()
	}
	model := detectBoard()
	logger.Info("Detecting board for LED control", "board_model", model)
	return newForModel(model, sysfsLEDPath, logger)
}

func newForModel(model, root string, logger *slog.Logger) (Controller, string) {
	for _, b := range boards {
		if !strings.Contains(model, b.model) {
			continue
		}
		leds := make(map[string]string, len(b.leds))
		for _, l := range b.leds {
			leds[l.ledType] = l.sysfsName
		}
		logger.Info("Using sysfs LED controller", "board", b.model, "indicator", b.leds[0].ledType)
		return newSysfs(root, leds), b.leds[0].ledType
	}

	logger.Info("No LED support detected, using no-op controller", "board_model", model)
	return newNoop(logger), ""
}

// detectBoard reads the device tree model to identify the board.
func detectBoard() string {
	data, err := os.ReadFile(deviceTreeModelPath)
	if err != nil {
		return "unknown"
	}

	// Device tree model contains null bytes, trim them
	return strings.TrimRight(string(data), "\x00")
}
