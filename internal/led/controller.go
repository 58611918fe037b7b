// Package led drives a board LED as a "camera in use" indicator.
package led

// Controller abstracts LED hardware control across different SBC boards.
type Controller interface {
	// Set switches an LED on or off. pattern is one of Patterns() or empty
	// to leave the trigger alone.
	Set(ledType string, enabled bool, pattern string) error

	// Available returns the LED types supported by this controller.
	Available() []string

	// Patterns returns the patterns supported by this controller.
	Patterns() []string
}
