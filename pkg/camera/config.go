// Package camera owns the capture device: it turns a device request into a
// single active capture session and guarantees every stream it opened is
// stopped again.
package camera

import "strings"

// Facing modes understood by devices that support them.
const (
	FacingUser        = "user"
	FacingEnvironment = "environment"
)

// Config holds the capture request parameters.
// Width and Height are hints; the session reports the real frame size.
type Config struct {
	Width      int    `json:"width"`       // Requested frame width in pixels
	Height     int    `json:"height"`      // Requested frame height in pixels
	Framerate  int    `json:"framerate"`   // Target FPS
	Quality    int    `json:"quality"`     // JPEG quality 1-100 for encoded frames
	FacingMode string `json:"facing_mode"` // "user" or "environment"
	DeviceID   string `json:"device_id"`   // Device index, path or stream URL
}

// Limits accepted by Validate.
const (
	MaxWidth  = 3840
	MaxHeight = 2160
)

// DefaultConfig returns the 640x480 front camera request used by Mood Map.
func DefaultConfig() Config {
	return Config{
		Width:      640,
		Height:     480,
		Framerate:  30,
		Quality:    85,
		FacingMode: FacingUser,
		DeviceID:   "0",
	}
}

// Validate checks if the config values are within valid ranges.
// Returns a list of validation errors, or nil if valid.
func (c *Config) Validate() []string {
	var errors []string

	if c.Width < 160 || c.Width > MaxWidth {
		errors = append(errors, "width must be between 160 and 3840")
	}
	if c.Height < 120 || c.Height > MaxHeight {
		errors = append(errors, "height must be between 120 and 2160")
	}
	if c.Framerate < 1 || c.Framerate > 120 {
		errors = append(errors, "framerate must be between 1 and 120")
	}
	if c.Quality < 1 || c.Quality > 100 {
		errors = append(errors, "quality must be between 1 and 100")
	}

	switch strings.ToLower(c.FacingMode) {
	case "", FacingUser, FacingEnvironment:
	default:
		errors = append(errors, "facing_mode must be user or environment")
	}

	return errors
}

// Constraints converts the config into a device request.
func (c Config) Constraints() Constraints {
	return Constraints{
		Width:      c.Width,
		Height:     c.Height,
		Framerate:  c.Framerate,
		Quality:    c.Quality,
		FacingMode: c.FacingMode,
		DeviceID:   c.DeviceID,
	}
}
