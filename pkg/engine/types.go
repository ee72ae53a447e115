package engine

import "time"

// Viewport is a page size in CSS pixels.
type Viewport struct {
	Width  int
	Height int
}

// Geolocation is the emulated device position.
type Geolocation struct {
	Latitude  float64
	Longitude float64
	Accuracy  *float64
}

// ContextOptions are applied when an isolated context is created. Zero
// string values leave the engine default in place.
type ContextOptions struct {
	Viewport          Viewport
	ColorScheme       string
	Locale            string
	TimezoneID        string
	UserAgent         string
	Geolocation       *Geolocation
	DeviceScaleFactor float64
	HasTouch          bool
	IsMobile          bool
}

// GotoOptions control a navigation. A zero Timeout disables the timeout.
type GotoOptions struct {
	WaitUntil string
	Timeout   time.Duration
}

// Clip is a capture rectangle in CSS pixels.
type Clip struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// ScreenshotOptions is the resolved option set handed to the engine.
// Quality is nil for lossless formats.
type ScreenshotOptions struct {
	Format   string
	Quality  *int
	FullPage bool
	Clip     *Clip
}
