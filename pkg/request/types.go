package request

import "time"

// Kind identifies which capture strategy a request is routed to.
type Kind string

const (
	KindScreenshot Kind = "screenshot"
	KindAudit      Kind = "audit"
)

// Theme is the preferred color scheme emulated by the isolated context.
type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

// WaitUntil is the page-load milestone navigation waits for.
type WaitUntil string

const (
	WaitUntilLoad             WaitUntil = "load"
	WaitUntilDOMContentLoaded WaitUntil = "domcontentloaded"
	WaitUntilNetworkIdle      WaitUntil = "networkidle"
	WaitUntilCommit           WaitUntil = "commit"
)

// Format is the image encoding of a screenshot.
type Format string

const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
	FormatWebP Format = "webp"
)

// Lossy reports whether the format accepts a quality setting.
func (f Format) Lossy() bool {
	return f == FormatJPEG || f == FormatWebP
}

// MIMEType returns the content type of images encoded in f.
func (f Format) MIMEType() string {
	return "image/" + string(f)
}

// ViewportClass selects the audit engine's device preset.
type ViewportClass string

const (
	ViewportMobile  ViewportClass = "mobile"
	ViewportDesktop ViewportClass = "desktop"
)

// Permission is a browser capability that can be granted to the target origin.
type Permission string

// Permissions lists every capability name a request may ask for.
var Permissions = []Permission{
	"geolocation",
	"camera",
	"microphone",
	"notifications",
	"clipboard-read",
	"clipboard-write",
	"payment-handler",
	"midi",
	"usb",
	"serial",
	"bluetooth",
	"persistent-storage",
	"accelerometer",
	"gyroscope",
	"magnetometer",
	"ambient-light-sensor",
	"background-sync",
	"background-fetch",
	"idle-detection",
	"periodic-background-sync",
	"push",
	"speaker-selection",
	"storage-access",
	"top-level-storage-access",
	"window-management",
	"local-fonts",
	"display-capture",
	"nfc",
	"screen-wake-lock",
	"web-share",
	"xr-spatial-tracking",
}

// Defaults applied by the parsers.
const (
	DefaultTheme     = ThemeLight
	DefaultWaitUntil = WaitUntilDOMContentLoaded
	DefaultTimeout   = 30 * time.Second
	MaxTimeout       = 120 * time.Second

	DefaultViewportWidth  = 1280
	DefaultViewportHeight = 720
	MaxViewportWidth      = 3840
	MaxViewportHeight     = 2160

	DefaultFormat            = FormatPNG
	DefaultQuality           = 90
	DefaultSleep             = 3 * time.Second
	MaxSleep                 = 60 * time.Second
	DefaultDeviceScaleFactor = 1.0

	DefaultViewportClass = ViewportMobile
)

// Common holds the fields shared by both request kinds. Empty Locale,
// TimezoneID and UserAgent mean the engine's own default is used.
type Common struct {
	URL         string
	Theme       Theme
	Headers     map[string]string
	Locale      string
	TimezoneID  string
	UserAgent   string
	Permissions []Permission
	WaitUntil   WaitUntil
	Timeout     time.Duration
}

// Viewport is a page size in CSS pixels.
type Viewport struct {
	Width  int
	Height int
}

// Clip is a capture rectangle in CSS pixels.
type Clip struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// Geolocation is the position reported to the page. Accuracy is in meters.
type Geolocation struct {
	Latitude  float64
	Longitude float64
	Accuracy  *float64
}

// Screenshot is a fully-defaulted screenshot request.
type Screenshot struct {
	Common

	Viewport          Viewport
	Format            Format
	Quality           int
	FullPage          bool
	Clip              *Clip
	Sleep             time.Duration
	DeviceScaleFactor float64
	HasTouch          bool
	IsMobile          bool
	Geolocation       *Geolocation
}

// Kind implements Request.
func (*Screenshot) Kind() Kind { return KindScreenshot }

// Base implements Request.
func (s *Screenshot) Base() *Common { return &s.Common }

// ReportFormats selects which renderings the audit engine produces.
type ReportFormats struct {
	// JSON is accepted for compatibility and never read: the response body
	// is always the JSON report, so it is produced whatever the flag says.
	JSON bool
	HTML bool
	CSV  bool
}

// Thresholds are per-category minimum scores (0-100). Zero disables the check.
type Thresholds struct {
	Performance   float64
	Accessibility float64
	BestPractices float64
	SEO           float64
	PWA           float64
}

// ByCategory returns the thresholds keyed by audit category id.
func (t Thresholds) ByCategory() map[string]float64 {
	return map[string]float64{
		"performance":    t.Performance,
		"accessibility":  t.Accessibility,
		"best-practices": t.BestPractices,
		"seo":            t.SEO,
		"pwa":            t.PWA,
	}
}

// Audit is a fully-defaulted page-quality audit request.
type Audit struct {
	Common

	Viewport   ViewportClass
	Formats    ReportFormats
	Thresholds Thresholds
}

// Kind implements Request.
func (*Audit) Kind() Kind { return KindAudit }

// Base implements Request.
func (a *Audit) Base() *Common { return &a.Common }

// Request is implemented by *Screenshot and *Audit.
type Request interface {
	Kind() Kind
	Base() *Common
}
