package request

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"regexp"
	"strings"
	"time"
)

var timezonePattern = regexp.MustCompile(`^(Africa|America|Antarctica|Arctic|Asia|Atlantic|Australia|Europe|Indian|Pacific|UTC)/[A-Za-z_]+$`)

type rawCommon struct {
	URL         *string           `json:"url"`
	Theme       *string           `json:"theme"`
	Headers     map[string]string `json:"headers"`
	UserAgent   *string           `json:"userAgent"`
	Locale      *string           `json:"locale"`
	TimezoneID  *string           `json:"timezoneId"`
	Permissions []string          `json:"permissions"`
	WaitUntil   *string           `json:"waitUntil"`
	Timeout     *float64          `json:"timeout"`
}

type rawViewport struct {
	Width  *float64 `json:"width"`
	Height *float64 `json:"height"`
}

type rawClip struct {
	X      *float64 `json:"x"`
	Y      *float64 `json:"y"`
	Width  *float64 `json:"width"`
	Height *float64 `json:"height"`
}

type rawGeolocation struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Accuracy  *float64 `json:"accuracy"`
}

type rawScreenshot struct {
	rawCommon

	Sleep             *float64        `json:"sleep"`
	Viewport          *rawViewport    `json:"viewport"`
	Format            *string         `json:"format"`
	Quality           *float64        `json:"quality"`
	FullPage          *bool           `json:"fullPage"`
	Clip              *rawClip        `json:"clip"`
	Geolocation       *rawGeolocation `json:"geolocation"`
	DeviceScaleFactor *float64        `json:"deviceScaleFactor"`
	HasTouch          *bool           `json:"hasTouch"`
	IsMobile          *bool           `json:"isMobile"`
}

type rawThresholds struct {
	Performance   *float64 `json:"performance"`
	Accessibility *float64 `json:"accessibility"`
	BestPractices *float64 `json:"best-practices"`
	SEO           *float64 `json:"seo"`
	PWA           *float64 `json:"pwa"`
}

type rawAudit struct {
	rawCommon

	Viewport   *string        `json:"viewport"`
	JSON       *bool          `json:"json"`
	HTML       *bool          `json:"html"`
	CSV        *bool          `json:"csv"`
	Thresholds *rawThresholds `json:"thresholds"`
}

// Parse resolves a raw payload for the given kind.
func Parse(kind Kind, data []byte) (Request, error) {
	switch kind {
	case KindScreenshot:
		return ParseScreenshot(data)
	case KindAudit:
		return ParseAudit(data)
	default:
		return nil, fmt.Errorf("request: unknown kind %q", kind)
	}
}

// ParseScreenshot decodes and validates a screenshot payload. On success
// every optional field carries its default.
func ParseScreenshot(data []byte) (*Screenshot, error) {
	var raw rawScreenshot
	if err := decode(data, &raw); err != nil {
		return nil, err
	}

	c := &checker{}
	out := &Screenshot{
		Common: raw.rawCommon.resolve(c),
		Viewport: Viewport{
			Width:  DefaultViewportWidth,
			Height: DefaultViewportHeight,
		},
		Format:            DefaultFormat,
		Quality:           DefaultQuality,
		Sleep:             DefaultSleep,
		DeviceScaleFactor: DefaultDeviceScaleFactor,
		HasTouch:          deref(raw.HasTouch, false),
		IsMobile:          deref(raw.IsMobile, false),
		FullPage:          deref(raw.FullPage, false),
	}

	if v := raw.Viewport; v != nil {
		if v.Width != nil {
			c.between("viewport.width", *v.Width, 1, MaxViewportWidth)
			c.integer("viewport.width", *v.Width)
			out.Viewport.Width = int(*v.Width)
		}
		if v.Height != nil {
			c.between("viewport.height", *v.Height, 1, MaxViewportHeight)
			c.integer("viewport.height", *v.Height)
			out.Viewport.Height = int(*v.Height)
		}
	}

	if raw.Format != nil {
		out.Format = Format(*raw.Format)
		oneOf(c, "format", out.Format, FormatPNG, FormatJPEG, FormatWebP)
	}

	if raw.Quality != nil {
		c.between("quality", *raw.Quality, 0, 100)
		c.integer("quality", *raw.Quality)
		out.Quality = int(*raw.Quality)
	}

	if cl := raw.Clip; cl != nil {
		out.Clip = &Clip{
			X:      required(c, "clip.x", cl.X),
			Y:      required(c, "clip.y", cl.Y),
			Width:  required(c, "clip.width", cl.Width),
			Height: required(c, "clip.height", cl.Height),
		}
		if cl.X != nil {
			c.atLeast("clip.x", *cl.X, 0)
		}
		if cl.Y != nil {
			c.atLeast("clip.y", *cl.Y, 0)
		}
		if cl.Width != nil {
			c.atLeast("clip.width", *cl.Width, 1)
		}
		if cl.Height != nil {
			c.atLeast("clip.height", *cl.Height, 1)
		}
	}

	if raw.Sleep != nil {
		c.between("sleep", *raw.Sleep, 0, float64(MaxSleep/time.Millisecond))
		out.Sleep = millis(*raw.Sleep)
	}

	if raw.DeviceScaleFactor != nil {
		c.between("deviceScaleFactor", *raw.DeviceScaleFactor, 0.1, 3)
		out.DeviceScaleFactor = *raw.DeviceScaleFactor
	}

	if g := raw.Geolocation; g != nil {
		out.Geolocation = &Geolocation{
			Latitude:  required(c, "geolocation.latitude", g.Latitude),
			Longitude: required(c, "geolocation.longitude", g.Longitude),
		}
		if g.Latitude != nil {
			c.between("geolocation.latitude", *g.Latitude, -90, 90)
		}
		if g.Longitude != nil {
			c.between("geolocation.longitude", *g.Longitude, -180, 180)
		}
		if g.Accuracy != nil {
			c.atLeast("geolocation.accuracy", *g.Accuracy, 0)
			accuracy := *g.Accuracy
			out.Geolocation.Accuracy = &accuracy
		}
	}

	if err := c.err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ParseAudit decodes and validates an audit payload. On success every
// optional field carries its default.
func ParseAudit(data []byte) (*Audit, error) {
	var raw rawAudit
	if err := decode(data, &raw); err != nil {
		return nil, err
	}

	c := &checker{}
	out := &Audit{
		Common:   raw.rawCommon.resolve(c),
		Viewport: DefaultViewportClass,
		Formats: ReportFormats{
			JSON: deref(raw.JSON, true),
			HTML: deref(raw.HTML, false),
			CSV:  deref(raw.CSV, false),
		},
	}

	if raw.Viewport != nil {
		out.Viewport = ViewportClass(*raw.Viewport)
		oneOf(c, "viewport", out.Viewport, ViewportMobile, ViewportDesktop)
	}

	if t := raw.Thresholds; t != nil {
		out.Thresholds = Thresholds{
			Performance:   score(c, "thresholds.performance", t.Performance),
			Accessibility: score(c, "thresholds.accessibility", t.Accessibility),
			BestPractices: score(c, "thresholds.best-practices", t.BestPractices),
			SEO:           score(c, "thresholds.seo", t.SEO),
			PWA:           score(c, "thresholds.pwa", t.PWA),
		}
	}

	if err := c.err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *rawCommon) resolve(c *checker) Common {
	out := Common{
		Theme:       DefaultTheme,
		Headers:     make(map[string]string, len(r.Headers)),
		Permissions: []Permission{},
		WaitUntil:   DefaultWaitUntil,
		Timeout:     DefaultTimeout,
		Locale:      deref(r.Locale, ""),
		UserAgent:   deref(r.UserAgent, ""),
	}

	switch {
	case r.URL == nil || *r.URL == "":
		c.add("url", "is required", nil)
	case !absoluteURL(*r.URL):
		c.add("url", "must be an absolute URL", *r.URL)
	default:
		out.URL = *r.URL
	}

	if r.Theme != nil {
		out.Theme = Theme(*r.Theme)
		oneOf(c, "theme", out.Theme, ThemeLight, ThemeDark)
	}

	for k, v := range r.Headers {
		out.Headers[k] = v
	}

	if r.TimezoneID != nil {
		if !timezonePattern.MatchString(*r.TimezoneID) {
			c.add("timezoneId", "must be a valid IANA timezone identifier (e.g. America/New_York)", *r.TimezoneID)
		}
		out.TimezoneID = *r.TimezoneID
	}

	seen := make(map[Permission]bool, len(r.Permissions))
	for i, p := range r.Permissions {
		perm := Permission(p)
		oneOf(c, fmt.Sprintf("permissions[%d]", i), perm, Permissions...)
		if !seen[perm] {
			seen[perm] = true
			out.Permissions = append(out.Permissions, perm)
		}
	}

	if r.WaitUntil != nil {
		out.WaitUntil = WaitUntil(*r.WaitUntil)
		oneOf(c, "waitUntil", out.WaitUntil, WaitUntilLoad, WaitUntilDOMContentLoaded, WaitUntilNetworkIdle, WaitUntilCommit)
	}

	if r.Timeout != nil {
		c.between("timeout", *r.Timeout, 0, float64(MaxTimeout/time.Millisecond))
		out.Timeout = millis(*r.Timeout)
	}

	return out
}

func decode(data []byte, v any) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return &ValidationError{Violations: []Violation{{Constraint: "request body is required"}}}
	}

	err := json.Unmarshal(exactKeys(data, reflect.TypeOf(v)), v)
	if err == nil {
		return nil
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		if typeErr.Field == "" {
			return &ValidationError{Violations: []Violation{{Constraint: "must be a JSON object", Value: typeErr.Value}}}
		}
		return &ValidationError{Violations: []Violation{{
			Field:      fieldPath(typeErr.Field),
			Constraint: "must be " + typeName(typeErr.Type),
			Value:      typeErr.Value,
		}}}
	}
	return &ValidationError{Violations: []Violation{{Constraint: "malformed JSON: " + err.Error()}}}
}

// fieldPath drops embedded struct names that encoding/json puts in front
// of promoted fields.
func fieldPath(field string) string {
	return strings.ReplaceAll(field, "rawCommon.", "")
}

// exactKeys removes object keys that do not match a json tag of t byte for
// byte. encoding/json matches keys case-insensitively, so without this
// "URL" would fill the url field. Anything that is not an object is
// returned unchanged for Unmarshal to report.
func exactKeys(data []byte, t reflect.Type) []byte {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return data
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil || obj == nil {
		return data
	}

	fields := make(map[string]reflect.Type)
	collectTags(t, fields)

	out := make(map[string]json.RawMessage, len(obj))
	for key, value := range obj {
		ft, ok := fields[key]
		if !ok {
			continue
		}
		out[key] = exactKeys(value, ft)
	}

	filtered, err := json.Marshal(out)
	if err != nil {
		return data
	}
	return filtered
}

func collectTags(t reflect.Type, fields map[string]reflect.Type) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.Anonymous && f.Type.Kind() == reflect.Struct {
			collectTags(f.Type, fields)
			continue
		}
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			continue
		}
		fields[name] = f.Type
	}
}

func typeName(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.String:
		return "a string"
	case reflect.Bool:
		return "a boolean"
	case reflect.Float64, reflect.Int:
		return "a number"
	case reflect.Slice:
		return "an array"
	default:
		return "an object"
	}
}

func absoluteURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && u.IsAbs() && u.Host != ""
}

func millis(v float64) time.Duration {
	return time.Duration(v * float64(time.Millisecond))
}

func deref[T any](p *T, def T) T {
	if p == nil {
		return def
	}
	return *p
}

func required(c *checker, field string, v *float64) float64 {
	if v == nil {
		c.add(field, "is required", nil)
		return 0
	}
	return *v
}

func score(c *checker, field string, v *float64) float64 {
	if v == nil {
		return 0
	}
	c.between(field, *v, 0, 100)
	return *v
}
