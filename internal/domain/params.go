package domain

import (
	"math"
	"net/url"
	"strconv"
	"strings"
)

const (
	DefaultQuality          = 92
	DefaultCompressionLevel = 6
	DefaultFit              = FitInside

	MinContrast = 0.1
)

// NormalizeForm flattens multipart/urlencoded values (first value wins) and
// normalizes them.
func NormalizeForm(values url.Values) EncodeConfig {
	fields := make(map[string]string, len(values))
	for key, vals := range values {
		if len(vals) > 0 {
			fields[key] = vals[0]
		}
	}
	return NormalizeParams(fields)
}

// NormalizeParams turns a bag of string fields into an EncodeConfig. It never
// fails: malformed values fall back to their default or are dropped.
func NormalizeParams(fields map[string]string) EncodeConfig {
	p := params(fields)

	cfg := EncodeConfig{
		Quality:            clampInt(p.intOr("quality", DefaultQuality), 1, 100),
		CompressionLevel:   clampInt(p.intOr("compressionLevel", DefaultCompressionLevel), 0, 9),
		Width:              p.positiveInt("width"),
		Height:             p.positiveInt("height"),
		Fit:                DefaultFit,
		WithoutEnlargement: p.boolOr("withoutEnlargement", true),
		Rotate:             normalizeAngle(p.intOr("rotate", 0)),
		Flip:               p.boolOr("flip", false),
		Flop:               p.boolOr("flop", false),
		Grayscale:          p.boolOr("grayscale", false) || p.boolOr("greyscale", false),
		Negate:             p.boolOr("negate", false),
		Normalise:          p.boolOr("normalise", false) || p.boolOr("normalize", false),
		Sepia:              p.boolOr("sepia", false),
		Density:            p.positiveInt("density"),
	}

	if format, ok := ParseFormat(fields["format"]); ok {
		cfg.Format = format
	}
	if fit, ok := ParseFit(fields["fit"]); ok {
		cfg.Fit = fit
	}

	left, leftOK := p.nonNegativeInt("cropLeft")
	top, topOK := p.nonNegativeInt("cropTop")
	cropW := p.positiveInt("cropWidth")
	cropH := p.positiveInt("cropHeight")
	if leftOK && topOK && cropW > 0 && cropH > 0 {
		cfg.Crop = &CropRect{Left: left, Top: top, Width: cropW, Height: cropH}
	}

	if v, ok := p.positiveFloat("brightness"); ok {
		cfg.Brightness = &v
	}
	if v, ok := p.positiveFloat("saturation"); ok {
		cfg.Saturation = &v
	}
	if v, ok := p.int("hue"); ok {
		cfg.Hue = &v
	}
	if v, ok := p.float("contrast"); ok {
		v = math.Max(v, MinContrast)
		cfg.Contrast = &v
	}
	if v, ok := p.positiveFloat("blur"); ok {
		cfg.Blur = v
	}
	if v, ok := p.positiveFloat("sharpen"); ok {
		cfg.Sharpen = v
	}

	if bytes := p.positiveInt("targetSizeBytes"); bytes > 0 {
		cfg.TargetSizeBytes = int64(bytes)
	} else if kb := p.positiveInt("targetSize"); kb > 0 {
		cfg.TargetSizeBytes = int64(kb) * 1024
	}

	return cfg
}

type params map[string]string

func (p params) raw(key string) (string, bool) {
	v, ok := p[key]
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	if v == "" || v == "undefined" || v == "null" {
		return "", false
	}
	return v, true
}

// int accepts integral text and floats (truncated toward zero), as browsers
// tend to send "92.0" from range inputs. Values saturate at the int32 range.
func (p params) int(key string) (int, bool) {
	v, ok := p.raw(key)
	if !ok {
		return 0, false
	}
	if n, err := strconv.Atoi(v); err == nil {
		return min(max(n, math.MinInt32), math.MaxInt32), true
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return int(math.Max(math.MinInt32, math.Min(math.MaxInt32, math.Trunc(f)))), true
}

func (p params) intOr(key string, fallback int) int {
	if n, ok := p.int(key); ok {
		return n
	}
	return fallback
}

func (p params) positiveInt(key string) int {
	n, ok := p.int(key)
	if !ok || n <= 0 {
		return 0
	}
	return n
}

func (p params) nonNegativeInt(key string) (int, bool) {
	n, ok := p.int(key)
	if !ok || n < 0 {
		return 0, false
	}
	return n, true
}

func (p params) float(key string) (float64, bool) {
	v, ok := p.raw(key)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func (p params) positiveFloat(key string) (float64, bool) {
	f, ok := p.float(key)
	if !ok || f <= 0 {
		return 0, false
	}
	return f, true
}

func (p params) boolOr(key string, fallback bool) bool {
	v, ok := p.raw(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func normalizeAngle(deg int) int {
	deg %= 360
	if deg < 0 {
		deg += 360
	}
	return deg
}
