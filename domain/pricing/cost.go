package pricing

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// LongContextTag marks a model id as a 1M-context variant.
const LongContextTag = "[1m]"

// LongContextThreshold is the summed input size above which long-context
// rates replace the base input/output rates.
const LongContextThreshold = 200000

// LongContextRate holds input/output overrides for long-context requests.
type LongContextRate struct {
	Model  string
	Input  float64
	Output float64
}

// longContextRates is ordered; the first entry is the default for
// tagged models with no dedicated row.
var longContextRates = []LongContextRate{
	{Model: "claude-sonnet-4-20250514[1m]", Input: 0.000006, Output: 0.0000225},
}

// ephemeral1hRates are the dedicated 1-hour cache write prices.
var ephemeral1hRates = map[string]float64{
	"claude-opus-4-1":          0.00003,
	"claude-opus-4-1-20250805": 0.00003,
	"claude-opus-4":            0.00003,
	"claude-opus-4-20250514":   0.00003,
	"claude-3-opus":            0.00003,
	"claude-3-opus-latest":     0.00003,
	"claude-3-opus-20240229":   0.00003,

	"claude-3-5-sonnet":          0.000006,
	"claude-3-5-sonnet-latest":   0.000006,
	"claude-3-5-sonnet-20241022": 0.000006,
	"claude-3-5-sonnet-20240620": 0.000006,
	"claude-3-sonnet":            0.000006,
	"claude-3-sonnet-20240307":   0.000006,
	"claude-sonnet-3":            0.000006,
	"claude-sonnet-3-5":          0.000006,
	"claude-sonnet-3-7":          0.000006,
	"claude-sonnet-4":            0.000006,
	"claude-sonnet-4-20250514":   0.000006,

	"claude-3-5-haiku":          0.0000016,
	"claude-3-5-haiku-latest":   0.0000016,
	"claude-3-5-haiku-20241022": 0.0000016,
	"claude-3-haiku":            0.0000016,
	"claude-3-haiku-20240307":   0.0000016,
	"claude-haiku-3":            0.0000016,
	"claude-haiku-3-5":          0.0000016,
}

// Ephemeral1hRate returns the 1-hour cache write price for a model.
// Unknown ids fall back to the family rate; anything else prices at 0.
// This is a PURE function.
func Ephemeral1hRate(model string) float64 {
	if model == "" {
		return 0
	}
	if r, ok := ephemeral1hRates[model]; ok {
		return r
	}
	lower := strings.ToLower(model)
	switch {
	case strings.Contains(lower, "opus"):
		return 0.00003
	case strings.Contains(lower, "sonnet"):
		return 0.000006
	case strings.Contains(lower, "haiku"):
		return 0.0000016
	}
	return 0
}

// longContextRate returns the override for a tagged model.
func longContextRate(model string) (LongContextRate, bool) {
	for _, r := range longContextRates {
		if r.Model == model {
			return r, true
		}
	}
	if len(longContextRates) > 0 {
		return longContextRates[0], true
	}
	return LongContextRate{}, false
}

// CacheCreation splits cache writes by lifetime.
type CacheCreation struct {
	Ephemeral5mTokens int64 `json:"ephemeral_5m_input_tokens"`
	Ephemeral1hTokens int64 `json:"ephemeral_1h_input_tokens"`
}

// Usage is the token and media consumption of one upstream attempt (value type).
type Usage struct {
	InputTokens         int64          `json:"input_tokens"`
	OutputTokens        int64          `json:"output_tokens"`
	CacheCreationTokens int64          `json:"cache_creation_input_tokens"`
	CacheReadTokens     int64          `json:"cache_read_input_tokens"`
	CacheCreation       *CacheCreation `json:"cache_creation,omitempty"`

	InputImages           int64   `json:"input_images,omitempty"`
	OutputImages          int64   `json:"output_images,omitempty"`
	InputPixels           int64   `json:"input_pixels,omitempty"`
	OutputPixels          int64   `json:"output_pixels,omitempty"`
	OutputDurationSeconds float64 `json:"output_duration_seconds,omitempty"`
	ImageResolution       string  `json:"image_resolution,omitempty"`
}

// TotalTokens sums input, output, cache-creation and cache-read tokens.
func (u Usage) TotalTokens() int64 {
	return nonNeg(u.InputTokens) + nonNeg(u.OutputTokens) +
		nonNeg(u.CacheCreationTokens) + nonNeg(u.CacheReadTokens)
}

// IsZero reports whether the usage carries nothing billable.
func (u Usage) IsZero() bool {
	if u.TotalTokens() > 0 {
		return false
	}
	if u.CacheCreation != nil && (u.CacheCreation.Ephemeral5mTokens > 0 || u.CacheCreation.Ephemeral1hTokens > 0) {
		return false
	}
	return u.InputImages <= 0 && u.OutputImages <= 0 &&
		u.InputPixels <= 0 && u.OutputPixels <= 0 && !(u.OutputDurationSeconds > 0)
}

// Rates are the unit prices applied to a request (value type).
type Rates struct {
	Input               float64 `json:"input"`
	Output              float64 `json:"output"`
	CacheCreate         float64 `json:"cacheCreate"`
	CacheRead           float64 `json:"cacheRead"`
	Ephemeral1h         float64 `json:"ephemeral1h"`
	InputPerImage       float64 `json:"inputPerImage"`
	OutputPerImage      float64 `json:"outputPerImage"`
	OutputPerImageToken float64 `json:"outputPerImageToken"`
	InputPerPixel       float64 `json:"inputPerPixel"`
	OutputPerPixel      float64 `json:"outputPerPixel"`
	OutputPerSecond     float64 `json:"outputPerSecond"`
}

// Breakdown is the itemised cost of one usage summary (value type).
type Breakdown struct {
	InputCost       float64 `json:"inputCost"`
	OutputCost      float64 `json:"outputCost"`
	CacheCreateCost float64 `json:"cacheCreateCost"`
	CacheReadCost   float64 `json:"cacheReadCost"`
	Ephemeral5mCost float64 `json:"ephemeral5mCost"`
	Ephemeral1hCost float64 `json:"ephemeral1hCost"`

	ImageInputCost  float64 `json:"imageInputCost"`
	ImageOutputCost float64 `json:"imageOutputCost"`
	ImageTotalCost  float64 `json:"imageTotalCost"`
	VideoOutputCost float64 `json:"videoOutputCost"`
	MediaTotalCost  float64 `json:"mediaTotalCost"`

	TotalCost float64 `json:"totalCost"`

	HasPricing           bool `json:"hasPricing"`
	IsLongContextRequest bool `json:"isLongContextRequest"`
	IsImageModel         bool `json:"isImageModel"`
	IsVideoModel         bool `json:"isVideoModel"`
	IsMediaModel         bool `json:"isMediaModel"`

	Rates Rates `json:"pricing"`
}

// Cost resolves the model in the table and prices the usage.
func (t *Table) Cost(model string, u Usage) Breakdown {
	m := t.Resolve(model)
	if !m.Found() {
		return Calculate(nil, model, u)
	}
	return Calculate(&m.Entry, model, u)
}

// Calculate prices usage against an already-resolved entry.
// A nil entry means the model has no pricing; the result is all zeros
// unless the long-context override applies.
// This is a PURE function - no side effects, deterministic.
func Calculate(entry *Entry, model string, u Usage) Breakdown {
	u = sanitize(u)

	isLongContextRequest := false
	var lc LongContextRate
	useLongContext := false
	if strings.Contains(model, LongContextTag) {
		if u.InputTokens+u.CacheCreationTokens+u.CacheReadTokens > LongContextThreshold {
			isLongContextRequest = true
			lc, useLongContext = longContextRate(model)
		}
	}

	if entry == nil && !useLongContext {
		return Breakdown{}
	}

	var e Entry
	if entry != nil {
		e = *entry
	}

	var b Breakdown
	b.HasPricing = true
	b.IsLongContextRequest = isLongContextRequest
	b.IsImageModel = entry != nil && e.IsImage()
	b.IsVideoModel = entry != nil && e.IsVideo()
	b.IsMediaModel = b.IsImageModel || b.IsVideoModel

	inRate, outRate := e.InputCostPerToken, e.OutputCostPerToken
	if useLongContext {
		inRate, outRate = lc.Input, lc.Output
	}
	b.InputCost = float64(u.InputTokens) * inRate
	b.OutputCost = float64(u.OutputTokens) * outRate

	// Cache reads keep the base rate even for long-context requests.
	b.CacheReadCost = float64(u.CacheReadTokens) * e.CacheReadCostPerToken

	if u.CacheCreation != nil {
		b.Ephemeral5mCost = float64(u.CacheCreation.Ephemeral5mTokens) * e.CacheCreationCostPerToken
		b.Ephemeral1hCost = float64(u.CacheCreation.Ephemeral1hTokens) * Ephemeral1hRate(model)
		b.CacheCreateCost = b.Ephemeral5mCost + b.Ephemeral1hCost
	} else if u.CacheCreationTokens > 0 {
		b.CacheCreateCost = float64(u.CacheCreationTokens) * e.CacheCreationCostPerToken
		b.Ephemeral5mCost = b.CacheCreateCost
	}

	if b.IsImageModel {
		b.ImageInputCost, b.ImageOutputCost = imageCost(e, u)
	}
	if b.IsVideoModel && e.OutputCostPerSecond > 0 && u.OutputDurationSeconds > 0 {
		b.VideoOutputCost = u.OutputDurationSeconds * e.OutputCostPerSecond
	}

	b.ImageTotalCost = b.ImageInputCost + b.ImageOutputCost
	b.MediaTotalCost = b.ImageTotalCost + b.VideoOutputCost
	b.TotalCost = b.InputCost + b.OutputCost + b.CacheCreateCost + b.CacheReadCost + b.MediaTotalCost

	b.Rates = Rates{
		Input:               inRate,
		Output:              outRate,
		CacheCreate:         e.CacheCreationCostPerToken,
		CacheRead:           e.CacheReadCostPerToken,
		Ephemeral1h:         Ephemeral1hRate(model),
		InputPerImage:       e.InputCostPerImage,
		OutputPerImage:      e.OutputCostPerImage,
		OutputPerImageToken: e.OutputCostPerImageToken,
		InputPerPixel:       e.InputCostPerPixel,
		OutputPerPixel:      e.OutputCostPerPixel,
		OutputPerSecond:     e.OutputCostPerSecond,
	}
	return b
}

// imageCost applies per-image, then per-pixel, then per-image-token
// priority for output and per-image, then per-pixel for input.
func imageCost(e Entry, u Usage) (input, output float64) {
	inPixels, outPixels := u.InputPixels, u.OutputPixels
	if u.ImageResolution != "" && (inPixels == 0 || outPixels == 0) {
		if _, _, px := ParseResolution(u.ImageResolution); px > 0 {
			if inPixels == 0 && u.InputImages > 0 {
				inPixels = px * u.InputImages
			}
			if outPixels == 0 && u.OutputImages > 0 {
				outPixels = px * u.OutputImages
			}
		}
	}

	switch {
	case e.OutputCostPerImage > 0 && u.OutputImages > 0:
		output = float64(u.OutputImages) * e.OutputCostPerImage
	case e.OutputCostPerPixel > 0 && outPixels > 0:
		output = float64(outPixels) * e.OutputCostPerPixel
	case e.OutputCostPerImageToken > 0 && u.OutputTokens > 0:
		output = float64(u.OutputTokens) * e.OutputCostPerImageToken
	}

	switch {
	case e.InputCostPerImage > 0 && u.InputImages > 0:
		input = float64(u.InputImages) * e.InputCostPerImage
	case e.InputCostPerPixel > 0 && inPixels > 0:
		input = float64(inPixels) * e.InputCostPerPixel
	}
	return input, output
}

var resolutionPattern = regexp.MustCompile(`^(\d+)x(\d+)$`)

// ParseResolution parses "WxH". Malformed input returns zeros.
// This is a PURE function.
func ParseResolution(s string) (width, height, pixels int64) {
	m := resolutionPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, 0, 0
	}
	w, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, 0, 0
	}
	h, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return 0, 0, 0
	}
	return w, h, w * h
}

// FormatCost renders a dollar amount with precision scaled to its size.
func FormatCost(cost float64) string {
	switch {
	case cost == 0:
		return "$0.000000"
	case cost < 0.000001:
		return "$" + strconv.FormatFloat(cost, 'e', 2, 64)
	case cost < 0.01:
		return "$" + strconv.FormatFloat(cost, 'f', 6, 64)
	case cost < 1:
		return "$" + strconv.FormatFloat(cost, 'f', 4, 64)
	}
	return "$" + strconv.FormatFloat(cost, 'f', 2, 64)
}

func sanitize(u Usage) Usage {
	u.InputTokens = nonNeg(u.InputTokens)
	u.OutputTokens = nonNeg(u.OutputTokens)
	u.CacheCreationTokens = nonNeg(u.CacheCreationTokens)
	u.CacheReadTokens = nonNeg(u.CacheReadTokens)
	if u.CacheCreation != nil {
		cc := *u.CacheCreation
		cc.Ephemeral5mTokens = nonNeg(cc.Ephemeral5mTokens)
		cc.Ephemeral1hTokens = nonNeg(cc.Ephemeral1hTokens)
		u.CacheCreation = &cc
	}
	u.InputImages = nonNeg(u.InputImages)
	u.OutputImages = nonNeg(u.OutputImages)
	u.InputPixels = nonNeg(u.InputPixels)
	u.OutputPixels = nonNeg(u.OutputPixels)
	if math.IsNaN(u.OutputDurationSeconds) || u.OutputDurationSeconds < 0 || math.IsInf(u.OutputDurationSeconds, 0) {
		u.OutputDurationSeconds = 0
	}
	return u
}

func nonNeg(n int64) int64 {
	if n < 0 {
		return 0
	}
	return n
}
