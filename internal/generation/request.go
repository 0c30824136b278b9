// Package generation holds the generation request model, the request
// normalizer and the operation handle shared by providers and the poller.
package generation

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Defaults applied to omitted request fields.
const (
	DefaultDurationSeconds = 12
	DefaultAspectRatio     = "16:9"
	DefaultCameraStyle     = "cinematic-dolly"
	DefaultVisualStyle     = "hollywood-epic"
	DefaultFPS             = 24
)

// Documented (not enforced) ranges.
const (
	MinDurationSeconds = 5
	MaxDurationSeconds = 60
)

// AspectRatios lists the accepted aspect ratios.
var AspectRatios = []string{"16:9", "21:9", "9:16", "1:1"}

// GenerationRequest is a canonical, validated generation request.
// It is built fresh per submission and not mutated afterwards.
type GenerationRequest struct {
	Prompt          string `json:"prompt" validate:"required"`
	DurationSeconds int    `json:"durationSeconds"`
	AspectRatio     string `json:"aspectRatio" validate:"oneof=16:9 21:9 9:16 1:1"`
	CameraStyle     string `json:"cameraStyle"`
	VisualStyle     string `json:"visualStyle"`
	FPS             int    `json:"fps"`
	// ReferenceImageBase64 is the raw base64 payload, without any data URL prefix.
	ReferenceImageBase64 string `json:"referenceImageBase64,omitempty" validate:"omitempty,base64"`
	// ReferenceImageMIMEType is taken from a data URL prefix when one was supplied.
	ReferenceImageMIMEType string `json:"referenceImageMimeType,omitempty"`
	// Storyboard is opaque scene data passed through to the provider.
	Storyboard json.RawMessage `json:"storyboard,omitempty"`
}

// HasReferenceImage reports whether a conditioning image was supplied.
func (r GenerationRequest) HasReferenceImage() bool {
	return r.ReferenceImageBase64 != ""
}

// ToMap renders the request in the loosely-typed input shape accepted by Normalize.
func (r GenerationRequest) ToMap() (map[string]any, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("generation: marshal request: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("generation: unmarshal request: %w", err)
	}
	return out, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Normalize turns a loosely-typed request body into a canonical
// GenerationRequest. Omitted optional fields receive their defaults; numeric
// fields accept numbers or numeric strings. It has no side effects.
func Normalize(raw map[string]any) (GenerationRequest, error) {
	prompt, err := promptField(raw)
	if err != nil {
		return GenerationRequest{}, err
	}

	req := GenerationRequest{Prompt: prompt}

	if req.DurationSeconds, err = intField(raw, "durationSeconds", DefaultDurationSeconds); err != nil {
		return GenerationRequest{}, err
	}
	if req.FPS, err = intField(raw, "fps", DefaultFPS); err != nil {
		return GenerationRequest{}, err
	}
	if req.AspectRatio, err = stringField(raw, "aspectRatio", DefaultAspectRatio); err != nil {
		return GenerationRequest{}, err
	}
	if req.CameraStyle, err = stringField(raw, "cameraStyle", DefaultCameraStyle); err != nil {
		return GenerationRequest{}, err
	}
	if req.VisualStyle, err = stringField(raw, "visualStyle", DefaultVisualStyle); err != nil {
		return GenerationRequest{}, err
	}

	image, err := stringField(raw, "referenceImageBase64", "")
	if err != nil {
		return GenerationRequest{}, err
	}
	mimeType, err := stringField(raw, "referenceImageMimeType", "")
	if err != nil {
		return GenerationRequest{}, err
	}
	if prefixType, payload, ok := splitDataURL(image); ok {
		image = payload
		if prefixType != "" {
			mimeType = prefixType
		}
	}
	if image != "" {
		req.ReferenceImageBase64 = image
		req.ReferenceImageMIMEType = mimeType
	}

	if req.Storyboard, err = rawField(raw, "storyboard"); err != nil {
		return GenerationRequest{}, err
	}

	if err := validate.Struct(req); err != nil {
		return GenerationRequest{}, translateValidation(err)
	}

	return req, nil
}

func promptField(raw map[string]any) (string, error) {
	v, ok := raw["prompt"]
	if !ok || v == nil {
		return "", &ValidationError{Field: "prompt", Message: "Prompt is required"}
	}
	s, ok := v.(string)
	if !ok {
		return "", &ValidationError{Field: "prompt", Message: "prompt must be a string"}
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", &ValidationError{Field: "prompt", Message: "Prompt is required"}
	}
	return s, nil
}

// intField coerces numbers and numeric strings to int. Absent, null and
// empty-string values yield def. Fractional values are rejected.
func intField(raw map[string]any, key string, def int) (int, error) {
	v, ok := raw[key]
	if !ok || v == nil {
		return def, nil
	}

	var f float64
	switch n := v.(type) {
	case int:
		return n, nil
	case int32:
		return int(n), nil
	case int64:
		f = float64(n)
	case float32:
		f = float64(n)
	case float64:
		f = n
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, notInteger(key)
		}
		f = parsed
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return def, nil
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, notInteger(key)
		}
		f = parsed
	default:
		return 0, notInteger(key)
	}

	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return 0, notInteger(key)
	}
	return int(f), nil
}

func notInteger(key string) error {
	return &ValidationError{Field: key, Message: key + " must be an integer"}
}

// stringField reads an optional string. Absent, null and blank values yield def.
func stringField(raw map[string]any, key, def string) (string, error) {
	v, ok := raw[key]
	if !ok || v == nil {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", &ValidationError{Field: key, Message: key + " must be a string"}
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return def, nil
	}
	return s, nil
}

func rawField(raw map[string]any, key string) (json.RawMessage, error) {
	v, ok := raw[key]
	if !ok || v == nil {
		return nil, nil
	}
	// Raw input is decoded and re-encoded so equal storyboards serialize equally.
	if m, ok := v.(json.RawMessage); ok {
		if err := json.Unmarshal(m, &v); err != nil {
			return nil, &ValidationError{Field: key, Message: key + " is not valid JSON"}
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, &ValidationError{Field: key, Message: key + " is not valid JSON"}
	}
	return data, nil
}

// splitDataURL splits "data:<mime>;base64,<payload>".
func splitDataURL(s string) (mimeType, payload string, ok bool) {
	rest, found := strings.CutPrefix(s, "data:")
	if !found {
		return "", "", false
	}
	header, payload, found := strings.Cut(rest, ",")
	if !found {
		return "", "", false
	}
	mimeType, _, _ = strings.Cut(header, ";")
	return mimeType, payload, true
}

func translateValidation(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &ValidationError{Message: err.Error()}
	}
	fe := fieldErrs[0]
	switch fe.Tag() {
	case "required":
		if fe.Field() == "prompt" {
			return &ValidationError{Field: "prompt", Message: "Prompt is required"}
		}
		return &ValidationError{Field: fe.Field(), Message: fe.Field() + " is required"}
	case "oneof":
		return &ValidationError{
			Field:   fe.Field(),
			Message: fmt.Sprintf("%s must be one of %s", fe.Field(), strings.Join(AspectRatios, ", ")),
		}
	case "base64":
		return &ValidationError{Field: fe.Field(), Message: fe.Field() + " must be valid base64"}
	default:
		return &ValidationError{Field: fe.Field(), Message: fe.Error()}
	}
}
