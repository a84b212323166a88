// Package params decodes untyped demo parameters into typed values and
// collects every constraint violation into one domain.ValidationError.
package params

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/osvaldoandrade/netdemo/pkg/domain"
)

// Decoder reads fields from a raw parameter mapping. Errors accumulate;
// call Err once all fields have been read.
type Decoder struct {
	raw  map[string]any
	errs domain.ValidationError
}

func NewDecoder(raw map[string]any) *Decoder {
	if raw == nil {
		raw = map[string]any{}
	}
	return &Decoder{raw: raw}
}

// Err returns the accumulated *domain.ValidationError, or nil.
func (d *Decoder) Err() error {
	if len(d.errs.Violations) == 0 {
		return nil
	}
	ve := d.errs
	return &ve
}

func (d *Decoder) fail(field, format string, args ...any) {
	d.errs.Add(field, fmt.Sprintf(format, args...))
}

func (d *Decoder) lookup(key string) (any, bool) {
	v, ok := d.raw[key]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// RequiredInt reads an integer in [min, max].
func (d *Decoder) RequiredInt(key string, min, max int) int {
	v, ok := d.lookup(key)
	if !ok {
		d.fail(key, "field required")
		return 0
	}
	return d.checkInt(key, v, min, max)
}

// OptionalInt reads an integer in [min, max], returning def when absent.
func (d *Decoder) OptionalInt(key string, min, max, def int) (int, bool) {
	v, ok := d.lookup(key)
	if !ok {
		return def, false
	}
	return d.checkInt(key, v, min, max), true
}

func (d *Decoder) checkInt(key string, v any, min, max int) int {
	n, err := toInt(v)
	if err != nil {
		d.fail(key, "%v", err)
		return 0
	}
	if n < int64(min) || n > int64(max) {
		d.fail(key, "must be between %d and %d", min, max)
		return 0
	}
	return int(n)
}

// RequiredString reads a non-empty string.
func (d *Decoder) RequiredString(key string) string {
	v, ok := d.lookup(key)
	if !ok {
		d.fail(key, "field required")
		return ""
	}
	s, ok := v.(string)
	if !ok {
		d.fail(key, "must be a string")
		return ""
	}
	s = strings.TrimSpace(s)
	if s == "" {
		d.fail(key, "must not be empty")
	}
	return s
}

// PublicIPv4 reads a dotted-quad address that passes CheckPublicIPv4.
func (d *Decoder) PublicIPv4(key string) string {
	s := d.RequiredString(key)
	if s == "" {
		return ""
	}
	if err := CheckPublicIPv4(s); err != nil {
		d.fail(key, "%v", err)
		return ""
	}
	return s
}

// toInt accepts Go integers, integral floats (JSON numbers decode as float64)
// and json.Number. Booleans and strings are rejected.
func toInt(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case float32:
		return floatToInt(float64(n))
	case float64:
		return floatToInt(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, nil
		}
		f, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("must be an integer")
		}
		return floatToInt(f)
	}
	return 0, fmt.Errorf("must be an integer")
}

func floatToInt(f float64) (int64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) || math.Abs(f) > 1<<53 {
		return 0, fmt.Errorf("must be an integer")
	}
	return int64(f), nil
}
