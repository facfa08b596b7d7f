package schema

import (
	"fmt"
	"math"
	"time"
)

// FieldError describes one violated field of a record.
type FieldError struct {
	Field  string
	Reason string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("field %q: %s", e.Field, e.Reason)
}

// ValidationResult is the outcome for a single record. A record is either
// fully accepted or fully rejected, there is no field-level acceptance.
type ValidationResult struct {
	RecordID string
	Valid    bool
	Errors   []FieldError
}

// Validate checks a flat record against the schema. Any violation on any
// declared field rejects the whole record. Fields not present in the schema
// are ignored: the schema is a minimum contract, not an exhaustive one.
func (s *Schema) Validate(recordID string, fields map[string]any) ValidationResult {
	res := ValidationResult{RecordID: recordID}

	keyVal, ok := fields[s.key.Name]
	if !ok {
		res.Errors = append(res.Errors, FieldError{Field: s.key.Name, Reason: "key field missing"})
	} else if str, isStr := keyVal.(string); !isStr || str == "" {
		res.Errors = append(res.Errors, FieldError{Field: s.key.Name, Reason: "key field must be a non-empty string"})
	}

	for _, f := range s.fields {
		val, present := fields[f.Name]
		if !present || val == nil {
			if f.Required && !f.Key { // key absence already reported above
				res.Errors = append(res.Errors, FieldError{Field: f.Name, Reason: "required field missing"})
			}
			continue
		}
		if err := checkValue(f, val); err != nil {
			res.Errors = append(res.Errors, *err)
		}
	}

	res.Valid = len(res.Errors) == 0
	return res
}

func checkValue(f Field, val any) *FieldError {
	switch f.Type {
	case TypeString:
		if _, ok := val.(string); !ok {
			return &FieldError{Field: f.Name, Reason: fmt.Sprintf("expected string, got %T", val)}
		}

	case TypeInt32:
		n, ok := asInteger(val)
		if !ok {
			return &FieldError{Field: f.Name, Reason: fmt.Sprintf("expected integer, got %v", val)}
		}
		if n < math.MinInt32 || n > math.MaxInt32 {
			return &FieldError{Field: f.Name, Reason: fmt.Sprintf("value %d out of int32 range", n)}
		}

	case TypeInt64:
		if _, ok := asInteger(val); !ok {
			return &FieldError{Field: f.Name, Reason: fmt.Sprintf("expected integer, got %v", val)}
		}

	case TypeDouble:
		d, ok := asFloat(val)
		if !ok {
			return &FieldError{Field: f.Name, Reason: fmt.Sprintf("expected number, got %T", val)}
		}
		if math.IsNaN(d) || math.IsInf(d, 0) {
			return &FieldError{Field: f.Name, Reason: "value is not finite"}
		}

	case TypeDateTime:
		str, ok := val.(string)
		if !ok {
			return &FieldError{Field: f.Name, Reason: fmt.Sprintf("expected ISO-8601 string, got %T", val)}
		}
		// RFC 3339 requires an explicit UTC offset, which is exactly the
		// normalization the index needs.
		if _, err := time.Parse(time.RFC3339, str); err != nil {
			return &FieldError{Field: f.Name, Reason: fmt.Sprintf("not an ISO-8601 datetime with offset: %q", str)}
		}

	case TypeStringCollection:
		items, ok := asSlice(val)
		if !ok {
			return &FieldError{Field: f.Name, Reason: fmt.Sprintf("expected string collection, got %T", val)}
		}
		for i, item := range items {
			if _, ok := item.(string); !ok {
				return &FieldError{Field: f.Name, Reason: fmt.Sprintf("element %d is %T, not string", i, item)}
			}
		}

	case TypeFloatVector:
		items, ok := asSlice(val)
		if !ok {
			return &FieldError{Field: f.Name, Reason: fmt.Sprintf("expected float vector, got %T", val)}
		}
		if len(items) != f.Dimensions {
			return &FieldError{Field: f.Name, Reason: fmt.Sprintf("vector length %d, schema requires %d", len(items), f.Dimensions)}
		}
		for i, item := range items {
			d, ok := asFloat(item)
			if !ok {
				return &FieldError{Field: f.Name, Reason: fmt.Sprintf("element %d is %T, not a number", i, item)}
			}
			if math.IsNaN(d) || math.IsInf(d, 0) {
				return &FieldError{Field: f.Name, Reason: fmt.Sprintf("element %d is not finite", i)}
			}
		}
	}

	return nil
}

// asInteger accepts the numeric shapes a decoded JSON document or an
// in-process producer may carry, as long as the value is lossless as int64.
func asInteger(val any) (int64, bool) {
	switch v := val.(type) {
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) || math.IsNaN(v) {
			return 0, false
		}
		// Bound before converting: int64(v) is undefined out of range.
		// MaxInt64 rounds up to 2^63 as float64, so the upper bound is
		// exclusive.
		if v < math.MinInt64 || v >= math.MaxInt64 {
			return 0, false
		}
		return int64(v), true
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	}
	return 0, false
}

func asFloat(val any) (float64, bool) {
	switch v := val.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func asSlice(val any) ([]any, bool) {
	switch v := val.(type) {
	case []any:
		return v, true
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out, true
	case []float64:
		out := make([]any, len(v))
		for i, f := range v {
			out[i] = f
		}
		return out, true
	case []float32:
		out := make([]any, len(v))
		for i, f := range v {
			out[i] = f
		}
		return out, true
	}
	return nil, false
}
