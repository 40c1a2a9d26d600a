// Package template renders event message bodies.
package template

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var placeholder = regexp.MustCompile(`\{\{([A-Za-z0-9_]+)\}\}`)

// TimeLayout is how Time values are written into messages.
const TimeLayout = "02/01/2006 15:04"

type kind uint8

const (
	kindString kind = iota
	kindInt
	kindFloat
	kindBool
	kindTime
)

// Value is a template variable. Build one with String, Int, Float, Bool or
// Time.
type Value struct {
	kind kind
	s    string
	i    int64
	f    float64
	b    bool
	t    time.Time
}

func String(s string) Value { return Value{kind: kindString, s: s} }
func Int(i int64) Value { return Value{kind: kindInt, i: i} }
func Float(f float64) Value { return Value{kind: kindFloat, f: f} }
func Bool(b bool) Value { return Value{kind: kindBool, b: b} }
func Time(t time.Time) Value { return Value{kind: kindTime, t: t} }

func (v Value) String() string {
	switch v.kind {
	case kindInt:
		return strconv.FormatInt(v.i, 10)
	case kindFloat:
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	case kindBool:
		return strconv.FormatBool(v.b)
	case kindTime:
		return v.t.Format(TimeLayout)
	default:
		return v.s
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case kindInt:
		return json.Marshal(v.i)
	case kindFloat:
		return json.Marshal(v.f)
	case kindBool:
		return json.Marshal(v.b)
	case kindTime:
		return json.Marshal(v.t.Format(time.RFC3339))
	default:
		return json.Marshal(v.s)
	}
}

// UnmarshalJSON accepts strings, numbers and booleans. RFC 3339 strings
// become Time values.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("empty template value")
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			*v = Time(t)
			return nil
		}
		*v = String(s)
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*v = Bool(b)
	case 'n', '{', '[':
		return fmt.Errorf("template values must be strings, numbers or booleans")
	default:
		if i, err := strconv.ParseInt(string(data), 10, 64); err == nil {
			*v = Int(i)
			return nil
		}
		f, err := strconv.ParseFloat(string(data), 64)
		if err != nil {
			return fmt.Errorf("invalid template value %s", data)
		}
		*v = Float(f)
	}
	return nil
}

// Vars maps placeholder keys to values.
type Vars map[string]Value

// Render replaces every {{key}} in body with vars[key]. Unknown
// placeholders are left as they are.
func Render(body string, vars Vars) string {
	if len(vars) == 0 {
		return body
	}
	return placeholder.ReplaceAllStringFunc(body, func(match string) string {
		key := match[2 : len(match)-2]
		if v, ok := vars[key]; ok {
			return v.String()
		}
		return match
	})
}

// Placeholders lists the distinct keys referenced by body in order of
// first appearance.
func Placeholders(body string) []string {
	seen := make(map[string]bool)
	var keys []string
	for _, m := range placeholder.FindAllStringSubmatch(body, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			keys = append(keys, m[1])
		}
	}
	return keys
}
