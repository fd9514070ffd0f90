package config

import "encoding/json"

// Options fetches typed values from a free-form JSON object. Accessors
// perform minimal coercion and return the given default when a key is absent
// or has an unexpected type.
type Options map[string]any

// Has reports whether key is present.
func (o Options) Has(key string) bool {
	_, ok := o[key]
	return ok
}

// String returns the string value for key or def.
func (o Options) String(key, def string) string {
	if v, ok := o[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

// Bool returns the bool value for key or def.
func (o Options) Bool(key string, def bool) bool {
	if v, ok := o[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

// Int returns the int value for key or def. encoding/json decodes numbers as
// float64, which is truncated.
func (o Options) Int(key string, def int) int {
	if v, ok := o[key]; ok {
		switch n := v.(type) {
		case float64:
			return int(n)
		case int:
			return n
		}
	}
	return def
}

// Float returns the number for key or def.
func (o Options) Float(key string, def float64) float64 {
	if v, ok := o[key]; ok {
		switch n := v.(type) {
		case float64:
			return n
		case int:
			return float64(n)
		}
	}
	return def
}

// Rune returns the first rune of the string for key, or def when missing or
// empty. Useful for single-character settings such as a CSV separator.
func (o Options) Rune(key string, def rune) rune {
	if v, ok := o[key]; ok {
		if s, ok := v.(string); ok && len(s) > 0 {
			return []rune(s)[0]
		}
	}
	return def
}

// StringSlice returns the strings of an array value; other elements are
// skipped. Returns nil when the key is missing or not an array.
func (o Options) StringSlice(key string) []string {
	if v, ok := o[key]; ok {
		switch vv := v.(type) {
		case []any:
			out := make([]string, 0, len(vv))
			for _, x := range vv {
				if s, ok := x.(string); ok {
					out = append(out, s)
				}
			}
			return out
		case []string:
			return vv
		}
	}
	return nil
}

// Objects returns the objects of an array value, such as the calculations of
// a calculate step. Elements that are not objects are skipped.
func (o Options) Objects(key string) []Options {
	v, ok := o[key]
	if !ok {
		return nil
	}
	switch vv := v.(type) {
	case []any:
		out := make([]Options, 0, len(vv))
		for _, x := range vv {
			if m, ok := x.(map[string]any); ok {
				out = append(out, Options(m))
			}
		}
		return out
	case []Options:
		return vv
	case []map[string]any:
		out := make([]Options, len(vv))
		for i, m := range vv {
			out[i] = m
		}
		return out
	}
	return nil
}

// Object returns a nested object, or an empty Options.
func (o Options) Object(key string) Options {
	if v, ok := o[key]; ok {
		switch m := v.(type) {
		case map[string]any:
			return m
		case Options:
			return m
		}
	}
	return Options{}
}

// UnmarshalJSON makes a missing or null options object decode to an empty,
// non-nil map.
func (o *Options) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || string(b) == "null" {
		*o = Options{}
		return nil
	}
	var tmp map[string]any
	if err := json.Unmarshal(b, &tmp); err != nil {
		return err
	}
	*o = Options(tmp)
	return nil
}
