package value

import (
	"strconv"
	"strings"
)

// Get returns the value stored under key.
func (o Object) Get(key string) (Value, bool) {
	v, ok := o[key]
	return v, ok
}

// Find looks a key up exactly, then ignoring case and underscores, so
// "introducedDate", "introduced_date" and "IntroducedDate" all match.
func (o Object) Find(key string) (Value, bool) {
	if v, ok := o[key]; ok {
		return v, true
	}
	want := foldKey(key)
	for k, v := range o {
		if foldKey(k) == want {
			return v, true
		}
	}
	return nil, false
}

func foldKey(k string) string {
	return strings.ToLower(strings.ReplaceAll(k, "_", ""))
}

// Lookup walks a dotted path ("amendedBill.congress", "laws.0.number").
// Object segments use Find; numeric segments index into arrays.
func (o Object) Lookup(path string) (Value, bool) {
	var cur Value = o
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case Object:
			v, ok := node.Find(seg)
			if !ok {
				return nil, false
			}
			cur = v
		case Array:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

// LookupString is Lookup followed by AsString.
func (o Object) LookupString(path string) (string, bool) {
	v, ok := o.Lookup(path)
	if !ok {
		return "", false
	}
	return AsString(v)
}

// LookupObject is Lookup followed by an Object assertion.
func (o Object) LookupObject(path string) (Object, bool) {
	v, ok := o.Lookup(path)
	if !ok {
		return nil, false
	}
	obj, ok := v.(Object)
	return obj, ok
}

// LookupArray is Lookup followed by an Array assertion.
func (o Object) LookupArray(path string) (Array, bool) {
	v, ok := o.Lookup(path)
	if !ok {
		return nil, false
	}
	arr, ok := v.(Array)
	return arr, ok
}

// IsNull reports whether v is absent or JSON null.
func IsNull(v Value) bool {
	switch v.(type) {
	case nil, Null:
		return true
	}
	return false
}

// IsEmpty reports whether v is null, an empty string, an empty array or an
// empty object.
func IsEmpty(v Value) bool {
	switch val := v.(type) {
	case nil, Null:
		return true
	case String:
		return strings.TrimSpace(string(val)) == ""
	case Array:
		return len(val) == 0
	case Object:
		return len(val) == 0
	}
	return false
}

// AsString returns the string form of a string or number value.
func AsString(v Value) (string, bool) {
	switch val := v.(type) {
	case String:
		return string(val), true
	case Number:
		return string(val), true
	case Bool:
		return strconv.FormatBool(bool(val)), true
	}
	return "", false
}

// AsInt returns an integer from a number or a numeric string.
func AsInt(v Value) (int64, bool) {
	switch val := v.(type) {
	case Number:
		if i, err := val.Int64(); err == nil {
			return i, true
		}
		if f, err := val.Float64(); err == nil && f == float64(int64(f)) {
			return int64(f), true
		}
	case String:
		i, err := strconv.ParseInt(strings.TrimSpace(string(val)), 10, 64)
		if err == nil {
			return i, true
		}
	}
	return 0, false
}

// AsBool accepts booleans, "true"/"false"/"yes"/"no" strings and 0/1.
func AsBool(v Value) (bool, bool) {
	switch val := v.(type) {
	case Bool:
		return bool(val), true
	case String:
		switch strings.ToLower(strings.TrimSpace(string(val))) {
		case "true", "t", "yes", "y", "1":
			return true, true
		case "false", "f", "no", "n", "0":
			return false, true
		}
	case Number:
		switch val {
		case "0":
			return false, true
		case "1":
			return true, true
		}
	}
	return false, false
}
