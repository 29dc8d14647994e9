package frozen

import (
	"bytes"
	"encoding/json"
	"reflect"
)

type sentinel struct {
	name string
}

// Initial is the placeholder value carried by epic state, scope and
// condition values before the first commit. It is compared by identity
// and is distinct from every user value, including nil.
var Initial any = &sentinel{name: "INITIAL"}

// IsInitial reports whether v is the Initial sentinel.
func IsInitial(v any) bool {
	return v == Initial
}

// Freeze returns a canonical snapshot of v: a deep copy shaped the way
// encoding/json shapes values (map[string]any, []any, float64, string,
// bool, nil). Values that cannot be marshaled are deep copied as-is.
// The Initial sentinel and nil freeze to themselves.
func Freeze(v any) any {
	if v == nil || IsInitial(v) {
		return v
	}
	b, err := json.Marshal(v)
	if err != nil {
		return Unfreeze(v)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return Unfreeze(v)
	}
	return out
}

// Unfreeze returns a mutable deep copy of v. Maps and slices are copied
// recursively; scalars and opaque values are returned as-is.
func Unfreeze(v any) any {
	switch tv := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(tv))
		for k, e := range tv {
			out[k] = Unfreeze(e)
		}
		return out
	case []any:
		out := make([]any, len(tv))
		for i, e := range tv {
			out[i] = Unfreeze(e)
		}
		return out
	default:
		return v
	}
}

// JSONEqual reports whether a and b marshal to the same JSON. Values
// that cannot be marshaled fall back to reflect.DeepEqual. The Initial
// sentinel is equal only to itself.
func JSONEqual(a, b any) bool {
	if IsInitial(a) || IsInitial(b) {
		return a == b
	}
	ab, errA := json.Marshal(a)
	bb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return reflect.DeepEqual(a, b)
	}
	return bytes.Equal(ab, bb)
}
