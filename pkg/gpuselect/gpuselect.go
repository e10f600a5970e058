// Package gpuselect normalizes the several wire representations the
// Container Controller's GPU-selection field can arrive in (spec §4.2,
// testable property #11) into a single canonical []int, and renders the
// env vars derived from it.
package gpuselect

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Normalize accepts any of: nil, a []int, a []interface{} of numbers, a
// plain JSON array string ("[0,1]"), or a double-encoded JSON string
// ("\"[0,1]\"" — i.e. a JSON string whose contents are themselves a JSON
// array), and returns the canonical, deduplicated, ascending []int.
//
// One helper is used by both the code path that reads a stored model row
// and the code path that writes one, so both directions agree on shape.
func Normalize(raw interface{}) ([]int, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case []int:
		return dedupSort(v), nil
	case []interface{}:
		ids := make([]int, 0, len(v))
		for _, item := range v {
			id, err := toInt(item)
			if err != nil {
				return nil, fmt.Errorf("gpuselect: invalid entry %v: %w", item, err)
			}
			ids = append(ids, id)
		}
		return dedupSort(ids), nil
	case string:
		return normalizeString(v)
	case json.Number:
		id, err := toInt(v)
		if err != nil {
			return nil, err
		}
		return []int{id}, nil
	default:
		return nil, fmt.Errorf("gpuselect: unsupported representation %T", raw)
	}
}

// normalizeString unwraps up to two layers of JSON-string encoding
// before parsing the inner value as a JSON array of integers.
func normalizeString(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	// Double-encoded: a JSON string literal containing a JSON array, e.g.
	// `"\"[0,1]\""` decodes (once) to the Go string `"[0,1]"` which is
	// itself valid JSON for a string; unwrap until we hit an array.
	for i := 0; i < 2; i++ {
		var asString string
		if err := json.Unmarshal([]byte(s), &asString); err == nil {
			s = asString
			continue
		}
		break
	}

	var ids []int
	if err := json.Unmarshal([]byte(s), &ids); err != nil {
		return nil, fmt.Errorf("gpuselect: cannot parse %q as an int array: %w", s, err)
	}
	return dedupSort(ids), nil
}

func toInt(v interface{}) (int, error) {
	switch n := v.(type) {
	case float64:
		return int(n), nil
	case int:
		return n, nil
	case json.Number:
		i, err := n.Int64()
		return int(i), err
	case string:
		return strconv.Atoi(n)
	default:
		return 0, fmt.Errorf("unsupported numeric type %T", v)
	}
}

func dedupSort(ids []int) []int {
	seen := make(map[int]struct{}, len(ids))
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	// insertion sort is fine; GPU lists are tiny
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// CUDAVisibleDevices renders the canonical ids as the CUDA_VISIBLE_DEVICES
// environment variable value.
func CUDAVisibleDevices(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ",")
}

// TensorParallelSize returns the tensor-parallel degree implied by the GPU
// count, defaulting to 1 when no GPUs are selected (CPU-only / single
// device default).
func TensorParallelSize(ids []int) int {
	if len(ids) == 0 {
		return 1
	}
	return len(ids)
}

// MarshalCanonical serializes ids the way CORTEX always persists them —
// a plain JSON array, never double-encoded — so a migration pass over
// legacy rows can normalize-then-rewrite.
func MarshalCanonical(ids []int) (string, error) {
	b, err := json.Marshal(ids)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
