// Package monitor diffs successive extraction samples for a watched task and
// flags meaningful changes, including the coffee-restock heuristic built on
// roasting dates.
package monitor

import (
	"fmt"
	"reflect"
	"sort"
	"time"

	"pagewatch/internal/logging"
)

// ChangeResult is the outcome of one diff pass.
type ChangeResult struct {
	Changed          bool      `json:"changed"`
	ChangedFields    []string  `json:"changedFields"`
	IsRestock        bool      `json:"isRestock"`
	IsFirstExecution bool      `json:"isFirstExecution,omitempty"`
	DetectedAt       time.Time `json:"detectedAt"`
}

// ChangeKind classifies a single field change.
type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeRemoved  ChangeKind = "removed"
	ChangeModified ChangeKind = "modified"
)

// FieldChange is one classified change for GetChangeDetails.
type FieldChange struct {
	Path     string      `json:"path"`
	Kind     ChangeKind  `json:"kind"`
	Previous interface{} `json:"previous,omitempty"`
	Current  interface{} `json:"current,omitempty"`
}

// Detector compares extraction samples.
type Detector struct{}

// NewDetector creates a Detector.
func NewDetector() *Detector {
	return &Detector{}
}

// HasChanged diffs prev against curr. A nil prev means the task has never
// been observed: no change, first execution.
func (d *Detector) HasChanged(prev, curr map[string]interface{}) ChangeResult {
	result := ChangeResult{DetectedAt: time.Now()}
	if prev == nil {
		result.IsFirstExecution = true
		return result
	}

	fields := diffValues("", prev, curr)
	sort.Strings(fields)
	result.ChangedFields = fields
	result.Changed = len(fields) > 0
	result.IsRestock = isRestock(fields, prev, curr)

	if result.Changed {
		logging.Monitor("change detected fields=%v restock=%v", fields, result.IsRestock)
	}
	return result
}

// GetChangeDetails classifies each changed field as added, removed or
// modified based on key presence.
func (d *Detector) GetChangeDetails(prev, curr map[string]interface{}) []FieldChange {
	if prev == nil {
		prev = map[string]interface{}{}
	}
	fields := diffValues("", prev, curr)
	sort.Strings(fields)

	changes := make([]FieldChange, 0, len(fields))
	for _, path := range fields {
		prevVal, prevOK := lookupPath(prev, path)
		currVal, currOK := lookupPath(curr, path)
		change := FieldChange{Path: path, Previous: prevVal, Current: currVal}
		switch {
		case !prevOK:
			change.Kind = ChangeAdded
			change.Previous = nil
		case !currOK:
			change.Kind = ChangeRemoved
			change.Current = nil
		default:
			change.Kind = ChangeModified
		}
		changes = append(changes, change)
	}
	return changes
}

// diffValues walks both maps and returns the dotted paths whose values
// differ. Nested objects recurse; arrays and scalars compare by value.
func diffValues(prefix string, prev, curr map[string]interface{}) []string {
	var fields []string

	keys := make(map[string]struct{}, len(prev)+len(curr))
	for k := range prev {
		keys[k] = struct{}{}
	}
	for k := range curr {
		keys[k] = struct{}{}
	}

	for key := range keys {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		prevVal, prevOK := prev[key]
		currVal, currOK := curr[key]

		if !prevOK || !currOK {
			fields = append(fields, path)
			continue
		}

		prevMap, prevIsMap := prevVal.(map[string]interface{})
		currMap, currIsMap := currVal.(map[string]interface{})
		if prevIsMap && currIsMap {
			fields = append(fields, diffValues(path, prevMap, currMap)...)
			continue
		}

		if !reflect.DeepEqual(normalize(prevVal), normalize(currVal)) {
			fields = append(fields, path)
		}
	}
	return fields
}

// normalize flattens numeric types so 42 and 42.0 compare equal after a
// JSON round trip.
func normalize(v interface{}) interface{} {
	switch x := v.(type) {
	case int:
		return float64(x)
	case int64:
		return float64(x)
	case float32:
		return float64(x)
	case []interface{}:
		out := make([]interface{}, len(x))
		for i, item := range x {
			out[i] = normalize(item)
		}
		return out
	default:
		return v
	}
}

// isRestock reports a coffee restock: the roasting date changed and moved
// forward. Dates are YYYY-MM-DD, so lexicographic order is date order.
func isRestock(changedFields []string, prev, curr map[string]interface{}) bool {
	found := false
	for _, f := range changedFields {
		if f == "roastingDate" {
			found = true
			break
		}
	}
	if !found {
		return false
	}
	prevDate := stringAt(prev, "roastingDate")
	currDate := stringAt(curr, "roastingDate")
	return prevDate != "" && currDate != "" && prevDate < currDate
}

func stringAt(m map[string]interface{}, key string) string {
	v, ok := m[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return fmt.Sprintf("%v", v)
	}
	return s
}

// lookupPath resolves a dotted path against nested maps.
func lookupPath(m map[string]interface{}, path string) (interface{}, bool) {
	cur := interface{}(m)
	start := 0
	for i := 0; i <= len(path); i++ {
		if i < len(path) && path[i] != '.' {
			continue
		}
		key := path[start:i]
		start = i + 1
		node, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = node[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}
