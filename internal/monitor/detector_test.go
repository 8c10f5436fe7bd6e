package monitor

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func TestFirstObservation(t *testing.T) {
	d := NewDetector()
	result := d.HasChanged(nil, map[string]interface{}{"price": "189 kr"})

	assert.False(t, result.Changed)
	assert.True(t, result.IsFirstExecution)
	assert.Empty(t, result.ChangedFields)
	assert.False(t, result.DetectedAt.IsZero())
}

func TestNoChange(t *testing.T) {
	d := NewDetector()
	sample := map[string]interface{}{"price": "189 kr", "stock": true}
	result := d.HasChanged(sample, map[string]interface{}{"price": "189 kr", "stock": true})

	assert.False(t, result.Changed)
	assert.False(t, result.IsFirstExecution)
}

func TestScalarChange(t *testing.T) {
	d := NewDetector()
	result := d.HasChanged(
		map[string]interface{}{"price": "189 kr"},
		map[string]interface{}{"price": "199 kr"},
	)
	assert.True(t, result.Changed)
	assert.Equal(t, []string{"price"}, result.ChangedFields)
}

func TestNestedChangeUsesDottedPath(t *testing.T) {
	d := NewDetector()
	result := d.HasChanged(
		map[string]interface{}{
			"product": map[string]interface{}{"price": "189 kr", "name": "Ethiopia"},
		},
		map[string]interface{}{
			"product": map[string]interface{}{"price": "209 kr", "name": "Ethiopia"},
		},
	)
	assert.Equal(t, []string{"product.price"}, result.ChangedFields)
}

func TestAddedAndRemovedKeys(t *testing.T) {
	d := NewDetector()
	result := d.HasChanged(
		map[string]interface{}{"price": "189 kr", "old": 1},
		map[string]interface{}{"price": "189 kr", "new": 2},
	)
	assert.ElementsMatch(t, []string{"old", "new"}, result.ChangedFields)
}

func TestArraysComparedByValue(t *testing.T) {
	d := NewDetector()

	same := d.HasChanged(
		map[string]interface{}{"dates": []interface{}{"2026-08-01", "2026-08-20"}},
		map[string]interface{}{"dates": []interface{}{"2026-08-01", "2026-08-20"}},
	)
	assert.False(t, same.Changed)

	diff := d.HasChanged(
		map[string]interface{}{"dates": []interface{}{"2026-08-01"}},
		map[string]interface{}{"dates": []interface{}{"2026-08-01", "2026-08-20"}},
	)
	assert.Equal(t, []string{"dates"}, diff.ChangedFields)
}

func TestNumericNormalization(t *testing.T) {
	d := NewDetector()
	// an int sample persisted and read back through JSON becomes float64
	result := d.HasChanged(
		map[string]interface{}{"count": 42},
		map[string]interface{}{"count": float64(42)},
	)
	assert.False(t, result.Changed)
}

func TestRestockDetection(t *testing.T) {
	d := NewDetector()

	result := d.HasChanged(
		map[string]interface{}{"roastingDate": "2026-08-01"},
		map[string]interface{}{"roastingDate": "2026-08-20"},
	)
	assert.True(t, result.Changed)
	assert.True(t, result.IsRestock)

	// date moving backwards is a change but not a restock
	result = d.HasChanged(
		map[string]interface{}{"roastingDate": "2026-08-20"},
		map[string]interface{}{"roastingDate": "2026-08-01"},
	)
	assert.True(t, result.Changed)
	assert.False(t, result.IsRestock)

	// other changes alone never flag restock
	result = d.HasChanged(
		map[string]interface{}{"roastingDate": "2026-08-01", "price": "189 kr"},
		map[string]interface{}{"roastingDate": "2026-08-01", "price": "199 kr"},
	)
	assert.False(t, result.IsRestock)
}

func TestGetChangeDetails(t *testing.T) {
	d := NewDetector()
	details := d.GetChangeDetails(
		map[string]interface{}{
			"price":   "189 kr",
			"removed": "x",
			"nested":  map[string]interface{}{"stock": true},
		},
		map[string]interface{}{
			"price":  "199 kr",
			"added":  "y",
			"nested": map[string]interface{}{"stock": false},
		},
	)

	want := []FieldChange{
		{Path: "added", Kind: ChangeAdded, Current: "y"},
		{Path: "nested.stock", Kind: ChangeModified, Previous: true, Current: false},
		{Path: "price", Kind: ChangeModified, Previous: "189 kr", Current: "199 kr"},
		{Path: "removed", Kind: ChangeRemoved, Previous: "x"},
	}
	if diff := cmp.Diff(want, details); diff != "" {
		t.Errorf("GetChangeDetails mismatch (-want +got):\n%s", diff)
	}
}

func TestGetChangeDetailsNilPrevious(t *testing.T) {
	d := NewDetector()
	details := d.GetChangeDetails(nil, map[string]interface{}{"price": "189 kr"})
	assert.Len(t, details, 1)
	assert.Equal(t, ChangeAdded, details[0].Kind)
}
