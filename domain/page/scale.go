package page

import (
	"strconv"
)

// ScaleKey is the normalized, two-decimal form of a zoom factor. Cached
// bitmaps and ranges are partitioned by ScaleKey; distinct keys never share
// entries.
type ScaleKey string

// NewScaleKey normalizes a zoom factor into a ScaleKey.
func NewScaleKey(scale float64) ScaleKey {
	return ScaleKey(strconv.FormatFloat(scale, 'f', 2, 64))
}

// Float returns the zoom factor the key represents.
func (k ScaleKey) Float() float64 {
	f, err := strconv.ParseFloat(string(k), 64)
	if err != nil {
		return 0
	}
	return f
}

// String returns the key as a string.
func (k ScaleKey) String() string { return string(k) }

// ChunkKey identifies one fetch+render unit: a scale partition and the first
// page of a range.
func ChunkKey(scale ScaleKey, start int) string {
	return string(scale) + ":" + strconv.Itoa(start)
}
