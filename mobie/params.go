package mobie

import (
	"encoding/json"
	"fmt"
	"runtime"
	"strings"
)

// Resolution is the physical voxel size per axis in micrometer, in the axis order of the data.
type Resolution []float64

// Shape is an n-dimensional size, used for chunks and block shapes.
type Shape []int

// ScaleFactors holds one per-axis downsampling factor for each resolution level beyond the base.
type ScaleFactors []Shape

// Unit is the physical unit of every Resolution handled here.
const Unit = "micrometer"

func (r Resolution) String() string {
	parts := make([]string, len(r))
	for i, v := range r {
		parts[i] = fmt.Sprintf("%g", v)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, v := range s {
		parts[i] = fmt.Sprintf("%d", v)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// NumVoxels returns the product of all dimensions.
func (s Shape) NumVoxels() int64 {
	if len(s) == 0 {
		return 0
	}
	n := int64(1)
	for _, v := range s {
		n *= int64(v)
	}
	return n
}

// Equal returns true if both shapes have the same dimensions.
func (s Shape) Equal(other Shape) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// ParseResolution decodes a JSON-encoded list of floats, e.g. "[0.5, 0.5, 0.5]".
func ParseResolution(s string) (Resolution, error) {
	var res Resolution
	if err := json.Unmarshal([]byte(s), &res); err != nil {
		return nil, fmt.Errorf("bad resolution %q: %v", s, err)
	}
	if len(res) == 0 {
		return nil, fmt.Errorf("bad resolution %q: no axes given", s)
	}
	for _, v := range res {
		if v <= 0 {
			return nil, fmt.Errorf("bad resolution %q: voxel sizes must be positive", s)
		}
	}
	return res, nil
}

// ParseShape decodes a JSON-encoded list of positive ints, e.g. "[64, 64, 64]".
func ParseShape(s string) (Shape, error) {
	var shape Shape
	if err := json.Unmarshal([]byte(s), &shape); err != nil {
		return nil, fmt.Errorf("bad shape %q: %v", s, err)
	}
	if len(shape) == 0 {
		return nil, fmt.Errorf("bad shape %q: no axes given", s)
	}
	for _, v := range shape {
		if v <= 0 {
			return nil, fmt.Errorf("bad shape %q: sizes must be positive", s)
		}
	}
	return shape, nil
}

// ParseScaleFactors decodes a JSON-encoded list of int lists, e.g. "[[2,2,2],[2,2,2]]".
func ParseScaleFactors(s string) (ScaleFactors, error) {
	var factors ScaleFactors
	if err := json.Unmarshal([]byte(s), &factors); err != nil {
		return nil, fmt.Errorf("bad scale factors %q: %v", s, err)
	}
	for level, sf := range factors {
		if len(sf) == 0 {
			return nil, fmt.Errorf("bad scale factors %q: level %d has no axes", s, level+1)
		}
		for _, v := range sf {
			if v < 1 {
				return nil, fmt.Errorf("bad scale factors %q: factors must be >= 1", s)
			}
		}
	}
	return factors, nil
}

// CheckDims verifies that resolution, chunks and every scale factor share the same
// number of axes.
func CheckDims(res Resolution, chunks Shape, factors ScaleFactors) error {
	ndim := len(chunks)
	if len(res) != ndim {
		return fmt.Errorf("resolution %s has %d axes but chunks %s has %d", res, len(res), chunks, ndim)
	}
	for level, sf := range factors {
		if len(sf) != ndim {
			return fmt.Errorf("scale factor %s for level %d has %d axes, expected %d", sf, level+1, len(sf), ndim)
		}
	}
	return nil
}

// MaxJobs resolves a requested parallelism degree.  Zero or negative requests use the
// number of logical CPUs on the host at the time of the call.
func MaxJobs(requested int) int {
	if requested > 0 {
		return requested
	}
	return runtime.NumCPU()
}
