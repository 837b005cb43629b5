package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/janelia-flyem/mobie/container"
	"github.com/janelia-flyem/mobie/mobie"
)

// TestEngine stands in for the external workflows in tests of packages that submit jobs.
// Downscaling jobs create an empty bdv.n5 container with one dataset per scale level,
// statistics jobs report MaxLabel as the maximum.
type TestEngine struct {
	// Shape is the full resolution shape in container (x, y, z) order.  Defaults to 64^3,
	// 2d shapes give 2d pyramids.
	Shape []int64

	MaxLabel uint64

	// Fail makes jobs of this task report non-success.
	Fail Task

	mu   sync.Mutex
	jobs []*Job
}

// Jobs returns the submitted jobs of a task in submission order.
func (e *TestEngine) Jobs(task Task) []*Job {
	e.mu.Lock()
	defer e.mu.Unlock()
	var jobs []*Job
	for _, job := range e.jobs {
		if job.Task == task {
			jobs = append(jobs, job)
		}
	}
	return jobs
}

func (e *TestEngine) Run(ctx context.Context, job *Job) (bool, error) {
	e.mu.Lock()
	e.jobs = append(e.jobs, job)
	e.mu.Unlock()
	if job.Task == e.Fail {
		return false, nil
	}
	switch p := job.Params.(type) {
	case DownscalingParams:
		return true, e.downscale(ctx, p)
	case StatisticsParams:
		stats := Statistics{Min: "0", Max: json.Number(strconv.FormatUint(e.MaxLabel, 10)), Count: 1}
		return true, mobie.WriteJSONFile(p.OutputPath, stats)
	default:
		return false, fmt.Errorf("test engine can't run %s with params %T", job, job.Params)
	}
}

func (e *TestEngine) downscale(ctx context.Context, p DownscalingParams) error {
	shape := e.Shape
	if len(shape) == 0 {
		shape = []int64{64, 64, 64}
	}
	c, err := container.Create(ctx, p.OutputPath)
	if err != nil {
		return err
	}
	defer c.Close()
	dims := append([]int64{}, shape...)
	blockSize := make([]int, len(dims))
	for i := range blockSize {
		blockSize[i] = 64
	}
	for level := 0; level <= len(p.ScaleFactors); level++ {
		if level > 0 {
			// scale factors are given in z, y, x order
			sf := p.ScaleFactors[level-1]
			for i := range dims {
				f := int64(sf[len(sf)-1-i])
				dims[i] = (dims[i] + f - 1) / f
			}
		}
		meta := container.DatasetMetadata{
			Dimensions:  append([]int64{}, dims...),
			BlockSize:   blockSize,
			DataType:    container.Uint64,
			Compression: container.Compression{Type: "gzip"},
		}
		if err := c.CreateDataset(ctx, fmt.Sprintf("setup0/timepoint0/s%d", level), meta); err != nil {
			return err
		}
	}
	return nil
}
