package workflow

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/janelia-flyem/mobie/container"
	"github.com/janelia-flyem/mobie/mobie"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"
)

// Statistics is the content of the statistics file written by a statistics job.
// Min and Max keep the exact integer value for integer datasets.
type Statistics struct {
	Min   json.Number `json:"min"`
	Max   json.Number `json:"max"`
	Mean  float64     `json:"mean"`
	Std   float64     `json:"std"`
	Count uint64      `json:"count"`
}

// StatisticsEngine computes statistics of an N5 dataset in-process, reading blocks in
// parallel with up to job.MaxJobs goroutines.  It ignores the job target and is meant
// for volumes small enough to scan from one host.
type StatisticsEngine struct{}

func (e StatisticsEngine) Run(ctx context.Context, job *Job) (bool, error) {
	var params StatisticsParams
	switch p := job.Params.(type) {
	case StatisticsParams:
		params = p
	case *StatisticsParams:
		params = *p
	default:
		return false, fmt.Errorf("statistics engine can't run %s with params %T", job, job.Params)
	}
	stats, err := ComputeStatistics(ctx, params.Path, params.Key, job.MaxJobs)
	if err != nil {
		return false, err
	}
	if err := mobie.WriteJSONFile(params.OutputPath, stats); err != nil {
		return false, err
	}
	return true, nil
}

// ComputeStatistics scans every block of an N5 dataset.  Blocks that were never written
// hold the fill value 0.
func ComputeStatistics(ctx context.Context, path, key string, maxJobs int) (*Statistics, error) {
	timedLog := mobie.NewTimeLog()
	c, err := container.Open(ctx, path, container.ReadOnly)
	if err != nil {
		return nil, err
	}
	defer c.Close()
	meta, err := c.DatasetMetadata(ctx, key)
	if err != nil {
		return nil, err
	}

	total := newAccumulator(meta.DataType)
	var mu sync.Mutex
	var bytesRead, missing int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(mobie.MaxJobs(maxJobs))
	numBlocks := meta.NumBlocks()
	for i := int64(0); i < numBlocks; i++ {
		gridPos := meta.GridPosition(i)
		g.Go(func() error {
			block, err := c.ReadBlock(gctx, key, meta, gridPos)
			if err != nil {
				return err
			}
			acc := newAccumulator(meta.DataType)
			if block == nil {
				atomic.AddInt64(&missing, 1)
				n := int64(1)
				for _, s := range meta.BlockShape(gridPos) {
					n *= int64(s)
				}
				acc.addZeros(uint64(n))
			} else {
				atomic.AddInt64(&bytesRead, int64(len(block.Data)))
				if err := acc.addBlock(block.Data); err != nil {
					return fmt.Errorf("block %v: %v", gridPos, err)
				}
			}
			mu.Lock()
			total.merge(acc)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	stats := total.statistics()
	timedLog.Infof("Statistics of %s:%s over %s voxels (%s read, %d of %d blocks empty)",
		path, key, humanize.Comma(int64(stats.Count)), humanize.Bytes(uint64(bytesRead)), missing, numBlocks)
	return stats, nil
}

type accumulator struct {
	dtype container.DataType
	seen  bool

	umin, umax uint64
	imin, imax int64
	fmin, fmax float64

	sum, sumSq float64
	count      uint64
}

func newAccumulator(dtype container.DataType) *accumulator {
	return &accumulator{dtype: dtype}
}

func (a *accumulator) addUint(v uint64) {
	if !a.seen || v < a.umin {
		a.umin = v
	}
	if !a.seen || v > a.umax {
		a.umax = v
	}
	a.seen = true
	f := float64(v)
	a.sum += f
	a.sumSq += f * f
	a.count++
}

func (a *accumulator) addInt(v int64) {
	if !a.seen || v < a.imin {
		a.imin = v
	}
	if !a.seen || v > a.imax {
		a.imax = v
	}
	a.seen = true
	f := float64(v)
	a.sum += f
	a.sumSq += f * f
	a.count++
}

func (a *accumulator) addFloat(v float64) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return
	}
	if !a.seen || v < a.fmin {
		a.fmin = v
	}
	if !a.seen || v > a.fmax {
		a.fmax = v
	}
	a.seen = true
	a.sum += v
	a.sumSq += v * v
	a.count++
}

func (a *accumulator) addZeros(n uint64) {
	if n == 0 {
		return
	}
	switch {
	case a.dtype.Unsigned():
		a.addUint(0)
	case a.dtype.Float():
		a.addFloat(0)
	default:
		a.addInt(0)
	}
	a.count += n - 1
}

// addBlock adds big-endian element data.
func (a *accumulator) addBlock(data []byte) error {
	size := a.dtype.Size()
	if size == 0 {
		return fmt.Errorf("unsupported data type %q", a.dtype)
	}
	if len(data)%size != 0 {
		return fmt.Errorf("%d bytes is not a multiple of %s element size", len(data), a.dtype)
	}
	for pos := 0; pos < len(data); pos += size {
		switch a.dtype {
		case container.Uint8:
			a.addUint(uint64(data[pos]))
		case container.Uint16:
			a.addUint(uint64(binary.BigEndian.Uint16(data[pos:])))
		case container.Uint32:
			a.addUint(uint64(binary.BigEndian.Uint32(data[pos:])))
		case container.Uint64:
			a.addUint(binary.BigEndian.Uint64(data[pos:]))
		case container.Int8:
			a.addInt(int64(int8(data[pos])))
		case container.Int16:
			a.addInt(int64(int16(binary.BigEndian.Uint16(data[pos:]))))
		case container.Int32:
			a.addInt(int64(int32(binary.BigEndian.Uint32(data[pos:]))))
		case container.Int64:
			a.addInt(int64(binary.BigEndian.Uint64(data[pos:])))
		case container.Float32:
			a.addFloat(float64(math.Float32frombits(binary.BigEndian.Uint32(data[pos:]))))
		case container.Float64:
			a.addFloat(math.Float64frombits(binary.BigEndian.Uint64(data[pos:])))
		}
	}
	return nil
}

func (a *accumulator) merge(b *accumulator) {
	if !b.seen {
		return
	}
	if !a.seen {
		*a = *b
		return
	}
	if b.umin < a.umin {
		a.umin = b.umin
	}
	if b.umax > a.umax {
		a.umax = b.umax
	}
	if b.imin < a.imin {
		a.imin = b.imin
	}
	if b.imax > a.imax {
		a.imax = b.imax
	}
	if b.fmin < a.fmin {
		a.fmin = b.fmin
	}
	if b.fmax > a.fmax {
		a.fmax = b.fmax
	}
	a.sum += b.sum
	a.sumSq += b.sumSq
	a.count += b.count
}

func (a *accumulator) statistics() *Statistics {
	stats := &Statistics{Min: "0", Max: "0", Count: a.count}
	if !a.seen {
		return stats
	}
	switch {
	case a.dtype.Unsigned():
		stats.Min = json.Number(strconv.FormatUint(a.umin, 10))
		stats.Max = json.Number(strconv.FormatUint(a.umax, 10))
	case a.dtype.Float():
		stats.Min = json.Number(strconv.FormatFloat(a.fmin, 'g', -1, 64))
		stats.Max = json.Number(strconv.FormatFloat(a.fmax, 'g', -1, 64))
	default:
		stats.Min = json.Number(strconv.FormatInt(a.imin, 10))
		stats.Max = json.Number(strconv.FormatInt(a.imax, 10))
	}
	if a.count > 0 {
		n := float64(a.count)
		stats.Mean = a.sum / n
		variance := a.sumSq/n - stats.Mean*stats.Mean
		if variance > 0 {
			stats.Std = math.Sqrt(variance)
		}
	}
	return stats
}
