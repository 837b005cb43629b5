/*
Package maxid determines the maximum label id of a segmentation volume and records it as
the "maxId" attribute of the volume's finest-resolution dataset.

Viewers use the max id to size label lookup tables, so it is resolved exactly once and
read back from the attribute afterwards.  Resolution tries an ordered list of lookups and
the first one that finds a value wins:

	1. the output dataset already has maxId: nothing to do
	2. the input dataset has maxId: copy it
	3. run a statistics workflow over the output dataset and use its maximum
*/
package maxid

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strconv"

	"github.com/janelia-flyem/mobie/container"
	"github.com/janelia-flyem/mobie/mobie"
	"github.com/janelia-flyem/mobie/workflow"
)

// AttributeName is the dataset attribute holding the max id.
const AttributeName = "maxId"

// Ref addresses a dataset within a container.
type Ref struct {
	Path string
	Key  string
}

func (r Ref) String() string {
	return r.Path + ":" + r.Key
}

// Lookup is one way of finding the max id.
type Lookup interface {
	// Name identifies the lookup in logs.
	Name() string

	// MaxID returns the max id and true, or false if this lookup has no answer.
	MaxID(ctx context.Context) (uint64, bool, error)
}

// Resolver runs an ordered chain of lookups and stores the winning value on Output.
type Resolver struct {
	Output  Ref
	Lookups []Lookup
}

// Resolve returns the max id of the output dataset, writing the attribute unless the
// value came from the output dataset itself.
func (r *Resolver) Resolve(ctx context.Context) (uint64, error) {
	for _, lookup := range r.Lookups {
		id, found, err := lookup.MaxID(ctx)
		if err != nil {
			return 0, err
		}
		if !found {
			mobie.Debugf("No max id for %s from %s lookup\n", r.Output, lookup.Name())
			continue
		}
		if cached, ok := lookup.(*AttributeLookup); ok && cached.Ref == r.Output {
			mobie.Debugf("Max id %d already stored for %s\n", id, r.Output)
			return id, nil
		}
		mobie.Infof("Setting max id of %s to %d from %s lookup\n", r.Output, id, lookup.Name())
		if err := container.AttributeSet(ctx, r.Output.Path, r.Output.Key, AttributeName, id); err != nil {
			return 0, err
		}
		return id, nil
	}
	return 0, fmt.Errorf("could not determine max id for %s", r.Output)
}

// AttributeLookup reads the maxId attribute of a dataset.  Lenient lookups treat a
// container format that can't be opened here as having no attribute.
type AttributeLookup struct {
	Ref     Ref
	Lenient bool
}

func (l *AttributeLookup) Name() string {
	return "attribute " + l.Ref.String()
}

func (l *AttributeLookup) MaxID(ctx context.Context) (uint64, bool, error) {
	v, found, err := container.AttributeGet(ctx, l.Ref.Path, l.Ref.Key, AttributeName)
	if err != nil {
		if l.Lenient && errors.Is(err, container.ErrUnsupportedFormat) {
			mobie.Warningf("Can't read attributes of %s, skipping: %v\n", l.Ref, err)
			return 0, false, nil
		}
		return 0, false, err
	}
	if !found || v == nil {
		return 0, false, nil
	}
	id, err := ToUint64(v)
	if err != nil {
		return 0, false, fmt.Errorf("bad %s attribute in %s: %v", AttributeName, l.Ref, err)
	}
	return id, true, nil
}

// StatisticsLookup computes the max id by running a statistics workflow over a dataset.
// It always finds a value or fails.
type StatisticsLookup struct {
	Ref     Ref
	Engine  workflow.Engine
	Options workflow.Options
}

func (l *StatisticsLookup) Name() string {
	return "statistics"
}

// StatisticsPath is the scratch file the statistics workflow writes into the tmp folder.
func StatisticsPath(tmpFolder string) string {
	return filepath.Join(tmpFolder, "statistics.json")
}

func (l *StatisticsLookup) MaxID(ctx context.Context) (uint64, bool, error) {
	statPath := StatisticsPath(l.Options.TmpFolder)
	params := workflow.StatisticsParams{
		Path:       l.Ref.Path,
		Key:        l.Ref.Key,
		OutputPath: statPath,
	}
	job := workflow.NewJob(workflow.StatisticsTask, l.Options, params)
	if err := workflow.Execute(ctx, l.Engine, job); err != nil {
		return 0, false, err
	}
	var stats struct {
		Max *json.Number `json:"max"`
	}
	if err := mobie.ReadJSONFile(statPath, &stats); err != nil {
		return 0, false, &mobie.WorkflowError{Stage: string(workflow.StatisticsTask), Err: err}
	}
	if stats.Max == nil {
		return 0, false, &mobie.WorkflowError{
			Stage: string(workflow.StatisticsTask),
			Err:   fmt.Errorf("no max in %s", statPath),
		}
	}
	id, err := ToUint64(*stats.Max)
	if err != nil {
		return 0, false, fmt.Errorf("bad max in %s: %v", statPath, err)
	}
	return id, true, nil
}

// NewResolver returns the standard chain for a segmentation imported from input to output.
func NewResolver(input, output Ref, engine workflow.Engine, opts workflow.Options) *Resolver {
	return &Resolver{
		Output: output,
		Lookups: []Lookup{
			&AttributeLookup{Ref: output},
			&AttributeLookup{Ref: input, Lenient: true},
			&StatisticsLookup{Ref: output, Engine: engine, Options: opts},
		},
	}
}

// Add resolves and stores the max id of output, see NewResolver.
func Add(ctx context.Context, input, output Ref, engine workflow.Engine, opts workflow.Options) (uint64, error) {
	return NewResolver(input, output, engine, opts).Resolve(ctx)
}

// ToUint64 converts a decoded JSON value into a label id.  Ids must be non-negative
// integers; floats are accepted only if they are integral.
func ToUint64(v interface{}) (uint64, error) {
	switch x := v.(type) {
	case json.Number:
		if id, err := strconv.ParseUint(x.String(), 10, 64); err == nil {
			return id, nil
		}
		f, err := x.Float64()
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", x)
		}
		return floatToUint64(f)
	case float64:
		return floatToUint64(x)
	case float32:
		return floatToUint64(float64(x))
	case uint64:
		return x, nil
	case uint32:
		return uint64(x), nil
	case uint:
		return uint64(x), nil
	case int:
		return intToUint64(int64(x))
	case int32:
		return intToUint64(int64(x))
	case int64:
		return intToUint64(x)
	case string:
		return ToUint64(json.Number(x))
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}

func intToUint64(i int64) (uint64, error) {
	if i < 0 {
		return 0, fmt.Errorf("negative id %d", i)
	}
	return uint64(i), nil
}

func floatToUint64(f float64) (uint64, error) {
	if f < 0 || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) || f >= math.MaxUint64 {
		return 0, fmt.Errorf("%g is not a valid id", f)
	}
	return uint64(f), nil
}
