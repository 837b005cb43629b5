package maxid

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/janelia-flyem/mobie/container"
	"github.com/janelia-flyem/mobie/mobie"
	"github.com/janelia-flyem/mobie/workflow"
)

const outKey = "setup0/timepoint0/s0"

func makeDataset(t *testing.T, path, key string, attrs map[string]interface{}) Ref {
	t.Helper()
	ctx := context.Background()
	c, err := container.Create(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	meta := container.DatasetMetadata{
		Dimensions: []int64{8, 8, 8},
		BlockSize:  []int{8, 8, 8},
		DataType:   container.Uint32,
	}
	if err := c.CreateDataset(ctx, key, meta); err != nil {
		t.Fatal(err)
	}
	if len(attrs) != 0 {
		if err := c.SetAttributes(ctx, key, attrs); err != nil {
			t.Fatal(err)
		}
	}
	return Ref{Path: path, Key: key}
}

// statsEngine fakes the statistics workflow, writing the given max and counting runs.
type statsEngine struct {
	max  interface{}
	ok   bool
	runs int
}

func (e *statsEngine) Run(ctx context.Context, job *workflow.Job) (bool, error) {
	e.runs++
	params := job.Params.(workflow.StatisticsParams)
	if err := mobie.WriteJSONFile(params.OutputPath, map[string]interface{}{"max": e.max}); err != nil {
		return false, err
	}
	return e.ok, nil
}

// neverEngine fails the test if the statistics workflow is reached.
type neverEngine struct {
	t *testing.T
}

func (e neverEngine) Run(ctx context.Context, job *workflow.Job) (bool, error) {
	e.t.Fatalf("statistics workflow should not run, got %s", job)
	return false, nil
}

func readMaxID(t *testing.T, ref Ref) uint64 {
	t.Helper()
	v, found, err := container.AttributeGet(context.Background(), ref.Path, ref.Key, AttributeName)
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatalf("no %s attribute on %s", AttributeName, ref)
	}
	id, err := ToUint64(v)
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func TestIdempotentResolve(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	input := makeDataset(t, filepath.Join(dir, "in.n5"), "seg", nil)
	output := makeDataset(t, filepath.Join(dir, "out.n5"), outKey, nil)
	opts := workflow.Options{TmpFolder: filepath.Join(dir, "tmp")}

	engine := &statsEngine{max: 23, ok: true}
	id, err := Add(ctx, input, output, engine, opts)
	if err != nil {
		t.Fatalf("first resolve failed: %v", err)
	}
	if id != 23 || engine.runs != 1 {
		t.Fatalf("expected id 23 after one run, got %d after %d runs", id, engine.runs)
	}

	// second call must short-circuit on the stored attribute
	id, err = Add(ctx, input, output, neverEngine{t}, opts)
	if err != nil {
		t.Fatalf("second resolve failed: %v", err)
	}
	if id != 23 || readMaxID(t, output) != 23 {
		t.Errorf("max id changed on second resolve: %d", id)
	}
}

func TestInputAttributeShortcut(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	input := makeDataset(t, filepath.Join(dir, "in.n5"), "seg", map[string]interface{}{"maxId": 42})
	output := makeDataset(t, filepath.Join(dir, "out.n5"), outKey, nil)

	id, err := Add(ctx, input, output, neverEngine{t}, workflow.Options{TmpFolder: dir})
	if err != nil {
		t.Fatal(err)
	}
	if id != 42 || readMaxID(t, output) != 42 {
		t.Errorf("expected max id 42 copied from input, got %d", id)
	}
}

func TestStatisticsFallback(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	input := makeDataset(t, filepath.Join(dir, "in.n5"), "seg", nil)
	output := makeDataset(t, filepath.Join(dir, "out.n5"), outKey, nil)
	tmp := filepath.Join(dir, "tmp_seg")

	engine := &statsEngine{max: 17, ok: true}
	id, err := Add(ctx, input, output, engine, workflow.Options{TmpFolder: tmp})
	if err != nil {
		t.Fatal(err)
	}
	if id != 17 || readMaxID(t, output) != 17 {
		t.Errorf("expected max id 17 from statistics, got %d", id)
	}
	var stats map[string]interface{}
	if err := mobie.ReadJSONFile(StatisticsPath(tmp), &stats); err != nil {
		t.Errorf("statistics scratch file missing: %v", err)
	}
}

func TestUnreadableInputFallsBack(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	output := makeDataset(t, filepath.Join(dir, "out.n5"), outKey, nil)
	input := Ref{Path: filepath.Join(dir, "input.h5"), Key: "data"}

	engine := &statsEngine{max: json.Number("18446744073709551615"), ok: true}
	id, err := Add(ctx, input, output, engine, workflow.Options{TmpFolder: dir})
	if err != nil {
		t.Fatal(err)
	}
	if id != 18446744073709551615 || engine.runs != 1 {
		t.Errorf("expected max uint64 from one statistics run, got %d after %d runs", id, engine.runs)
	}
}

func TestStatisticsFailure(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	input := makeDataset(t, filepath.Join(dir, "in.n5"), "seg", nil)
	output := makeDataset(t, filepath.Join(dir, "out.n5"), outKey, nil)

	engine := &statsEngine{max: 3, ok: false}
	_, err := Add(ctx, input, output, engine, workflow.Options{TmpFolder: dir})
	var wfErr *mobie.WorkflowError
	if !errors.As(err, &wfErr) || wfErr.Stage != "statistics" {
		t.Fatalf("expected statistics WorkflowError, got %v", err)
	}
	if _, found, _ := container.AttributeGet(ctx, output.Path, output.Key, AttributeName); found {
		t.Errorf("max id must not be written after a failed computation")
	}
}

func TestMissingOutput(t *testing.T) {
	dir := t.TempDir()
	input := makeDataset(t, filepath.Join(dir, "in.n5"), "seg", nil)
	output := Ref{Path: filepath.Join(dir, "missing.n5"), Key: outKey}
	_, err := Add(context.Background(), input, output, neverEngine{t}, workflow.Options{TmpFolder: dir})
	var ioErr *mobie.AttributeIOError
	if !errors.As(err, &ioErr) {
		t.Fatalf("expected AttributeIOError, got %v", err)
	}
}

type fixedLookup struct {
	id    uint64
	found bool
	calls *int
}

func (l fixedLookup) Name() string { return "fixed" }

func (l fixedLookup) MaxID(ctx context.Context) (uint64, bool, error) {
	*l.calls++
	return l.id, l.found, nil
}

func TestResolverOrder(t *testing.T) {
	dir := t.TempDir()
	output := makeDataset(t, filepath.Join(dir, "out.n5"), outKey, nil)
	var first, second, third int
	r := &Resolver{
		Output: output,
		Lookups: []Lookup{
			fixedLookup{found: false, calls: &first},
			fixedLookup{id: 7, found: true, calls: &second},
			fixedLookup{id: 9, found: true, calls: &third},
		},
	}
	id, err := r.Resolve(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if id != 7 || first != 1 || second != 1 || third != 0 {
		t.Errorf("expected first found lookup to win: id %d, calls %d %d %d", id, first, second, third)
	}
	if readMaxID(t, output) != 7 {
		t.Errorf("winning value not stored")
	}

	empty := &Resolver{Output: output, Lookups: []Lookup{fixedLookup{calls: &first}}}
	if _, err := empty.Resolve(context.Background()); err == nil {
		t.Errorf("expected error when no lookup finds a value")
	}
}

func TestToUint64(t *testing.T) {
	good := []struct {
		in  interface{}
		out uint64
	}{
		{json.Number("42"), 42},
		{json.Number("17.0"), 17},
		{float64(3), 3},
		{int64(0), 0},
		{uint64(1) << 63, 1 << 63},
		{"12", 12},
	}
	for _, tc := range good {
		got, err := ToUint64(tc.in)
		if err != nil || got != tc.out {
			t.Errorf("ToUint64(%v) = %d, %v; expected %d", tc.in, got, err, tc.out)
		}
	}
	for _, in := range []interface{}{json.Number("-1"), 2.5, int(-3), "label", nil, true} {
		if _, err := ToUint64(in); err == nil {
			t.Errorf("ToUint64(%v) should fail", in)
		}
	}
}
