package mobie

import (
	"errors"
	"path/filepath"
	"runtime"
	"testing"
)

func TestParseParams(t *testing.T) {
	res, err := ParseResolution("[0.04, 0.01, 0.01]")
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 3 || res[0] != 0.04 {
		t.Errorf("bad resolution %s", res)
	}
	chunks, err := ParseShape("[32, 128, 128]")
	if err != nil {
		t.Fatal(err)
	}
	if !chunks.Equal(Shape{32, 128, 128}) || chunks.NumVoxels() != 32*128*128 {
		t.Errorf("bad chunks %s", chunks)
	}
	factors, err := ParseScaleFactors("[[1, 2, 2], [2, 2, 2]]")
	if err != nil {
		t.Fatal(err)
	}
	if err := CheckDims(res, chunks, factors); err != nil {
		t.Errorf("consistent params rejected: %v", err)
	}

	bad := []struct {
		name  string
		parse func() error
	}{
		{"scalar resolution", func() error { _, err := ParseResolution("0.5"); return err }},
		{"negative resolution", func() error { _, err := ParseResolution("[1, -1, 1]"); return err }},
		{"empty shape", func() error { _, err := ParseShape("[]"); return err }},
		{"zero chunk", func() error { _, err := ParseShape("[0, 64, 64]"); return err }},
		{"zero factor", func() error { _, err := ParseScaleFactors("[[0, 2, 2]]"); return err }},
		{"not json", func() error { _, err := ParseScaleFactors("2,2,2"); return err }},
	}
	for _, tc := range bad {
		if tc.parse() == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
	if err := CheckDims(res, chunks, ScaleFactors{{2, 2}}); err == nil {
		t.Errorf("expected error for 2d scale factor")
	}
	if err := CheckDims(Resolution{1, 1}, chunks, nil); err == nil {
		t.Errorf("expected error for 2d resolution")
	}
}

func TestMaxJobs(t *testing.T) {
	if MaxJobs(0) != runtime.NumCPU() || MaxJobs(-1) != runtime.NumCPU() {
		t.Errorf("non-positive requests should use all cores")
	}
	if MaxJobs(3) != 3 {
		t.Errorf("explicit request not honored")
	}
}

func TestJSONFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "conf.json")
	if err := WriteJSONFile(path, map[string]int{"threads_per_job": 4}); err != nil {
		t.Fatal(err)
	}
	var got map[string]int
	if err := ReadJSONFile(path, &got); err != nil {
		t.Fatal(err)
	}
	if got["threads_per_job"] != 4 {
		t.Errorf("bad round trip %v", got)
	}
	abs, err := ConvertToAbsolute("logs/mobie.log", "/etc/mobie")
	if err != nil || abs != "/etc/mobie/logs/mobie.log" {
		t.Errorf("bad absolute path %q: %v", abs, err)
	}
}

func TestErrors(t *testing.T) {
	cause := errors.New("exit status 3")
	err := error(&WorkflowError{Stage: "downscaling", Err: cause})
	if err.Error() != "downscaling workflow failed: exit status 3" || !errors.Is(err, cause) {
		t.Errorf("bad workflow error %q", err)
	}
	if msg := (&WorkflowError{Stage: "statistics"}).Error(); msg != "statistics workflow failed" {
		t.Errorf("bad workflow error without cause %q", msg)
	}
	notFound := &DatasetNotFoundError{Root: "/data/project", Dataset: "em"}
	if notFound.Error() == "" {
		t.Errorf("empty dataset error message")
	}
}
