/*
Package workflow submits jobs to the engine that does the heavy lifting of an import:
downscaling a volume into a multi-scale container and computing statistics over it.

The importer only needs a narrow capability from an engine: submit a job, block until it
finishes, and report whether it succeeded.  Engines decide how the job is executed; the
requested target ("local", "slurm", "lsf", ...) and degree of parallelism are forwarded
as part of the job.
*/
package workflow

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/janelia-flyem/mobie/mobie"

	"github.com/twinj/uuid"
)

// Task names the kind of work a job performs.
type Task string

const (
	DownscalingTask Task = "downscaling"
	StatisticsTask  Task = "statistics"
)

// Job is the description of one workflow run.  It is built fresh for every call and never
// stored beyond the engine's own scratch files.
type Job struct {
	ID        string      `json:"id"`
	Task      Task        `json:"task"`
	TmpFolder string      `json:"tmp_folder"`
	ConfigDir string      `json:"config_dir"`
	Target    string      `json:"target"`
	MaxJobs   int         `json:"max_jobs"`
	Params    interface{} `json:"params"`
}

func (j *Job) String() string {
	return fmt.Sprintf("%s job %s [target %s, max jobs %d]", j.Task, j.ID, j.Target, j.MaxJobs)
}

// MetadataDict is the physical calibration written alongside a multi-scale container.
type MetadataDict struct {
	Resolution mobie.Resolution `json:"resolution"`
	Unit       string           `json:"unit"`
}

// DownscalingParams are the parameters of a downscaling job.
type DownscalingParams struct {
	InputPath      string             `json:"input_path"`
	InputKey       string             `json:"input_key"`
	OutputPath     string             `json:"output_path"`
	ScaleFactors   mobie.ScaleFactors `json:"scale_factors"`
	Halos          mobie.ScaleFactors `json:"halos,omitempty"`
	MetadataFormat string             `json:"metadata_format"`
	MetadataDict   MetadataDict       `json:"metadata_dict"`
}

// StatisticsParams are the parameters of a statistics job.  The engine writes a JSON
// object with at least a "max" field to OutputPath.
type StatisticsParams struct {
	Path       string `json:"path"`
	Key        string `json:"key"`
	OutputPath string `json:"output_path"`
}

// Engine runs workflow jobs.
type Engine interface {
	// Run submits the job and blocks until it has finished.  The returned flag reports
	// whether the workflow succeeded.  A non-nil error means the job could not be run at all.
	Run(ctx context.Context, job *Job) (bool, error)
}

// EngineFunc adapts a function to the Engine interface.
type EngineFunc func(ctx context.Context, job *Job) (bool, error)

func (f EngineFunc) Run(ctx context.Context, job *Job) (bool, error) {
	return f(ctx, job)
}

// Options are the execution settings shared by all jobs of one import.
type Options struct {
	TmpFolder string
	Target    string
	MaxJobs   int
}

// ConfigDir returns the directory holding per-stage configuration records.
func (o Options) ConfigDir() string {
	return filepath.Join(o.TmpFolder, "configs")
}

// NewJob creates a job with a fresh id.  A non-positive MaxJobs is resolved to the number
// of logical CPUs now, not when the options were created.
func NewJob(task Task, opts Options, params interface{}) *Job {
	target := opts.Target
	if target == "" {
		target = DefaultTarget
	}
	return &Job{
		ID:        fmt.Sprintf("%x", uuid.NewV4().Bytes()),
		Task:      task,
		TmpFolder: opts.TmpFolder,
		ConfigDir: opts.ConfigDir(),
		Target:    target,
		MaxJobs:   mobie.MaxJobs(opts.MaxJobs),
		Params:    params,
	}
}

// DefaultTarget is the execution target used when none is requested.
const DefaultTarget = "local"

// Execute runs a job and converts non-success into a *mobie.WorkflowError naming the task.
func Execute(ctx context.Context, engine Engine, job *Job) error {
	timedLog := mobie.NewTimeLog()
	mobie.Infof("Submitting %s\n", job)
	ok, err := engine.Run(ctx, job)
	if err != nil {
		return &mobie.WorkflowError{Stage: string(job.Task), Err: err}
	}
	if !ok {
		timedLog.Errorf("%s reported failure", job)
		return &mobie.WorkflowError{Stage: string(job.Task)}
	}
	timedLog.Infof("%s finished", job)
	return nil
}

// Router dispatches jobs to an engine per task.
type Router struct {
	engines map[Task]Engine
}

// NewRouter returns a Router with no engines registered.
func NewRouter() *Router {
	return &Router{engines: make(map[Task]Engine)}
}

// Handle registers the engine used for a task.
func (r *Router) Handle(task Task, e Engine) {
	r.engines[task] = e
}

func (r *Router) Run(ctx context.Context, job *Job) (bool, error) {
	e, found := r.engines[job.Task]
	if !found {
		return false, fmt.Errorf("no workflow engine registered for task %q", job.Task)
	}
	return e.Run(ctx, job)
}
