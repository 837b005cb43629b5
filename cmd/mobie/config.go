package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/janelia-flyem/mobie/mobie"
	"github.com/janelia-flyem/mobie/workflow"

	"github.com/BurntSushi/toml"
)

const (
	commandEngine = "command"
	localEngine   = "local"
)

// tomlConfig is the optional configuration file given with --config, e.g.
//
//	[logging]
//	logfile = "/var/log/mobie.log"
//	max_log_size = 500 # MB
//	max_log_age = 30   # days
//
//	[workflow]
//	target = "slurm"
//	max_jobs = 64
//	shebang = "#! /groups/lab/envs/cluster/bin/python"
//	groupname = "kreshuk"
//
//	[workflow.downscaling]
//	engine = "command"
//	command = ["./scripts/run_workflow.sh"]
//
//	[workflow.statistics]
//	engine = "local"
type tomlConfig struct {
	Logging  mobie.LogConfig
	Workflow workflowConfig
}

type workflowConfig struct {
	Target  string
	MaxJobs int `toml:"max_jobs"`
	Shebang string

	// Groupname is the cluster accounting group written to the global workflow config.
	Groupname string

	Downscaling engineConfig
	Statistics  engineConfig
}

type engineConfig struct {
	Engine  string
	Command []string
	Env     []string
}

func defaultConfig() *tomlConfig {
	return &tomlConfig{
		Workflow: workflowConfig{
			Downscaling: engineConfig{Engine: commandEngine},
			Statistics:  engineConfig{Engine: localEngine},
		},
	}
}

// convertPathsToAbsolute makes the log file and any command given as a relative path
// relative to the configuration file.
func (c *tomlConfig) convertPathsToAbsolute(configPath string) error {
	var err error
	configDir := filepath.Dir(configPath)

	// [logging].logfile
	if c.Logging.Logfile != "" {
		c.Logging.Logfile, err = mobie.ConvertToAbsolute(c.Logging.Logfile, configDir)
		if err != nil {
			return fmt.Errorf("error converting logfile to absolute path: %v", err)
		}
	}

	// [workflow.*].command, only if the program is given as a path
	for _, ec := range []*engineConfig{&c.Workflow.Downscaling, &c.Workflow.Statistics} {
		if len(ec.Command) == 0 || !strings.ContainsRune(ec.Command[0], filepath.Separator) {
			continue
		}
		ec.Command[0], err = mobie.ConvertToAbsolute(ec.Command[0], configDir)
		if err != nil {
			return fmt.Errorf("error converting command %q to absolute path: %v", ec.Command[0], err)
		}
	}
	return nil
}

// LoadConfig returns the configuration in the TOML file, or the defaults if filename is empty.
func LoadConfig(filename string) (*tomlConfig, error) {
	tc := defaultConfig()
	if filename == "" {
		return tc, nil
	}
	md, err := toml.DecodeFile(filename, tc)
	if err != nil {
		return nil, fmt.Errorf("could not decode TOML config: %v", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		mobie.Warningf("Ignoring unknown keys in %s: %v\n", filename, undecoded)
	}
	if err := tc.convertPathsToAbsolute(filename); err != nil {
		return nil, fmt.Errorf("could not convert relative paths to absolute paths in TOML config: %v", err)
	}
	return tc, nil
}

func (ec engineConfig) engine(task workflow.Task) (workflow.Engine, error) {
	switch ec.Engine {
	case commandEngine:
		if len(ec.Command) == 0 {
			return nil, nil
		}
		return &workflow.CommandEngine{Command: ec.Command, Env: ec.Env}, nil
	case localEngine:
		if task != workflow.StatisticsTask {
			return nil, fmt.Errorf("no local engine for %s, use a command engine", task)
		}
		return workflow.StatisticsEngine{}, nil
	default:
		return nil, fmt.Errorf("unknown engine %q for %s", ec.Engine, task)
	}
}

// Engine returns the workflow engine dispatching each task to its configured engine.
// Tasks without a configured command are left unregistered and fail when submitted.
func (c *tomlConfig) Engine() (workflow.Engine, error) {
	router := workflow.NewRouter()
	tasks := []struct {
		task workflow.Task
		conf engineConfig
	}{
		{workflow.DownscalingTask, c.Workflow.Downscaling},
		{workflow.StatisticsTask, c.Workflow.Statistics},
	}
	for _, t := range tasks {
		e, err := t.conf.engine(t.task)
		if err != nil {
			return nil, err
		}
		if e == nil {
			mobie.Debugf("No engine configured for %s jobs\n", t.task)
			continue
		}
		router.Handle(t.task, e)
	}
	return router, nil
}
