package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/janelia-flyem/mobie/mobie"
)

// CommandEngine runs each job as an external program, e.g. a wrapper around a
// distributed workflow framework.  The program is called as
//
//	<command...> <task> <job file>
//
// where the job file holds the JSON-encoded Job.  Exit status 0 means success.
type CommandEngine struct {
	Command []string
	Env     []string // extra "KEY=value" entries appended to the environment
}

// NewCommandEngine returns an engine calling the given command.
func NewCommandEngine(command ...string) *CommandEngine {
	return &CommandEngine{Command: command}
}

func (e *CommandEngine) String() string {
	return fmt.Sprintf("command engine %v", e.Command)
}

func (e *CommandEngine) Run(ctx context.Context, job *Job) (bool, error) {
	if len(e.Command) == 0 {
		return false, fmt.Errorf("no command configured for %s", job.Task)
	}
	name := fmt.Sprintf("%s-%s", job.Task, job.ID)
	jobFile, err := filepath.Abs(filepath.Join(job.TmpFolder, "jobs", name+".json"))
	if err != nil {
		return false, err
	}
	if err := mobie.WriteJSONFile(jobFile, job); err != nil {
		return false, err
	}
	logDir := filepath.Join(job.TmpFolder, "logs")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return false, err
	}
	logPath := filepath.Join(logDir, name+".log")
	logFile, err := os.Create(logPath)
	if err != nil {
		return false, err
	}
	defer logFile.Close()

	args := append(append([]string{}, e.Command[1:]...), string(job.Task), jobFile)
	cmd := exec.CommandContext(ctx, e.Command[0], args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	if len(e.Env) != 0 {
		cmd.Env = append(os.Environ(), e.Env...)
	}
	mobie.Debugf("Running %s %v, output in %s\n", e.Command[0], args, logPath)
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			mobie.Errorf("%s exited with status %d, see %s\n", job, exitErr.ExitCode(), logPath)
			return false, nil
		}
		return false, err
	}
	return true, nil
}
