package workflow

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/janelia-flyem/mobie/mobie"
)

// Stage names of the downscaling workflow that read per-stage configuration records.
const (
	CopyVolumeStage  = "copy_volume"
	DownscalingStage = "downscaling"
)

// StageConfig is one per-stage configuration record.  Engines read it from
// <config dir>/<stage>.config.
type StageConfig map[string]interface{}

// defaultTaskConfig holds settings every stage understands.
func defaultTaskConfig() StageConfig {
	return StageConfig{
		"threads_per_job": 1,
		"time_limit":      60,
		"mem_limit":       2,
		"qos":             "normal",
	}
}

// DefaultStageConfig returns the default record for a stage of the downscaling workflow.
func DefaultStageConfig(stage string) (StageConfig, error) {
	conf := defaultTaskConfig()
	switch stage {
	case CopyVolumeStage:
		conf["chunks"] = nil
		conf["compression"] = "gzip"
		conf["fit_to_roi"] = false
	case DownscalingStage:
		conf["chunks"] = nil
		conf["compression"] = "gzip"
		conf["library"] = "vigra"
		conf["library_kwargs"] = nil
	default:
		return nil, fmt.Errorf("unknown workflow stage %q", stage)
	}
	return conf, nil
}

// GlobalConfig holds settings shared by every stage.
type GlobalConfig struct {
	BlockShape mobie.Shape `json:"block_shape"`
	Shebang    string      `json:"shebang,omitempty"`

	// Groupname is the cluster accounting group jobs are charged to.
	Groupname string `json:"groupname,omitempty"`
}

func configPath(configDir, name string) string {
	return filepath.Join(configDir, name+".config")
}

// WriteGlobalConfig writes <config dir>/global.config, creating the directory.
func WriteGlobalConfig(configDir string, conf GlobalConfig) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("can't create config directory %s: %v", configDir, err)
	}
	return mobie.WriteJSONFile(configPath(configDir, "global"), conf)
}

// WriteStageConfig writes the record of a stage, starting from the stage defaults and
// applying the given overrides.
func WriteStageConfig(configDir, stage string, overrides StageConfig) error {
	conf, err := DefaultStageConfig(stage)
	if err != nil {
		return err
	}
	for k, v := range overrides {
		conf[k] = v
	}
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("can't create config directory %s: %v", configDir, err)
	}
	return mobie.WriteJSONFile(configPath(configDir, stage), conf)
}

// ReadStageConfig reads back the record written for a stage.
func ReadStageConfig(configDir, stage string) (StageConfig, error) {
	var conf StageConfig
	if err := mobie.ReadJSONFile(configPath(configDir, stage), &conf); err != nil {
		return nil, err
	}
	return conf, nil
}
