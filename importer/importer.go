/*
Package importer turns a request to add a volume into the configuration and invocation
of a downscaling workflow.  Two variants exist:

	raw volumes:    one downscaling run with window-based (area) downscaling
	segmentations:  label-preserving order-0 downscaling with halos, followed by
	                max id resolution on the finest scale

The workflow engine writes the multi-scale container in the bdv.n5 layout.  Nothing is
cleaned up if a workflow fails.
*/
package importer

import (
	"context"
	"fmt"
	"net/url"

	"github.com/janelia-flyem/mobie/maxid"
	"github.com/janelia-flyem/mobie/mobie"
	"github.com/janelia-flyem/mobie/workflow"
)

// MetadataFormat is the multi-scale layout requested from the downscaling workflow.
const MetadataFormat = "bdv.n5"

const (
	rawLibrary          = "skimage"
	segmentationLibrary = "vigra"
)

// Volume describes the data to import and where the multi-scale container goes.
type Volume struct {
	InputPath    string
	InputKey     string
	OutputPath   string
	Resolution   mobie.Resolution // micrometer
	ScaleFactors mobie.ScaleFactors
	Chunks       mobie.Shape

	// BlockShape is the processing block shape of the workflow.  Chunks is used if empty.
	BlockShape mobie.Shape
}

func (v *Volume) blockShape() mobie.Shape {
	if len(v.BlockShape) == 0 {
		return v.Chunks
	}
	return v.BlockShape
}

func (v *Volume) validate() error {
	if v.InputPath == "" || v.OutputPath == "" {
		return fmt.Errorf("input and output paths must be given")
	}
	if err := mobie.CheckDims(v.Resolution, v.Chunks, v.ScaleFactors); err != nil {
		return err
	}
	if bs := v.blockShape(); len(bs) != len(v.Chunks) {
		return fmt.Errorf("block shape %s has %d axes, expected %d", bs, len(bs), len(v.Chunks))
	}
	if !isURL(v.InputPath) && !mobie.FileExists(v.InputPath) {
		return fmt.Errorf("input %s does not exist", v.InputPath)
	}
	return nil
}

func isURL(p string) bool {
	u, err := url.Parse(p)
	return err == nil && len(u.Scheme) > 1
}

// Importer coordinates imports through a workflow engine.
type Importer struct {
	Engine workflow.Engine

	// Shebang and Groupname are forwarded in the global workflow configuration if set.
	Shebang   string
	Groupname string
}

// New returns an Importer submitting jobs to the given engine.
func New(engine workflow.Engine) *Importer {
	return &Importer{Engine: engine}
}

type downscaleSettings struct {
	library       string
	libraryKwargs map[string]interface{}
	halos         mobie.ScaleFactors
}

// downscale writes the per-stage configuration records and runs the downscaling workflow.
func (imp *Importer) downscale(ctx context.Context, vol Volume, opts workflow.Options, settings downscaleSettings) error {
	if err := vol.validate(); err != nil {
		return err
	}
	configDir := opts.ConfigDir()
	global := workflow.GlobalConfig{BlockShape: vol.blockShape(), Shebang: imp.Shebang, Groupname: imp.Groupname}
	if err := workflow.WriteGlobalConfig(configDir, global); err != nil {
		return err
	}
	if err := workflow.WriteStageConfig(configDir, workflow.CopyVolumeStage, workflow.StageConfig{
		"chunks": vol.Chunks,
	}); err != nil {
		return err
	}
	downscaling := workflow.StageConfig{
		"chunks":  vol.Chunks,
		"library": settings.library,
	}
	if settings.libraryKwargs != nil {
		downscaling["library_kwargs"] = settings.libraryKwargs
	}
	if err := workflow.WriteStageConfig(configDir, workflow.DownscalingStage, downscaling); err != nil {
		return err
	}

	params := workflow.DownscalingParams{
		InputPath:      vol.InputPath,
		InputKey:       vol.InputKey,
		OutputPath:     vol.OutputPath,
		ScaleFactors:   vol.ScaleFactors,
		Halos:          settings.halos,
		MetadataFormat: MetadataFormat,
		MetadataDict:   workflow.MetadataDict{Resolution: vol.Resolution, Unit: mobie.Unit},
	}
	mobie.Infof("Downscaling %s:%s to %s with %d scale levels, chunks %s\n",
		vol.InputPath, vol.InputKey, vol.OutputPath, len(vol.ScaleFactors), vol.Chunks)
	job := workflow.NewJob(workflow.DownscalingTask, opts, params)
	return workflow.Execute(ctx, imp.Engine, job)
}

// ImportRawVolume imports intensity data.
func (imp *Importer) ImportRawVolume(ctx context.Context, vol Volume, opts workflow.Options) error {
	settings := downscaleSettings{library: rawLibrary}
	if err := imp.downscale(ctx, vol, opts, settings); err != nil {
		return err
	}
	return finalize(ctx, vol)
}

// ImportSegmentation imports label data, then resolves and stores its max id.
func (imp *Importer) ImportSegmentation(ctx context.Context, vol Volume, opts workflow.Options) error {
	settings := downscaleSettings{
		library:       segmentationLibrary,
		libraryKwargs: map[string]interface{}{"order": 0},
		halos:         vol.ScaleFactors,
	}
	if err := imp.downscale(ctx, vol, opts, settings); err != nil {
		return err
	}
	if err := finalize(ctx, vol); err != nil {
		return err
	}
	input := maxid.Ref{Path: vol.InputPath, Key: vol.InputKey}
	output := maxid.Ref{Path: vol.OutputPath, Key: ScaleKey(0)}
	_, err := maxid.Add(ctx, input, output, imp.Engine, opts)
	return err
}

// finalize checks the produced container and writes its xml descriptor if missing.
func finalize(ctx context.Context, vol Volume) error {
	levels, err := ScaleLevels(ctx, vol.OutputPath)
	if err != nil {
		return fmt.Errorf("downscaling reported success but %s is not readable: %w", vol.OutputPath, err)
	}
	if expected := len(vol.ScaleFactors) + 1; len(levels) != expected {
		mobie.Warningf("%s has %d scale levels, expected %d\n", vol.OutputPath, len(levels), expected)
	}
	if isURL(vol.OutputPath) {
		return nil
	}
	xmlPath := XMLPath(vol.OutputPath)
	if mobie.FileExists(xmlPath) {
		return nil
	}
	return WriteXML(ctx, xmlPath, vol.OutputPath, vol.Resolution)
}
