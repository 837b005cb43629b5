// Package dataset adds image volumes to an existing dataset of a project: it lays out the
// container paths, runs the import and registers the result in the dataset catalog.
package dataset

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/janelia-flyem/mobie/importer"
	"github.com/janelia-flyem/mobie/metadata"
	"github.com/janelia-flyem/mobie/mobie"
	"github.com/janelia-flyem/mobie/workflow"
)

// Request describes one volume to add to a dataset.
type Request struct {
	InputPath   string
	InputKey    string
	Root        string
	DatasetName string
	ImageName   string

	Resolution   mobie.Resolution
	ScaleFactors mobie.ScaleFactors
	Chunks       mobie.Shape

	// TmpFolder defaults to tmp_<image name> in the working directory.
	TmpFolder string
	Target    string
	MaxJobs   int

	// Settings override the default layer settings of the catalog entry.
	Settings map[string]interface{}
}

// Paths are the files written for an image.
type Paths struct {
	DatasetFolder string
	DataPath      string
	XMLPath       string
}

// ImagePaths returns where an image of a dataset is stored.
func ImagePaths(root, datasetName, imageName string) Paths {
	folder := metadata.DatasetFolder(root, datasetName)
	local := metadata.LocalImagesFolder(folder)
	return Paths{
		DatasetFolder: folder,
		DataPath:      filepath.Join(local, imageName+".n5"),
		XMLPath:       filepath.Join(local, imageName+".xml"),
	}
}

func (r *Request) options() workflow.Options {
	tmp := r.TmpFolder
	if tmp == "" {
		tmp = "tmp_" + r.ImageName
	}
	return workflow.Options{TmpFolder: tmp, Target: r.Target, MaxJobs: r.MaxJobs}
}

func (r *Request) volume(p Paths) importer.Volume {
	return importer.Volume{
		InputPath:    r.InputPath,
		InputKey:     r.InputKey,
		OutputPath:   p.DataPath,
		Resolution:   r.Resolution,
		ScaleFactors: r.ScaleFactors,
		Chunks:       r.Chunks,
	}
}

// checkDataset fails with a *mobie.DatasetNotFoundError before anything is written if the
// target dataset isn't registered.
func (r *Request) checkDataset() error {
	if r.ImageName == "" {
		return fmt.Errorf("no image name given")
	}
	found, err := metadata.HaveDataset(r.Root, r.DatasetName)
	if err != nil {
		return err
	}
	if !found {
		return &mobie.DatasetNotFoundError{Root: r.Root, Dataset: r.DatasetName}
	}
	return nil
}

// AddImageData imports an intensity volume into the dataset and registers it as an image.
func AddImageData(ctx context.Context, imp *importer.Importer, req Request) error {
	if err := req.checkDataset(); err != nil {
		return err
	}
	p := ImagePaths(req.Root, req.DatasetName, req.ImageName)
	if err := imp.ImportRawVolume(ctx, req.volume(p), req.options()); err != nil {
		return err
	}
	return metadata.AddToImageDict(p.DatasetFolder, metadata.KindImage, p.XMLPath, req.Settings)
}

// AddSegmentation imports a label volume into the dataset and registers it as a
// segmentation.
func AddSegmentation(ctx context.Context, imp *importer.Importer, req Request) error {
	if err := req.checkDataset(); err != nil {
		return err
	}
	p := ImagePaths(req.Root, req.DatasetName, req.ImageName)
	if err := imp.ImportSegmentation(ctx, req.volume(p), req.options()); err != nil {
		return err
	}
	return metadata.AddToImageDict(p.DatasetFolder, metadata.KindSegmentation, p.XMLPath, req.Settings)
}
