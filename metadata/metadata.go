/*
Package metadata maintains the JSON catalog of a project folder.

A project root holds datasets.json listing its datasets.  Every dataset folder holds
images/images.json describing the image sources it contains, each pointing at the xml
descriptor of a multi-scale container below images/local.

	<root>/datasets.json
	<root>/<dataset>/images/images.json
	<root>/<dataset>/images/local/<image>.n5
	<root>/<dataset>/images/local/<image>.xml
*/
package metadata

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/janelia-flyem/mobie/mobie"

	"github.com/blang/semver"
)

// SpecVersion is the catalog version written by this package.  Catalogs with a different
// major version can't be read.
const SpecVersion = "0.2.0"

var specVersion = semver.MustParse(SpecVersion)

// Catalog is the content of <root>/datasets.json.
type Catalog struct {
	SpecVersion    string   `json:"specVersion"`
	Datasets       []string `json:"datasets"`
	DefaultDataset string   `json:"defaultDataset,omitempty"`
}

// Has returns true if the dataset is listed.
func (c *Catalog) Has(name string) bool {
	for _, ds := range c.Datasets {
		if ds == name {
			return true
		}
	}
	return false
}

// CatalogPath returns the path of the catalog file of a project root.
func CatalogPath(root string) string {
	return filepath.Join(root, "datasets.json")
}

// DatasetFolder returns the folder of a dataset.
func DatasetFolder(root, name string) string {
	return filepath.Join(root, name)
}

// ImagesFolder returns the folder holding images.json of a dataset.
func ImagesFolder(datasetFolder string) string {
	return filepath.Join(datasetFolder, "images")
}

// LocalImagesFolder returns the folder holding the local containers of a dataset.
func LocalImagesFolder(datasetFolder string) string {
	return filepath.Join(datasetFolder, "images", "local")
}

// ReadCatalog reads the catalog of a project root.  A missing file yields an empty
// catalog at the current version.
func ReadCatalog(root string) (*Catalog, error) {
	var c Catalog
	err := mobie.ReadJSONFile(CatalogPath(root), &c)
	if errors.Is(err, os.ErrNotExist) {
		return &Catalog{SpecVersion: SpecVersion}, nil
	}
	if err != nil {
		return nil, err
	}
	v, err := semver.Parse(c.SpecVersion)
	if err != nil {
		return nil, fmt.Errorf("bad specVersion %q in %s: %v", c.SpecVersion, CatalogPath(root), err)
	}
	if v.Major != specVersion.Major {
		return nil, fmt.Errorf("catalog %s has version %s, only %d.x is supported", CatalogPath(root), v, specVersion.Major)
	}
	return &c, nil
}

// WriteCatalog writes the catalog of a project root with the current version.
func WriteCatalog(root string, c *Catalog) error {
	c.SpecVersion = SpecVersion
	sort.Strings(c.Datasets)
	return mobie.WriteJSONFile(CatalogPath(root), c)
}

// HaveDataset returns true if the dataset is registered in the catalog of root and its
// folder exists.
func HaveDataset(root, name string) (bool, error) {
	c, err := ReadCatalog(root)
	if err != nil {
		return false, err
	}
	if !c.Has(name) {
		return false, nil
	}
	fi, err := os.Stat(DatasetFolder(root, name))
	if err != nil {
		return false, nil
	}
	return fi.IsDir(), nil
}

// AddDataset creates the folder layout of a dataset and registers it.  The first dataset
// of a project always becomes the default one.
func AddDataset(root, name string, isDefault bool) error {
	if name == "" || filepath.Base(name) != name {
		return fmt.Errorf("bad dataset name %q", name)
	}
	c, err := ReadCatalog(root)
	if err != nil {
		return err
	}
	folder := DatasetFolder(root, name)
	if err := os.MkdirAll(LocalImagesFolder(folder), 0755); err != nil {
		return fmt.Errorf("can't create dataset folder %s: %v", folder, err)
	}
	imagesPath := ImageDictPath(folder)
	if !mobie.FileExists(imagesPath) {
		if err := mobie.WriteJSONFile(imagesPath, map[string]interface{}{}); err != nil {
			return err
		}
	}
	if !c.Has(name) {
		c.Datasets = append(c.Datasets, name)
	}
	if isDefault || c.DefaultDataset == "" {
		c.DefaultDataset = name
	}
	if err := WriteCatalog(root, c); err != nil {
		return err
	}
	mobie.Infof("Added dataset %q to %s (default %q)\n", name, root, c.DefaultDataset)
	return nil
}
