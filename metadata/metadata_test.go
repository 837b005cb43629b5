package metadata

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/janelia-flyem/mobie/mobie"
)

func TestAddDataset(t *testing.T) {
	root := t.TempDir()
	if found, err := HaveDataset(root, "em"); err != nil || found {
		t.Fatalf("empty project should not have dataset: %t, %v", found, err)
	}
	if err := AddDataset(root, "em", false); err != nil {
		t.Fatal(err)
	}
	if err := AddDataset(root, "lm", false); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"em", "lm"} {
		if found, err := HaveDataset(root, name); err != nil || !found {
			t.Errorf("dataset %s not found: %v", name, err)
		}
	}
	c, err := ReadCatalog(root)
	if err != nil {
		t.Fatal(err)
	}
	if c.DefaultDataset != "em" {
		t.Errorf("first dataset should be default, got %q", c.DefaultDataset)
	}
	if c.SpecVersion != SpecVersion || len(c.Datasets) != 2 {
		t.Errorf("bad catalog %+v", c)
	}
	if err := AddDataset(root, "lm", true); err != nil {
		t.Fatal(err)
	}
	if c, _ = ReadCatalog(root); c.DefaultDataset != "lm" || len(c.Datasets) != 2 {
		t.Errorf("re-adding with default should only switch default: %+v", c)
	}
	if fi, err := os.Stat(LocalImagesFolder(DatasetFolder(root, "em"))); err != nil || !fi.IsDir() {
		t.Errorf("local images folder missing: %v", err)
	}
	if err := AddDataset(root, "../escape", false); err == nil {
		t.Errorf("expected error for nested dataset name")
	}
}

func TestHaveDatasetNeedsFolder(t *testing.T) {
	root := t.TempDir()
	c := &Catalog{Datasets: []string{"ghost"}}
	if err := WriteCatalog(root, c); err != nil {
		t.Fatal(err)
	}
	if found, err := HaveDataset(root, "ghost"); err != nil || found {
		t.Errorf("dataset without folder should not count: %t, %v", found, err)
	}
}

func TestCatalogVersion(t *testing.T) {
	root := t.TempDir()
	if err := mobie.WriteJSONFile(CatalogPath(root), map[string]interface{}{
		"specVersion": "0.1.3",
		"datasets":    []string{"em"},
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadCatalog(root); err != nil {
		t.Errorf("same major version should be readable: %v", err)
	}
	if err := mobie.WriteJSONFile(CatalogPath(root), map[string]interface{}{
		"specVersion": "1.0.0",
		"datasets":    []string{"em"},
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := HaveDataset(root, "em"); err == nil {
		t.Errorf("expected error for catalog of another major version")
	}
}

func TestAddToImageDict(t *testing.T) {
	root := t.TempDir()
	if err := AddDataset(root, "em", true); err != nil {
		t.Fatal(err)
	}
	folder := DatasetFolder(root, "em")
	local := LocalImagesFolder(folder)

	if err := AddToImageDict(folder, KindImage, filepath.Join(local, "raw.xml"), nil); err != nil {
		t.Fatal(err)
	}
	settings := map[string]interface{}{"alpha": 0.5}
	if err := AddToImageDict(folder, KindSegmentation, filepath.Join(local, "cells.xml"), settings); err != nil {
		t.Fatal(err)
	}
	dict, err := ReadImageDict(folder)
	if err != nil {
		t.Fatal(err)
	}
	raw, cells := dict["raw"], dict["cells"]
	if raw["type"] != "image" || raw["color"] != "white" {
		t.Errorf("bad image entry %v", raw)
	}
	storage, _ := raw["storage"].(map[string]interface{})
	if storage["local"] != "local/raw.xml" {
		t.Errorf("bad storage for image entry %v", raw["storage"])
	}
	if cells["type"] != "segmentation" || cells["color"] != "randomFromGlasbey" || cells["alpha"] != 0.5 {
		t.Errorf("bad segmentation entry %v", cells)
	}

	// upsert keeps a single entry per name
	if err := AddToImageDict(folder, KindImage, filepath.Join(local, "raw.xml"), map[string]interface{}{"color": "green"}); err != nil {
		t.Fatal(err)
	}
	if dict, _ = ReadImageDict(folder); len(dict) != 2 || dict["raw"]["color"] != "green" {
		t.Errorf("upsert failed: %v", dict)
	}
}

func TestImageDictValidation(t *testing.T) {
	folder := DatasetFolder(t.TempDir(), "em")
	xmlPath := filepath.Join(LocalImagesFolder(folder), "seg.xml")
	err := AddToImageDict(folder, KindSegmentation, xmlPath, map[string]interface{}{"alpha": 3})
	if err == nil || !strings.Contains(err.Error(), "invalid image entry") {
		t.Errorf("expected schema violation for alpha 3, got %v", err)
	}
	if err := AddToImageDict(folder, Kind("mesh"), xmlPath, nil); err == nil {
		t.Errorf("expected error for unknown kind")
	}
	if mobie.FileExists(ImageDictPath(folder)) {
		t.Errorf("invalid entries must not be written")
	}
}
