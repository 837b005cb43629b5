package metadata

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/janelia-flyem/mobie/mobie"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Kind is the type of an image source.
type Kind string

const (
	KindImage        Kind = "image"
	KindSegmentation Kind = "segmentation"
)

// ImageEntry is the settings map of one image source in images.json.
type ImageEntry map[string]interface{}

const imageEntrySchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["type", "storage"],
	"properties": {
		"type": {"enum": ["image", "segmentation"]},
		"color": {"type": "string"},
		"contrastLimits": {
			"type": "array",
			"items": {"type": "number"},
			"minItems": 2,
			"maxItems": 2
		},
		"alpha": {"type": "number", "minimum": 0, "maximum": 1},
		"tableFolder": {"type": "string"},
		"storage": {
			"type": "object",
			"required": ["local"],
			"properties": {
				"local": {"type": "string", "minLength": 1},
				"remote": {"type": "string"}
			}
		}
	}
}`

var (
	schemaOnce  sync.Once
	entrySchema *jsonschema.Schema
	schemaErr   error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		entrySchema, schemaErr = jsonschema.CompileString("image_entry.json", imageEntrySchema)
	})
	return entrySchema, schemaErr
}

// DefaultSettings returns the layer settings an image source of the given kind starts with.
func DefaultSettings(kind Kind) (ImageEntry, error) {
	switch kind {
	case KindImage:
		return ImageEntry{
			"color":          "white",
			"contrastLimits": []float64{0, 255},
		}, nil
	case KindSegmentation:
		return ImageEntry{
			"color": "randomFromGlasbey",
			"alpha": 0.75,
		}, nil
	default:
		return nil, fmt.Errorf("unknown image kind %q", kind)
	}
}

// ImageDictPath returns the path of images.json of a dataset.
func ImageDictPath(datasetFolder string) string {
	return filepath.Join(ImagesFolder(datasetFolder), "images.json")
}

// ReadImageDict returns the image sources of a dataset keyed by image name.
func ReadImageDict(datasetFolder string) (map[string]ImageEntry, error) {
	dict := map[string]ImageEntry{}
	err := mobie.ReadJSONFile(ImageDictPath(datasetFolder), &dict)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]ImageEntry{}, nil
	}
	if err != nil {
		return nil, err
	}
	return dict, nil
}

// AddToImageDict registers the image whose xml descriptor is at xmlPath in images.json of
// the dataset.  The image name is the descriptor's file name without extension.  Caller
// settings override the defaults of the kind, an existing entry of the same name is
// replaced.
func AddToImageDict(datasetFolder string, kind Kind, xmlPath string, settings map[string]interface{}) error {
	entry, err := DefaultSettings(kind)
	if err != nil {
		return err
	}
	for k, v := range settings {
		entry[k] = v
	}
	imagesFolder := ImagesFolder(datasetFolder)
	rel, err := relPath(imagesFolder, xmlPath)
	if err != nil {
		return err
	}
	entry["type"] = string(kind)
	entry["storage"] = map[string]interface{}{"local": rel}
	if err := validateEntry(entry); err != nil {
		return err
	}

	dict, err := ReadImageDict(datasetFolder)
	if err != nil {
		return err
	}
	name := strings.TrimSuffix(filepath.Base(xmlPath), filepath.Ext(xmlPath))
	if _, found := dict[name]; found {
		mobie.Warningf("Replacing existing %s entry %q in %s\n", kind, name, ImageDictPath(datasetFolder))
	}
	dict[name] = entry
	if err := mobie.WriteJSONFile(ImageDictPath(datasetFolder), dict); err != nil {
		return err
	}
	mobie.Infof("Registered %s %q in %s\n", kind, name, datasetFolder)
	return nil
}

func relPath(base, target string) (string, error) {
	absBase, err := filepath.Abs(base)
	if err != nil {
		return "", err
	}
	absTarget, err := filepath.Abs(target)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(absBase, absTarget)
	if err != nil {
		return "", fmt.Errorf("can't express %s relative to %s: %v", target, base, err)
	}
	return filepath.ToSlash(rel), nil
}

// validateEntry checks an entry against the image entry schema.  The schema validator
// works on decoded JSON values, so the entry is round-tripped first.
func validateEntry(entry ImageEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	sch, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("bad image entry schema: %v", err)
	}
	if err := sch.Validate(v); err != nil {
		return fmt.Errorf("invalid image entry: %v", err)
	}
	return nil
}
