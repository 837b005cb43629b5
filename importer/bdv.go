package importer

import (
	"context"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/janelia-flyem/mobie/container"
	"github.com/janelia-flyem/mobie/mobie"
)

// SetupKey is the group holding the scale levels of the single setup and timepoint
// written by the downscaling workflow.
const SetupKey = "setup0/timepoint0"

// ScaleKey returns the dataset key of a scale level, 0 being full resolution.
func ScaleKey(level int) string {
	return fmt.Sprintf("%s/s%d", SetupKey, level)
}

var scaleRegexp = regexp.MustCompile(`^s(\d+)$`)

// ScaleLevels returns the dataset keys of all scale levels of a bdv.n5 container,
// finest first.
func ScaleLevels(ctx context.Context, path string) ([]string, error) {
	c, err := container.Open(ctx, path, container.ReadOnly)
	if err != nil {
		return nil, err
	}
	defer c.Close()
	children, err := c.Children(ctx, SetupKey)
	if err != nil {
		return nil, err
	}
	var levels []int
	for _, child := range children {
		m := scaleRegexp.FindStringSubmatch(child)
		if m == nil {
			continue
		}
		level, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		isDataset, err := c.IsDataset(ctx, SetupKey+"/"+child)
		if err != nil {
			return nil, err
		}
		if !isDataset {
			mobie.Debugf("Skipping %s/%s in %s, not a dataset\n", SetupKey, child, path)
			continue
		}
		levels = append(levels, level)
	}
	if len(levels) == 0 {
		return nil, fmt.Errorf("no scale levels under %s", SetupKey)
	}
	sort.Ints(levels)
	keys := make([]string, len(levels))
	for i, level := range levels {
		keys[i] = ScaleKey(level)
	}
	return keys, nil
}

// XMLPath returns the path of the xml descriptor belonging to a container path.
func XMLPath(containerPath string) string {
	return strings.TrimSuffix(containerPath, filepath.Ext(containerPath)) + ".xml"
}

// SpimData is the subset of the BigDataViewer xml descriptor needed to point a viewer
// at a bdv.n5 container with one setup and one timepoint.
type SpimData struct {
	XMLName             xml.Name            `xml:"SpimData"`
	Version             string              `xml:"version,attr"`
	BasePath            relativePath        `xml:"BasePath"`
	SequenceDescription sequenceDescription `xml:"SequenceDescription"`
	ViewRegistrations   []viewRegistration  `xml:"ViewRegistrations>ViewRegistration"`
}

type relativePath struct {
	Type string `xml:"type,attr"`
	Path string `xml:",chardata"`
}

type sequenceDescription struct {
	ImageLoader imageLoader  `xml:"ImageLoader"`
	ViewSetups  viewSetups   `xml:"ViewSetups"`
	Timepoints  timepointsEl `xml:"Timepoints"`
}

type viewSetups struct {
	Setups     []viewSetup   `xml:"ViewSetup"`
	Attributes setupAttrDefs `xml:"Attributes"`
}

type setupAttrDefs struct {
	Name     string    `xml:"name,attr"`
	Channels []channel `xml:"Channel"`
}

type imageLoader struct {
	Format  string       `xml:"format,attr"`
	Version string       `xml:"version,attr"`
	N5      relativePath `xml:"n5"`
}

type viewSetup struct {
	ID        int       `xml:"id"`
	Name      string    `xml:"name"`
	Size      string    `xml:"size"`
	VoxelSize voxelSize `xml:"voxelSize"`
	Channel   int       `xml:"attributes>channel"`
}

type voxelSize struct {
	Unit string `xml:"unit"`
	Size string `xml:"size"`
}

type channel struct {
	ID   int    `xml:"id"`
	Name string `xml:"name"`
}

type timepointsEl struct {
	Type  string `xml:"type,attr"`
	First int    `xml:"first"`
	Last  int    `xml:"last"`
}

type viewRegistration struct {
	Timepoint int           `xml:"timepoint,attr"`
	Setup     int           `xml:"setup,attr"`
	Transform viewTransform `xml:"ViewTransform"`
}

type viewTransform struct {
	Type   string `xml:"type,attr"`
	Affine string `xml:"affine"`
}

// NewSpimData describes a bdv.n5 container.  The shape is given in the container's
// x, y, z order while the resolution is given in z, y, x order like all volume
// parameters.  2d volumes are described as a single z slice of unit thickness.
func NewSpimData(n5Path string, shape []int64, res mobie.Resolution) (*SpimData, error) {
	if len(shape) != len(res) || (len(shape) != 2 && len(shape) != 3) {
		return nil, fmt.Errorf("xml descriptor needs 2d or 3d shape and matching resolution, got %v and %s", shape, res)
	}
	if len(shape) == 2 {
		shape = []int64{shape[0], shape[1], 1}
		res = mobie.Resolution{1, res[0], res[1]}
	}
	rx, ry, rz := res[2], res[1], res[0]
	f := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	affine := strings.Join([]string{
		f(rx), "0.0", "0.0", "0.0",
		"0.0", f(ry), "0.0", "0.0",
		"0.0", "0.0", f(rz), "0.0",
	}, " ")
	return &SpimData{
		Version:  "0.2",
		BasePath: relativePath{Type: "relative", Path: "."},
		SequenceDescription: sequenceDescription{
			ImageLoader: imageLoader{
				Format:  MetadataFormat,
				Version: "1.0",
				N5:      relativePath{Type: "relative", Path: n5Path},
			},
			ViewSetups: viewSetups{
				Setups: []viewSetup{{
					ID:        0,
					Name:      "setup0",
					Size:      fmt.Sprintf("%d %d %d", shape[0], shape[1], shape[2]),
					VoxelSize: voxelSize{Unit: mobie.Unit, Size: strings.Join([]string{f(rx), f(ry), f(rz)}, " ")},
				}},
				Attributes: setupAttrDefs{Name: "channel", Channels: []channel{{ID: 0, Name: "0"}}},
			},
			Timepoints: timepointsEl{Type: "range"},
		},
		ViewRegistrations: []viewRegistration{{
			Transform: viewTransform{Type: "affine", Affine: affine},
		}},
	}, nil
}

// WriteXML writes the xml descriptor of the bdv.n5 container at n5Path, reading the
// volume shape from its full resolution dataset.
func WriteXML(ctx context.Context, xmlPath, n5Path string, res mobie.Resolution) error {
	c, err := container.Open(ctx, n5Path, container.ReadOnly)
	if err != nil {
		return err
	}
	defer c.Close()
	meta, err := c.DatasetMetadata(ctx, ScaleKey(0))
	if err != nil {
		return err
	}
	if meta.NumDims() != len(res) {
		return fmt.Errorf("%s has %d dimensions but resolution %s has %d", n5Path, meta.NumDims(), res, len(res))
	}
	rel, err := filepath.Rel(filepath.Dir(xmlPath), n5Path)
	if err != nil {
		rel = n5Path
	}
	spim, err := NewSpimData(filepath.ToSlash(rel), meta.Dimensions, res)
	if err != nil {
		return err
	}
	out, err := xml.MarshalIndent(spim, "", "  ")
	if err != nil {
		return err
	}
	data := append([]byte(xml.Header), out...)
	data = append(data, '\n')
	if err := os.WriteFile(xmlPath, data, 0644); err != nil {
		return fmt.Errorf("could not write xml descriptor %s: %v", xmlPath, err)
	}
	mobie.Debugf("Wrote xml descriptor %s for %s\n", xmlPath, n5Path)
	return nil
}

// ReadXML reads an xml descriptor and returns the container path it points to,
// resolved against the descriptor's folder.
func ReadXML(xmlPath string) (string, *SpimData, error) {
	data, err := os.ReadFile(xmlPath)
	if err != nil {
		return "", nil, err
	}
	var spim SpimData
	if err := xml.Unmarshal(data, &spim); err != nil {
		return "", nil, fmt.Errorf("bad xml descriptor %s: %v", xmlPath, err)
	}
	n5 := spim.SequenceDescription.ImageLoader.N5
	p := filepath.FromSlash(n5.Path)
	if n5.Type == "relative" && !filepath.IsAbs(p) {
		p = filepath.Join(filepath.Dir(xmlPath), p)
	}
	return p, &spim, nil
}
