/*
Package container reads and writes the metadata of chunked array containers (N5 and Zarr)
that hold the multi-scale volumes of a project.  The containers themselves are created by
the workflow engine; this package opens them, reads and writes dataset attributes, and
can decode N5 blocks for small in-process reductions.

Storage is accessed through gocloud.dev blob buckets, so a container may live on the
local filesystem or behind a bucket URL (gs://, s3://, file://, mem://).
*/
package container

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/janelia-flyem/mobie/mobie"

	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
	"gocloud.dev/gcerrors"
)

var (
	// ErrNotFound is returned when a container or a path within it does not exist.
	ErrNotFound = errors.New("not found")

	// ErrReadOnly is returned when writing to a container opened in ReadOnly mode.
	ErrReadOnly = errors.New("container opened read-only")

	// ErrUnsupportedFormat is returned for container formats that can't be opened here.
	ErrUnsupportedFormat = errors.New("unsupported container format")
)

// Format is the on-disk layout of a container.
type Format uint8

const (
	N5 Format = iota
	Zarr
)

func (f Format) String() string {
	switch f {
	case N5:
		return "n5"
	case Zarr:
		return "zarr"
	default:
		return fmt.Sprintf("unknown format %d", f)
	}
}

// attrsFile is the name of the JSON object holding user attributes of a group or array.
func (f Format) attrsFile() string {
	if f == Zarr {
		return ".zattrs"
	}
	return "attributes.json"
}

// FormatFromPath determines the container format from the path suffix.
func FormatFromPath(p string) (Format, error) {
	if u, err := url.Parse(p); err == nil && u.Scheme != "" && len(u.Scheme) > 1 {
		p = u.Path
	}
	ext := strings.ToLower(filepath.Ext(strings.TrimRight(p, "/")))
	switch ext {
	case ".n5":
		return N5, nil
	case ".zarr", ".zr":
		return Zarr, nil
	case ".h5", ".hdf5", ".hdf":
		return 0, fmt.Errorf("%w: hdf5 file %s", ErrUnsupportedFormat, p)
	default:
		return 0, fmt.Errorf("%w: can't infer format of %q", ErrUnsupportedFormat, p)
	}
}

// Mode is the access mode of an opened container.
type Mode uint8

const (
	ReadOnly Mode = iota
	Append
)

// Container is an opened N5 or Zarr container.
type Container struct {
	path   string
	format Format
	mode   Mode
	bucket *blob.Bucket
}

// Open opens an existing container.  ErrNotFound is returned if nothing exists at path.
func Open(ctx context.Context, p string, mode Mode) (*Container, error) {
	format, err := FormatFromPath(p)
	if err != nil {
		return nil, err
	}
	bucket, err := openBucket(ctx, p, false)
	if err != nil {
		return nil, err
	}
	c := &Container{path: p, format: format, mode: mode, bucket: bucket}
	found, err := c.rootExists(ctx)
	if err != nil {
		c.Close()
		return nil, err
	}
	if !found {
		c.Close()
		return nil, fmt.Errorf("container %s: %w", p, ErrNotFound)
	}
	return c, nil
}

// Create creates a new container at path, or opens it in Append mode if it already exists.
func Create(ctx context.Context, p string) (*Container, error) {
	format, err := FormatFromPath(p)
	if err != nil {
		return nil, err
	}
	bucket, err := openBucket(ctx, p, true)
	if err != nil {
		return nil, err
	}
	c := &Container{path: p, format: format, mode: Append, bucket: bucket}
	found, err := c.rootExists(ctx)
	if err != nil {
		c.Close()
		return nil, err
	}
	if found {
		return c, nil
	}
	var rootKey string
	var root map[string]interface{}
	switch format {
	case N5:
		rootKey, root = "attributes.json", map[string]interface{}{"n5": N5Version}
	case Zarr:
		rootKey, root = ".zgroup", map[string]interface{}{"zarr_format": 2}
	}
	if err := c.writeJSON(ctx, rootKey, root); err != nil {
		c.Close()
		return nil, err
	}
	mobie.Debugf("Created %s container @ %s\n", format, p)
	return c, nil
}

// openBucket returns a bucket rooted at the container.  Bare paths are local directories,
// anything with a scheme is handed to the gocloud URL muxer with the URL path as prefix.
func openBucket(ctx context.Context, p string, create bool) (*blob.Bucket, error) {
	u, err := url.Parse(p)
	if err == nil && len(u.Scheme) > 1 {
		if u.Scheme == "file" {
			if create {
				if err := os.MkdirAll(u.Path, 0755); err != nil {
					return nil, err
				}
			} else if _, err := os.Stat(u.Path); os.IsNotExist(err) {
				return nil, fmt.Errorf("container %s: %w", p, ErrNotFound)
			}
			return blob.OpenBucket(ctx, skipSidecars(u))
		}
		prefix := strings.Trim(u.Path, "/")
		bucketURL := u.Scheme + "://" + u.Host
		if u.RawQuery != "" {
			bucketURL += "?" + u.RawQuery
		}
		bucket, err := blob.OpenBucket(ctx, bucketURL)
		if err != nil {
			return nil, err
		}
		if prefix == "" {
			return bucket, nil
		}
		return blob.PrefixedBucket(bucket, prefix+"/"), nil
	}

	dir, err := filepath.Abs(p)
	if err != nil {
		return nil, err
	}
	if create {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	} else if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		return nil, fmt.Errorf("container %s: %w", p, ErrNotFound)
	}
	return fileblob.OpenBucket(dir, &fileblob.Options{Metadata: fileblob.MetadataDontWrite})
}

// skipSidecars keeps fileblob from writing <key>.attrs files next to the container objects.
func skipSidecars(u *url.URL) string {
	q := u.Query()
	q.Set("metadata", "skip")
	u.RawQuery = q.Encode()
	return u.String()
}

func (c *Container) rootExists(ctx context.Context) (bool, error) {
	keys := []string{"attributes.json"}
	if c.format == Zarr {
		keys = []string{".zgroup", ".zattrs", ".zarray"}
	}
	for _, key := range keys {
		found, err := c.bucket.Exists(ctx, key)
		if err != nil {
			return false, err
		}
		if found {
			return true, nil
		}
	}
	// N5 does not require root attributes, so any stored object marks an existing container.
	iter := c.bucket.List(nil)
	_, err := iter.Next(ctx)
	if err == io.EOF {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Close releases the underlying bucket.
func (c *Container) Close() error {
	return c.bucket.Close()
}

func (c *Container) String() string {
	return fmt.Sprintf("%s container @ %s", c.format, c.path)
}

// Path returns the location the container was opened from.
func (c *Container) Path() string {
	return c.path
}

// Format returns the container layout.
func (c *Container) Format() Format {
	return c.format
}

// Mode returns the access mode.
func (c *Container) Mode() Mode {
	return c.mode
}

func cleanPath(p string) string {
	p = strings.Trim(path.Clean("/"+p), "/")
	return p
}

func (c *Container) key(dataset, name string) string {
	dataset = cleanPath(dataset)
	if dataset == "" {
		return name
	}
	return dataset + "/" + name
}

// HasPath returns true if a group or dataset exists at the given path.
func (c *Container) HasPath(ctx context.Context, dataset string) (bool, error) {
	var keys []string
	switch c.format {
	case N5:
		keys = []string{c.key(dataset, "attributes.json")}
	case Zarr:
		keys = []string{c.key(dataset, ".zarray"), c.key(dataset, ".zgroup"), c.key(dataset, ".zattrs")}
	}
	for _, key := range keys {
		found, err := c.bucket.Exists(ctx, key)
		if err != nil {
			return false, err
		}
		if found {
			return true, nil
		}
	}
	return false, nil
}

func (c *Container) readJSON(ctx context.Context, key string) (map[string]interface{}, error) {
	data, err := c.bucket.ReadAll(ctx, key)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, fmt.Errorf("%s in %s: %w", key, c.path, ErrNotFound)
		}
		return nil, err
	}
	obj := make(map[string]interface{})
	if len(bytes.TrimSpace(data)) == 0 {
		return obj, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("bad JSON in %s of %s: %v", key, c.path, err)
	}
	return obj, nil
}

func (c *Container) writeJSON(ctx context.Context, key string, obj interface{}) error {
	if c.mode == ReadOnly {
		return ErrReadOnly
	}
	data, err := json.MarshalIndent(obj, "", "    ")
	if err != nil {
		return err
	}
	opts := &blob.WriterOptions{ContentType: "application/json"}
	return c.bucket.WriteAll(ctx, key, data, opts)
}

// Attributes returns all attributes of the group or dataset at the given path.
// Numbers are returned as json.Number so large label ids keep their precision.
func (c *Container) Attributes(ctx context.Context, dataset string) (map[string]interface{}, error) {
	found, err := c.HasPath(ctx, dataset)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("path %q in %s: %w", dataset, c.path, ErrNotFound)
	}
	attrs, err := c.readJSON(ctx, c.key(dataset, c.format.attrsFile()))
	if errors.Is(err, ErrNotFound) {
		// zarr arrays without .zattrs have no user attributes
		return map[string]interface{}{}, nil
	}
	return attrs, err
}

// GetAttribute returns a single attribute and whether it was present.
func (c *Container) GetAttribute(ctx context.Context, dataset, name string) (interface{}, bool, error) {
	attrs, err := c.Attributes(ctx, dataset)
	if err != nil {
		return nil, false, err
	}
	v, found := attrs[name]
	return v, found, nil
}

// SetAttributes merges the given attributes into those of an existing group or dataset.
func (c *Container) SetAttributes(ctx context.Context, dataset string, values map[string]interface{}) error {
	if c.mode == ReadOnly {
		return ErrReadOnly
	}
	attrs, err := c.Attributes(ctx, dataset)
	if err != nil {
		return err
	}
	for k, v := range values {
		attrs[k] = v
	}
	return c.writeJSON(ctx, c.key(dataset, c.format.attrsFile()), attrs)
}

// SetAttribute sets one attribute of an existing group or dataset.
func (c *Container) SetAttribute(ctx context.Context, dataset, name string, value interface{}) error {
	return c.SetAttributes(ctx, dataset, map[string]interface{}{name: value})
}

// CreateGroup makes sure a group exists at the path, creating attribute files for
// the group and its parents as needed.
func (c *Container) CreateGroup(ctx context.Context, group string) error {
	if c.mode == ReadOnly {
		return ErrReadOnly
	}
	group = cleanPath(group)
	if group == "" {
		return nil
	}
	parts := strings.Split(group, "/")
	for i := range parts {
		p := strings.Join(parts[:i+1], "/")
		found, err := c.HasPath(ctx, p)
		if err != nil {
			return err
		}
		if found {
			continue
		}
		key, obj := c.key(p, "attributes.json"), map[string]interface{}{}
		if c.format == Zarr {
			key, obj = c.key(p, ".zgroup"), map[string]interface{}{"zarr_format": 2}
		}
		if err := c.writeJSON(ctx, key, obj); err != nil {
			return err
		}
	}
	return nil
}

// Children returns the sorted names of the direct children of a group.
func (c *Container) Children(ctx context.Context, group string) ([]string, error) {
	prefix := cleanPath(group)
	if prefix != "" {
		prefix += "/"
	}
	iter := c.bucket.List(&blob.ListOptions{Prefix: prefix, Delimiter: "/"})
	var names []string
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if !obj.IsDir {
			continue
		}
		name := strings.TrimSuffix(strings.TrimPrefix(obj.Key, prefix), "/")
		if name != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// AttributeGet opens the container read-only and returns one attribute of a dataset.
func AttributeGet(ctx context.Context, containerPath, dataset, name string) (interface{}, bool, error) {
	c, err := Open(ctx, containerPath, ReadOnly)
	if err != nil {
		return nil, false, &mobie.AttributeIOError{Op: "open", Path: containerPath, Err: err}
	}
	defer c.Close()
	v, found, err := c.GetAttribute(ctx, dataset, name)
	if err != nil {
		return nil, false, &mobie.AttributeIOError{Op: "get", Path: containerPath, Dataset: dataset, Err: err}
	}
	return v, found, nil
}

// AttributeSet opens the container for appending and writes one attribute of a dataset.
func AttributeSet(ctx context.Context, containerPath, dataset, name string, value interface{}) error {
	c, err := Open(ctx, containerPath, Append)
	if err != nil {
		return &mobie.AttributeIOError{Op: "open", Path: containerPath, Err: err}
	}
	defer c.Close()
	if err := c.SetAttribute(ctx, dataset, name, value); err != nil {
		return &mobie.AttributeIOError{Op: "set", Path: containerPath, Dataset: dataset, Err: err}
	}
	return nil
}
