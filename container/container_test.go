package container

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/janelia-flyem/mobie/mobie"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

const testDataset = "setup0/timepoint0/s0"

func testMetadata(compression string) DatasetMetadata {
	return DatasetMetadata{
		Dimensions:  []int64{10, 8, 4},
		BlockSize:   []int{4, 4, 4},
		DataType:    Uint64,
		Compression: Compression{Type: compression},
	}
}

func makeContainer(t *testing.T, name string) string {
	t.Helper()
	ctx := context.Background()
	p := filepath.Join(t.TempDir(), name)
	c, err := Create(ctx, p)
	if err != nil {
		t.Fatalf("can't create container: %v", err)
	}
	defer c.Close()
	if err := c.CreateDataset(ctx, testDataset, testMetadata("gzip")); err != nil {
		t.Fatalf("can't create dataset: %v", err)
	}
	return p
}

func TestFormatFromPath(t *testing.T) {
	tests := []struct {
		path   string
		format Format
		err    error
	}{
		{"/data/raw.n5", N5, nil},
		{"/data/raw.N5/", N5, nil},
		{"seg.zarr", Zarr, nil},
		{"gs://bucket/project/seg.n5", N5, nil},
		{"input.h5", 0, ErrUnsupportedFormat},
		{"/data/volume.tif", 0, ErrUnsupportedFormat},
	}
	for _, tc := range tests {
		format, err := FormatFromPath(tc.path)
		if tc.err != nil {
			if !errors.Is(err, tc.err) {
				t.Errorf("%s: expected error %v, got %v", tc.path, tc.err, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: unexpected error %v", tc.path, err)
			continue
		}
		if format != tc.format {
			t.Errorf("%s: expected format %s, got %s", tc.path, tc.format, format)
		}
	}
}

func TestOpenMissingContainer(t *testing.T) {
	ctx := context.Background()
	_, err := Open(ctx, filepath.Join(t.TempDir(), "missing.n5"), ReadOnly)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	empty := filepath.Join(t.TempDir(), "empty.n5")
	if err := os.MkdirAll(empty, 0755); err != nil {
		t.Fatal(err)
	}
	if _, err = Open(ctx, empty, ReadOnly); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for empty directory, got %v", err)
	}
}

func TestAttributeGetSet(t *testing.T) {
	ctx := context.Background()
	p := makeContainer(t, "seg.n5")

	_, found, err := AttributeGet(ctx, p, testDataset, "maxId")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Fatalf("maxId should not be set on new dataset")
	}

	if err := AttributeSet(ctx, p, testDataset, "maxId", uint64(1)<<60+7); err != nil {
		t.Fatalf("can't set attribute: %v", err)
	}
	v, found, err := AttributeGet(ctx, p, testDataset, "maxId")
	if err != nil || !found {
		t.Fatalf("expected maxId, got found %t, err %v", found, err)
	}
	num, ok := v.(json.Number)
	if !ok {
		t.Fatalf("expected json.Number, got %T", v)
	}
	if num.String() != "1152921504606846983" {
		t.Errorf("large id lost precision: %s", num)
	}

	// array metadata must survive attribute updates
	c, err := Open(ctx, p, ReadOnly)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	meta, err := c.DatasetMetadata(ctx, testDataset)
	if err != nil {
		t.Fatalf("can't read dataset metadata after attribute write: %v", err)
	}
	if meta.DataType != Uint64 || meta.Compression.Type != "gzip" {
		t.Errorf("bad metadata after attribute write: %+v", meta)
	}
}

func TestAttributeErrors(t *testing.T) {
	ctx := context.Background()
	p := makeContainer(t, "seg.n5")

	_, _, err := AttributeGet(ctx, p, "setup0/timepoint0/s9", "maxId")
	var ioErr *mobie.AttributeIOError
	if !errors.As(err, &ioErr) || !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected AttributeIOError wrapping ErrNotFound, got %v", err)
	}
	if ioErr.Op != "get" {
		t.Errorf("expected get op, got %q", ioErr.Op)
	}

	err = AttributeSet(ctx, p, "nothing/here", "maxId", 3)
	if !errors.As(err, &ioErr) || ioErr.Op != "set" {
		t.Fatalf("expected set AttributeIOError, got %v", err)
	}

	err = AttributeSet(ctx, filepath.Join(t.TempDir(), "gone.n5"), testDataset, "maxId", 3)
	if !errors.As(err, &ioErr) || ioErr.Op != "open" || !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected open AttributeIOError, got %v", err)
	}

	c, err := Open(ctx, p, ReadOnly)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if err := c.SetAttribute(ctx, testDataset, "maxId", 3); !errors.Is(err, ErrReadOnly) {
		t.Fatalf("expected ErrReadOnly, got %v", err)
	}
}

func TestChildren(t *testing.T) {
	ctx := context.Background()
	p := makeContainer(t, "raw.n5")
	c, err := Open(ctx, p, Append)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	for _, level := range []string{"s1", "s2"} {
		if err := c.CreateDataset(ctx, "setup0/timepoint0/"+level, testMetadata("raw")); err != nil {
			t.Fatal(err)
		}
	}
	children, err := c.Children(ctx, "setup0/timepoint0")
	if err != nil {
		t.Fatal(err)
	}
	expected := []string{"s0", "s1", "s2"}
	if len(children) != len(expected) {
		t.Fatalf("expected children %v, got %v", expected, children)
	}
	for i := range expected {
		if children[i] != expected[i] {
			t.Errorf("expected children %v, got %v", expected, children)
		}
	}
	isDS, err := c.IsDataset(ctx, "setup0/timepoint0/s1")
	if err != nil || !isDS {
		t.Errorf("s1 should be a dataset: %t, %v", isDS, err)
	}
	isDS, err = c.IsDataset(ctx, "setup0")
	if err != nil || isDS {
		t.Errorf("setup0 should be a group: %t, %v", isDS, err)
	}
}

func TestBlockCodecs(t *testing.T) {
	ctx := context.Background()
	for _, compression := range []string{"raw", "gzip", "zstd"} {
		p := filepath.Join(t.TempDir(), compression+".n5")
		c, err := Create(ctx, p)
		if err != nil {
			t.Fatal(err)
		}
		meta := testMetadata(compression)
		if err := c.CreateDataset(ctx, "labels", meta); err != nil {
			t.Fatal(err)
		}
		// border block along the first axis is clipped to 2 elements
		gridPos := []int64{2, 1, 0}
		size := meta.BlockShape(gridPos)
		if size[0] != 2 || size[1] != 4 || size[2] != 4 {
			t.Fatalf("bad border block shape %v", size)
		}
		block := &Block{GridPosition: gridPos, Size: size, Data: make([]byte, 2*4*4*8)}
		for i := 0; i < 32; i++ {
			binary.BigEndian.PutUint64(block.Data[i*8:], uint64(i*i))
		}
		if err := writeBlock(ctx, c, "labels", &meta, block); err != nil {
			t.Fatalf("%s: can't write block: %v", compression, err)
		}
		got, err := c.ReadBlock(ctx, "labels", &meta, gridPos)
		if err != nil {
			t.Fatalf("%s: can't read block: %v", compression, err)
		}
		if got.NumElements() != 32 {
			t.Fatalf("%s: expected 32 elements, got %d", compression, got.NumElements())
		}
		if v := binary.BigEndian.Uint64(got.Data[31*8:]); v != 961 {
			t.Errorf("%s: expected last element 961, got %d", compression, v)
		}
		missing, err := c.ReadBlock(ctx, "labels", &meta, []int64{0, 0, 0})
		if err != nil || missing != nil {
			t.Errorf("%s: missing block should be nil, nil: %v, %v", compression, missing, err)
		}
		c.Close()
	}
}

func TestGridPosition(t *testing.T) {
	meta := testMetadata("raw")
	if n := meta.NumBlocks(); n != 3*2*1 {
		t.Fatalf("expected 6 blocks, got %d", n)
	}
	pos := meta.GridPosition(4)
	if pos[0] != 1 || pos[1] != 1 || pos[2] != 0 {
		t.Errorf("expected grid position [1 1 0], got %v", pos)
	}
}

func TestZarrAttributes(t *testing.T) {
	ctx := context.Background()
	p := filepath.Join(t.TempDir(), "seg.zarr")
	c, err := Create(ctx, p)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.CreateGroup(ctx, "labels"); err != nil {
		t.Fatal(err)
	}
	c.Close()

	if err := AttributeSet(ctx, p, "labels", "maxId", 42); err != nil {
		t.Fatalf("can't set zarr attribute: %v", err)
	}
	v, found, err := AttributeGet(ctx, p, "labels", "maxId")
	if err != nil || !found {
		t.Fatalf("expected maxId in zarr group: %t, %v", found, err)
	}
	if v.(json.Number).String() != "42" {
		t.Errorf("expected 42, got %v", v)
	}
	if _, err := os.Stat(filepath.Join(p, "labels", ".zattrs")); err != nil {
		t.Errorf("expected .zattrs file: %v", err)
	}
}

// writeBlock stores a default-mode N5 block the way the workflows write them.
func writeBlock(ctx context.Context, c *Container, dataset string, meta *DatasetMetadata, block *Block) error {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, uint16(blockModeDefault))
	binary.Write(&buf, binary.BigEndian, uint16(len(block.Size)))
	for _, s := range block.Size {
		binary.Write(&buf, binary.BigEndian, uint32(s))
	}
	switch meta.Compression.Type {
	case "raw":
		buf.Write(block.Data)
	case "gzip":
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(block.Data); err != nil {
			return err
		}
		if err := zw.Close(); err != nil {
			return err
		}
	case "zstd":
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return err
		}
		buf.Write(enc.EncodeAll(block.Data, nil))
		enc.Close()
	}
	return c.bucket.WriteAll(ctx, c.blockKey(dataset, block.GridPosition), buf.Bytes(), nil)
}

func TestNoSidecarFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	// dataset written by an external workflow
	plain := filepath.Join(dir, "plain.n5")
	s0 := filepath.Join(plain, "setup0", "timepoint0", "s0")
	if err := os.MkdirAll(s0, 0755); err != nil {
		t.Fatal(err)
	}
	attrs := `{"dimensions":[64,64,64],"blockSize":[64,64,64],"dataType":"uint64","compression":{"type":"gzip"}}`
	if err := os.WriteFile(filepath.Join(s0, "attributes.json"), []byte(attrs), 0644); err != nil {
		t.Fatal(err)
	}
	if err := AttributeSet(ctx, plain, testDataset, "maxId", 17); err != nil {
		t.Fatalf("can't set attribute: %v", err)
	}

	// container created here, also addressed by file URL
	created := makeContainer(t, "created.n5")
	if err := AttributeSet(ctx, "file://"+created, testDataset, "maxId", 18); err != nil {
		t.Fatalf("can't set attribute through file url: %v", err)
	}
	v, found, err := AttributeGet(ctx, created, testDataset, "maxId")
	if err != nil || !found || v.(json.Number).String() != "18" {
		t.Fatalf("expected maxId 18, got %v, %t, %v", v, found, err)
	}

	for _, root := range []string{plain, created} {
		err := filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if strings.HasSuffix(p, ".attrs") {
				t.Errorf("unexpected sidecar file %s", p)
			}
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
	}
}
