package container

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gocloud.dev/gcerrors"
)

// N5Version is written to the root attributes of containers created here.
const N5Version = "2.5.1"

// DataType is the element type of an N5 dataset.
type DataType string

const (
	Uint8   DataType = "uint8"
	Uint16  DataType = "uint16"
	Uint32  DataType = "uint32"
	Uint64  DataType = "uint64"
	Int8    DataType = "int8"
	Int16   DataType = "int16"
	Int32   DataType = "int32"
	Int64   DataType = "int64"
	Float32 DataType = "float32"
	Float64 DataType = "float64"
)

// Size returns the number of bytes of one element, or 0 for unknown types.
func (t DataType) Size() int {
	switch t {
	case Uint8, Int8:
		return 1
	case Uint16, Int16:
		return 2
	case Uint32, Int32, Float32:
		return 4
	case Uint64, Int64, Float64:
		return 8
	default:
		return 0
	}
}

// Unsigned returns true for unsigned integer types.
func (t DataType) Unsigned() bool {
	return t == Uint8 || t == Uint16 || t == Uint32 || t == Uint64
}

// Float returns true for floating point types.
func (t DataType) Float() bool {
	return t == Float32 || t == Float64
}

// Compression describes how N5 block payloads are compressed.
type Compression struct {
	Type    string `json:"type"`
	Level   int    `json:"level,omitempty"`
	UseZlib bool   `json:"useZlib,omitempty"`
}

// DatasetMetadata is the array description stored in the attributes of an N5 dataset.
// Dimensions and block sizes are in N5 axis order, i.e., fastest-varying axis first.
type DatasetMetadata struct {
	Dimensions  []int64     `json:"dimensions"`
	BlockSize   []int       `json:"blockSize"`
	DataType    DataType    `json:"dataType"`
	Compression Compression `json:"compression"`
}

// NumDims returns the dimensionality of the dataset.
func (m *DatasetMetadata) NumDims() int {
	return len(m.Dimensions)
}

// GridShape returns the number of blocks along each axis.
func (m *DatasetMetadata) GridShape() []int64 {
	grid := make([]int64, len(m.Dimensions))
	for i, dim := range m.Dimensions {
		bs := int64(m.BlockSize[i])
		grid[i] = (dim + bs - 1) / bs
	}
	return grid
}

// NumBlocks returns the total number of blocks in the block grid.
func (m *DatasetMetadata) NumBlocks() int64 {
	if len(m.Dimensions) == 0 {
		return 0
	}
	n := int64(1)
	for _, g := range m.GridShape() {
		n *= g
	}
	return n
}

// GridPosition converts a linear block index into a grid position, first axis fastest.
func (m *DatasetMetadata) GridPosition(index int64) []int64 {
	grid := m.GridShape()
	pos := make([]int64, len(grid))
	for i, g := range grid {
		pos[i] = index % g
		index /= g
	}
	return pos
}

// BlockShape returns the shape of the block at a grid position, clipped at the volume border.
func (m *DatasetMetadata) BlockShape(gridPos []int64) []int {
	shape := make([]int, len(m.BlockSize))
	for i, bs := range m.BlockSize {
		begin := gridPos[i] * int64(bs)
		end := begin + int64(bs)
		if end > m.Dimensions[i] {
			end = m.Dimensions[i]
		}
		shape[i] = int(end - begin)
	}
	return shape
}

func (m *DatasetMetadata) validate() error {
	if len(m.Dimensions) == 0 {
		return fmt.Errorf("dataset has no dimensions")
	}
	if len(m.BlockSize) != len(m.Dimensions) {
		return fmt.Errorf("blockSize %v does not match dimensions %v", m.BlockSize, m.Dimensions)
	}
	for _, bs := range m.BlockSize {
		if bs <= 0 {
			return fmt.Errorf("bad blockSize %v", m.BlockSize)
		}
	}
	if m.DataType.Size() == 0 {
		return fmt.Errorf("unsupported dataType %q", m.DataType)
	}
	return nil
}

// IsDataset returns true if the path holds an array rather than a group.
func (c *Container) IsDataset(ctx context.Context, dataset string) (bool, error) {
	if c.format == Zarr {
		return c.bucket.Exists(ctx, c.key(dataset, ".zarray"))
	}
	attrs, err := c.readJSON(ctx, c.key(dataset, "attributes.json"))
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	_, hasDims := attrs["dimensions"]
	_, hasType := attrs["dataType"]
	return hasDims && hasType, nil
}

// DatasetMetadata returns the array description of an N5 dataset.
func (c *Container) DatasetMetadata(ctx context.Context, dataset string) (*DatasetMetadata, error) {
	if c.format != N5 {
		return nil, fmt.Errorf("%w: block access needs an n5 container, got %s", ErrUnsupportedFormat, c.format)
	}
	attrs, err := c.readJSON(ctx, c.key(dataset, "attributes.json"))
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(attrs)
	if err != nil {
		return nil, err
	}
	var meta DatasetMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("bad dataset attributes for %q in %s: %v", dataset, c.path, err)
	}
	// pre-2.0 N5 used a flat "compressionType" attribute
	if meta.Compression.Type == "" {
		meta.Compression.Type = "raw"
		if ct, ok := attrs["compressionType"].(string); ok {
			meta.Compression.Type = ct
		}
	}
	if err := meta.validate(); err != nil {
		return nil, fmt.Errorf("dataset %q in %s: %v", dataset, c.path, err)
	}
	return &meta, nil
}

// CreateDataset writes the array description of a new N5 dataset, creating parent groups.
func (c *Container) CreateDataset(ctx context.Context, dataset string, meta DatasetMetadata) error {
	if c.format != N5 {
		return fmt.Errorf("%w: datasets can only be created in n5 containers", ErrUnsupportedFormat)
	}
	if c.mode == ReadOnly {
		return ErrReadOnly
	}
	if err := meta.validate(); err != nil {
		return err
	}
	if meta.Compression.Type == "" {
		meta.Compression.Type = "raw"
	}
	dataset = cleanPath(dataset)
	if i := strings.LastIndex(dataset, "/"); i > 0 {
		if err := c.CreateGroup(ctx, dataset[:i]); err != nil {
			return err
		}
	}
	return c.writeJSON(ctx, c.key(dataset, "attributes.json"), meta)
}

// Block is one decoded N5 block with its element data in big-endian byte order.
type Block struct {
	GridPosition []int64
	Size         []int
	Data         []byte
}

// NumElements returns the number of elements held in the block.
func (b *Block) NumElements() int {
	n := 1
	for _, s := range b.Size {
		n *= s
	}
	return n
}

func (c *Container) blockKey(dataset string, gridPos []int64) string {
	parts := make([]string, len(gridPos))
	for i, p := range gridPos {
		parts[i] = strconv.FormatInt(p, 10)
	}
	return c.key(dataset, strings.Join(parts, "/"))
}

// ReadBlock returns the block at a grid position, or nil if the block was never written.
func (c *Container) ReadBlock(ctx context.Context, dataset string, meta *DatasetMetadata, gridPos []int64) (*Block, error) {
	if c.format != N5 {
		return nil, fmt.Errorf("%w: block access needs an n5 container", ErrUnsupportedFormat)
	}
	key := c.blockKey(dataset, gridPos)
	raw, err := c.bucket.ReadAll(ctx, key)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, nil
		}
		return nil, err
	}
	block, err := decodeBlock(raw, meta)
	if err != nil {
		return nil, fmt.Errorf("block %s of %s: %v", key, c.path, err)
	}
	block.GridPosition = gridPos
	return block, nil
}

const (
	blockModeDefault  = 0
	blockModeVarLen   = 1
	blockModeObject   = 2
	blockHeaderMaxDim = 16
)

// decodeBlock parses the N5 block header (mode, ndim, size per axis and, for
// varlength blocks, the element count) followed by the compressed payload.
func decodeBlock(raw []byte, meta *DatasetMetadata) (*Block, error) {
	r := bytes.NewReader(raw)
	var mode, ndim uint16
	if err := binary.Read(r, binary.BigEndian, &mode); err != nil {
		return nil, fmt.Errorf("truncated block header: %v", err)
	}
	if mode == blockModeObject {
		return nil, fmt.Errorf("object blocks are not supported")
	}
	if err := binary.Read(r, binary.BigEndian, &ndim); err != nil {
		return nil, fmt.Errorf("truncated block header: %v", err)
	}
	if ndim == 0 || ndim > blockHeaderMaxDim {
		return nil, fmt.Errorf("bad block dimensionality %d", ndim)
	}
	size := make([]int, ndim)
	numElements := 1
	for i := range size {
		var s uint32
		if err := binary.Read(r, binary.BigEndian, &s); err != nil {
			return nil, fmt.Errorf("truncated block header: %v", err)
		}
		size[i] = int(s)
		numElements *= int(s)
	}
	if mode == blockModeVarLen {
		var n uint32
		if err := binary.Read(r, binary.BigEndian, &n); err != nil {
			return nil, fmt.Errorf("truncated block header: %v", err)
		}
		numElements = int(n)
	}
	payload := raw[len(raw)-r.Len():]
	data, err := decompress(meta.Compression, payload)
	if err != nil {
		return nil, err
	}
	expected := numElements * meta.DataType.Size()
	if len(data) < expected {
		return nil, fmt.Errorf("block holds %d bytes, expected %d", len(data), expected)
	}
	return &Block{Size: size, Data: data[:expected]}, nil
}
