package caterva

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"strconv"
	"strings"

	"github.com/qri-io/caterva-go/codec"
	"github.com/qri-io/caterva-go/store"
)

// Every block owns a fixed-size slot: a header followed by room for the
// decoded block. Slot header layout (little-endian):
//
//	[0]     magic, zero while the slot is unwritten or being rewritten
//	[1]     flags, bit 0 set when the payload is codec encoded, bit 1 set
//	        while only some items of the block have been written
//	[2:4]   reserved
//	[4:8]   payload length
//	[8:12]  CRC-32C of the payload
//	[12:16] decoded length
const (
	slotHeaderSize = 16
	slotMagic      = 0xCA
	flagEncoded    = 1 << 0
	flagPartial    = 1 << 1
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// BlockStore addresses the blocks of every chunk of one container. Distinct
// (chunk, block) pairs map to disjoint byte ranges, so blocks may be written
// concurrently
type BlockStore struct {
	store      store.Store
	id         string
	layout     Layout
	codec      codec.Codec
	contiguous bool
	slotSize   int64
}

// NewBlockStore addresses the blocks of container id within s
func NewBlockStore(s store.Store, id string, layout Layout, c codec.Codec, contiguous bool) *BlockStore {
	return &BlockStore{
		store:      s,
		id:         id,
		layout:     layout,
		codec:      c,
		contiguous: contiguous,
		slotSize:   int64(slotHeaderSize + layout.BlockBytes()),
	}
}

// ChunkFootprint is the number of bytes reserved for one chunk
func (bs *BlockStore) ChunkFootprint() int64 {
	return int64(bs.layout.SlotsPerChunk()) * bs.slotSize
}

// Allocate reserves physical space for every chunk
func (bs *BlockStore) Allocate() error {
	if bs.contiguous {
		return bs.store.Allocate(store.Join(bs.id, FrameKey), int64(bs.layout.NumChunks())*bs.ChunkFootprint())
	}
	for c := 0; c < bs.layout.NumChunks(); c++ {
		key, _ := bs.unit(c)
		if err := bs.store.Allocate(key, bs.ChunkFootprint()); err != nil {
			return err
		}
	}
	return nil
}

// unit returns the backing key holding a chunk and the chunk's base offset
func (bs *BlockStore) unit(chunkID int) (string, int64) {
	if bs.contiguous {
		return store.Join(bs.id, FrameKey), int64(chunkID) * bs.ChunkFootprint()
	}
	return store.Join(bs.id, ChunkPrefix, ChunkKey(bs.layout.ChunkIndex(chunkID), ".")), 0
}

// slot validates a block coordinate and returns its physical location
func (bs *BlockStore) slot(chunkID int, blockOffset []int) (string, int64, error) {
	if chunkID < 0 || chunkID >= bs.layout.NumChunks() {
		return "", 0, fmt.Errorf("%w: chunk %d of %d", ErrOutOfRange, chunkID, bs.layout.NumChunks())
	}
	if len(blockOffset) != bs.layout.Rank() {
		return "", 0, fmt.Errorf("%w: block offset %v has rank %d, want %d", ErrOutOfRange, blockOffset, len(blockOffset), bs.layout.Rank())
	}
	grid := bs.layout.BlockGrid(chunkID)
	for i, b := range blockOffset {
		if b < 0 || b >= grid[i] {
			return "", 0, fmt.Errorf("%w: block %v outside grid %v of chunk %d", ErrOutOfRange, blockOffset, grid, chunkID)
		}
	}
	key, base := bs.unit(chunkID)
	idx := ravel(blockOffset, bs.layout.SlotGrid())
	return key, base + int64(idx)*bs.slotSize, nil
}

// WriteBlock encodes data and stores it in the block's slot. data must hold
// exactly one full block
func (bs *BlockStore) WriteBlock(chunkID int, blockOffset []int, data []byte) error {
	return bs.writeSlot(chunkID, blockOffset, data, nil)
}

// WritePartialBlock stores a block of which only the items set in coverage
// hold data. The block reads as unwritten until its coverage is full; a full
// coverage is written as a complete block
func (bs *BlockStore) WritePartialBlock(chunkID int, blockOffset []int, data, coverage []byte) error {
	if len(coverage) != bs.coverageBytes() {
		return fmt.Errorf("%w: coverage is %d bytes, want %d", ErrShapeMismatch, len(coverage), bs.coverageBytes())
	}
	if coverageFull(coverage, bs.layout.BlockElems()) {
		coverage = nil
	}
	return bs.writeSlot(chunkID, blockOffset, data, coverage)
}

func (bs *BlockStore) writeSlot(chunkID int, blockOffset []int, data, coverage []byte) error {
	if want := bs.layout.BlockBytes(); len(data) != want {
		return fmt.Errorf("%w: block data is %d bytes, want %d", ErrShapeMismatch, len(data), want)
	}
	key, off, err := bs.slot(chunkID, blockOffset)
	if err != nil {
		return err
	}

	payload, err := bs.codec.Encode(data)
	if err != nil {
		return fmt.Errorf("encoding chunk %d block %v: %w", chunkID, blockOffset, err)
	}
	flags := byte(flagEncoded)
	if len(payload) >= len(data) {
		payload, flags = data, 0
	}
	if coverage != nil {
		flags |= flagPartial
	}

	header := make([]byte, slotHeaderSize)
	// invalidate, write the coverage and payload, then publish the header. A
	// torn write leaves the slot reading as unwritten
	if err := bs.store.WriteAt(key, header, off); err != nil {
		return err
	}
	if coverage != nil {
		if err := bs.store.Put(bs.coverageKey(chunkID, blockOffset), bytes.NewReader(coverage)); err != nil {
			return err
		}
	}
	if err := bs.store.WriteAt(key, payload, off+slotHeaderSize); err != nil {
		return err
	}
	header[0] = slotMagic
	header[1] = flags
	binary.LittleEndian.PutUint32(header[4:8], uint32(len(payload)))
	binary.LittleEndian.PutUint32(header[8:12], crc32.Checksum(payload, castagnoli))
	binary.LittleEndian.PutUint32(header[12:16], uint32(len(data)))
	return bs.store.WriteAt(key, header, off)
}

// ReadBlock returns the decoded bytes of a block, or ErrNotFound if the block
// was never written or is only partly written
func (bs *BlockStore) ReadBlock(chunkID int, blockOffset []int) ([]byte, error) {
	data, coverage, err := bs.ReadPartialBlock(chunkID, blockOffset)
	if err != nil {
		return nil, err
	}
	if coverage != nil {
		return nil, fmt.Errorf("%w: chunk %d block %v is partly written", ErrNotFound, chunkID, blockOffset)
	}
	return data, nil
}

// ReadPartialBlock returns the decoded bytes of a block and, when only part
// of it has been written, its coverage bitmap. coverage is nil for complete
// blocks. Blocks never written fail with ErrNotFound
func (bs *BlockStore) ReadPartialBlock(chunkID int, blockOffset []int) (data, coverage []byte, err error) {
	key, off, err := bs.slot(chunkID, blockOffset)
	if err != nil {
		return nil, nil, err
	}
	flags, length, sum, err := bs.readHeader(key, off)
	if err != nil {
		return nil, nil, fmt.Errorf("chunk %d block %v: %w", chunkID, blockOffset, err)
	}

	payload := make([]byte, length)
	if n, err := bs.store.ReadAt(key, payload, off+slotHeaderSize); n != len(payload) {
		if err == nil || errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, nil, fmt.Errorf("chunk %d block %v: %w", chunkID, blockOffset, storeErr(err))
	}
	if crc32.Checksum(payload, castagnoli) != sum {
		return nil, nil, fmt.Errorf("%w: chunk %d block %v checksum mismatch", ErrCorrupt, chunkID, blockOffset)
	}

	if flags&flagPartial != 0 {
		coverage, err = store.ReadAll(bs.store, bs.coverageKey(chunkID, blockOffset))
		if err != nil || len(coverage) != bs.coverageBytes() {
			return nil, nil, fmt.Errorf("%w: chunk %d block %v coverage unreadable: %v", ErrCorrupt, chunkID, blockOffset, err)
		}
	}

	if flags&flagEncoded == 0 {
		if len(payload) != bs.layout.BlockBytes() {
			return nil, nil, fmt.Errorf("%w: chunk %d block %v raw payload is %d bytes", ErrCorrupt, chunkID, blockOffset, len(payload))
		}
		return payload, coverage, nil
	}
	data, err = bs.codec.Decode(payload, bs.layout.BlockBytes())
	if err != nil {
		return nil, nil, fmt.Errorf("%w: chunk %d block %v: %v", ErrCorrupt, chunkID, blockOffset, err)
	}
	return data, coverage, nil
}

// HasBlock reports whether a block slot holds a complete published payload
func (bs *BlockStore) HasBlock(chunkID int, blockOffset []int) (bool, error) {
	key, off, err := bs.slot(chunkID, blockOffset)
	if err != nil {
		return false, err
	}
	flags, _, _, err := bs.readHeader(key, off)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return flags&flagPartial == 0, nil
}

// ChunkComplete reports whether every block of a chunk has been written
func (bs *BlockStore) ChunkComplete(chunkID int) (bool, error) {
	missing, err := bs.MissingBlocks(chunkID)
	return err == nil && len(missing) == 0, err
}

// MissingBlocks lists the block offsets of a chunk that hold no data
func (bs *BlockStore) MissingBlocks(chunkID int) ([][]int, error) {
	grid := bs.layout.BlockGrid(chunkID)
	var missing [][]int
	b := make([]int, len(grid))
	for {
		ok, err := bs.HasBlock(chunkID, b)
		if err != nil {
			return nil, err
		}
		if !ok {
			missing = append(missing, cloneInts(b))
		}
		if !nextIndex(b, grid) {
			break
		}
	}
	return missing, nil
}

func (bs *BlockStore) readHeader(key string, off int64) (flags byte, length int, sum uint32, err error) {
	header := make([]byte, slotHeaderSize)
	n, err := bs.store.ReadAt(key, header, off)
	switch {
	case n == slotHeaderSize:
	case err == nil, errors.Is(err, io.EOF), errors.Is(err, store.ErrNotFound):
		return 0, 0, 0, ErrNotFound
	default:
		return 0, 0, 0, err
	}
	if header[0] != slotMagic {
		return 0, 0, 0, ErrNotFound
	}
	length = int(binary.LittleEndian.Uint32(header[4:8]))
	if length > bs.layout.BlockBytes() {
		return 0, 0, 0, fmt.Errorf("%w: payload length %d exceeds slot", ErrCorrupt, length)
	}
	if raw := int(binary.LittleEndian.Uint32(header[12:16])); raw != bs.layout.BlockBytes() {
		return 0, 0, 0, fmt.Errorf("%w: decoded length %d, want %d", ErrCorrupt, raw, bs.layout.BlockBytes())
	}
	return header[1], length, binary.LittleEndian.Uint32(header[8:12]), nil
}

func (bs *BlockStore) coverageKey(chunkID int, blockOffset []int) string {
	return store.Join(bs.id, CoveragePrefix, strconv.Itoa(chunkID)+"."+ChunkKey(blockOffset, "."))
}

func (bs *BlockStore) coverageBytes() int { return (bs.layout.BlockElems() + 7) / 8 }

// NewCoverage returns an empty coverage bitmap for a block, one bit per item
// of the full block shape in row-major order. Items beyond the logical extent
// of the array are marked covered
func (bs *BlockStore) NewCoverage(chunkID int, blockOffset []int) []byte {
	l := bs.layout
	coverage := make([]byte, bs.coverageBytes())
	_, extent := l.BlockRegion(chunkID, blockOffset)
	idx := make([]int, l.Rank())
	for i := 0; ; i++ {
		for d := range idx {
			if idx[d] >= extent[d] {
				coverage[i/8] |= 1 << (i % 8)
				break
			}
		}
		if !nextIndex(idx, l.BlockShape) {
			return coverage
		}
	}
}

// MarkCoverage sets the bits of count items starting at block-local origin
func (bs *BlockStore) MarkCoverage(coverage []byte, origin, count []int) {
	forEachItem(bs.layout.BlockShape, origin, count, func(i int) {
		coverage[i/8] |= 1 << (i % 8)
	})
}

// Covered reports whether item i of a block is set in coverage
func Covered(coverage []byte, i int) bool {
	return coverage[i/8]&(1<<(i%8)) != 0
}

func coverageFull(coverage []byte, n int) bool {
	for i := 0; i < n; i++ {
		if !Covered(coverage, i) {
			return false
		}
	}
	return true
}

// forEachItem calls fn with the row-major index within shape of every item of
// the count-sized region at origin
func forEachItem(shape, origin, count []int, fn func(i int)) {
	if prod(count) == 0 {
		return
	}
	idx := make([]int, len(count))
	pos := make([]int, len(count))
	for {
		for d := range idx {
			pos[d] = origin[d] + idx[d]
		}
		fn(ravel(pos, shape))
		if !nextIndex(idx, count) {
			return
		}
	}
}

// ChunkKey joins chunk grid coordinates with sep, e.g. [1, 4] -> "1.4"
func ChunkKey(indices []int, sep string) string {
	if len(indices) == 0 {
		return "0"
	}
	if len(indices) == 1 {
		return strconv.Itoa(indices[0])
	}
	var sb strings.Builder
	for i, idx := range indices {
		if i > 0 {
			sb.WriteString(sep)
		}
		sb.WriteString(strconv.Itoa(idx))
	}
	return sb.String()
}

// storeErr maps storage not-found errors onto ErrNotFound
func storeErr(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}
