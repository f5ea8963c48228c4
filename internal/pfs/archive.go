// Package pfs reads the legacy PFS container format used by .s3d and .eqg
// archives: a chunk directory addressed by CRC, each chunk stored as a run
// of independently deflated blocks.
package pfs

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sort"
	"sync"
)

const (
	// Magic is the four byte container signature "PFS " at offset 4.
	Magic = 0x20534650

	// DirectoryCRC identifies the chunk holding the filename directory.
	DirectoryCRC = 0x61580AC9

	// BlockSize is the granularity of the deflate blocks inside a chunk.
	// A chunk larger than this is split across back-to-back blocks.
	BlockSize = 8192
)

// FormatError reports archive-level corruption: bad magic or an unreadable
// directory. It is fatal for the whole archive, unlike per-chunk failures.
type FormatError struct {
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("pfs: %s", e.Reason)
}

// dirEntry is one record of the chunk directory.
type dirEntry struct {
	CRC    uint32
	Offset uint32
	Size   uint32 // inflated size
}

// Archive is a fully decompressed PFS container. Files are addressable by
// name through the filename directory, or by raw chunk index for chunks the
// directory does not reach.
type Archive struct {
	files  map[string]int
	chunks [][]byte
}

// Load parses and decompresses an archive from raw bytes. Archive-level
// corruption returns a FormatError; a corrupt individual chunk is logged,
// dropped and does not fail the load.
func Load(data []byte) (*Archive, error) {
	if len(data) < 12 {
		return nil, &FormatError{Reason: fmt.Sprintf("archive too small: %d bytes", len(data))}
	}

	dirOffset := binary.LittleEndian.Uint32(data[0:4])
	magic := binary.LittleEndian.Uint32(data[4:8])
	if magic != Magic {
		return nil, &FormatError{Reason: fmt.Sprintf("bad magic 0x%08X", magic)}
	}

	if int(dirOffset)+4 > len(data) {
		return nil, &FormatError{Reason: fmt.Sprintf("directory offset %d exceeds archive size %d", dirOffset, len(data))}
	}

	count := binary.LittleEndian.Uint32(data[dirOffset:])
	dirEnd := int(dirOffset) + 4 + int(count)*12
	if dirEnd > len(data) {
		return nil, &FormatError{Reason: fmt.Sprintf("directory with %d entries exceeds archive size", count)}
	}

	entries := make([]dirEntry, count)
	p := int(dirOffset) + 4
	for i := range entries {
		entries[i] = dirEntry{
			CRC:    binary.LittleEndian.Uint32(data[p:]),
			Offset: binary.LittleEndian.Uint32(data[p+4:]),
			Size:   binary.LittleEndian.Uint32(data[p+8:]),
		}
		p += 12
	}

	// Chunk order is the ascending data-offset order; the filename directory
	// lists files in exactly this order.
	sort.Slice(entries, func(i, j int) bool { return entries[i].Offset < entries[j].Offset })

	payloads := inflateAll(data, entries)

	a := &Archive{files: make(map[string]int)}
	var dirData []byte
	for i, entry := range entries {
		if entry.CRC == DirectoryCRC {
			dirData = payloads[i]
			continue
		}
		a.chunks = append(a.chunks, payloads[i])
	}
	if dirData == nil {
		return nil, &FormatError{Reason: "filename directory chunk not found"}
	}

	names, err := parseDirectory(dirData)
	if err != nil {
		return nil, &FormatError{Reason: fmt.Sprintf("malformed filename directory: %v", err)}
	}

	for i, name := range names {
		if i >= len(a.chunks) {
			slog.Warn("Directory names more files than archive has chunks",
				"names", len(names), "chunks", len(a.chunks))
			break
		}
		if a.chunks[i] == nil {
			// Chunk failed to decompress; the asset is dropped.
			continue
		}
		a.files[name] = i
	}

	return a, nil
}

// inflateAll decompresses every directory entry with a bounded worker pool.
// Chunks are independent once their byte ranges are known, so decompression
// order does not matter. A failed chunk leaves a nil payload.
func inflateAll(data []byte, entries []dirEntry) [][]byte {
	payloads := make([][]byte, len(entries))

	workers := runtime.NumCPU()
	if workers > len(entries) {
		workers = len(entries)
	}
	if workers < 1 {
		workers = 1
	}

	work := make(chan int, len(entries))
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range work {
				entry := entries[i]
				payload, err := InflateChunk(data[entry.Offset:], entry.Size)
				if err != nil {
					slog.Warn("Dropping corrupt chunk",
						"crc", fmt.Sprintf("0x%08X", entry.CRC),
						"offset", entry.Offset,
						"size", entry.Size,
						"error", err)
					continue
				}
				payloads[i] = payload
			}
		}()
	}
	for i := range entries {
		work <- i
	}
	close(work)
	wg.Wait()

	return payloads
}

// InflateChunk decompresses one chunk. A chunk is a run of back-to-back
// deflate blocks, each prefixed with its deflated and inflated lengths;
// blocks are consumed until the declared output size is reached.
func InflateChunk(data []byte, declaredSize uint32) ([]byte, error) {
	out := make([]byte, 0, declaredSize)
	p := 0
	for uint32(len(out)) < declaredSize {
		if p+8 > len(data) {
			return nil, fmt.Errorf("truncated block header at offset %d (have %d of %d bytes)", p, len(out), declaredSize)
		}
		deflatedLen := binary.LittleEndian.Uint32(data[p:])
		inflatedLen := binary.LittleEndian.Uint32(data[p+4:])
		p += 8

		if p+int(deflatedLen) > len(data) {
			return nil, fmt.Errorf("block at offset %d runs past end of data", p)
		}
		if inflatedLen > BlockSize {
			return nil, fmt.Errorf("block inflated length %d exceeds block size %d", inflatedLen, BlockSize)
		}

		zr, err := zlib.NewReader(bytes.NewReader(data[p : p+int(deflatedLen)]))
		if err != nil {
			return nil, fmt.Errorf("opening deflate block at offset %d: %w", p, err)
		}
		block, err := io.ReadAll(zr)
		zr.Close()
		if err != nil {
			return nil, fmt.Errorf("inflating block at offset %d: %w", p, err)
		}
		if len(block) != int(inflatedLen) {
			return nil, fmt.Errorf("block at offset %d inflated to %d bytes, declared %d", p, len(block), inflatedLen)
		}

		out = append(out, block...)
		p += int(deflatedLen)
	}

	if uint32(len(out)) != declaredSize {
		return nil, fmt.Errorf("chunk inflated to %d bytes, declared %d", len(out), declaredSize)
	}
	return out, nil
}

// parseDirectory decodes the filename directory chunk: a count followed by
// length-prefixed, null-terminated names, one per chunk in offset order.
func parseDirectory(data []byte) ([]string, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("directory too small: %d bytes", len(data))
	}
	count := binary.LittleEndian.Uint32(data)
	names := make([]string, 0, count)
	p := 4
	for i := uint32(0); i < count; i++ {
		if p+4 > len(data) {
			return nil, fmt.Errorf("truncated name length for entry %d", i)
		}
		nameLen := int(binary.LittleEndian.Uint32(data[p:]))
		p += 4
		if nameLen <= 0 || p+nameLen > len(data) {
			return nil, fmt.Errorf("name for entry %d runs past end of directory", i)
		}
		name := data[p : p+nameLen]
		p += nameLen
		// Strip the trailing NUL.
		if n := bytes.IndexByte(name, 0); n >= 0 {
			name = name[:n]
		}
		names = append(names, string(bytes.ToLower(name)))
	}
	return names, nil
}

// File returns the decompressed contents of the named file.
func (a *Archive) File(name string) ([]byte, bool) {
	i, ok := a.files[name]
	if !ok {
		return nil, false
	}
	return a.chunks[i], true
}

// Chunk returns a chunk by raw index for fallback lookups of anonymous
// payload not reachable through the filename directory.
func (a *Archive) Chunk(i int) ([]byte, bool) {
	if i < 0 || i >= len(a.chunks) || a.chunks[i] == nil {
		return nil, false
	}
	return a.chunks[i], true
}

// Files returns all file names in the archive, sorted.
func (a *Archive) Files() []string {
	names := make([]string, 0, len(a.files))
	for name := range a.files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of chunks in the archive.
func (a *Archive) Len() int {
	return len(a.chunks)
}

// Merge adds every file of other that this archive does not already hold.
// Zone archives and their companion object archives overlap, so conversion
// merges them with the primary archive taking precedence.
func (a *Archive) Merge(other *Archive) {
	for name, i := range other.files {
		if _, exists := a.files[name]; exists {
			continue
		}
		a.chunks = append(a.chunks, other.chunks[i])
		a.files[name] = len(a.chunks) - 1
	}
}
