package flat

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
)

// On-disk layout of index.bin, zstd-compressed as a whole:
//
//	magic "AFPX" | version u16 | generation [16]byte | dim u32 | count u32
//	count x ( idLen u16 | id | dim x float32 )
//
// All integers are little-endian.
const (
	indexMagic   = "AFPX"
	indexVersion = uint16(1)

	maxIndexEntries = 1 << 24
	maxIndexDim     = 1 << 16
)

var errCorruptIndex = errors.New("corrupt index artifact")

type indexFile struct {
	generation uuid.UUID
	dim        int
	ids        []string
	vectors    [][]float32
}

// writeIndex writes and syncs a complete index file at path.
func writeIndex(path string, idx indexFile) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(path)
		}
	}()

	zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("zstd writer: %w", err)
	}
	bw := bufio.NewWriter(zw)
	if err := encodeIndex(bw, idx); err != nil {
		_ = zw.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		_ = zw.Close()
		return fmt.Errorf("flush index: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close zstd writer: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync index: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close index: %w", err)
	}
	return nil
}

func encodeIndex(w io.Writer, idx indexFile) error {
	le := binary.LittleEndian
	if _, err := io.WriteString(w, indexMagic); err != nil {
		return err
	}
	header := []any{indexVersion, idx.generation, uint32(idx.dim), uint32(len(idx.ids))}
	for _, v := range header {
		if err := binary.Write(w, le, v); err != nil {
			return fmt.Errorf("write index header: %w", err)
		}
	}
	buf := make([]byte, 4*idx.dim)
	for i, id := range idx.ids {
		if len(id) > math.MaxUint16 {
			return fmt.Errorf("chunk id too long: %d bytes", len(id))
		}
		if err := binary.Write(w, le, uint16(len(id))); err != nil {
			return err
		}
		if _, err := io.WriteString(w, id); err != nil {
			return err
		}
		for j, x := range idx.vectors[i] {
			le.PutUint32(buf[4*j:], math.Float32bits(x))
		}
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	return nil
}

func readIndex(path string) (indexFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return indexFile{}, err
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return indexFile{}, fmt.Errorf("zstd reader: %w", err)
	}
	defer zr.Close()
	return decodeIndex(bufio.NewReader(zr))
}

func decodeIndex(r io.Reader) (indexFile, error) {
	le := binary.LittleEndian
	magic := make([]byte, len(indexMagic))
	if _, err := io.ReadFull(r, magic); err != nil || string(magic) != indexMagic {
		return indexFile{}, fmt.Errorf("%w: bad magic", errCorruptIndex)
	}
	var (
		version    uint16
		generation uuid.UUID
		dim, count uint32
	)
	for _, v := range []any{&version, &generation, &dim, &count} {
		if err := binary.Read(r, le, v); err != nil {
			return indexFile{}, fmt.Errorf("%w: header: %w", errCorruptIndex, err)
		}
	}
	if version != indexVersion {
		return indexFile{}, fmt.Errorf("%w: unsupported version %d", errCorruptIndex, version)
	}
	if dim == 0 || dim > maxIndexDim || count > maxIndexEntries {
		return indexFile{}, fmt.Errorf("%w: dim=%d count=%d", errCorruptIndex, dim, count)
	}

	idx := indexFile{
		generation: generation,
		dim:        int(dim),
		ids:        make([]string, 0, count),
		vectors:    make([][]float32, 0, count),
	}
	buf := make([]byte, 4*dim)
	for i := uint32(0); i < count; i++ {
		var n uint16
		if err := binary.Read(r, le, &n); err != nil {
			return indexFile{}, fmt.Errorf("%w: entry %d: %w", errCorruptIndex, i, err)
		}
		id := make([]byte, n)
		if _, err := io.ReadFull(r, id); err != nil {
			return indexFile{}, fmt.Errorf("%w: entry %d id: %w", errCorruptIndex, i, err)
		}
		if _, err := io.ReadFull(r, buf); err != nil {
			return indexFile{}, fmt.Errorf("%w: entry %d vector: %w", errCorruptIndex, i, err)
		}
		vec := make([]float32, dim)
		for j := range vec {
			vec[j] = math.Float32frombits(le.Uint32(buf[4*j:]))
		}
		idx.ids = append(idx.ids, string(id))
		idx.vectors = append(idx.vectors, vec)
	}
	return idx, nil
}
