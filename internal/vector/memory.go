package vector

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"sort"
)

// MemoryIndex is a brute-force inner-product index held fully in memory.
// It is populated once (via Add or Load) and immutable afterwards; Search
// only reads, so no locking is needed across concurrent queries.
type MemoryIndex struct {
	version    string
	dimensions int
	ids        []string
	vectors    [][]float32
}

// NewMemoryIndex creates an empty index with the given dimensionality and
// snapshot version name.
func NewMemoryIndex(version string, dimensions int) (*MemoryIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &MemoryIndex{version: version, dimensions: dimensions}, nil
}

// Add appends passage vectors. Only valid before the index is handed to the
// pipeline; snapshots are immutable once published.
func (m *MemoryIndex) Add(ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}
	for i, id := range ids {
		if len(vectors[i]) != m.dimensions {
			return fmt.Errorf("vector %s dimension mismatch: got %d, expected %d", id, len(vectors[i]), m.dimensions)
		}
		vec := make([]float32, m.dimensions)
		copy(vec, vectors[i])
		m.ids = append(m.ids, id)
		m.vectors = append(m.vectors, vec)
	}
	return nil
}

// Search returns the top-k passages by inner product, descending.
// Ties are broken by ascending passage id so repeated searches over the same
// snapshot are byte-for-byte reproducible.
func (m *MemoryIndex) Search(ctx context.Context, query []float32, k int) ([]Result, error) {
	if k < 1 {
		return nil, &InvalidQueryError{Reason: fmt.Sprintf("k must be >= 1, got %d", k)}
	}
	if len(query) != m.dimensions {
		return nil, &InvalidQueryError{Got: len(query), Expected: m.dimensions}
	}
	if len(m.ids) == 0 {
		return nil, nil
	}
	results := make([]Result, len(m.ids))
	for i, vec := range m.vectors {
		results[i] = Result{PassageID: m.ids[i], Score: InnerProduct(query, vec)}
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].PassageID < results[j].PassageID
	})
	if k > len(results) {
		k = len(results)
	}
	return results[:k], nil
}

// Version returns the snapshot identifier.
func (m *MemoryIndex) Version() string { return m.version }

// Dimensions returns the embedding dimensionality.
func (m *MemoryIndex) Dimensions() int { return m.dimensions }

// Size returns the number of indexed passages.
func (m *MemoryIndex) Size() int { return len(m.ids) }

// Snapshot file layout, little-endian:
// magic "CGV1", versionLen (4), version bytes, dimensions (4), n (4),
// then per vector: idLen (4), id bytes, dimensions*4 bytes of float32.
const snapshotMagic = "CGV1"

// Save writes the index to path as an immutable snapshot file.
func (m *MemoryIndex) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create snapshot file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write([]byte(snapshotMagic)); err != nil {
		return fmt.Errorf("write magic: %w", err)
	}
	if err := writeBytes(f, []byte(m.version)); err != nil {
		return fmt.Errorf("write version: %w", err)
	}
	if err := binary.Write(f, binary.LittleEndian, uint32(m.dimensions)); err != nil {
		return fmt.Errorf("write dimensions: %w", err)
	}
	if err := binary.Write(f, binary.LittleEndian, uint32(len(m.ids))); err != nil {
		return fmt.Errorf("write count: %w", err)
	}
	for i, id := range m.ids {
		if err := writeBytes(f, []byte(id)); err != nil {
			return fmt.Errorf("write id: %w", err)
		}
		if _, err := f.Write(float32SliceToBytes(m.vectors[i])); err != nil {
			return fmt.Errorf("write vector: %w", err)
		}
	}
	return nil
}

// LoadSnapshot reads an immutable snapshot file written by Save.
func LoadSnapshot(path string) (*MemoryIndex, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot file: %w", err)
	}
	defer f.Close()
	magic := make([]byte, len(snapshotMagic))
	if _, err := readFull(f, magic); err != nil {
		return nil, fmt.Errorf("read magic: %w", err)
	}
	if string(magic) != snapshotMagic {
		return nil, fmt.Errorf("not a snapshot file: bad magic %q", magic)
	}
	versionBytes, err := readBytes(f)
	if err != nil {
		return nil, fmt.Errorf("read version: %w", err)
	}
	var dim, n uint32
	if err := binary.Read(f, binary.LittleEndian, &dim); err != nil {
		return nil, fmt.Errorf("read dimensions: %w", err)
	}
	if err := binary.Read(f, binary.LittleEndian, &n); err != nil {
		return nil, fmt.Errorf("read count: %w", err)
	}
	idx, err := NewMemoryIndex(string(versionBytes), int(dim))
	if err != nil {
		return nil, err
	}
	idx.ids = make([]string, 0, n)
	idx.vectors = make([][]float32, 0, n)
	buf := make([]byte, int(dim)*4)
	for i := uint32(0); i < n; i++ {
		idBytes, err := readBytes(f)
		if err != nil {
			return nil, fmt.Errorf("read id: %w", err)
		}
		if _, err := readFull(f, buf); err != nil {
			return nil, fmt.Errorf("read vector: %w", err)
		}
		idx.ids = append(idx.ids, string(idBytes))
		idx.vectors = append(idx.vectors, bytesToFloat32Slice(buf))
	}
	return idx, nil
}

func writeBytes(f *os.File, b []byte) error {
	if err := binary.Write(f, binary.LittleEndian, uint32(len(b))); err != nil {
		return err
	}
	_, err := f.Write(b)
	return err
}

func readBytes(f *os.File) ([]byte, error) {
	var n uint32
	if err := binary.Read(f, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := readFull(f, b); err != nil {
		return nil, err
	}
	return b, nil
}

func readFull(f *os.File, b []byte) (int, error) {
	total := 0
	for total < len(b) {
		n, err := f.Read(b[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func float32SliceToBytes(s []float32) []byte {
	out := make([]byte, len(s)*4)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*4:(i+1)*4], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4 : (i+1)*4]))
	}
	return out
}
