package syncer

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/gob"
	"encoding/hex"
	"math"
	"os"
	"path/filepath"

	"github.com/perbu/qest/pkg/qest"
)

// Checkpoint records where a failed upload stopped so the next run can
// resume at the first uncommitted batch.
type Checkpoint struct {
	Collection  string
	Dimension   int
	BatchSize   int
	Total       int
	Fingerprint string // identifies the point set
	NextBatch   int
}

// NewCheckpoint builds the checkpoint for a failed upload of points.
func NewCheckpoint(failure *BatchUploadError, points []qest.Point, batchSize int) *Checkpoint {
	dim := 0
	if len(points) > 0 {
		dim = len(points[0].Vector)
	}
	return &Checkpoint{
		Collection:  failure.Collection,
		Dimension:   dim,
		BatchSize:   batchSize,
		Total:       len(points),
		Fingerprint: Fingerprint(points),
		NextBatch:   failure.Batch,
	}
}

// Matches reports whether the checkpoint was written for this exact upload.
func (cp *Checkpoint) Matches(collection string, points []qest.Point, batchSize int) bool {
	if cp == nil || len(points) == 0 {
		return false
	}
	return cp.Collection == collection &&
		cp.BatchSize == batchSize &&
		cp.Total == len(points) &&
		cp.Dimension == len(points[0].Vector) &&
		cp.Fingerprint == Fingerprint(points)
}

// Fingerprint hashes point ids, vectors and payload text in order.
func Fingerprint(points []qest.Point) string {
	h := sha256.New()
	var buf [4]byte
	for _, p := range points {
		h.Write([]byte(p.ID))
		h.Write([]byte{0})
		for _, x := range p.Vector {
			binary.LittleEndian.PutUint32(buf[:], math.Float32bits(x))
			h.Write(buf[:])
		}
		if text, ok := p.Payload[qest.PayloadText].(string); ok {
			h.Write([]byte(text))
		}
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// LoadCheckpoint reads a checkpoint; a missing file yields nil, nil.
func LoadCheckpoint(path string) (*Checkpoint, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil // No checkpoint exists
		}
		return nil, err
	}
	defer file.Close()

	var cp Checkpoint
	decoder := gob.NewDecoder(file)
	if err := decoder.Decode(&cp); err != nil {
		return nil, err
	}

	return &cp, nil
}

// SaveCheckpoint writes cp to path atomically.
func SaveCheckpoint(path string, cp *Checkpoint) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return err
	}

	encoder := gob.NewEncoder(file)
	if err := encoder.Encode(cp); err != nil {
		file.Close()
		os.Remove(tmp)
		return err
	}

	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return err
	}

	// Atomic rename
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// RemoveCheckpoint deletes the checkpoint file if present.
func RemoveCheckpoint(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
