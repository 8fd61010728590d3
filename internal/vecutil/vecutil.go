// Package vecutil provides the fixed-dimension unit-vector representation
// shared by every tier: normalization, cosine similarity, and the
// length-4096-byte (1024 float32, little-endian) wire/storage format
// mandated by spec §6.2.
package vecutil

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/pgvector/pgvector-go"
)

// Dimensions is the configured embedding size. Every vector in the system
// must have exactly this many components.
const Dimensions = 1024

// UnitEpsilon is the tolerated deviation from |v| = 1 (spec §3.1 invariant).
const UnitEpsilon = 1e-3

// Normalize returns a copy of v scaled to unit length. A zero vector is
// returned unchanged (it has no well-defined direction).
func Normalize(v []float32) []float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	norm := math.Sqrt(sumSq)
	out := make([]float32, len(v))
	if norm == 0 {
		copy(out, v)
		return out
	}
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// Norm returns the Euclidean length of v.
func Norm(v []float32) float64 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	return math.Sqrt(sumSq)
}

// IsUnit reports whether v is unit-length within UnitEpsilon and has the
// expected Dimensions — the invariant spec §3.1/§8 requires of every
// stored embedding.
func IsUnit(v []float32) bool {
	if len(v) != Dimensions {
		return false
	}
	n := Norm(v)
	return n >= 1-UnitEpsilon && n <= 1+UnitEpsilon
}

// Cosine computes cosine similarity between two equal-length vectors.
// Returns 0 if either vector is zero-length (no meaningful direction).
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Sub returns a-b element-wise; used to build relational vectors emb(B)-emb(A).
func Sub(a, b []float32) []float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = a[i] - b[i]
	}
	return out
}

// Add returns a+b element-wise; used to project an analogical target point.
func Add(a, b []float32) []float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = a[i] + b[i]
	}
	return out
}

// ToVector wraps a float32 slice in a pgvector.Vector for APIs that expect
// the teacher's vector representation.
func ToVector(v []float32) pgvector.Vector { return pgvector.NewVector(v) }

// EncodeBlob serializes v as little-endian float32s per spec §6.2. len(v)
// must equal Dimensions.
func EncodeBlob(v []float32) ([]byte, error) {
	if len(v) != Dimensions {
		return nil, fmt.Errorf("vecutil: expected %d dimensions, got %d", Dimensions, len(v))
	}
	buf := make([]byte, Dimensions*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf, nil
}

// DecodeBlob parses a length-4096 little-endian float32 blob back into a vector.
func DecodeBlob(b []byte) ([]float32, error) {
	if len(b) != Dimensions*4 {
		return nil, fmt.Errorf("vecutil: expected %d bytes, got %d", Dimensions*4, len(b))
	}
	out := make([]float32, Dimensions)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out, nil
}
