//go:build !sqlite_vec || !cgo

package store

import (
	"database/sql/driver"
	"encoding/binary"
	"fmt"
	"math"

	sqlite "modernc.org/sqlite"
)

const (
	driverName       = "sqlite"
	cosineDistanceFn = "vector_distance_cos"
)

func init() {
	registerVecCompat()
}

// registerVecCompat installs a cosine distance function on the pure-Go
// driver so the chat vector table works without a native extension.
func registerVecCompat() {
	_ = sqlite.RegisterDeterministicScalarFunction(cosineDistanceFn, 2, vecDistanceCos)
}

func vecDistanceCos(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	a, err := blobToVector(args[0])
	if err != nil {
		return nil, err
	}
	b, err := blobToVector(args[1])
	if err != nil {
		return nil, err
	}
	if len(a) != len(b) {
		return nil, fmt.Errorf("%s: vector length mismatch %d != %d", cosineDistanceFn, len(a), len(b))
	}

	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return float64(1), nil
	}
	// Cosine distance: 1 - similarity, so smaller is closer.
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb)), nil
}

func blobToVector(v driver.Value) ([]float32, error) {
	blob, ok := v.([]byte)
	if !ok {
		return nil, fmt.Errorf("%s: argument is not a blob", cosineDistanceFn)
	}
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("%s: blob length %d is not a multiple of 4", cosineDistanceFn, len(blob))
	}
	out := make([]float32, len(blob)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return out, nil
}
