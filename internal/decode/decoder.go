package decode

import (
	"context"
)

// Decoder converts a compressed audio blob into mono float samples at the
// configured sample rate.
type Decoder interface {
	Decode(ctx context.Context, blob []byte) ([]float32, error)
}
