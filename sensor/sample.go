package sensor

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// DistanceSampleSize is the exact payload width: one little-endian IEEE-754
// float32, as packed by the camera node.
const DistanceSampleSize = 4

// DistanceSample is a single proximity reading. Samples are immutable; a
// newer sample supersedes an older one, they are never merged.
type DistanceSample struct {
	Meters     float64
	ReceivedAt time.Time
}

// DecodeDistance decodes a datagram payload into meters. Payloads of the
// wrong width or carrying a non-finite value are rejected so a malformed
// datagram can never poison the mailbox.
func DecodeDistance(payload []byte) (float64, error) {
	if len(payload) != DistanceSampleSize {
		return 0, fmt.Errorf("expected %d byte payload, got %d", DistanceSampleSize, len(payload))
	}

	meters := float64(math.Float32frombits(binary.LittleEndian.Uint32(payload)))
	if math.IsNaN(meters) || math.IsInf(meters, 0) {
		return 0, fmt.Errorf("non-finite distance value")
	}

	return meters, nil
}
