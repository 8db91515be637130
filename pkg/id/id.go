package id

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"math"
	"sync"
	"time"
)

// ID is a 128-bit, lexicographically sortable identifier: 8 bytes of
// millisecond timestamp followed by 8 bytes of in-millisecond sequence,
// big-endian. Relay stamps one on every outbound batch so the collector can
// order and deduplicate delivery attempts.
type ID [16]byte

// String returns the lowercase hex form used on the wire.
func (i ID) String() string { return hex.EncodeToString(i[:]) }

// Time returns the embedded creation time.
func (i ID) Time() time.Time {
	return time.UnixMilli(int64(binary.BigEndian.Uint64(i[0:8])))
}

// IsZero reports whether the ID is the zero value.
func (i ID) IsZero() bool { return i == ID{} }

// Compare returns -1, 0, or 1 ordering IDs by creation time, then sequence.
func (i ID) Compare(other ID) int {
	return bytes.Compare(i[:], other[:])
}

// Generator produces strictly increasing IDs for one process.
type Generator struct {
	mu       sync.Mutex
	lastMs   int64
	sequence uint64
}

// NewGenerator creates a new Generator.
func NewGenerator() *Generator { return &Generator{} }

// NowMs returns current time in milliseconds since Unix epoch. Tests may
// replace it.
var NowMs = func() int64 { return time.Now().UnixMilli() }

// Next returns a new ID. A clock that runs backwards keeps the last
// timestamp and advances the sequence instead; a sequence that overflows
// within one millisecond waits out the millisecond.
func (g *Generator) Next() ID {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := NowMs()
	if ms < g.lastMs {
		ms = g.lastMs
	}

	if ms == g.lastMs {
		if g.sequence == math.MaxUint64 {
			for {
				ms = NowMs()
				if ms > g.lastMs {
					break
				}
				time.Sleep(time.Millisecond / 8)
			}
			g.sequence = 0
		} else {
			g.sequence++
		}
	} else {
		g.sequence = 0
	}

	g.lastMs = ms

	var id ID
	binary.BigEndian.PutUint64(id[0:8], uint64(ms))
	binary.BigEndian.PutUint64(id[8:16], g.sequence)
	return id
}
