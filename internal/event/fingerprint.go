package event

import (
	"encoding/binary"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint is a 64-bit digest identifying an event for dedup purposes.
// Zero is a legal value, not a sentinel.
type Fingerprint uint64

// String returns the fingerprint as lowercase hex.
func (f Fingerprint) String() string { return strconv.FormatUint(uint64(f), 16) }

// DefaultBucket is the fingerprint time bucket for upload pipelines.
const DefaultBucket = time.Second

// sep keeps origin and text from running together in the digest.
var sep = []byte{0}

// Compute digests the origin key, the identity text, and the observed time
// rounded down to bucket. Near-simultaneous duplicates of the same message
// land in the same bucket and collapse to one fingerprint; the same message
// observed in a later bucket is a new fingerprint. Bucket is configurable
// per instantiation: upload pipelines use seconds, the forwarding cache uses
// minutes.
func Compute(originKey, text string, observedAtMs int64, bucket time.Duration) Fingerprint {
	bucketMs := bucket.Milliseconds()
	if bucketMs <= 0 {
		bucketMs = DefaultBucket.Milliseconds()
	}
	rounded := observedAtMs - observedAtMs%bucketMs

	h := xxhash.New()
	_, _ = h.WriteString(originKey)
	_, _ = h.Write(sep)
	_, _ = h.WriteString(text)
	_, _ = h.Write(sep)
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(rounded))
	_, _ = h.Write(ts[:])
	return Fingerprint(h.Sum64())
}

// Stamp fills in e.Fingerprint from its identity fields using the given
// bucket. Existing fingerprints are overwritten.
func Stamp(e *Event, bucket time.Duration) {
	e.Fingerprint = Compute(e.OriginKey, e.IdentityText(), e.ObservedAt, bucket)
}
