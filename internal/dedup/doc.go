// Package dedup provides the bounded fingerprint windows that keep repeated
// observations of the same event from being delivered twice.
//
// Sources like SMS inboxes and notification listeners re-surface the same
// message on every scan, so admission control works on fuzzy fingerprints:
// a hash of origin, identity text, and the observed time rounded to a
// bucket. A Cache tracks which fingerprints have been seen and, for those
// already delivered, when. Entries move through two states: seen-but-not-
// uploaded (the event is still queued somewhere) and uploaded-at-T.
//
// Capacity is enforced by policy. EvictByUpload, used for the upload
// window, expires aged-out entries and then the oldest-uploaded ones, but
// never evicts a seen-not-uploaded entry, since dropping it would let a
// still-queued event be admitted again. EvictByInsertion, used for the
// forwarding window, bulk-drops the oldest half by insertion order and
// ignores upload state entirely.
package dedup
