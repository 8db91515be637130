package spool

import (
	"encoding/json"

	"github.com/odesys/relay/internal/event"
)

// Store is the minimal durable blob surface the spool needs. It is satisfied
// by *pebblestore.DB.
type Store interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
	Delete(key []byte) error
}

// snapshotKey is the blob key holding a source's pending-queue snapshot.
func snapshotKey(source string) []byte { return []byte("spool/" + source + "/snapshot") }

// modeKey is the blob key holding a source's delivery-mode state.
func modeKey(source string) []byte { return []byte("spool/" + source + "/mode") }

// snapshot is the persisted form of a pending queue. Every persist rewrites
// the whole document; there are no incremental updates.
type snapshot struct {
	Events      []json.RawMessage `json:"events"`
	LastUpdated int64             `json:"lastUpdated"`
}

// encodeSnapshot marshals events one at a time so a single bad event cannot
// poison the snapshot. Returns the document and the number of events dropped.
func encodeSnapshot(events []event.Event, nowMs int64) ([]byte, int, error) {
	raws := make([]json.RawMessage, 0, len(events))
	dropped := 0
	for i := range events {
		b, err := json.Marshal(events[i])
		if err != nil {
			dropped++
			continue
		}
		raws = append(raws, b)
	}
	doc, err := json.Marshal(snapshot{Events: raws, LastUpdated: nowMs})
	if err != nil {
		return nil, dropped, err
	}
	return doc, dropped, nil
}

// decodeSnapshot parses a snapshot document. Individual events that fail to
// decode are skipped and counted rather than failing the load.
func decodeSnapshot(data []byte) ([]event.Event, int64, int, error) {
	var s snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, 0, 0, err
	}
	events := make([]event.Event, 0, len(s.Events))
	skipped := 0
	for _, raw := range s.Events {
		var e event.Event
		if err := json.Unmarshal(raw, &e); err != nil {
			skipped++
			continue
		}
		events = append(events, e)
	}
	return events, s.LastUpdated, skipped, nil
}
