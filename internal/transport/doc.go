// Package transport delivers event batches to a collector over HTTP.
//
// Every upload is one request:
//
//	POST {base}/v1/sources/{source}/batch
//	{"deviceId": "...", "batchId": "...", "sentAt": 1700000000000, "events": [...]}
//
// The batch ID is time-sortable and fresh per attempt, so the collector can
// recognize redelivery of the same events under different batch IDs via the
// event payloads, not the envelope. Any non-2xx response is an error; the
// transport itself never retries, the spool's scheduler owns that.
package transport
