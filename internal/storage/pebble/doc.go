// Package pebblestore provides a thin wrapper around Pebble with fsync policy,
// whole-value reads and writes, and minimal metrics hooks. Every durable
// artifact of the relay (queue snapshots, device identity, mode state) is a
// single keyed blob stored through this package.
//
// Usage:
//
//	db, err := pebblestore.Open(pebblestore.Options{
//	    DataDir: "./data",
//	    Fsync:   pebblestore.FsyncModeAlways,
//	})
//	if err != nil { /* handle */ }
//	defer db.Close()
//
//	_ = db.Set([]byte("queue/snapshot/sms"), blob)
//	v, _ := db.Get([]byte("queue/snapshot/sms"))
//	_ = db.Delete([]byte("queue/snapshot/sms"))
package pebblestore
