// Package eventlog tails the listing event log written by the scraper.
//
// The log is a Redis stream. Every entry has a monotonically increasing ID
// ("<ms>-<seq>") and a flat set of string fields, each of which may hold
// JSON. A Tailer reads the stream from a cursor using blocking XREAD calls
// and hands batches to its caller one at a time:
//
//	t := eventlog.NewTailer(log, eventlog.TailerConfig{Start: eventlog.CursorNow, Count: 10, Block: 5 * time.Second}, logger)
//	for {
//		batch, err := t.Next(ctx)
//		if err != nil {
//			return err // context cancelled or permanent log failure
//		}
//		if batch.Timeout {
//			continue // nothing appended within Block
//		}
//		for _, e := range batch.Entries {
//			...
//		}
//	}
//
// Transient read failures are retried inside Next with exponential backoff.
// Permanent failures (wrong key type, bad credentials) end the sequence.
package eventlog
