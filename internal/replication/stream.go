package replication

import (
	"context"
	"fmt"

	"github.com/hyperspacedb/hyperspacedb/internal/walog"
)

// Source supplies WAL records to a replication stream. The collection
// orchestrator implements this over its live log plus any sealed
// segments still needed to satisfy a lagging follower.
type Source interface {
	RecordsSince(lastClock uint64) ([]walog.Record, error)
}

// Replicate drains every record with LogicalClock > lastClock from src
// onto the returned channel, standing in for the gRPC server-streaming
// RPC a real deployment would expose (spec §4.8 describes the wire
// contract; this channel is the in-process shape of the same stream).
// Both channels close once all records have been sent, the context is
// canceled, or src returns an error.
func Replicate(ctx context.Context, src Source, lastClock uint64) (<-chan walog.Record, <-chan error) {
	out := make(chan walog.Record)
	errc := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errc)
		defer func() {
			if r := recover(); r != nil {
				errc <- fmt.Errorf("replication: stream panicked: %v", r)
			}
		}()

		records, err := src.RecordsSince(lastClock)
		if err != nil {
			errc <- err
			return
		}
		for _, rec := range records {
			select {
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			case out <- rec:
			}
		}
	}()

	return out, errc
}
