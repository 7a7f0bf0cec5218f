// Package filestore provides a single-node, disk-backed blob store with a
// capacity bound and optional per-entry time-to-live.
//
// Blobs are saved under string keys. Each key is escaped into a safe file
// name and placed in a fixed-depth tree of shard directories so that no
// directory grows without bound. The store accounts every byte it writes
// against its capacity and refuses writes that would exceed it.
//
// # Quick Start
//
//	s, err := filestore.New("/var/lib/filestore", 10<<30)
//	if err != nil {
//	    return err
//	}
//	if err := s.Start(ctx); err != nil {
//	    return err
//	}
//	defer s.Stop()
//
//	entry, err := s.Save(ctx, "reports/2026-10.csv", r,
//	    filestore.SaveWithTTL(24*time.Hour),
//	)
//
//	rc, err := s.Read("reports/2026-10.csv")
//
// # Layout
//
// The storage root holds two subtrees:
//   - data: blobs, at data/<shard>/<shard>/<shard>/<name>
//   - system: the lifetime ledger, a flat "name=milliseconds" file
//
// # Space
//
// Used space is seeded from disk on Start and then tracked incrementally.
// [Store.Purge] and [Store.PurgeBytes] evict the oldest blobs until the
// requested amount of space is free.
//
// # Errors
//
// Every failure carries an [ErrorKind]. Use errors.Is with the exported
// sentinels, or [KindOf], to branch on it.
package filestore
