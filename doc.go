// Package chunkstream stores large byte streams in a key-value cache whose
// entries are size-bounded and whose only atomic primitive is compare-and-swap.
//
// A stream is split into fixed-size chunks, each an independent entry. One small
// master record per stream holds the chunk descriptors and the active
// reader/writer counts; it is only ever replaced whole, via CAS (or under a
// native key lock when the store provides one).
//
// Components:
//   - Provider: byte store with get/put/CAS/put-if-absent/remove-if-equal
//     (memory, Redis, BigCache, Ristretto). Optional Locker for native RW locks.
//   - Record: master record, mutated by Precondition + Mutation pairs.
//   - Mode: admission policy for sessions (WritePriority, ReadCommitted,
//     ReadCommittedLocked).
//   - Reader/Writer: single-goroutine sessions turning chunks into io.Reader
//     and io.Writer semantics.
//
// Keys:
//
//	stream:<len(ns)>:<ns>:<key>:m        - master record
//	stream:<len(ns)>:<ns>:<key>:c:<idx>  - chunk idx (0-based, contiguous)
//
// Usage:
//
//	s, _ := chunkstream.New(chunkstream.Options{Namespace: "blobs", Provider: p})
//	w, _ := s.OpenWriter(ctx, "report.csv", true)
//	_, _ = io.Copy(w, src)
//	_ = w.Close()
//
//	r, _ := s.OpenReader(ctx, "report.csv")
//	defer r.Close()
//	_, _ = io.Copy(dst, r)
//
// A failed write whose rollback also fails leaves the stream stuck with an
// active writer; it surfaces as FatalInconsistencyError and needs manual
// cleanup (Delete after the writer count is repaired).
package chunkstream
