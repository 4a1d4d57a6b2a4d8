// Copyright 2026 The Flip-Disc Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import "hash/fnv"

// HashPayload computes the 32-bit FNV-1a hash used for both panel
// dirty detection and ingest payload dedupe. Non-cryptographic by
// design: the inputs are trusted and the cost runs once per panel per
// tick.
func HashPayload(payload []byte) uint32 {
	hasher := fnv.New32a()
	hasher.Write(payload)
	return hasher.Sum32()
}

// DirtyCache suppresses bus writes for panels whose payload has not
// changed. Hardware updates whole panels, so panel-level hashing is
// exactly the grain of a bus transaction.
//
// The cache is owned by the dispatcher goroutine and is not safe for
// concurrent use; force-full-write requests from the control plane
// arrive via the dispatcher's ForceFullWrite, not by touching the
// cache directly.
type DirtyCache struct {
	hashes map[string]uint32
}

// NewDirtyCache returns an empty cache: every panel is dirty until
// its first committed write.
func NewDirtyCache() *DirtyCache {
	return &DirtyCache{hashes: make(map[string]uint32)}
}

// Changed reports whether the panel must be written: true when hash
// differs from the committed value or no value is cached.
func (c *DirtyCache) Changed(panelID string, hash uint32) bool {
	cached, ok := c.hashes[panelID]
	return !ok || cached != hash
}

// Commit records a successful write of the given payload hash.
func (c *DirtyCache) Commit(panelID string, hash uint32) {
	c.hashes[panelID] = hash
}

// Invalidate forgets the panel's committed hash after a failed write,
// so the next successful tick always rewrites it.
func (c *DirtyCache) Invalidate(panelID string) {
	delete(c.hashes, panelID)
}

// ForceAll forgets every committed hash. Invoked on transport reset
// and topology publication.
func (c *DirtyCache) ForceAll() {
	clear(c.hashes)
}
