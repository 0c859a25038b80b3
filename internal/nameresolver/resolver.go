// Package nameresolver implements the lock-free, open-addressed name→ID hash
// table from spec.md §4.3. It is the only path from a name string to an
// object ID — the directories (internal/directory) never index by name.
package nameresolver

import (
	"hash/fnv"
	"sync/atomic"

	"github.com/dexter0/prs-sub000/internal/directory"
	"github.com/dexter0/prs-sub000/internal/prserr"
)

type node struct {
	next atomic.Pointer[node]
	id   atomic.Uint32 // directory.Invalid (0) marks a tombstone
}

type bucket struct {
	head atomic.Pointer[node]
}

// Lookup resolves an ID back to the name it was registered under, returning
// false if the ID no longer names a live object — Resolver.Find uses this
// to verify a candidate node actually matches the requested key, since nodes
// themselves carry no name, only an ID (spec.md §4.3).
type Lookup func(id directory.ID) (name string, ok bool)

// Resolver is the lock-free name→ID table.
type Resolver struct {
	buckets []bucket
	lookup  Lookup
}

// New creates a Resolver with maxEntries buckets, using lookup to verify
// candidate matches during Find.
func New(maxEntries int, lookup Lookup) *Resolver {
	if maxEntries < 1 {
		maxEntries = 1
	}
	return &Resolver{
		buckets: make([]bucket, maxEntries),
		lookup:  lookup,
	}
}

func (r *Resolver) bucketFor(name string) *bucket {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return &r.buckets[h.Sum64()%uint64(len(r.buckets))]
}

// Alloc inserts name→id. If the bucket has a tombstoned node (from a prior
// Free), it is reused via CAS; otherwise a new node is appended to the
// chain's tail via CAS. Always succeeds (modulo unbounded retry under
// concurrent writers to the same bucket).
func (r *Resolver) Alloc(name string, id directory.ID) error {
	b := r.bucketFor(name)
	for {
		var last *node
		cur := b.head.Load()
		for cur != nil {
			if cur.id.CompareAndSwap(uint32(directory.Invalid), uint32(id)) {
				return nil
			}
			last = cur
			cur = cur.next.Load()
		}

		n := &node{}
		n.id.Store(uint32(id))

		if last == nil {
			if b.head.CompareAndSwap(nil, n) {
				return nil
			}
			continue
		}
		if last.next.CompareAndSwap(nil, n) {
			return nil
		}
		// lost the append race; re-walk and retry.
	}
}

// Free removes the name→id association by CAS-writing a tombstone onto the
// first node whose id matches. Returns prserr.NotFound if no such node
// exists in name's bucket.
func (r *Resolver) Free(name string, id directory.ID) error {
	b := r.bucketFor(name)
	for cur := b.head.Load(); cur != nil; cur = cur.next.Load() {
		if cur.id.CompareAndSwap(uint32(id), uint32(directory.Invalid)) {
			return nil
		}
	}
	return prserr.Err(prserr.NotFound)
}

// Find walks key's bucket chain, verifying each live node against the
// lookup callback, and returns the first ID whose registered name equals
// key. Returns prserr.NotFound if no live node matches.
func (r *Resolver) Find(key string) (directory.ID, error) {
	b := r.bucketFor(key)
	for cur := b.head.Load(); cur != nil; cur = cur.next.Load() {
		id := directory.ID(cur.id.Load())
		if id == directory.Invalid {
			continue
		}
		name, ok := r.lookup(id)
		if !ok {
			continue
		}
		if name == key {
			return id, nil
		}
	}
	return directory.Invalid, prserr.Err(prserr.NotFound)
}
