package syncer

import (
	"sort"
	"sync"

	"docvault/internal/model"
)

type catalogEntry struct {
	doc  model.Document
	refs map[string]model.BackendRef
}

// catalog tracks every document the engine has staged and the backends that
// confirmed it. A document with no refs is staged but does not exist yet.
// Deleted ids are tombstoned so a write still in flight cannot bring them back.
type catalog struct {
	mu      sync.RWMutex
	docs    map[string]*catalogEntry
	deleted map[string]struct{}
}

func newCatalog() *catalog {
	return &catalog{
		docs:    make(map[string]*catalogEntry),
		deleted: make(map[string]struct{}),
	}
}

func (c *catalog) stage(doc model.Document) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, gone := c.deleted[doc.ID]; gone {
		return
	}
	if _, ok := c.docs[doc.ID]; ok {
		return
	}
	c.docs[doc.ID] = &catalogEntry{doc: doc, refs: make(map[string]model.BackendRef)}
}

// confirm records ref. It returns false, recording nothing, once the document
// has been deleted.
func (c *catalog) confirm(doc model.Document, ref model.BackendRef) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, gone := c.deleted[doc.ID]; gone {
		return false
	}
	e, ok := c.docs[doc.ID]
	if !ok {
		e = &catalogEntry{doc: doc, refs: make(map[string]model.BackendRef)}
		c.docs[doc.ID] = e
	}
	e.refs[ref.BackendName] = ref
	return true
}

// tombstone removes id and refuses every later confirm for it. The removed
// entry is returned for revive.
func (c *catalog) tombstone(id string) *catalogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.docs[id]
	delete(c.docs, id)
	c.deleted[id] = struct{}{}
	return e
}

// revive undoes tombstone after a delete that did not complete.
func (c *catalog) revive(id string, e *catalogEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.deleted, id)
	if e != nil {
		c.docs[id] = e
	}
}

func (c *catalog) isDeleted(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, gone := c.deleted[id]
	return gone
}

func (c *catalog) staged(id string) (model.Document, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.docs[id]
	if !ok {
		return model.Document{}, false
	}
	return e.doc, true
}

// get returns a document only once at least one backend holds it.
func (c *catalog) get(id string) (model.Document, []model.BackendRef, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.docs[id]
	if !ok || len(e.refs) == 0 {
		return model.Document{}, nil, false
	}
	return e.doc, sortedRefs(e.refs), true
}

func (c *catalog) remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.docs, id)
}

// list returns existing documents, newest first, that satisfy keep.
func (c *catalog) list(keep func(model.Document) bool) []model.Document {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.Document, 0, len(c.docs))
	for _, e := range c.docs {
		if len(e.refs) == 0 || (keep != nil && !keep(e.doc)) {
			continue
		}
		out = append(out, e.doc)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func sortedRefs(m map[string]model.BackendRef) []model.BackendRef {
	out := make([]model.BackendRef, 0, len(m))
	for _, r := range m {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BackendName < out[j].BackendName })
	return out
}
