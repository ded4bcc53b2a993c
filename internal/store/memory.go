package store

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

// MemoryStore implements Store in process. Documents keep insertion order.
type MemoryStore struct {
	mu        sync.RWMutex
	namespace string
	colls     map[string]*memCollection
}

type memCollection struct {
	docs  []Doc
	index map[string]int
}

// NewMemory returns an empty in-memory store for namespace.
func NewMemory(namespace string) *MemoryStore {
	return &MemoryStore{namespace: namespace, colls: map[string]*memCollection{}}
}

func (s *MemoryStore) Namespace() string { return s.namespace }

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) Collections(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := make(map[string]struct{}, len(s.colls))
	for name, c := range s.colls {
		if len(c.docs) > 0 {
			set[name] = struct{}{}
		}
	}
	return sortedNames(set), nil
}

func (s *MemoryStore) Count(_ context.Context, coll string, f Filter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.colls[coll]
	if !ok {
		return 0, nil
	}
	var n int64
	for _, d := range c.docs {
		if matches(d, f) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Find(ctx context.Context, coll string, f Filter, opts FindOptions) ([]Doc, error) {
	var out []Doc
	err := s.Each(ctx, coll, f, opts, func(d Doc) error {
		out = append(out, d)
		return nil
	})
	return out, err
}

func (s *MemoryStore) Each(ctx context.Context, coll string, f Filter, opts FindOptions, fn func(Doc) error) error {
	s.mu.RLock()
	c, ok := s.colls[coll]
	var snapshot []Doc
	if ok {
		snapshot = make([]Doc, 0, len(c.docs))
		for _, d := range c.docs {
			if matches(d, f) {
				snapshot = append(snapshot, project(merge(nil, d), opts.Projection))
				if opts.Limit > 0 && len(snapshot) >= opts.Limit {
					break
				}
			}
		}
	}
	s.mu.RUnlock()

	for _, d := range snapshot {
		if err := ctx.Err(); err != nil {
			return eris.Wrap(err, "memory: each")
		}
		if err := fn(d); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryStore) UpsertMany(_ context.Context, coll string, docs []Doc, keyField, runID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.collection(coll)
	for _, d := range docs {
		key, err := upsertKey(d, keyField, runID)
		if err != nil {
			return 0, eris.Wrapf(err, "memory: upsert %s", coll)
		}
		ik := keyField + "|" + key + "|" + runID
		if i, ok := c.index[ik]; ok {
			c.docs[i] = merge(c.docs[i], d)
			continue
		}
		nd := merge(nil, d)
		if _, ok := nd["_id"]; !ok {
			nd["_id"] = uuid.NewString()
		}
		c.index[ik] = len(c.docs)
		c.docs = append(c.docs, nd)
	}
	return len(docs), nil
}

func (s *MemoryStore) InsertOne(_ context.Context, coll string, doc Doc) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	nd := merge(nil, doc)
	id := IDString(nd["_id"])
	if id == "" {
		id = uuid.NewString()
		nd["_id"] = id
	}
	c := s.collection(coll)
	c.docs = append(c.docs, nd)
	return id, nil
}

func (s *MemoryStore) collection(name string) *memCollection {
	c, ok := s.colls[name]
	if !ok {
		c = &memCollection{index: map[string]int{}}
		s.colls[name] = c
	}
	return c
}
