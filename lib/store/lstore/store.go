package lstore

import (
	"sort"
	"time"

	"github.com/inove-ai/agentlock/lib/store"
	"github.com/puzpuzpuz/xsync/v3"
)

type storeImpl struct {
	data *xsync.MapOf[string, store.Descriptor]
	opts store.Options
}

// NewLocalStore creates a new local store instance.
// This store implementation only coordinates callers inside the current process.
// Descriptors live in a concurrent map and are lost when the process exits.
func NewLocalStore(opts store.Options) store.ILockStore {
	return &storeImpl{
		data: xsync.NewMapOf[string, store.Descriptor](),
		opts: opts.WithDefaults(),
	}
}

// isStale reports whether the descriptor's lease has run out.
func (s *storeImpl) isStale(d store.Descriptor) bool {
	return d.IsStale(s.opts.Now(), s.opts.DefaultTimeout)
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Read(resource string) (store.Descriptor, bool, error) {
	if err := store.ValidateResource(resource); err != nil {
		return store.Descriptor{}, false, err
	}

	// Compute runs atomically per key, so a stale entry cannot be replaced by a fresh
	// one between the staleness check and the delete.
	val, ok := s.data.Compute(resource, func(old store.Descriptor, loaded bool) (store.Descriptor, bool) {
		if !loaded || s.isStale(old) {
			return old, true
		}
		return old, false
	})
	if !ok {
		return store.Descriptor{}, false, nil
	}
	return val.Clone(), true, nil
}

func (s *storeImpl) Create(resource string, desc store.Descriptor) (bool, error) {
	if err := store.ValidateResource(resource); err != nil {
		return false, err
	}
	_, loaded := s.data.LoadOrStore(resource, desc.Clone())
	return !loaded, nil
}

func (s *storeImpl) Renew(resource, holder string, at time.Time) (bool, error) {
	if err := store.ValidateResource(resource); err != nil {
		return false, err
	}

	renewed := false
	s.data.Compute(resource, func(old store.Descriptor, loaded bool) (store.Descriptor, bool) {
		switch {
		case !loaded || s.isStale(old):
			return old, true
		case old.LockedBy != holder:
			return old, false
		}
		old.LockedAt = at
		renewed = true
		return old, false
	})
	return renewed, nil
}

func (s *storeImpl) Remove(resource, holder string) (bool, error) {
	if err := store.ValidateResource(resource); err != nil {
		return false, err
	}

	released := true
	s.data.Compute(resource, func(old store.Descriptor, loaded bool) (store.Descriptor, bool) {
		if loaded && !s.isStale(old) && old.LockedBy != holder {
			released = false
			return old, false
		}
		return old, true
	})
	return released, nil
}

func (s *storeImpl) Delete(resource string) error {
	if err := store.ValidateResource(resource); err != nil {
		return err
	}
	s.data.Delete(resource)
	return nil
}

func (s *storeImpl) List() ([]string, error) {
	resources := make([]string, 0, s.data.Size())
	s.data.Range(func(key string, _ store.Descriptor) bool {
		resources = append(resources, key)
		return true
	})
	sort.Strings(resources)
	return resources, nil
}

func (s *storeImpl) Sweep() (int, error) {
	resources, _ := s.List()

	removed := 0
	for _, resource := range resources {
		s.data.Compute(resource, func(old store.Descriptor, loaded bool) (store.Descriptor, bool) {
			if loaded && s.isStale(old) {
				removed++
				return old, true
			}
			return old, !loaded
		})
	}
	return removed, nil
}
