package fstore

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/inove-ai/agentlock/lib/store"
	"github.com/lni/dragonboat/v4/logger"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	lockSuffix = ".lock"       // descriptor file extension
	guardName  = ".guard"      // flock(2) target serializing read-modify-write sequences
	tmpInfix   = ".tmp-"       // marks private temporary files
	filePerm   = fs.FileMode(0o644)
	dirPerm    = fs.FileMode(0o755)
)

var Logger = logger.GetLogger("fstore")

type storeImpl struct {
	dir   string
	opts  store.Options
	guard *guard
}

// NewFileStore creates a lock store backed by the directory dir.
// The directory and its parents are created if absent. An error is returned if
// the directory cannot be created or is not writable; this is the only fatal
// condition of the store, every later I/O fault is reported per operation.
func NewFileStore(dir string, opts store.Options) (store.ILockStore, error) {
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, store.WrapError(store.RetCIOError, "cannot create lock directory "+dir, err)
	}

	// probe writability once, so a read-only directory fails here and not on first acquire
	probe, err := os.CreateTemp(dir, tmpInfix+"probe-*")
	if err != nil {
		return nil, store.WrapError(store.RetCIOError, "lock directory "+dir+" is not writable", err)
	}
	_ = probe.Close()
	_ = os.Remove(probe.Name())

	return &storeImpl{
		dir:   dir,
		opts:  opts.WithDefaults(),
		guard: newGuard(filepath.Join(dir, guardName)),
	}, nil
}

// path returns the descriptor file of a resource.
func (s *storeImpl) path(resource string) string {
	return filepath.Join(s.dir, resource+lockSuffix)
}

// readRaw returns the content of a descriptor file. exists is false if there is none.
func (s *storeImpl) readRaw(resource string) (data []byte, exists bool, err error) {
	data, err = os.ReadFile(s.path(resource))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, store.WrapError(store.RetCIOError, "cannot read lock "+resource, err)
	}
	return data, true, nil
}

// judge decodes a descriptor document. reason is empty for a valid descriptor and
// otherwise names why the document must be removed.
func (s *storeImpl) judge(data []byte) (desc store.Descriptor, reason string) {
	desc, err := store.DecodeDescriptor(data)
	if err != nil {
		return desc, "corrupted (" + err.Error() + ")"
	}
	if desc.IsStale(s.opts.Now(), s.opts.DefaultTimeout) {
		return desc, "stale (held by " + desc.LockedBy + ")"
	}
	return desc, ""
}

// remove deletes a descriptor file; a missing file is not an error.
func (s *storeImpl) remove(resource string) error {
	if err := os.Remove(s.path(resource)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return store.WrapError(store.RetCIOError, "cannot remove lock "+resource, err)
	}
	return nil
}

// writeTemp writes a descriptor into a new private temporary file next to the lock
// files and returns its path. The caller owns the file.
func (s *storeImpl) writeTemp(resource string, desc store.Descriptor) (string, error) {
	data, err := store.EncodeDescriptor(desc)
	if err != nil {
		return "", store.WrapError(store.RetCInternalError, "cannot encode lock "+resource, err)
	}

	f, err := os.CreateTemp(s.dir, "."+resource+lockSuffix+tmpInfix+"*")
	if err != nil {
		return "", store.WrapError(store.RetCIOError, "cannot create temporary file for "+resource, err)
	}

	name := f.Name()
	_, err = f.Write(data)
	if err == nil {
		err = f.Sync()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Chmod(name, filePerm)
	}
	if err != nil {
		_ = os.Remove(name)
		return "", store.WrapError(store.RetCIOError, "cannot write temporary file for "+resource, err)
	}
	return name, nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Read(resource string) (store.Descriptor, bool, error) {
	if err := store.ValidateResource(resource); err != nil {
		return store.Descriptor{}, false, err
	}

	data, exists, err := s.readRaw(resource)
	if err != nil || !exists {
		return store.Descriptor{}, false, err
	}

	desc, reason := s.judge(data)
	if reason == "" {
		return desc, true, nil
	}

	// Read repair: judge again under the guard, another process may have replaced
	// the file with a fresh descriptor since it was read.
	found := false
	err = s.guard.do(func() error {
		data, exists, err := s.readRaw(resource)
		if err != nil || !exists {
			return err
		}
		if desc, reason = s.judge(data); reason == "" {
			found = true
			return nil
		}
		Logger.Debugf("removing %s lock %s", reason, resource)
		return s.remove(resource)
	})
	if err != nil || !found {
		return store.Descriptor{}, false, err
	}
	return desc, true, nil
}

func (s *storeImpl) Create(resource string, desc store.Descriptor) (bool, error) {
	if err := store.ValidateResource(resource); err != nil {
		return false, err
	}

	tmp, err := s.writeTemp(resource, desc)
	if err != nil {
		return false, err
	}
	defer func() { _ = os.Remove(tmp) }()

	// link(2) fails with EEXIST if the target exists, so only one racing process can
	// win, and the winner's descriptor is complete the moment it becomes visible.
	if err := os.Link(tmp, s.path(resource)); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return false, nil
		}
		return false, store.WrapError(store.RetCIOError, "cannot create lock "+resource, err)
	}
	return true, nil
}

func (s *storeImpl) Renew(resource, holder string, at time.Time) (bool, error) {
	if err := store.ValidateResource(resource); err != nil {
		return false, err
	}

	renewed := false
	err := s.guard.do(func() error {
		data, exists, err := s.readRaw(resource)
		if err != nil || !exists {
			return err
		}

		desc, reason := s.judge(data)
		if reason != "" {
			Logger.Debugf("removing %s lock %s", reason, resource)
			return s.remove(resource)
		}
		if desc.LockedBy != holder {
			return nil
		}

		desc.LockedAt = at
		tmp, err := s.writeTemp(resource, desc)
		if err != nil {
			return err
		}
		if err := os.Rename(tmp, s.path(resource)); err != nil {
			_ = os.Remove(tmp)
			return store.WrapError(store.RetCIOError, "cannot renew lock "+resource, err)
		}
		renewed = true
		return nil
	})
	return renewed, err
}

func (s *storeImpl) Remove(resource, holder string) (bool, error) {
	if err := store.ValidateResource(resource); err != nil {
		return false, err
	}

	released := false
	err := s.guard.do(func() error {
		data, exists, err := s.readRaw(resource)
		if err != nil {
			return err
		}
		if !exists {
			released = true
			return nil
		}

		if desc, reason := s.judge(data); reason == "" && desc.LockedBy != holder {
			return nil
		}
		if err := s.remove(resource); err != nil {
			return err
		}
		released = true
		return nil
	})
	return released, err
}

func (s *storeImpl) Delete(resource string) error {
	if err := store.ValidateResource(resource); err != nil {
		return err
	}
	return s.guard.do(func() error {
		return s.remove(resource)
	})
}

func (s *storeImpl) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, store.WrapError(store.RetCIOError, "cannot list lock directory "+s.dir, err)
	}

	resources := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, lockSuffix) {
			continue
		}
		resources = append(resources, strings.TrimSuffix(name, lockSuffix))
	}
	return resources, nil
}

func (s *storeImpl) Sweep() (int, error) {
	resources, err := s.List()
	if err != nil {
		return 0, err
	}

	removed := 0
	err = s.guard.do(func() error {
		for _, resource := range resources {
			data, exists, err := s.readRaw(resource)
			if err != nil {
				return err
			}
			if !exists {
				continue
			}
			if _, reason := s.judge(data); reason != "" {
				Logger.Debugf("removing %s lock %s", reason, resource)
				if err := s.remove(resource); err != nil {
					return err
				}
				removed++
			}
		}
		return nil
	})
	return removed, err
}
