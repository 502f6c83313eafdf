package model

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"kuroko/internal/experience"
	"kuroko/internal/uploader"
	"kuroko/internal/util"
)

// LoadResult reports the outcome of a gate-checked load. A rejected load is a
// defined negative outcome, not an error: the incumbent stays active.
type LoadResult struct {
	Accepted bool
	Version  string
	Reason   string
}

// Registry owns the single active scorer handle. Readers take a snapshot
// reference without blocking; writers install a new handle under a mutex held
// only for the swap itself. Deserialization and gate evaluation happen before
// the lock is taken, so the read path only ever waits on the pointer swap.
type Registry struct {
	mu      sync.Mutex
	active  atomic.Pointer[Handle]
	gate    *Gate
	refs    *experience.Store
	refSize int

	dir        string
	archiveDir string
	uploader   uploader.Uploader

	// SwapHook is invoked after every successful swap or reset with the new
	// version ("" after reset). Optional.
	SwapHook func(version string)
}

// NewRegistry constructs a registry persisting under dir and archiving
// superseded model directories under archiveDir.
func NewRegistry(gate *Gate, refs *experience.Store, refSize int, dir, archiveDir string, up uploader.Uploader) *Registry {
	if up == nil {
		up = uploader.NoopUploader{}
	}
	return &Registry{
		gate:       gate,
		refs:       refs,
		refSize:    refSize,
		dir:        dir,
		archiveDir: archiveDir,
		uploader:   up,
	}
}

// NewHandle wraps a freshly trained scorer in a versioned handle.
func NewHandle(s Scorer, meta Metadata) *Handle {
	version := uuid.New().String()
	if v7, err := uuid.NewV7(); err == nil {
		version = v7.String()
	}
	now := time.Now()
	meta.Version = version
	if meta.TrainedAt.IsZero() {
		meta.TrainedAt = now
	}
	return &Handle{Version: version, CreatedAt: now, Scorer: s, Meta: meta}
}

// Snapshot returns the currently active handle, or nil when unloaded.
func (r *Registry) Snapshot() *Handle {
	return r.active.Load()
}

// Load deserializes a candidate handle from path and installs it if the
// regression gate approves. A deserialization failure is returned as an error
// with the active handle untouched.
func (r *Registry) Load(path string) (LoadResult, error) {
	cand, err := LoadDir(path)
	if err != nil {
		return LoadResult{}, err
	}
	old := r.active.Load()
	ok, reason := r.gate.ShouldReplace(old, cand, r.referenceSet())
	if !ok {
		util.Warnf("model load rejected path=%s version=%s reason=%s", path, cand.Version, reason)
		return LoadResult{Accepted: false, Version: cand.Version, Reason: reason}, nil
	}
	r.mu.Lock()
	r.active.Store(cand)
	r.mu.Unlock()
	util.Infof("model swapped version=%s reason=%s", cand.Version, reason)
	if r.SwapHook != nil {
		r.SwapHook(cand.Version)
	}
	return LoadResult{Accepted: true, Version: cand.Version, Reason: reason}, nil
}

// Reset returns the registry to the unloaded state; select falls back to the
// default candidate until the next accepted load.
func (r *Registry) Reset() {
	r.mu.Lock()
	r.active.Store(nil)
	r.mu.Unlock()
	util.Infof("model registry reset")
	if r.SwapHook != nil {
		r.SwapHook("")
	}
}

// Save persists the active handle into the registry directory. A previously
// persisted model is archived first; the archive upload is best-effort.
func (r *Registry) Save(ctx context.Context) error {
	h := r.active.Load()
	if h == nil {
		return nil
	}
	r.archivePrevious(ctx)
	return SaveDir(h, r.dir)
}

// Dir returns the registry's persistence directory.
func (r *Registry) Dir() string { return r.dir }

func (r *Registry) archivePrevious(ctx context.Context) {
	prev, err := LoadDir(r.dir)
	if err != nil {
		return
	}
	name := prev.Version
	if name == "" {
		name = time.Now().UTC().Format("20060102T150405")
	}
	archivePath, err := ArchiveModelDir(r.dir, r.archiveDir, name)
	if err != nil {
		util.Warnf("archive superseded model failed dir=%s err=%v", r.dir, err)
		return
	}
	util.Detailf("archived superseded model version=%s path=%s", prev.Version, archivePath)
	if !r.uploader.Enabled() {
		return
	}
	location, err := r.uploader.UploadDir(ctx, filepath.Dir(archivePath))
	if err != nil {
		util.Warnf("upload model archive failed path=%s err=%v", archivePath, err)
		return
	}
	util.Infof("model archive uploaded location=%s", location)
}

func (r *Registry) referenceSet() []experience.Record {
	if r.refs == nil {
		return nil
	}
	refs, err := r.refs.Tail(r.refSize)
	if err != nil {
		util.Warnf("reference set unavailable err=%v", err)
		return nil
	}
	return refs
}
