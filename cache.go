package wasmtime

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/mickey951112/wasmtime/internal/codegen/codegenapi"
	"github.com/mickey951112/wasmtime/internal/compilationcache"
)

// Cache is the configuration for caching compiled functions. Regardless of the directory, the compiled
// functions are cached in memory for the lifetime of the Cache.
//
// A Cache can be shared by concurrent Compile calls.
type Cache interface {
	// WithCompilationCacheDirName configures the destination directory of the compilation cache.
	// If the dirname doesn't exist, this creates the directory.
	//
	// With the given non-empty directory, the cache is persisted into the directory and that cache
	// will be used as long as the running compiler version matches the version which wrote it.
	//
	// Note: The embedder must safeguard this directory from external changes.
	WithCompilationCacheDirName(dir string) error

	// Stats returns the number of lookups which hit and missed.
	Stats() (hits, misses uint64)

	get(key compilationcache.Key) (*CompiledFunction, bool, error)
	add(key compilationcache.Key, f *CompiledFunction) error
}

// NewCache returns a new in-memory Cache to be passed to TargetConfig.WithCache.
func NewCache() Cache {
	return &cache{mem: map[compilationcache.Key]*CompiledFunction{}}
}

// cache implements Cache interface.
type cache struct {
	mux sync.RWMutex
	mem map[compilationcache.Key]*CompiledFunction
	// file is nil unless WithCompilationCacheDirName was called.
	file compilationcache.Cache

	hits, misses atomic.Uint64
}

// WithCompilationCacheDirName implements the same method on the Cache interface.
func (c *cache) WithCompilationCacheDirName(dir string) error {
	return c.withCompilationCacheDirName(dir, compilerVersion())
}

func (c *cache) withCompilationCacheDirName(dir string, version string) error {
	// Resolve a potentially relative directory into an absolute one.
	dir, err := filepath.Abs(dir)
	if err != nil {
		return err
	}

	// Ensure the user-supplied directory.
	if err = mkdir(dir); err != nil {
		return err
	}

	// Create a version-specific directory to avoid conflicts.
	dirname := path.Join(dir, "wasmtime-clif-"+version)
	if err = mkdir(dirname); err != nil {
		return err
	}

	c.mux.Lock()
	c.file = compilationcache.NewFileCache(dirname)
	c.mux.Unlock()
	return nil
}

// Stats implements the same method on the Cache interface.
func (c *cache) Stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *cache) get(key compilationcache.Key) (*CompiledFunction, bool, error) {
	c.mux.RLock()
	f, ok := c.mem[key]
	file := c.file
	c.mux.RUnlock()
	if !ok && file != nil {
		var err error
		f, ok, err = compilationcache.Load[*CompiledFunction](file, key)
		if err != nil {
			return nil, false, err
		}
		if ok {
			c.mux.Lock()
			c.mem[key] = f
			c.mux.Unlock()
		}
	}
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	codegenapi.Trace(codegenapi.TopicCache, "lookup", "key", fmt.Sprintf("%x", key[:8]), "hit", ok)
	return f, ok, nil
}

func (c *cache) add(key compilationcache.Key, f *CompiledFunction) error {
	c.mux.Lock()
	c.mem[key] = f
	file := c.file
	c.mux.Unlock()
	if file == nil {
		return nil
	}
	return compilationcache.Store(file, key, f)
}

// compilerVersion returns the version of this module in the running binary, which keeps caches of
// different compiler builds apart.
func compilerVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}
	const modulePath = "github.com/mickey951112/wasmtime"
	if info.Main.Path == modulePath && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	for _, dep := range info.Deps {
		if dep.Path == modulePath {
			return dep.Version
		}
	}
	return "dev"
}

func mkdir(dirname string) error {
	if st, err := os.Stat(dirname); errors.Is(err, os.ErrNotExist) {
		// If the directory not found, create the cache dir.
		if err = os.MkdirAll(dirname, 0o700); err != nil {
			return fmt.Errorf("create directory %s: %v", dirname, err)
		}
	} else if err != nil {
		return err
	} else if !st.IsDir() {
		return fmt.Errorf("%s is not dir", dirname)
	}
	return nil
}
