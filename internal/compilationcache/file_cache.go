package compilationcache

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sync"
)

// NewFileCache returns a new Cache which writes each entry into a file under dir.
// The directory is created by the first Add.
func NewFileCache(dir string) Cache {
	return newFileCache(dir)
}

func newFileCache(dir string) *fileCache {
	return &fileCache{dirPath: dir}
}

// fileCache is an example implementation of Cache which writes/reads cache into/from the fileCache.dirPath.
type fileCache struct {
	dirPath string
	// mux is held for reading while a file returned by Get is open.
	mux sync.RWMutex
}

type fileReadCloser struct {
	*os.File
	fc *fileCache
}

func (f *fileCache) path(key Key) string {
	return path.Join(f.dirPath, hex.EncodeToString(key[:]))
}

func (f *fileCache) Get(key Key) (content io.ReadCloser, ok bool, err error) {
	f.mux.RLock()
	unlock := true
	defer func() {
		if unlock {
			f.mux.RUnlock()
		}
	}()

	file, err := os.Open(f.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	} else if err != nil {
		return nil, false, err
	}
	// Unlock is done inside the content.Close() at the call site.
	unlock = false
	return &fileReadCloser{File: file, fc: f}, true, nil
}

// Close wraps the os.File Close to release the read lock on fileCache.
func (f *fileReadCloser) Close() (err error) {
	defer f.fc.mux.RUnlock()
	err = f.File.Close()
	return
}

func (f *fileCache) Add(key Key, content io.Reader) (err error) {
	f.mux.Lock()
	defer f.mux.Unlock()

	if err = mkdir(f.dirPath); err != nil {
		return
	}

	// Write to a temporary file first, so that a concurrent process never reads a torn entry.
	file, err := os.CreateTemp(f.dirPath, "tmp-*")
	if err != nil {
		return
	}
	tmp := file.Name()
	if _, err = io.Copy(file, content); err != nil {
		_ = file.Close()
		_ = os.Remove(tmp)
		return
	}
	if err = file.Close(); err != nil {
		_ = os.Remove(tmp)
		return
	}
	if err = os.Rename(tmp, f.path(key)); err != nil {
		_ = os.Remove(tmp)
	}
	return
}

func (f *fileCache) Delete(key Key) (err error) {
	f.mux.Lock()
	defer f.mux.Unlock()

	err = os.Remove(f.path(key))
	if errors.Is(err, os.ErrNotExist) {
		err = nil
	}
	return
}

func mkdir(dirname string) error {
	if st, err := os.Stat(dirname); errors.Is(err, os.ErrNotExist) {
		// If the directory not found, create the cache dir.
		if err = os.MkdirAll(dirname, 0o700); err != nil {
			return fmt.Errorf("fileCache: create directory %s: %v", dirname, err)
		}
	} else if err != nil {
		return err
	} else if !st.IsDir() {
		return fmt.Errorf("fileCache: expected dir but found %s", dirname)
	}
	return nil
}
