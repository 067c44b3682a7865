package kvstore

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/craftclass/jury/internal/fileutil"
)

type fileDoc struct {
	Entries map[string]string `json:"entries"`
}

// File persists the whole key space as one JSON document, rewritten
// atomically on every mutation.
type File struct {
	mu     sync.Mutex
	path   string
	data   map[string]string
	closed bool
}

var _ Store = (*File)(nil)

// NewFile loads or creates the document at path. A corrupt document is
// moved aside as <path>.corrupt.<unix> and the store starts empty.
func NewFile(path string) (*File, error) {
	if path == "" {
		return nil, fileutil.ErrEmptyPath
	}

	f := &File{path: path, data: make(map[string]string)}

	var doc fileDoc
	found, err := fileutil.ReadJSON(path, &doc)
	switch {
	case err != nil && found:
		corrupt := fmt.Sprintf("%s.corrupt.%d", path, time.Now().Unix())
		if renameErr := os.Rename(path, corrupt); renameErr != nil {
			return nil, fmt.Errorf("moving corrupt store aside: %w", renameErr)
		}
	case err != nil:
		return nil, err
	case doc.Entries != nil:
		f.data = doc.Entries
	}

	return f, nil
}

// Path returns the backing file path.
func (f *File) Path() string { return f.path }

// Get returns the value stored under key.
func (f *File) Get(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return "", false, ErrClosed
	}
	v, ok := f.data[key]
	return v, ok, nil
}

// Set stores value under key and flushes the document.
func (f *File) Set(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}

	prev, had := f.data[key]
	f.data[key] = value
	if err := f.flush(); err != nil {
		if had {
			f.data[key] = prev
		} else {
			delete(f.data, key)
		}
		return err
	}
	return nil
}

// Delete removes keys and flushes the document if anything changed.
func (f *File) Delete(_ context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}

	changed := false
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			delete(f.data, k)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return f.flush()
}

// Keys returns the sorted keys that start with prefix.
func (f *File) Keys(_ context.Context, prefix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrClosed
	}
	return matchPrefix(f.data, prefix), nil
}

// Close marks the store closed. Data is already on disk.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *File) flush() error {
	return fileutil.WriteJSON(f.path, fileDoc{Entries: f.data}, 0o600)
}
