package build

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"
)

// DefaultCleanupWait bounds how long Cleanup waits for a removed path to
// disappear.
const DefaultCleanupWait = 2 * time.Second

const cleanupRetryInterval = 20 * time.Millisecond

// ProductKind tells Cleanup how careful it must be with a product.
type ProductKind int

const (
	// Ordinary products are checked against source extensions first.
	Ordinary ProductKind = iota
	// SourceLike products were written by the orchestrator itself and are
	// removed unconditionally.
	SourceLike
)

func (k ProductKind) String() string {
	if k == SourceLike {
		return "source-like"
	}
	return "ordinary"
}

// Product is a filesystem artifact created by a build step.
type Product struct {
	Path string
	Kind ProductKind
}

// Products tracks the artifacts of one model for rollback and cleanup.
type Products struct {
	mu    sync.Mutex
	items []Product
	// Wait bounds the retry loop of each removal.
	Wait time.Duration
}

func NewProducts(wait time.Duration) *Products {
	return &Products{Wait: wait}
}

// Add records path and its sibling artifacts as ordinary products.
func (p *Products) Add(path string, siblings ...string) {
	p.add(Ordinary, path)
	for _, s := range siblings {
		p.add(Ordinary, s)
	}
}

// AddSource records a source-like product.
func (p *Products) AddSource(path string) { p.add(SourceLike, path) }

func (p *Products) add(k ProductKind, path string) {
	if path == "" {
		return
	}
	path = filepath.Clean(path)
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, it := range p.items {
		if it.Path == path {
			// a source-like mark is never downgraded
			if k == SourceLike {
				p.items[i].Kind = SourceLike
			}
			return
		}
	}
	p.items = append(p.items, Product{Path: path, Kind: k})
}

// List returns the recorded products in the order they were added.
func (p *Products) List() []Product {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.items)
}

// Paths returns the recorded product paths.
func (p *Products) Paths() []string {
	items := p.List()
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Path
	}
	return out
}

func (p *Products) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items)
}

// Cleanup removes every product, newest first. Ordinary products are
// refused with *UnsafeCleanupError when they (or, for a directory, any file
// below them) carry one of sourceExts. Refused and failed products stay
// recorded; the rest are forgotten, so calling Cleanup again is safe. It
// returns the number of paths removed.
func (p *Products) Cleanup(sourceExts []string) (int, error) {
	items := p.List()
	wait := p.Wait
	if wait <= 0 {
		wait = DefaultCleanupWait
	}
	var (
		errs    []error
		kept    []Product
		removed int
	)
	for i := len(items) - 1; i >= 0; i-- {
		it := items[i]
		if it.Kind == Ordinary {
			if err := checkNotSource(it.Path, sourceExts); err != nil {
				errs = append(errs, err)
				kept = append(kept, it)
				continue
			}
		}
		existed, err := removeWithin(it.Path, wait)
		if err != nil {
			errs = append(errs, err)
			kept = append(kept, it)
			continue
		}
		if existed {
			removed++
		}
	}
	slices.Reverse(kept)
	p.mu.Lock()
	p.items = kept
	p.mu.Unlock()
	return removed, errors.Join(errs...)
}

func checkNotSource(path string, exts []string) error {
	st, err := os.Lstat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("inspect %s: %w", path, err)
	}
	if !st.IsDir() {
		if ext, bad := sourceExt(path, exts); bad {
			return &UnsafeCleanupError{Path: path, Ext: ext}
		}
		return nil
	}
	return filepath.WalkDir(path, func(file string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if ext, bad := sourceExt(file, exts); bad {
			return &UnsafeCleanupError{Path: path, File: file, Ext: ext}
		}
		return nil
	})
}

func sourceExt(path string, exts []string) (string, bool) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return "", false
	}
	for _, e := range exts {
		if strings.ToLower(e) == ext {
			return ext, true
		}
	}
	return "", false
}

// removeWithin removes path and polls until it is gone or wait elapses.
func removeWithin(path string, wait time.Duration) (bool, error) {
	if _, err := os.Lstat(path); errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	deadline := time.Now().Add(wait)
	for {
		rmErr := os.RemoveAll(path)
		_, err := os.Lstat(path)
		if errors.Is(err, fs.ErrNotExist) {
			return true, nil
		}
		if time.Now().After(deadline) {
			if rmErr != nil {
				return true, fmt.Errorf("remove %s: %w", path, rmErr)
			}
			return true, fmt.Errorf("remove %s: %w", path, ErrStillPresent)
		}
		time.Sleep(cleanupRetryInterval)
	}
}
