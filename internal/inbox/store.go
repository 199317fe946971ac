// Package inbox is the object store behind obexd's default OBEX service.
//
// Pushed objects land in an in-memory folder tree. Clients browse it with
// SetPath, fetch objects with Get, and copy, move or change permissions
// with Action. The store knows nothing about object formats.
package inbox

import (
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	ErrNotFound    = errors.New("inbox: not found")
	ErrExists      = errors.New("inbox: already exists")
	ErrInvalidName = errors.New("inbox: invalid name")
	ErrTooLarge    = errors.New("inbox: object too large")
	ErrFull        = errors.New("inbox: store full")
)

// Object is a stored object.
type Object struct {
	Name        string    `json:"name"`
	Type        string    `json:"type,omitempty"`
	Data        []byte    `json:"-"`
	Size        int       `json:"size"`
	Permissions uint32    `json:"permissions"`
	Modified    time.Time `json:"modified"`
}

// Entry names an object by its folder.
type Entry struct {
	Folder string `json:"folder"`
	Object
}

// DefaultPermissions grants read, write and delete to everyone.
const DefaultPermissions uint32 = 0x00070707

// Limits bounds the store. Zero values mean unlimited.
type Limits struct {
	MaxObjectSize int64
	MaxTotalSize  int64
	MaxObjects    int
}

// Store is a folder tree of objects, safe for concurrent use. Folder paths
// are slash separated and relative to the root, which is "".
type Store struct {
	mu      sync.RWMutex
	folders map[string]struct{}
	objects map[string]*Object
	total   int64
	limits  Limits
	now     func() time.Time
}

// NewStore creates an empty store.
func NewStore(limits Limits) *Store {
	return &Store{
		folders: map[string]struct{}{"": {}},
		objects: map[string]*Object{},
		limits:  limits,
		now:     time.Now,
	}
}

// ValidName reports whether name can name an object or folder.
func ValidName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsAny(name, "/\\\x00")
}

func key(folder, name string) string { return path.Join(folder, name) }

// HasFolder reports whether the folder exists.
func (s *Store) HasFolder(folder string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.folders[folder]
	return ok
}

// Mkdir creates name inside parent and returns the new folder path.
// Creating an existing folder is not an error.
func (s *Store) Mkdir(parent, name string) (string, error) {
	if !ValidName(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.folders[parent]; !ok {
		return "", fmt.Errorf("%w: folder %q", ErrNotFound, parent)
	}
	p := key(parent, name)
	if _, ok := s.objects[p]; ok {
		return "", fmt.Errorf("%w: %q is an object", ErrExists, p)
	}
	s.folders[p] = struct{}{}
	return p, nil
}

// Put stores an object, replacing any object of the same name.
func (s *Store) Put(folder string, obj Object) error {
	if !ValidName(obj.Name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, obj.Name)
	}
	size := int64(len(obj.Data))
	if s.limits.MaxObjectSize > 0 && size > s.limits.MaxObjectSize {
		return fmt.Errorf("%w: %d bytes", ErrTooLarge, size)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.folders[folder]; !ok {
		return fmt.Errorf("%w: folder %q", ErrNotFound, folder)
	}
	k := key(folder, obj.Name)
	if _, ok := s.folders[k]; ok {
		return fmt.Errorf("%w: %q is a folder", ErrExists, k)
	}
	old := s.objects[k]
	var oldSize int64
	if old != nil {
		oldSize = int64(old.Size)
	} else if s.limits.MaxObjects > 0 && len(s.objects) >= s.limits.MaxObjects {
		return fmt.Errorf("%w: %d objects", ErrFull, len(s.objects))
	}
	if s.limits.MaxTotalSize > 0 && s.total-oldSize+size > s.limits.MaxTotalSize {
		return fmt.Errorf("%w: %d bytes stored", ErrFull, s.total)
	}

	o := obj
	o.Data = append([]byte(nil), obj.Data...)
	o.Size = len(o.Data)
	if o.Permissions == 0 {
		o.Permissions = DefaultPermissions
	}
	if o.Modified.IsZero() {
		o.Modified = s.now()
	}
	s.objects[k] = &o
	s.total += size - oldSize
	return nil
}

// Get returns a copy of the object's metadata and its data.
func (s *Store) Get(folder, name string) (Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.objects[key(folder, name)]
	if !ok {
		return Object{}, fmt.Errorf("%w: %q", ErrNotFound, key(folder, name))
	}
	return *o, nil
}

// Delete removes an object.
func (s *Store) Delete(folder, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(folder, name)
	o, ok := s.objects[k]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, k)
	}
	s.total -= int64(o.Size)
	delete(s.objects, k)
	return nil
}

// Copy duplicates an object inside folder. The destination must not exist.
func (s *Store) Copy(folder, name, dest string) error {
	o, err := s.Get(folder, name)
	if err != nil {
		return err
	}
	if _, err := s.Get(folder, dest); err == nil {
		return fmt.Errorf("%w: %q", ErrExists, key(folder, dest))
	}
	o.Name = dest
	o.Modified = time.Time{}
	return s.Put(folder, o)
}

// Move renames an object inside folder. The destination must not exist.
func (s *Store) Move(folder, name, dest string) error {
	if !ValidName(dest) {
		return fmt.Errorf("%w: %q", ErrInvalidName, dest)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	from, to := key(folder, name), key(folder, dest)
	o, ok := s.objects[from]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, from)
	}
	if _, ok := s.objects[to]; ok {
		return fmt.Errorf("%w: %q", ErrExists, to)
	}
	if _, ok := s.folders[to]; ok {
		return fmt.Errorf("%w: %q is a folder", ErrExists, to)
	}
	delete(s.objects, from)
	o.Name = dest
	s.objects[to] = o
	return nil
}

// SetPermissions replaces an object's permission bits.
func (s *Store) SetPermissions(folder, name string, perms uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.objects[key(folder, name)]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, key(folder, name))
	}
	o.Permissions = perms
	return nil
}

// List returns every object, sorted by path, without data.
func (s *Store) List() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0, len(s.objects))
	for k, o := range s.objects {
		e := Entry{Folder: path.Dir(k), Object: *o}
		if e.Folder == "." {
			e.Folder = ""
		}
		e.Data = nil
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		return key(out[i].Folder, out[i].Name) < key(out[j].Folder, out[j].Name)
	})
	return out
}

// Size returns the number of stored bytes.
func (s *Store) Size() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.total
}
