package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	"github.com/golang/snappy"
	"github.com/pkg/errors"
)

// ErrStoreUnavailable wraps every failure to read or write the backup artifact.
var ErrStoreUnavailable = errors.New("session store unavailable")

// FileStore keeps all records of a session series in one snappy-compressed
// JSON array. Every Append rewrites the whole artifact, so appends are
// serialized by a mutex for this process and an advisory lock file for
// other processes sharing the path.
type FileStore struct {
	path string
	mu   sync.Mutex
	lock *flock.Flock
}

func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(ErrStoreUnavailable, "ensure dir: "+err.Error())
	}
	return &FileStore{path: path, lock: flock.New(path + ".lock")}, nil
}

func (s *FileStore) Path() string { return s.path }

// Init creates the artifact holding an empty collection, replacing any
// previous content.
func (s *FileStore) Init() error {
	unlock, err := s.acquire()
	if err != nil {
		return err
	}
	defer unlock()
	return s.storeUnlocked([]Record{})
}

// Append adds one record: read all, append in memory, write all.
func (s *FileStore) Append(record Record) error {
	unlock, err := s.acquire()
	if err != nil {
		return err
	}
	defer unlock()

	records, err := s.loadUnlocked()
	if err != nil {
		return err
	}
	records = append(records, record)
	return s.storeUnlocked(records)
}

func (s *FileStore) Load() ([]Record, error) {
	unlock, err := s.acquire()
	if err != nil {
		return nil, err
	}
	defer unlock()
	return s.loadUnlocked()
}

func (s *FileStore) acquire() (func(), error) {
	s.mu.Lock()
	if err := s.lock.Lock(); err != nil {
		s.mu.Unlock()
		return nil, errors.Wrap(ErrStoreUnavailable, "lock: "+err.Error())
	}
	return func() {
		_ = s.lock.Unlock()
		s.mu.Unlock()
	}, nil
}

func (s *FileStore) loadUnlocked() ([]Record, error) {
	return readRecords(s.path)
}

// ReadFile loads an existing artifact without locking it or creating
// anything on disk. Writers replace the artifact by rename, so a reader sees
// either the previous or the next collection.
func ReadFile(path string) ([]Record, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrap(ErrStoreUnavailable, "stat: "+err.Error())
	}
	if info.IsDir() {
		return nil, errors.Wrapf(ErrStoreUnavailable, "%s is a directory", path)
	}
	return readRecords(path)
}

func readRecords(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(ErrStoreUnavailable, "open read: "+err.Error())
	}
	defer func(f *os.File) {
		_ = f.Close()
	}(f)

	var records []Record
	if err := json.NewDecoder(snappy.NewReader(f)).Decode(&records); err != nil {
		return nil, errors.Wrap(ErrStoreUnavailable, "decode: "+err.Error())
	}
	return records, nil
}

// storeUnlocked writes to a sibling temp file and renames it over the
// artifact, so readers never see a half-written collection.
func (s *FileStore) storeUnlocked(records []Record) error {
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return errors.Wrap(ErrStoreUnavailable, "open write: "+err.Error())
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	w := snappy.NewBufferedWriter(tmp)
	if err := json.NewEncoder(w).Encode(records); err != nil {
		_ = tmp.Close()
		return errors.Wrap(ErrStoreUnavailable, "encode: "+err.Error())
	}
	if err := w.Close(); err != nil {
		_ = tmp.Close()
		return errors.Wrap(ErrStoreUnavailable, "flush: "+err.Error())
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return errors.Wrap(ErrStoreUnavailable, "sync: "+err.Error())
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(ErrStoreUnavailable, "close: "+err.Error())
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return errors.Wrap(ErrStoreUnavailable, "replace: "+err.Error())
	}
	return nil
}
