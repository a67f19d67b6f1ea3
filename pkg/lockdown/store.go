package lockdown

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/idevice-protocol/idevice-go/pkg/plist"
)

// ErrNoRecord indicates no stored pair record exists for a device.
var ErrNoRecord = errors.New("lockdown: no pair record")

// RecordStore persists pair records as one XML plist per device under a
// directory, keyed by UDID.
type RecordStore struct {
	mu  sync.Mutex
	dir string
}

// NewRecordStore opens a store rooted at dir, creating it if needed.
func NewRecordStore(dir string) (*RecordStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("lockdown: create record store: %w", err)
	}
	return &RecordStore{dir: dir}, nil
}

// DefaultRecordStore opens the store in the user's config directory.
func DefaultRecordStore() (*RecordStore, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("lockdown: resolve config dir: %w", err)
	}
	return NewRecordStore(filepath.Join(base, "idevice", "pair-records"))
}

func (s *RecordStore) path(udid string) string {
	return filepath.Join(s.dir, udid+".plist")
}

// Load returns the stored record for udid, or ErrNoRecord.
func (s *RecordStore) Load(udid string) (*PairRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(udid))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNoRecord, udid)
		}
		return nil, fmt.Errorf("lockdown: read pair record: %w", err)
	}
	v, err := plist.DecodeAuto(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", CodeInvalidPairRecord, err)
	}
	return recordFromPlist(v)
}

// Save writes the record for udid, replacing any existing one. The
// write goes through a temp file so a crash never leaves a torn record.
func (s *RecordStore) Save(udid string, record *PairRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := plist.Encode(record.toPlist(), plist.FormatXML)
	if err != nil {
		return fmt.Errorf("lockdown: encode pair record: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, udid+".*.tmp")
	if err != nil {
		return fmt.Errorf("lockdown: save pair record: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("lockdown: save pair record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("lockdown: save pair record: %w", err)
	}
	if err := os.Rename(tmpName, s.path(udid)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("lockdown: save pair record: %w", err)
	}
	return nil
}

// Remove deletes the stored record for udid. Removing a missing record
// is a no-op.
func (s *RecordStore) Remove(udid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path(udid))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("lockdown: remove pair record: %w", err)
	}
	return nil
}

// List returns the UDIDs with stored records, sorted by directory order.
func (s *RecordStore) List() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("lockdown: list pair records: %w", err)
	}
	var udids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".plist") {
			continue
		}
		udids = append(udids, strings.TrimSuffix(name, ".plist"))
	}
	return udids, nil
}
