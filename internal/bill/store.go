package bill

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"mime"
	"path/filepath"
	"slices"
	"sync"
)

// Confirmer gates destructive actions. Remove only deletes when Confirm returns true.
type Confirmer interface {
	Confirm(b Bill) bool
}

// ConfirmFunc adapts a function to the Confirmer interface
type ConfirmFunc func(b Bill) bool

// Confirm calls f(b)
func (f ConfirmFunc) Confirm(b Bill) bool {
	return f(b)
}

// Store owns the canonical bill list and is the only writer of the snapshot.
// Every mutation persists the full list before the in-memory list is replaced,
// so readers never see a state that is not on disk.
type Store struct {
	mu          sync.Mutex
	db          DB
	storage     Storage
	idGenerator IDGenerator
	timeSource  TimeSource
	bills       []Bill
}

// NewStore creates a Store with UUID ids and the system clock.
// storage may be nil when bills never carry images.
func NewStore(db DB, storage Storage) *Store {
	return NewStoreWithDeps(db, storage, &uuidGenerator{}, &defaultTimeSource{})
}

// NewStoreWithDeps creates a Store with custom dependencies for testing
func NewStoreWithDeps(db DB, storage Storage, idGen IDGenerator, timeSrc TimeSource) *Store {
	return &Store{
		db:          db,
		storage:     storage,
		idGenerator: idGen,
		timeSource:  timeSrc,
		bills:       []Bill{},
	}
}

// Load restores the list from the snapshot. A missing or unreadable
// snapshot yields an empty list; the failure is logged, never returned.
func (s *Store) Load() []Bill {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.bills = s.readSnapshot()
	return slices.Clone(s.bills)
}

func (s *Store) readSnapshot() []Bill {
	data, err := s.db.LoadSnapshot()
	if err != nil {
		slog.Warn("Failed to read bill snapshot, starting empty", "error", err)
		return []Bill{}
	}
	if len(data) == 0 {
		return []Bill{}
	}

	var stored []Bill
	if err := json.Unmarshal(data, &stored); err != nil {
		slog.Warn("Failed to parse bill snapshot, starting empty", "error", err)
		return []Bill{}
	}

	bills := make([]Bill, 0, len(stored))
	seen := make(map[string]bool, len(stored))
	for _, b := range stored {
		if b.ID == "" || seen[b.ID] {
			slog.Warn("Skipping bill with missing or duplicate id", "id", b.ID, "doctor", b.DoctorName)
			continue
		}
		seen[b.ID] = true
		if !b.ForwardedToDkv {
			b.ForwardedDate = ""
		} else if b.ForwardedDate == "" {
			b.ForwardedDate = today(s.timeSource)
		}
		bills = append(bills, b)
	}
	return bills
}

// List returns a copy of the current bills in insertion order
func (s *Store) List() []Bill {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.bills)
}

// Get returns the bill with the given id
func (s *Store) Get(id string) (Bill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i == -1 {
		return Bill{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.bills[i], nil
}

// Commit assigns a fresh id to b, appends it and persists the full list
func (s *Store) Commit(b Bill) (Bill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b.ID = s.idGenerator.Generate()
	if s.indexOf(b.ID) != -1 {
		return Bill{}, fmt.Errorf("duplicate bill id: %s", b.ID)
	}

	next := append(slices.Clone(s.bills), b)
	if err := s.persist(next); err != nil {
		return Bill{}, err
	}
	s.bills = next

	slog.Info("Bill committed", "id", b.ID, "doctor", b.DoctorName, "amount", b.Amount.StringFixed(2))
	return b, nil
}

// ToggleForwarded flips the forwarded flag of a bill. Turning it on stamps
// today's date, turning it off clears the date.
func (s *Store) ToggleForwarded(id string) (Bill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i == -1 {
		return Bill{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	next := slices.Clone(s.bills)
	b := &next[i]
	b.ForwardedToDkv = !b.ForwardedToDkv
	if b.ForwardedToDkv {
		b.ForwardedDate = today(s.timeSource)
	} else {
		b.ForwardedDate = ""
	}

	if err := s.persist(next); err != nil {
		return Bill{}, err
	}
	s.bills = next
	return *b, nil
}

// Remove deletes a bill after confirm approves it. It reports whether the
// bill was deleted; an unconfirmed request changes nothing and is not an error.
func (s *Store) Remove(id string, confirm Confirmer) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i == -1 {
		return false, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	target := s.bills[i]

	if confirm == nil || !confirm.Confirm(target) {
		slog.Info("Deletion not confirmed", "id", id)
		return false, nil
	}

	next := slices.Delete(slices.Clone(s.bills), i, i+1)
	if err := s.persist(next); err != nil {
		return false, err
	}
	s.bills = next

	if target.ImageFile != "" && s.storage != nil {
		if err := s.storage.Delete(target.ImageFile); err != nil {
			slog.Warn("Failed to delete bill image", "filename", target.ImageFile, "error", err)
		}
	}
	return true, nil
}

// File returns the stored scan of a bill and its content type
func (s *Store) File(id string) ([]byte, string, error) {
	b, err := s.Get(id)
	if err != nil {
		return nil, "", err
	}
	if b.ImageFile == "" || s.storage == nil {
		return nil, "", fmt.Errorf("%w: no image for bill %s", ErrNotFound, id)
	}

	data, err := s.storage.Get(b.ImageFile)
	if err != nil {
		return nil, "", fmt.Errorf("getting bill image: %w", err)
	}

	contentType := mime.TypeByExtension(filepath.Ext(b.ImageFile))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return data, contentType, nil
}

func (s *Store) indexOf(id string) int {
	return slices.IndexFunc(s.bills, func(b Bill) bool { return b.ID == id })
}

func (s *Store) persist(bills []Bill) error {
	data, err := json.Marshal(bills)
	if err != nil {
		return fmt.Errorf("marshaling bills: %w", err)
	}
	if err := s.db.SaveSnapshot(data); err != nil {
		return fmt.Errorf("saving snapshot: %w", err)
	}
	return nil
}
