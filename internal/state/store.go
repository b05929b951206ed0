package state

import (
	"context"
	"errors"

	"github.com/pfrederiksen/homegames/internal/apperr"
	"github.com/pfrederiksen/homegames/internal/crypto"
	"github.com/pfrederiksen/homegames/internal/storage"
)

// DefaultKey is the object name of the state document.
const DefaultKey = "state.json"

// Store loads and saves the state document through a remote blob store.
type Store struct {
	backend   storage.Store
	key       string
	encryptor *crypto.Encryptor
}

// NewStore creates a Store. A nil encryptor stores plaintext JSON.
func NewStore(backend storage.Store, key string, encryptor *crypto.Encryptor) *Store {
	if key == "" {
		key = DefaultKey
	}
	return &Store{backend: backend, key: key, encryptor: encryptor}
}

// Key returns the object name the document is stored under.
func (s *Store) Key() string {
	return s.key
}

// Load returns the persisted state, or an empty state when none was ever
// saved. A document that exists but cannot be read back is a fatal
// STATE_CORRUPT error and is never replaced by an empty state.
func (s *Store) Load(ctx context.Context) (*State, error) {
	data, err := s.backend.Get(ctx, s.key)
	if errors.Is(err, storage.ErrNotFound) {
		return New(), nil
	}
	if err != nil {
		return nil, apperr.Store("load state", err)
	}

	plain, err := s.encryptor.Open(data)
	if err != nil {
		return nil, apperr.New(apperr.CodeCorrupt, "decrypt state", err)
	}

	st, err := Decode(plain)
	if err != nil {
		return nil, apperr.New(apperr.CodeCorrupt, "decode state", err)
	}
	return st, nil
}

// Save writes st in one atomic Put. The caller stamps UpdatedAt and RunID.
func (s *Store) Save(ctx context.Context, st *State) error {
	data, err := Encode(st)
	if err != nil {
		return apperr.Store("encode state", err)
	}

	sealed, err := s.encryptor.Seal(data)
	if err != nil {
		return apperr.Store("encrypt state", err)
	}

	if err := s.backend.Put(ctx, s.key, sealed); err != nil {
		return apperr.Store("save state", err)
	}
	return nil
}
