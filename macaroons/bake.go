package macaroons

import (
	"bytes"
	"context"
	"fmt"

	"github.com/lightningnetwork/lnmac/macaroon"
)

// inMemoryRootKeyStore is a simple implementation of RootKeyStore that
// stores a single root key in memory.
type inMemoryRootKeyStore struct {
	rootKey []byte
}

// A compile-time check to ensure that inMemoryRootKeyStore implements
// RootKeyStore.
var _ RootKeyStore = (*inMemoryRootKeyStore)(nil)

// Get returns the root key for the given id. If the item is not there, it
// returns ErrRootKeyNotFound.
func (s *inMemoryRootKeyStore) Get(_ context.Context, id []byte) ([]byte,
	error) {

	if !bytes.Equal(id, DefaultRootKeyID) {
		return nil, ErrRootKeyNotFound
	}

	return s.rootKey, nil
}

// RootKey returns the root key to be used for making a new token, and an id
// that can be used to look it up later with the Get method.
func (s *inMemoryRootKeyStore) RootKey(context.Context) ([]byte, []byte,
	error) {

	return s.rootKey, DefaultRootKeyID, nil
}

// NewMemoryRootKeyStore returns a store holding a single root key under
// DefaultRootKeyID.
func NewMemoryRootKeyStore(rootKey []byte) RootKeyStore {
	return &inMemoryRootKeyStore{rootKey: rootKey}
}

// BakeFromRootKey creates a new token that is derived from the given root key
// and restricted by the given constraints.
func BakeFromRootKey(rootKey []byte, location string,
	constraints ...Constraint) (*macaroon.Token, error) {

	if len(rootKey) != RootKeyLen {
		return nil, fmt.Errorf("root key must be %d bytes, is %d",
			RootKeyLen, len(rootKey))
	}

	service, err := NewService(NewMemoryRootKeyStore(rootKey), location)
	if err != nil {
		return nil, fmt.Errorf("unable to create service: %w", err)
	}

	ctx := context.Background()
	token, err := service.NewMacaroon(ctx, DefaultRootKeyID, constraints...)
	if err != nil {
		return nil, fmt.Errorf("unable to create token: %w", err)
	}

	return token, nil
}

// CheckWithRootKey verifies a token minted by BakeFromRootKey against its root
// key, accepting time-before caveats that haven't expired and any predicate
// accepted by one of the given matchers.
func CheckWithRootKey(ctx context.Context, rootKey []byte, t *macaroon.Token,
	ms ...Matcher) error {

	service, err := NewService(NewMemoryRootKeyStore(rootKey), "")
	if err != nil {
		return err
	}

	return service.CheckMacaroon(ctx, t, ms...)
}
