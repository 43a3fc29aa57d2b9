package macaroons_test

import (
	"context"
	"path"
	"testing"

	"github.com/btcsuite/btcwallet/snacl"
	"github.com/lightningnetwork/lnd/kvdb"
	"github.com/lightningnetwork/lnmac/macaroons"
	"github.com/stretchr/testify/require"
)

var (
	defaultRootKeyIDContext = macaroons.ContextWithRootKeyID(
		context.Background(), macaroons.DefaultRootKeyID,
	)
)

// newTestStore creates a new bolt DB in a temporary directory and then
// initializes a root key storage for that DB.
func newTestStore(t *testing.T) (string, *macaroons.RootKeyStorage) {
	tempDir := t.TempDir()

	store := openTestStore(t, tempDir)

	return tempDir, store
}

// openTestStore opens an existing bolt DB and then initializes a root key
// storage for that DB.
func openTestStore(t *testing.T, tempDir string) *macaroons.RootKeyStorage {
	db, err := kvdb.Create(
		kvdb.BoltBackendName, path.Join(tempDir, "weks.db"), true,
		kvdb.DefaultDBTimeout, false,
	)
	require.NoError(t, err)

	store, err := macaroons.NewRootKeyStorage(db)
	if err != nil {
		_ = db.Close()
		t.Fatalf("Error creating root key store: %v", err)
	}

	t.Cleanup(func() {
		_ = store.Close()
		_ = db.Close()
	})

	return store
}

// TestStore tests the normal use cases of the store like creating, unlocking,
// reading keys and closing it.
func TestStore(t *testing.T) {
	tempDir, store := newTestStore(t)

	_, _, err := store.RootKey(context.TODO())
	require.Equal(t, macaroons.ErrStoreLocked, err)

	_, err = store.Get(context.TODO(), nil)
	require.Equal(t, macaroons.ErrStoreLocked, err)

	pw := []byte("weks")
	err = store.CreateUnlock(&pw)
	require.NoError(t, err)

	// Check ErrContextRootKeyID is returned when no root key ID found in
	// context.
	_, _, err = store.RootKey(context.TODO())
	require.Equal(t, macaroons.ErrContextRootKeyID, err)

	// Check ErrMissingRootKeyID is returned when empty root key ID is used.
	emptyKeyID := make([]byte, 0)
	badCtx := macaroons.ContextWithRootKeyID(context.TODO(), emptyKeyID)
	_, _, err = store.RootKey(badCtx)
	require.Equal(t, macaroons.ErrMissingRootKeyID, err)

	// Create a context with illegal root key ID value.
	encryptedKeyID := []byte("enckey")
	badCtx = macaroons.ContextWithRootKeyID(context.TODO(), encryptedKeyID)
	_, _, err = store.RootKey(badCtx)
	require.Equal(t, macaroons.ErrKeyValueForbidden, err)

	// The encryption key can't be read back as a root key either.
	_, err = store.Get(defaultRootKeyIDContext, encryptedKeyID)
	require.Equal(t, macaroons.ErrKeyValueForbidden, err)

	// Create a context with root key ID value.
	key, id, err := store.RootKey(defaultRootKeyIDContext)
	require.NoError(t, err)
	require.Len(t, key, macaroons.RootKeyLen)

	rootID := id
	require.Equal(t, macaroons.DefaultRootKeyID, rootID)

	key2, err := store.Get(defaultRootKeyIDContext, id)
	require.NoError(t, err)
	require.Equal(t, key, key2)

	// Unknown ids aren't created by Get.
	_, err = store.Get(defaultRootKeyIDContext, []byte("unknown"))
	require.ErrorIs(t, err, macaroons.ErrRootKeyNotFound)

	badpw := []byte("badweks")
	err = store.CreateUnlock(&badpw)
	require.Equal(t, macaroons.ErrAlreadyUnlocked, err)

	_ = store.Close()
	_ = store.Backend.Close()

	// Between here and the re-opening of the store, it's possible to get
	// a double-close, but that's not such a big deal since the tests will
	// fail anyway in that case.
	store = openTestStore(t, tempDir)

	err = store.CreateUnlock(&badpw)
	require.Equal(t, snacl.ErrInvalidPassword, err)

	err = store.CreateUnlock(nil)
	require.Equal(t, macaroons.ErrPasswordRequired, err)

	_, _, err = store.RootKey(defaultRootKeyIDContext)
	require.Equal(t, macaroons.ErrStoreLocked, err)

	_, err = store.Get(defaultRootKeyIDContext, nil)
	require.Equal(t, macaroons.ErrStoreLocked, err)

	err = store.CreateUnlock(&pw)
	require.NoError(t, err)

	key, err = store.Get(defaultRootKeyIDContext, rootID)
	require.NoError(t, err)
	require.Equal(t, key, key2)

	key, id, err = store.RootKey(defaultRootKeyIDContext)
	require.NoError(t, err)
	require.Equal(t, key, key2)
	require.Equal(t, rootID, id)
}

// TestStoreGenerateNewRootKey tests that a root key can be replaced with a new
// one in the store without changing the password.
func TestStoreGenerateNewRootKey(t *testing.T) {
	_, store := newTestStore(t)

	// The store must be unlocked to replace the root key.
	err := store.GenerateNewRootKey()
	require.Equal(t, macaroons.ErrStoreLocked, err)

	// Unlock the store and read the current key.
	pw := []byte("weks")
	err = store.CreateUnlock(&pw)
	require.NoError(t, err)
	oldRootKey, _, err := store.RootKey(defaultRootKeyIDContext)
	require.NoError(t, err)

	// Add a few more root keys, all of which must be replaced too.
	otherIDs := [][]byte{[]byte("1"), []byte("2"), []byte("3")}
	oldKeys := make([][]byte, len(otherIDs))
	for i, id := range otherIDs {
		idCtx := macaroons.ContextWithRootKeyID(context.TODO(), id)
		oldKeys[i], _, err = store.RootKey(idCtx)
		require.NoError(t, err)
	}
	oldIDs, err := store.ListMacaroonIDs(context.TODO())
	require.NoError(t, err)

	// Replace the root key with a new, random one.
	err = store.GenerateNewRootKey()
	require.NoError(t, err)

	for i, id := range otherIDs {
		newKey, err := store.Get(context.TODO(), id)
		require.NoError(t, err)
		require.Len(t, newKey, macaroons.RootKeyLen)
		require.NotEqual(t, oldKeys[i], newKey)
	}

	// No ids were added or lost while rotating.
	newIDs, err := store.ListMacaroonIDs(context.TODO())
	require.NoError(t, err)
	require.Equal(t, oldIDs, newIDs)

	// Finally, read the root key from the DB and compare it to the one
	// we got returned earlier. This makes sure that the encryption/
	// decryption of the key in the DB worked as expected too.
	newRootKey, _, err := store.RootKey(defaultRootKeyIDContext)
	require.NoError(t, err)
	require.NotEqual(t, oldRootKey, newRootKey)
}

// TestStoreChangePassword tests that the password for the store can be changed
// without changing the root key.
func TestStoreChangePassword(t *testing.T) {
	tempDir, store := newTestStore(t)

	// The store must be unlocked to replace the root key.
	err := store.ChangePassword(nil, nil)
	require.Equal(t, macaroons.ErrStoreLocked, err)

	// Unlock the DB and read the current root key. This will need to stay
	// the same after changing the password for the test to succeed.
	pw := []byte("weks")
	err = store.CreateUnlock(&pw)
	require.NoError(t, err)
	rootKey, _, err := store.RootKey(defaultRootKeyIDContext)
	require.NoError(t, err)

	// Both passwords must be set.
	err = store.ChangePassword(pw, nil)
	require.Equal(t, macaroons.ErrPasswordRequired, err)
	err = store.ChangePassword(nil, pw)
	require.Equal(t, macaroons.ErrPasswordRequired, err)

	// Make sure that an error is returned if we try to change the password
	// without the correct old password.
	wrongPw := []byte("wrong")
	newPw := []byte("newpassword")
	err = store.ChangePassword(wrongPw, newPw)
	require.Equal(t, snacl.ErrInvalidPassword, err)

	// Now really do change the password.
	err = store.ChangePassword(pw, newPw)
	require.NoError(t, err)

	// Close the store. This will close the underlying DB and we need to
	// create a new store instance. Let's make sure we can't use it again
	// after closing.
	err = store.Close()
	require.NoError(t, err)
	require.NoError(t, store.Backend.Close())

	err = store.CreateUnlock(&newPw)
	require.Error(t, err)

	// Let's open it again and try unlocking with the new password.
	store = openTestStore(t, tempDir)
	err = store.CreateUnlock(&newPw)
	require.NoError(t, err)

	// Finally, read the root key from the DB using the new password and
	// make sure the root key stayed the same.
	rootKeyDb, _, err := store.RootKey(defaultRootKeyIDContext)
	require.NoError(t, err)
	require.Equal(t, rootKey, rootKeyDb)
}

// TestStoreListAndDelete covers listing and deleting root key ids.
func TestStoreListAndDelete(t *testing.T) {
	ctx := context.Background()
	_, store := newTestStore(t)

	_, err := store.ListMacaroonIDs(ctx)
	require.Equal(t, macaroons.ErrStoreLocked, err)
	_, err = store.DeleteMacaroonID(ctx, []byte("1"))
	require.Equal(t, macaroons.ErrStoreLocked, err)

	pw := []byte("weks")
	require.NoError(t, store.CreateUnlock(&pw))

	ids := [][]byte{macaroons.DefaultRootKeyID, []byte("1"), []byte("2")}
	for _, id := range ids {
		idCtx := macaroons.ContextWithRootKeyID(ctx, id)
		_, _, err := store.RootKey(idCtx)
		require.NoError(t, err)
	}

	// The encryption key is never listed.
	listed, err := store.ListMacaroonIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, ids, listed)

	_, err = store.DeleteMacaroonID(ctx, nil)
	require.Equal(t, macaroons.ErrMissingRootKeyID, err)
	_, err = store.DeleteMacaroonID(ctx, macaroons.DefaultRootKeyID)
	require.Equal(t, macaroons.ErrDeletionForbidden, err)
	_, err = store.DeleteMacaroonID(ctx, []byte("enckey"))
	require.Equal(t, macaroons.ErrDeletionForbidden, err)

	deleted, err := store.DeleteMacaroonID(ctx, []byte("missing"))
	require.NoError(t, err)
	require.Nil(t, deleted)

	deleted, err = store.DeleteMacaroonID(ctx, []byte("1"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), deleted)

	listed, err = store.ListMacaroonIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, [][]byte{macaroons.DefaultRootKeyID, []byte("2")},
		listed)
}

// TestStoreMissingBucket checks that every operation reports a missing root
// key bucket instead of dereferencing it.
func TestStoreMissingBucket(t *testing.T) {
	ctx := context.Background()
	_, store := newTestStore(t)

	pw := []byte("weks")
	require.NoError(t, store.CreateUnlock(&pw))

	err := kvdb.Update(store.Backend, func(tx kvdb.RwTx) error {
		return tx.DeleteTopLevelBucket(macaroons.RootKeyBucketName)
	}, func() {})
	require.NoError(t, err)

	_, err = store.ListMacaroonIDs(ctx)
	require.Equal(t, macaroons.ErrRootKeyBucketNotFound, err)

	_, err = store.DeleteMacaroonID(ctx, []byte("1"))
	require.Equal(t, macaroons.ErrRootKeyBucketNotFound, err)

	_, err = store.Get(ctx, macaroons.DefaultRootKeyID)
	require.Equal(t, macaroons.ErrRootKeyBucketNotFound, err)

	_, _, err = store.RootKey(defaultRootKeyIDContext)
	require.Equal(t, macaroons.ErrRootKeyBucketNotFound, err)

	require.Equal(
		t, macaroons.ErrRootKeyBucketNotFound,
		store.GenerateNewRootKey(),
	)
}
