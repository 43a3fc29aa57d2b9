package macaroon

import (
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

// nonceLen is the size of the secretbox nonce prefixed to every verification
// id.
const nonceLen = 24

// sealVerificationID seals tag under the personalized caveat key. The result
// is the random nonce followed by the secretbox.
func sealVerificationID(caveatKey []byte, tag Tag,
	rand io.Reader) ([]byte, error) {

	var nonce [nonceLen]byte
	if _, err := io.ReadFull(rand, nonce[:]); err != nil {
		return nil, fmt.Errorf("unable to generate nonce: %w", err)
	}

	key := [32]byte(personalizeKey(caveatKey))
	defer clear(key[:])

	return secretbox.Seal(nonce[:], tag[:], &nonce, &key), nil
}

// OpenVerificationID recovers the tag a third-party caveat sealed into its
// verification id. Only the holder of the caveat key the caveat was created
// with can do this, which makes it the binding a discharge has to prove.
func OpenVerificationID(caveatKey, verificationID []byte) (Tag, error) {
	if len(verificationID) < nonceLen+secretbox.Overhead {
		return Tag{}, fmt.Errorf("%w: %d bytes is too short",
			ErrVerificationID, len(verificationID))
	}

	var nonce [nonceLen]byte
	copy(nonce[:], verificationID[:nonceLen])

	key := [32]byte(personalizeKey(caveatKey))
	defer clear(key[:])

	plain, ok := secretbox.Open(
		nil, verificationID[nonceLen:], &nonce, &key,
	)
	if !ok {
		return Tag{}, fmt.Errorf("%w: authentication failed",
			ErrVerificationID)
	}
	if len(plain) != TagLen {
		return Tag{}, fmt.Errorf("%w: sealed value is %d bytes",
			ErrVerificationID, len(plain))
	}

	return Tag(plain), nil
}
