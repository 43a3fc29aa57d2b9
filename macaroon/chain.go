package macaroon

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"hash"
)

// TagLen is the size of a token tag in bytes.
const TagLen = sha256.Size

// Tag is the chained MAC authenticating a token's identifier and its ordered
// caveats.
type Tag [TagLen]byte

// String returns the hex encoding of the tag.
func (t Tag) String() string {
	return hex.EncodeToString(t[:])
}

// Bytes returns a copy of the tag as a byte slice.
func (t Tag) Bytes() []byte {
	return append([]byte{}, t[:]...)
}

// keyGenerator is the domain separation key used to personalize root keys and
// discharge keys before they are used as MAC keys: "macaroons-key-generator"
// right padded with zeroes.
var keyGenerator = func() [32]byte {
	var k [32]byte
	copy(k[:], "macaroons-key-generator")
	return k
}()

// keyedHash returns HMAC-SHA256 of msg under key.
func keyedHash(key, msg []byte) Tag {
	mac := hmac.New(sha256.New, key)
	mac.Write(msg)

	var tag Tag
	mac.Sum(tag[:0])

	return tag
}

// personalizeKey derives the MAC key used in place of a raw root or discharge
// key.
func personalizeKey(key []byte) Tag {
	return keyedHash(keyGenerator[:], key)
}

// chainHasher accumulates several values under one running tag. Each update
// feeds the fixed size MAC of its input into an outer MAC keyed by the same
// tag.
type chainHasher struct {
	key   Tag
	outer hash.Hash
}

// newChainHasher returns an accumulator keyed by the running tag.
func newChainHasher(key Tag) *chainHasher {
	return &chainHasher{
		key:   key,
		outer: hmac.New(sha256.New, key[:]),
	}
}

// Update adds data to the accumulator.
func (c *chainHasher) Update(data []byte) {
	inner := keyedHash(c.key[:], data)
	c.outer.Write(inner[:])
}

// Finalize returns the accumulated tag.
func (c *chainHasher) Finalize() Tag {
	var tag Tag
	c.outer.Sum(tag[:0])

	return tag
}

// rootTag computes the tag of a token without caveats.
func rootTag(rootKey, identifier []byte) Tag {
	signingKey := personalizeKey(rootKey)
	return keyedHash(signingKey[:], identifier)
}

// bindFirstParty chains a first-party caveat onto tag.
func bindFirstParty(tag Tag, id []byte) Tag {
	return keyedHash(tag[:], id)
}

// bindThirdParty chains a third-party caveat onto tag, authenticating both
// its id and its verification id.
func bindThirdParty(tag Tag, id, verificationID []byte) Tag {
	h := newChainHasher(tag)
	h.Update(id)
	h.Update(verificationID)

	return h.Finalize()
}
