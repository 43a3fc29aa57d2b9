package macaroons

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"github.com/lightningnetwork/lnd/tlv"
)

const (
	// IdentifierVersion is the only identifier version currently minted
	// and understood.
	IdentifierVersion uint8 = 0

	// NonceLen is the size of the random nonce in an identifier.
	NonceLen = 32

	idVersionType   tlv.Type = 0
	idRootKeyIDType tlv.Type = 1
	idNonceType     tlv.Type = 2
)

var (
	// ErrInvalidID is returned when a token identifier can't be decoded.
	ErrInvalidID = errors.New("invalid token identifier")

	// ErrUnknownVersion is returned when a token identifier has a version
	// we don't know.
	ErrUnknownVersion = errors.New("unknown token identifier version")
)

// Identifier is the decoded identifier of a token minted by a Service. It
// names the root key the token is bound to, and carries a random nonce so
// that two tokens minted from the same root key never share an identifier.
type Identifier struct {
	// Version is the identifier encoding version.
	Version uint8

	// RootKeyID is the id of the root key in the root key store.
	RootKeyID []byte

	// Nonce makes every identifier unique.
	Nonce [NonceLen]byte
}

// NewIdentifier returns an identifier for the given root key id with a fresh
// random nonce.
func NewIdentifier(rootKeyID []byte) (Identifier, error) {
	id := Identifier{
		Version:   IdentifierVersion,
		RootKeyID: rootKeyID,
	}
	if _, err := io.ReadFull(rand.Reader, id.Nonce[:]); err != nil {
		return Identifier{}, fmt.Errorf("unable to generate nonce: %w",
			err)
	}

	return id, nil
}

// records returns the TLV records of the identifier.
func (i *Identifier) records() []tlv.Record {
	return []tlv.Record{
		tlv.MakePrimitiveRecord(idVersionType, &i.Version),
		tlv.MakePrimitiveRecord(idRootKeyIDType, &i.RootKeyID),
		tlv.MakePrimitiveRecord(idNonceType, &i.Nonce),
	}
}

// EncodeIdentifier serializes the identifier as a TLV stream.
func EncodeIdentifier(id Identifier) ([]byte, error) {
	stream, err := tlv.NewStream(id.records()...)
	if err != nil {
		return nil, err
	}

	var b bytes.Buffer
	if err := stream.Encode(&b); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// DecodeIdentifier parses an identifier produced by EncodeIdentifier. All
// three records must be present.
func DecodeIdentifier(raw []byte) (Identifier, error) {
	var id Identifier
	stream, err := tlv.NewStream(id.records()...)
	if err != nil {
		return Identifier{}, err
	}

	parsed, err := stream.DecodeWithParsedTypes(bytes.NewReader(raw))
	if err != nil {
		return Identifier{}, fmt.Errorf("%w: %v", ErrInvalidID, err)
	}

	for _, typ := range []tlv.Type{
		idVersionType, idRootKeyIDType, idNonceType,
	} {
		if _, ok := parsed[typ]; !ok {
			return Identifier{}, fmt.Errorf("%w: missing record "+
				"type %d", ErrInvalidID, typ)
		}
	}

	if id.Version != IdentifierVersion {
		return Identifier{}, fmt.Errorf("%w: %d", ErrUnknownVersion,
			id.Version)
	}

	if len(id.RootKeyID) == 0 {
		return Identifier{}, fmt.Errorf("%w: empty root key id",
			ErrInvalidID)
	}

	return id, nil
}
