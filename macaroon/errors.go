package macaroon

import (
	"errors"

	"github.com/lightningnetwork/lnmac/pktline"
)

var (
	// ErrBase64Decode is returned when a serialized token isn't valid
	// base64.
	ErrBase64Decode = errors.New("unable to decode base64")

	// ErrPacketLength is returned when a packet's length prefix is
	// invalid or runs past the end of the token.
	ErrPacketLength = pktline.ErrPacketLength

	// ErrMalformedPacket is returned when a packet lacks its field
	// separator or newline terminator.
	ErrMalformedPacket = pktline.ErrMalformedPacket

	// ErrPacketTooLarge is returned when a token field is too large to be
	// framed.
	ErrPacketTooLarge = pktline.ErrPacketTooLarge

	// ErrPacketOrdering is returned when packets appear in an order the
	// wire format doesn't allow.
	ErrPacketOrdering = errors.New("packet types are not in the right " +
		"order")

	// ErrUnknownPacketType is returned for packets with an unrecognized
	// field name.
	ErrUnknownPacketType = errors.New("packet found with unknown type")

	// ErrMissingIdentifier is returned when a token doesn't start with an
	// identifier, optionally preceded by a location.
	ErrMissingIdentifier = errors.New("no 'identifier' found at " +
		"beginning of token")

	// ErrMissingSignature is returned when a token ends without a
	// signature packet.
	ErrMissingSignature = errors.New("no 'signature' found in token")

	// ErrSignatureLength is returned when the signature packet doesn't
	// hold exactly TagLen bytes.
	ErrSignatureLength = errors.New("signature length incorrect")

	// ErrIntegrityFailure is returned when the recomputed tag doesn't
	// match the token's tag.
	ErrIntegrityFailure = errors.New("token signature mismatch")

	// ErrVerificationID is returned when a verification id can't be
	// opened with the given caveat key.
	ErrVerificationID = errors.New("unable to open verification id")

	// ErrInvalidCondition is returned when a condition describes neither
	// a first-party nor a third-party caveat.
	ErrInvalidCondition = errors.New("invalid caveat condition")
)
