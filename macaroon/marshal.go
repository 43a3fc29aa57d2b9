package macaroon

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnmac/pktline"
)

// Field names of the version 1 wire format.
const (
	fieldLocation       = "location"
	fieldIdentifier     = "identifier"
	fieldCaveatID       = "cid"
	fieldVerificationID = "vid"
	fieldCaveatLocation = "cl"
	fieldSignature      = "signature"
)

// MarshalBinary encodes the token as a stream of packets:
//
//	[location] identifier (cid [vid cl])* signature
func (t *Token) MarshalBinary() ([]byte, error) {
	var (
		buf []byte
		err error
	)
	t.location.WhenSome(func(loc []byte) {
		buf, err = pktline.Encode(buf, fieldLocation, loc)
	})
	if err != nil {
		return nil, err
	}

	buf, err = pktline.Encode(buf, fieldIdentifier, t.identifier)
	if err != nil {
		return nil, err
	}

	for i, c := range t.caveats {
		buf, err = pktline.Encode(buf, fieldCaveatID, c.CaveatID())
		if err != nil {
			return nil, fmt.Errorf("caveat %d: %w", i, err)
		}

		tp, ok := c.(ThirdPartyCaveat)
		if !ok {
			continue
		}

		buf, err = pktline.Encode(
			buf, fieldVerificationID, tp.VerificationID,
		)
		if err != nil {
			return nil, fmt.Errorf("caveat %d: %w", i, err)
		}

		buf, err = pktline.Encode(buf, fieldCaveatLocation, tp.Location)
		if err != nil {
			return nil, fmt.Errorf("caveat %d: %w", i, err)
		}
	}

	return pktline.Encode(buf, fieldSignature, t.tag[:])
}

// Serialize returns the URL-safe, unpadded base64 encoding of the token's
// packet stream.
func (t *Token) Serialize() ([]byte, error) {
	raw, err := t.MarshalBinary()
	if err != nil {
		return nil, err
	}

	out := make([]byte, base64.RawURLEncoding.EncodedLen(len(raw)))
	base64.RawURLEncoding.Encode(out, raw)

	return out, nil
}

// base64Decode decodes data in any of the URL-safe or standard alphabets,
// with or without padding.
func base64Decode(data []byte) ([]byte, error) {
	s := strings.TrimRight(string(data), "=")

	encoding := base64.RawURLEncoding
	if strings.ContainsAny(s, "+/") {
		encoding = base64.RawStdEncoding
	}

	out, err := encoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBase64Decode, err)
	}

	return out, nil
}

// Deserialize decodes a token produced by Serialize. Padded input and the
// standard base64 alphabet are accepted as well.
func Deserialize(data []byte) (*Token, error) {
	raw, err := base64Decode(data)
	if err != nil {
		return nil, err
	}

	var t Token
	if err := t.UnmarshalBinary(raw); err != nil {
		return nil, err
	}

	return &t, nil
}

// parseState tracks where in the packet grammar the parser is.
type parseState uint8

const (
	// stateStart expects an optional location or the identifier.
	stateStart parseState = iota

	// stateIdentifier expects the identifier after a location.
	stateIdentifier

	// stateCaveats expects a caveat or the signature.
	stateCaveats

	// stateDone is reached once the signature has been read.
	stateDone
)

// pendingCaveat collects the packets of the caveat currently being parsed.
type pendingCaveat struct {
	id       []byte
	vid      fn.Option[[]byte]
	location fn.Option[[]byte]
}

// finish turns the collected packets into a caveat. A caveat must carry
// either both or neither of its vid and cl packets.
func (p *pendingCaveat) finish() (Caveat, error) {
	switch {
	case p.vid.IsNone() && p.location.IsNone():
		return FirstPartyCaveat{Predicate: p.id}, nil

	case p.vid.IsSome() && p.location.IsSome():
		return ThirdPartyCaveat{
			ID:             p.id,
			VerificationID: p.vid.UnwrapOr(nil),
			Location:       p.location.UnwrapOr(nil),
		}, nil

	default:
		return nil, fmt.Errorf("%w: caveat needs both vid and cl, or "+
			"neither", ErrPacketOrdering)
	}
}

// UnmarshalBinary decodes a packet stream produced by MarshalBinary into t.
// It never panics on malformed input. On error t is left unchanged.
func (t *Token) UnmarshalBinary(data []byte) error {
	var (
		state   = stateStart
		out     Token
		pending *pendingCaveat
		offset  int
	)

	// flush appends the caveat being collected, if any.
	flush := func() error {
		if pending == nil {
			return nil
		}

		c, err := pending.finish()
		if err != nil {
			return err
		}
		out.caveats = append(out.caveats, c)
		pending = nil

		return nil
	}

	for offset < len(data) {
		if state == stateDone {
			return fmt.Errorf("%w: %d trailing bytes after "+
				"signature", ErrPacketOrdering,
				len(data)-offset)
		}

		p, err := pktline.Decode(data, offset)
		if err != nil {
			return fmt.Errorf("packet at offset %d: %w", offset,
				err)
		}
		offset += p.Len

		// Only a location, once, may precede the identifier.
		if state != stateCaveats {
			switch {
			case p.Field == fieldLocation && state == stateStart:
				out.location = fn.Some(p.Value)
				state = stateIdentifier

			case p.Field == fieldIdentifier:
				out.identifier = p.Value
				state = stateCaveats

			default:
				return fmt.Errorf("%w: got %q",
					ErrMissingIdentifier, p.Field)
			}

			continue
		}

		switch p.Field {
		case fieldLocation, fieldIdentifier:
			return fmt.Errorf("%w: repeated %s",
				ErrPacketOrdering, p.Field)

		case fieldCaveatID:
			if err := flush(); err != nil {
				return err
			}
			pending = &pendingCaveat{id: p.Value}

		case fieldVerificationID:
			if pending == nil || pending.vid.IsSome() {
				return fmt.Errorf("%w: vid without an open "+
					"caveat", ErrPacketOrdering)
			}
			pending.vid = fn.Some(p.Value)

		case fieldCaveatLocation:
			if pending == nil || pending.location.IsSome() {
				return fmt.Errorf("%w: cl without an open "+
					"caveat", ErrPacketOrdering)
			}
			pending.location = fn.Some(p.Value)

		case fieldSignature:
			if err := flush(); err != nil {
				return err
			}
			if len(p.Value) != TagLen {
				return fmt.Errorf("%w: got %d bytes, want %d",
					ErrSignatureLength, len(p.Value),
					TagLen)
			}
			copy(out.tag[:], p.Value)
			state = stateDone

		default:
			return fmt.Errorf("%w: %q", ErrUnknownPacketType,
				p.Field)
		}
	}

	switch state {
	case stateStart, stateIdentifier:
		return ErrMissingIdentifier

	case stateCaveats:
		return ErrMissingSignature
	}

	log.Tracef("Decoded token with %d caveats", len(out.caveats))

	*t = out

	return nil
}
