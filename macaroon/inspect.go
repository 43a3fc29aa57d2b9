package macaroon

import (
	"encoding/hex"
	"unicode"
	"unicode/utf8"
)

// CaveatInspection is the printable form of a single caveat.
type CaveatInspection struct {
	Index          int    `json:"index"`
	ThirdParty     bool   `json:"third_party"`
	ID             string `json:"id"`
	VerificationID string `json:"verification_id,omitempty"`
	Location       string `json:"location,omitempty"`
}

// Inspection is the printable form of a token.
type Inspection struct {
	Identifier string             `json:"identifier"`
	Location   string             `json:"location,omitempty"`
	Caveats    []CaveatInspection `json:"caveats"`
	Signature  string             `json:"signature"`
}

// Inspect returns a printable summary of the token. Byte fields are shown as
// text when they are printable and as hex otherwise.
func (t *Token) Inspect() Inspection {
	caveats := make([]CaveatInspection, 0, len(t.caveats))
	for i, c := range t.caveats {
		ci := CaveatInspection{
			Index:      i,
			ThirdParty: c.ThirdParty(),
			ID:         printable(c.CaveatID()),
		}
		if tp, ok := c.(ThirdPartyCaveat); ok {
			ci.VerificationID = hex.EncodeToString(
				tp.VerificationID,
			)
			ci.Location = printable(tp.Location)
		}
		caveats = append(caveats, ci)
	}

	var location string
	t.location.WhenSome(func(loc []byte) {
		location = printable(loc)
	})

	return Inspection{
		Identifier: printable(t.identifier),
		Location:   location,
		Caveats:    caveats,
		Signature:  t.tag.String(),
	}
}

// printable returns b as a string if it is printable UTF-8 and hex encoded
// otherwise.
func printable(b []byte) string {
	if !utf8.Valid(b) {
		return hex.EncodeToString(b)
	}

	for _, r := range string(b) {
		if !unicode.IsPrint(r) {
			return hex.EncodeToString(b)
		}
	}

	return string(b)
}
