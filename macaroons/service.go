package macaroons

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnmac/macaroon"
	"github.com/lightningnetwork/lnmac/monitoring"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
)

const (
	// MetadataKey is the gRPC metadata key under which clients pass their
	// serialized token.
	MetadataKey = "macaroon"

	// CondMethod is the tag of equality caveats that restrict a token to
	// a single RPC method.
	CondMethod = "method"
)

var (
	// ErrMissingRootKeyID specifies the root key ID is missing.
	ErrMissingRootKeyID = errors.New("missing root key ID")

	// ErrNotExtendedStore is returned by the store management calls of a
	// service whose root key store can't be managed.
	ErrNotExtendedStore = errors.New("root key store doesn't support " +
		"this operation")
)

// ServiceOption customizes a Service.
type ServiceOption func(*Service)

// WithClock sets the clock time-before caveats are checked against.
func WithClock(c clock.Clock) ServiceOption {
	return func(s *Service) {
		s.clock = c
	}
}

// WithMatchers registers additional matchers with the service. They apply to
// every token the service checks.
func WithMatchers(ms ...Matcher) ServiceOption {
	return func(s *Service) {
		s.verifier.Register(ms...)
	}
}

// WithDischargeChecker sets the checker for third-party caveats.
func WithDischargeChecker(d DischargeChecker) ServiceOption {
	return func(s *Service) {
		s.verifier.SetDischargeChecker(d)
	}
}

// Service mints tokens from the root keys of a RootKeyStore and checks
// tokens presented to it.
type Service struct {
	// Location is recorded as the location hint of every minted token.
	Location string

	rks      RootKeyStore
	verifier *Verifier
	clock    clock.Clock
}

// NewService returns a service backed by the given root key store. Matchers
// for time-before caveats are always registered.
func NewService(rks RootKeyStore, location string,
	opts ...ServiceOption) (*Service, error) {

	if rks == nil {
		return nil, errors.New("root key store required")
	}

	s := &Service{
		Location: location,
		rks:      rks,
		verifier: NewVerifier(),
		clock:    clock.NewDefaultClock(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.verifier.Register(TimeBeforeMatcher(s.clock))

	return s, nil
}

// extendedStore returns the root key store if it can be managed.
func (s *Service) extendedStore() (ExtendedRootKeyStore, error) {
	rks, ok := s.rks.(ExtendedRootKeyStore)
	if !ok {
		return nil, ErrNotExtendedStore
	}

	return rks, nil
}

// NewMacaroon mints a token from the root key stored under rootKeyID and
// applies the given constraints to it.
func (s *Service) NewMacaroon(ctx context.Context, rootKeyID []byte,
	constraints ...Constraint) (*macaroon.Token, error) {

	// Check rootKeyID is not called with nil or empty bytes. We want the
	// caller to be aware the value of root key ID is used, so we won't
	// replace it with the DefaultRootKeyID if not specified.
	if len(rootKeyID) == 0 {
		return nil, ErrMissingRootKeyID
	}

	ctx = ContextWithRootKeyID(ctx, rootKeyID)
	rootKey, id, err := s.rks.RootKey(ctx)
	if err != nil {
		return nil, err
	}

	identifier, err := NewIdentifier(id)
	if err != nil {
		return nil, err
	}
	rawID, err := EncodeIdentifier(identifier)
	if err != nil {
		return nil, err
	}

	location := fn.None[[]byte]()
	if s.Location != "" {
		location = fn.Some([]byte(s.Location))
	}

	token := macaroon.New(rootKey, rawID, location)

	log.Debugf("Minted token with root key id %q", id)

	return AddConstraints(token, constraints...)
}

// CheckMacaroon verifies the token against the root key named in its
// identifier. First-party caveats must be accepted by the service's
// matchers or by one of extra.
func (s *Service) CheckMacaroon(ctx context.Context, t *macaroon.Token,
	extra ...Matcher) error {

	err := s.checkMacaroon(ctx, t, extra...)
	monitoring.ObserveVerification(verificationResult(err))

	return err
}

func (s *Service) checkMacaroon(ctx context.Context, t *macaroon.Token,
	extra ...Matcher) error {

	id, err := DecodeIdentifier(t.Identifier())
	if err != nil {
		return err
	}

	rootKey, err := s.rks.Get(ctx, id.RootKeyID)
	if err != nil {
		return fmt.Errorf("unable to get root key %q: %w",
			id.RootKeyID, err)
	}

	var checker Checker = s.verifier
	if len(extra) > 0 {
		checker = Or(s.verifier, NewVerifier(extra...))
	}

	if err := Verify(rootKey, t, checker); err != nil {
		log.Debugf("Token with root key id %q rejected: %v",
			id.RootKeyID, err)

		return err
	}

	return nil
}

// verificationResult maps a verification error to its metric label.
func verificationResult(err error) string {
	var caveatErr *CaveatError
	switch {
	case err == nil:
		return monitoring.ResultOK

	case errors.Is(err, macaroon.ErrIntegrityFailure):
		return monitoring.ResultIntegrity

	case errors.As(err, &caveatErr):
		return monitoring.ResultCaveat

	default:
		return monitoring.ResultOther
	}
}

// ValidateMacaroon reads the token sent with a gRPC call from the incoming
// metadata and checks it. Tokens may be locked to the caller's IP address and
// to the called method.
func (s *Service) ValidateMacaroon(ctx context.Context, fullMethod string,
	extra ...Matcher) error {

	// Get macaroon bytes from context and unmarshal into macaroon.
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return fmt.Errorf("unable to get metadata from context")
	}
	if len(md[MetadataKey]) != 1 {
		return fmt.Errorf("expected 1 macaroon, got %d",
			len(md[MetadataKey]))
	}

	token, err := macaroon.Deserialize([]byte(md[MetadataKey][0]))
	if err != nil {
		return err
	}

	matchers := append([]Matcher{
		Equality(CondMethod, fullMethod),
	}, extra...)

	// Get peer info and extract IP address from it for the IP lock
	// check. Without it, IP locked tokens are rejected.
	if pr, ok := peer.FromContext(ctx); ok && pr.Addr != nil {
		peerAddr, _, err := net.SplitHostPort(pr.Addr.String())
		if err == nil {
			matchers = append(
				matchers, IPLockMatcher(net.ParseIP(peerAddr)),
			)
		}
	}

	return s.CheckMacaroon(ctx, token, matchers...)
}

// CreateUnlock unlocks the root key store, creating its encryption key from
// password if it doesn't have one yet.
func (s *Service) CreateUnlock(password *[]byte) error {
	rks, err := s.extendedStore()
	if err != nil {
		return err
	}

	return rks.CreateUnlock(password)
}

// ListMacaroonIDs returns the ids of all stored root keys.
func (s *Service) ListMacaroonIDs(ctxt context.Context) ([][]byte, error) {
	rks, err := s.extendedStore()
	if err != nil {
		return nil, err
	}

	return rks.ListMacaroonIDs(ctxt)
}

// DeleteMacaroonID removes a root key, invalidating every token minted from
// it.
func (s *Service) DeleteMacaroonID(ctxt context.Context,
	rootKeyID []byte) ([]byte, error) {

	rks, err := s.extendedStore()
	if err != nil {
		return nil, err
	}

	return rks.DeleteMacaroonID(ctxt, rootKeyID)
}

// ChangePassword re-encrypts the root key store under a new password.
func (s *Service) ChangePassword(oldPw, newPw []byte) error {
	rks, err := s.extendedStore()
	if err != nil {
		return err
	}

	return rks.ChangePassword(oldPw, newPw)
}

// GenerateNewRootKey replaces every stored root key with a fresh one.
func (s *Service) GenerateNewRootKey() error {
	rks, err := s.extendedStore()
	if err != nil {
		return err
	}

	return rks.GenerateNewRootKey()
}

// Close closes the root key store, if it can be closed.
func (s *Service) Close() error {
	rks, ok := s.rks.(ExtendedRootKeyStore)
	if !ok {
		return nil
	}

	return rks.Close()
}
