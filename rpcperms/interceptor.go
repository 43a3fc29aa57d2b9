package rpcperms

import (
	"context"
	"fmt"
	"sync"

	"github.com/btcsuite/btclog/v2"
	grpc_middleware "github.com/grpc-ecosystem/go-grpc-middleware"
	"github.com/lightningnetwork/lnmac/macaroons"
	"github.com/lightningnetwork/lnmac/monitoring"
	"google.golang.org/grpc"
)

// InterceptorChain is a struct that can be added to the running GRPC server,
// intercepting API calls. This is useful for logging, enforcing permissions
// etc.
type InterceptorChain struct {
	// noMacaroons should be set true if we don't want to check tokens.
	noMacaroons bool

	// svc is the token service used to enforce permissions in case tokens
	// are used.
	svc *macaroons.Service

	// permissionMap holds the matchers each method accepts caveats with,
	// on top of the ones registered with the service.
	permissionMap map[string][]macaroons.Matcher

	// whitelist defines methods that we don't require tokens to access.
	whitelist map[string]struct{}

	// rpcsLog is the logger used to log calls to the RPCs intercepted.
	rpcsLog btclog.Logger

	sync.RWMutex
}

// NewInterceptorChain creates a new InterceptorChain.
func NewInterceptorChain(log btclog.Logger,
	noMacaroons bool) *InterceptorChain {

	return &InterceptorChain{
		noMacaroons:   noMacaroons,
		permissionMap: make(map[string][]macaroons.Matcher),
		whitelist:     make(map[string]struct{}),
		rpcsLog:       log,
	}
}

// AddMacaroonService adds a token service to the interceptor. After this is
// done every RPC call made will have to pass a valid token to be accepted.
func (r *InterceptorChain) AddMacaroonService(svc *macaroons.Service) {
	r.Lock()
	defer r.Unlock()

	r.svc = svc
}

// AddWhitelist allows calls to the given method without a token.
func (r *InterceptorChain) AddWhitelist(method string) {
	r.Lock()
	defer r.Unlock()

	r.whitelist[method] = struct{}{}
}

// AddPermission registers a method that requires a token, together with the
// matchers for the caveats that are specific to it.
func (r *InterceptorChain) AddPermission(method string,
	matchers ...macaroons.Matcher) error {

	r.Lock()
	defer r.Unlock()

	if _, ok := r.permissionMap[method]; ok {
		return fmt.Errorf("detected duplicate macaroon constraints "+
			"for path: %v", method)
	}

	r.permissionMap[method] = matchers

	return nil
}

// Permissions returns the methods that currently require a token.
func (r *InterceptorChain) Permissions() []string {
	r.RLock()
	defer r.RUnlock()

	methods := make([]string, 0, len(r.permissionMap))
	for method := range r.permissionMap {
		methods = append(methods, method)
	}

	return methods
}

// CreateServerOpts creates the GRPC server options that can be added to a GRPC
// server in order to add this InterceptorChain.
func (r *InterceptorChain) CreateServerOpts() []grpc.ServerOption {
	// We'll add the token interceptors first. If tokens aren't disabled,
	// then these interceptors will enforce token authentication.
	unaryInterceptors := []grpc.UnaryServerInterceptor{
		r.macaroonUnaryServerInterceptor(),
	}
	strmInterceptors := []grpc.StreamServerInterceptor{
		r.macaroonStreamServerInterceptor(),
	}

	// Get interceptors for Prometheus to gather gRPC performance metrics.
	promUnaryInterceptors, promStrmInterceptors :=
		monitoring.GetPromInterceptors()

	unaryInterceptors = append(unaryInterceptors, promUnaryInterceptors...)
	strmInterceptors = append(strmInterceptors, promStrmInterceptors...)

	// We'll also add our logging interceptors as well, so we can
	// automatically log all errors that happen during RPC calls.
	unaryInterceptors = append(
		unaryInterceptors, errorLogUnaryServerInterceptor(r.rpcsLog),
	)
	strmInterceptors = append(
		strmInterceptors, errorLogStreamServerInterceptor(r.rpcsLog),
	)

	// Create server options from the interceptors we just set up.
	chainedUnary := grpc_middleware.WithUnaryServerChain(
		unaryInterceptors...,
	)
	chainedStream := grpc_middleware.WithStreamServerChain(
		strmInterceptors...,
	)

	return []grpc.ServerOption{chainedUnary, chainedStream}
}

// errorLogUnaryServerInterceptor is a simple UnaryServerInterceptor that will
// automatically log any errors that occur when serving a client's unary
// request.
func errorLogUnaryServerInterceptor(
	logger btclog.Logger) grpc.UnaryServerInterceptor {

	return func(ctx context.Context, req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler) (interface{}, error) {

		resp, err := handler(ctx, req)
		if err != nil {
			logger.Errorf("[%v]: %v", info.FullMethod, err)
		}

		return resp, err
	}
}

// errorLogStreamServerInterceptor is a simple StreamServerInterceptor that
// will log any errors that occur while processing a client or server streaming
// RPC.
func errorLogStreamServerInterceptor(
	logger btclog.Logger) grpc.StreamServerInterceptor {

	return func(srv interface{}, ss grpc.ServerStream,
		info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {

		err := handler(srv, ss)
		if err != nil {
			logger.Errorf("[%v]: %v", info.FullMethod, err)
		}

		return err
	}
}

// checkMacaroon validates that the context contains the token needed to
// invoke the given RPC method.
func (r *InterceptorChain) checkMacaroon(ctx context.Context,
	fullMethod string) error {

	// If noMacaroons is set, we'll always allow the call.
	if r.noMacaroons {
		return nil
	}

	r.RLock()
	_, whitelisted := r.whitelist[fullMethod]
	svc := r.svc
	matchers, known := r.permissionMap[fullMethod]
	r.RUnlock()

	// Check whether the method is whitelisted, if so we'll allow it
	// regardless of tokens.
	if whitelisted {
		return nil
	}

	// If the token service is not yet active, we cannot allow the call.
	if svc == nil {
		return fmt.Errorf("unable to determine macaroon permissions")
	}

	if !known {
		return fmt.Errorf("%s: unknown permissions required for method",
			fullMethod)
	}

	log.Tracef("Checking token for %v", fullMethod)

	return svc.ValidateMacaroon(ctx, fullMethod, matchers...)
}

// macaroonUnaryServerInterceptor is a GRPC interceptor that checks whether the
// request is authorized by the included token.
func (r *InterceptorChain) macaroonUnaryServerInterceptor() grpc.UnaryServerInterceptor { //nolint:ll
	return func(ctx context.Context, req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler) (interface{}, error) {

		// Check tokens.
		if err := r.checkMacaroon(ctx, info.FullMethod); err != nil {
			return nil, err
		}

		return handler(ctx, req)
	}
}

// macaroonStreamServerInterceptor is a GRPC interceptor that checks whether
// the request is authorized by the included token.
func (r *InterceptorChain) macaroonStreamServerInterceptor() grpc.StreamServerInterceptor { //nolint:ll
	return func(srv interface{}, ss grpc.ServerStream,
		info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {

		// Check tokens.
		err := r.checkMacaroon(ss.Context(), info.FullMethod)
		if err != nil {
			return err
		}

		return handler(srv, ss)
	}
}
