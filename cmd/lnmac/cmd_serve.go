package main

import (
	"fmt"
	"net"
	"strings"

	"github.com/lightningnetwork/lnmac"
	"github.com/lightningnetwork/lnmac/monitoring"
	"github.com/lightningnetwork/lnmac/rpcperms"
	"github.com/urfave/cli"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// tokenProtectedMethods are the methods of the health service that can only
// be called with a valid token.
var tokenProtectedMethods = []string{
	"/grpc.health.v1.Health/Check",
	"/grpc.health.v1.Health/Watch",
}

var serveCommand = cli.Command{
	Name:     "serve",
	Category: "Server",
	Usage:    "Serve a token protected gRPC endpoint.",
	Description: `
	Start a gRPC server on the configured rpclisten address that serves
	the standard gRPC health service. Every call must carry a token minted
	from the root key store in the "macaroon" metadata field, unless the
	server runs with no-macaroons set in the config.

	If the Prometheus exporter is enabled in the config, verification and
	gRPC metrics are exported as well.
	`,
	Action: serve,
}

func serve(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	root, rotator, err := lnmac.InitLogging(cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = rotator.Close()
	}()

	// Special show command to list supported subsystems and exit.
	if cfg.DebugLevel == "show" {
		fmt.Println("Supported subsystems",
			strings.Join(root.SupportedSubsystems(), ", "))

		return nil
	}

	log := lnmac.Logger()
	chain := rpcperms.NewInterceptorChain(log, cfg.NoMacaroons)

	if !cfg.NoMacaroons {
		svc, cleanUp, err := openService(cfg, cfg.Location, nil)
		if err != nil {
			return err
		}
		defer cleanUp()

		chain.AddMacaroonService(svc)
		for _, method := range tokenProtectedMethods {
			if err := chain.AddPermission(method); err != nil {
				return err
			}
		}
	} else {
		log.Warnf("Token authentication is disabled")
	}

	grpcServer := grpc.NewServer(chain.CreateServerOpts()...)
	healthpb.RegisterHealthServer(grpcServer, health.NewServer())

	if cfg.Prometheus.Enabled() {
		err := monitoring.ExportPrometheusMetrics(
			grpcServer, cfg.Prometheus,
		)
		if err != nil {
			return err
		}
	}

	lis, err := net.Listen("tcp", cfg.RPCListen)
	if err != nil {
		return fmt.Errorf("unable to listen on %s: %w", cfg.RPCListen,
			err)
	}

	ctxc, cancel := getContext()
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		log.Infof("RPC server listening on %s", lis.Addr())
		errChan <- grpcServer.Serve(lis)
	}()

	select {
	case err := <-errChan:
		return err

	case <-ctxc.Done():
		log.Infof("Received shutdown request, stopping RPC server")
		grpcServer.GracefulStop()
	}

	return nil
}
