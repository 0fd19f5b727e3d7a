package api

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"

	"tintbook/internal/config"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

var errTLSFilesMissing = errors.New("api: tls enabled without cert_file/key_file")

// GRPCServer exposes the read-only slot service plus grpc health.
type GRPCServer struct {
	srv    *grpc.Server
	health *health.Server
	lis    net.Listener
	log    zerolog.Logger
}

// NewGRPCServer builds the server on lis, or on a tcp listener at cfg.GRPC.Port when lis is nil.
func NewGRPCServer(cfg config.APIConfig, availability Availability, limiter *RateLimiter, lis net.Listener, logger *zerolog.Logger) (*GRPCServer, error) {
	log := zerolog.Nop()
	if logger != nil {
		log = logger.With().Str("component", "grpc").Logger()
	}

	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			RecoveryUnaryInterceptor(logger),
			LoggingUnaryInterceptor(logger),
			NewAuthInterceptor(cfg, limiter).Unary(),
		),
	}
	if cfg.GRPC.TLS.Enabled {
		tlsCfg, err := serverTLSConfig(cfg.GRPC.TLS)
		if err != nil {
			return nil, err
		}
		opts = append(opts, grpc.Creds(credentials.NewTLS(tlsCfg)))
	}

	if lis == nil {
		l, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPC.Port))
		if err != nil {
			return nil, fmt.Errorf("grpc listen on port %d: %w", cfg.GRPC.Port, err)
		}
		lis = l
	}

	s := &GRPCServer{
		srv:    grpc.NewServer(opts...),
		health: health.NewServer(),
		lis:    lis,
		log:    log,
	}
	RegisterSlotServiceServer(s.srv, NewSlotService(availability))
	s.health.SetServingStatus(slotServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s.srv, s.health)
	if cfg.GRPC.Reflection {
		reflection.Register(s.srv)
	}
	return s, nil
}

// serverTLSConfig loads the keypair and, with require_client_cert, the client CA pool.
func serverTLSConfig(cfg config.APITLSConfig) (*tls.Config, error) {
	if cfg.CertFile == "" || cfg.KeyFile == "" {
		return nil, errTLSFilesMissing
	}
	pair, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("api: load tls keypair: %w", err)
	}

	out := &tls.Config{MinVersion: tls.VersionTLS12, Certificates: []tls.Certificate{pair}}
	if !cfg.RequireClientCert {
		return out, nil
	}

	if cfg.ClientCAFile == "" {
		return nil, errors.New("api: require_client_cert set without client_ca_file")
	}
	pem, err := os.ReadFile(cfg.ClientCAFile)
	if err != nil {
		return nil, fmt.Errorf("api: read client ca: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("api: no certificates in %s", cfg.ClientCAFile)
	}
	out.ClientCAs = pool
	out.ClientAuth = tls.RequireAndVerifyClientCert
	return out, nil
}

func (s *GRPCServer) Addr() string {
	return s.lis.Addr().String()
}

// Serve blocks until the server stops.
func (s *GRPCServer) Serve() error {
	s.log.Info().Str("addr", s.Addr()).Msg("slot service listening")
	return s.srv.Serve(s.lis)
}

// Shutdown marks health NOT_SERVING and drains in-flight calls until ctx expires.
func (s *GRPCServer) Shutdown(ctx context.Context) {
	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		s.srv.GracefulStop()
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		s.log.Warn().Err(ctx.Err()).Msg("slot service drain interrupted, stopping")
		s.srv.Stop()
	}
}
