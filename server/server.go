package server

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	grpcmw "github.com/grpc-ecosystem/go-grpc-middleware"
	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-middleware/providers/prometheus"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/reflection"

	"github.com/spacemeshos/poe/events"
	"github.com/spacemeshos/poe/logging"
	"github.com/spacemeshos/poe/node"
	"github.com/spacemeshos/poe/registry"
	"github.com/spacemeshos/poe/rpc"
	"github.com/spacemeshos/poe/storage"
)

// Names of the LevelDB databases under Config.DbDir.
const (
	ClaimsDBName  = "claims"
	ChainDBName   = "chain"
	JournalDBName = "events"
)

// DBNames lists every LevelDB database the server opens.
var DBNames = []string{ClaimsDBName, ChainDBName, JournalDBName}

type Server struct {
	cfg Config

	rpcListener     net.Listener
	restListener    net.Listener
	metricsListener net.Listener

	privateKey ed25519.PrivateKey

	store   registry.Store
	chain   *storage.ChainState
	journal *events.Journal
	broker  *events.Broker
	sinks   *events.Group
	node    *node.Node
}

func listen(raw string) (net.Listener, error) {
	addr, err := net.ResolveTCPAddr("tcp", raw)
	if err != nil {
		return nil, err
	}
	listener, err := net.Listen(addr.Network(), addr.String())
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %v", err)
	}
	return listener, nil
}

func New(ctx context.Context, cfg Config) (_ *Server, err error) {
	logger := logging.FromContext(ctx)
	s := &Server{cfg: cfg}
	// Everything opened so far is released if a later step fails.
	defer func() {
		if err != nil {
			if closeErr := s.close(); closeErr != nil {
				logger.Warn("failed to release resources", zap.Error(closeErr))
			}
		}
	}()

	if s.rpcListener, err = listen(cfg.RawRPCListener); err != nil {
		return nil, err
	}
	if s.restListener, err = listen(cfg.RawRESTListener); err != nil {
		return nil, err
	}
	if cfg.MetricsPort != nil {
		if s.metricsListener, err = listen(fmt.Sprintf(":%d", *cfg.MetricsPort)); err != nil {
			return nil, err
		}
	}

	for _, dir := range []string{cfg.DataDir, cfg.DbDir} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, err
		}
	}

	state, err := loadState(ctx, cfg.DataDir, os.Getenv(KeyEnvVar))
	if err != nil {
		return nil, fmt.Errorf("loading state: %w", err)
	}
	if err := saveState(cfg.DataDir, state); err != nil {
		return nil, fmt.Errorf("saving state: %w", err)
	}
	s.privateKey = state.PrivKey

	if s.store, err = openStore(ctx, cfg); err != nil {
		return nil, err
	}
	if s.chain, err = storage.NewChainState(filepath.Join(cfg.DbDir, ChainDBName)); err != nil {
		return nil, err
	}
	if s.journal, err = events.NewJournal(filepath.Join(cfg.DbDir, JournalDBName)); err != nil {
		return nil, err
	}
	s.broker = events.NewBroker(cfg.Events.SubscriberBuffer)
	if s.sinks, err = openSinks(ctx, cfg.Events, s.journal, s.broker); err != nil {
		return nil, err
	}

	reg, err := registry.New(cfg.Registry.MaxClaimLength,
		registry.WithStore(s.store),
		registry.WithSink(node.Collector()),
	)
	if err != nil {
		return nil, err
	}
	opts := []node.OptionFunc{node.WithTimeline(cfg.Chain)}
	last, found, err := s.journal.Last()
	if err != nil {
		return nil, fmt.Errorf("reading last event: %w", err)
	}
	if found {
		opts = append(opts, node.WithLastRecord(last))
	}
	s.node = node.New(reg, s.chain, s.sinks, opts...)

	logger.Info("server created",
		zap.String("backend", cfg.Storage.Backend),
		zap.Int("max_claim_length", cfg.Registry.MaxClaimLength),
		zap.Strings("sinks", s.sinks.Names()),
		zap.Object("events", cfg.Events),
	)
	return s, nil
}

func openStore(ctx context.Context, cfg Config) (registry.Store, error) {
	var (
		store registry.Store
		err   error
	)
	switch cfg.Storage.Backend {
	case BackendPostgres:
		store, err = storage.OpenPostgres(ctx, cfg.Storage.PostgresDSN)
	case BackendMemory:
		store = storage.NewMemory()
	default:
		store, err = storage.NewLevelDB(filepath.Join(cfg.DbDir, ClaimsDBName))
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", cfg.Storage.Backend, err)
	}
	if cfg.Registry.CacheSize == 0 {
		return store, nil
	}
	cached, err := storage.NewCached(store, cfg.Registry.CacheSize)
	if err != nil {
		return nil, errors.Join(err, store.Close())
	}
	return cached, nil
}

func openSinks(ctx context.Context, cfg EventsConfig, journal *events.Journal, broker *events.Broker) (*events.Group, error) {
	sinks := []events.Sink{journal, broker}
	if cfg.LogEvents {
		sinks = append(sinks, events.NewLogger(logging.FromContext(ctx).Named("events")))
	}
	if cfg.RedisURL != "" {
		redis, err := events.NewRedis(ctx, cfg.RedisURL, cfg.RedisChannel)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, redis)
	}
	if len(cfg.KafkaBrokers) > 0 {
		kafka, err := events.NewKafka(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			// journal and broker are released by the caller.
			return nil, errors.Join(err, events.NewGroup(sinks[2:]...).Close())
		}
		sinks = append(sinks, kafka)
	}
	return events.NewGroup(sinks...), nil
}

// Close releases the databases and event sinks. It must be called after
// Start returned.
func (s *Server) Close() error {
	return s.close()
}

func (s *Server) close() error {
	var result *multierror.Error
	for _, listener := range []net.Listener{s.rpcListener, s.restListener, s.metricsListener} {
		if listener != nil {
			// Start closes the listeners it served.
			if err := listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				result = multierror.Append(result, err)
			}
		}
	}
	switch {
	case s.sinks != nil:
		result = multierror.Append(result, s.sinks.Close())
	case s.journal != nil:
		result = multierror.Append(result, s.journal.Close())
	}
	if s.chain != nil {
		result = multierror.Append(result, s.chain.Close())
	}
	if s.store != nil {
		result = multierror.Append(result, s.store.Close())
	}
	return result.ErrorOrNil()
}

// GrpcAddr returns the address that server is listening on for GRPC.
func (s *Server) GrpcAddr() net.Addr {
	return s.rpcListener.Addr()
}

// GrpcRestProxyAddr returns the address that the REST gateway is listening on.
func (s *Server) GrpcRestProxyAddr() net.Addr {
	return s.restListener.Addr()
}

// MetricsAddr returns the address metrics are served on or nil when
// metrics are disabled.
func (s *Server) MetricsAddr() net.Addr {
	if s.metricsListener == nil {
		return nil
	}
	return s.metricsListener.Addr()
}

func (s *Server) PublicKey() ed25519.PublicKey {
	return s.privateKey.Public().(ed25519.PublicKey)
}

// Start runs the node and serves the APIs until ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()
	serverGroup, ctx := errgroup.WithContext(ctx)

	logger := logging.FromContext(ctx)

	metrics := grpc_prometheus.NewServerMetrics(
		grpc_prometheus.WithServerHandlingTimeHistogram(
			grpc_prometheus.WithHistogramBuckets(prometheus.ExponentialBuckets(0.001, 2, 16)),
		),
	)

	logger.Info("starting node")
	serverGroup.Go(func() error {
		return s.node.Run(ctx)
	})

	rpcServer := rpc.NewServer(s.node, s.privateKey, rpc.WithJournal(s.journal), rpc.WithBroker(s.broker))
	grpcServer := grpc.NewServer(
		grpc.UnaryInterceptor(grpcmw.ChainUnaryServer(
			loggerInterceptor(logger),
			metrics.UnaryServerInterceptor(),
		)),
		grpc.StreamInterceptor(metrics.StreamServerInterceptor()),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle:     time.Minute * 120,
			MaxConnectionAge:      time.Minute * 180,
			MaxConnectionAgeGrace: time.Minute * 10,
			Time:                  time.Minute,
			Timeout:               time.Minute * 3,
		}),
	)
	rpcServer.Register(grpcServer)

	reflection.Register(grpcServer)
	metrics.InitializeMetrics(grpcServer)
	if err := prometheus.Register(metrics); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return fmt.Errorf("registering gRPC metrics: %w", err)
		}
	}

	serverGroup.Go(func() error {
		logger.Sugar().Infof("GRPC server listening on %s", s.rpcListener.Addr())
		return grpcServer.Serve(s.rpcListener)
	})

	gateway, err := rpc.NewGateway(ctx, rpcServer)
	if err != nil {
		return err
	}
	servers := []*http.Server{{Handler: gateway, ReadHeaderTimeout: time.Second * 5}}
	listeners := []net.Listener{s.restListener}
	if s.metricsListener != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		servers = append(servers, &http.Server{Handler: mux, ReadHeaderTimeout: time.Second * 5})
		listeners = append(listeners, s.metricsListener)
	}
	for i, server := range servers {
		listener := listeners[i]
		serverGroup.Go(func() error {
			logger.Sugar().Infof("HTTP server listening on %s", listener.Addr())
			err := server.Serve(listener)
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})
	}

	// Wait for the server to shut down gracefully
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()
	// Ends event streams so that GracefulStop doesn't wait for them.
	if err := s.broker.Close(); err != nil {
		logger.Warn("failed to close event broker", zap.Error(err))
	}
	grpcServer.GracefulStop()
	for _, server := range servers {
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Sugar().Errorf("failed to shutdown server: %s", err)
		}
	}
	if err := serverGroup.Wait(); err != nil {
		logger.Sugar().Errorf("error when waiting to shutdown servers: %s", err)
		return err
	}
	return nil
}

// loggerInterceptor returns UnaryServerInterceptor handler to log all RPC server incoming requests.
func loggerInterceptor(
	logger *zap.Logger,
) func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		peer, _ := peer.FromContext(ctx)

		logger := logger.Named(info.FullMethod).With(zap.Stringer("request_id", uuid.New()))
		ctx = logging.NewContext(ctx, logger)

		if msg, ok := req.(fmt.Stringer); ok && peer != nil {
			logger.Debug("new GRPC", zap.Stringer("from", peer.Addr), zap.Stringer("message", msg))
		}

		resp, err := handler(ctx, req)
		if err != nil {
			logger.Info("FAILURE", zap.Error(err))
		}
		return resp, err
	}
}
