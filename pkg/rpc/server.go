package rpc

import (
	"context"
	"crypto/tls"
	"fmt"
	"runtime/debug"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"

	mrerrors "github.com/otherjamesbrown/mediaref/pkg/errors"
	"github.com/otherjamesbrown/mediaref/pkg/logging"
	"github.com/otherjamesbrown/mediaref/pkg/resolver"
	"github.com/otherjamesbrown/mediaref/pkg/store"
	"github.com/otherjamesbrown/mediaref/pkg/turn"
)

// Server keepalive settings. MinTime matches the client's keepalive interval.
const (
	DefaultKeepaliveMinTime = 5 * time.Minute
	DefaultMaxRecvMsgSize   = 4 << 20
)

// TurnHandler runs one conversation turn.
type TurnHandler interface {
	HandleTurn(ctx context.Context, req turn.Request) (*turn.Result, error)
}

// Server implements ResolverServer on top of a turn handler and a store.
type Server struct {
	handler TurnHandler
	store   store.Store
	logger  logging.Logger
}

var _ ResolverServer = (*Server)(nil)

// NewServer creates the resolver service.
func NewServer(h TurnHandler, st store.Store, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Server{handler: h, store: st, logger: logger.With(logging.Component("rpc"))}
}

// ResolveTurn handles one user turn.
func (s *Server) ResolveTurn(ctx context.Context, req *turn.Request) (*turn.Result, error) {
	res, err := s.handler.HandleTurn(ctx, *req)
	if err != nil {
		return nil, ToStatus(err)
	}
	return res, nil
}

// ListMedia returns the stored registry of a conversation.
func (s *Server) ListMedia(ctx context.Context, req *ListMediaRequest) (*ListMediaResponse, error) {
	if req.ConversationID == "" {
		return nil, ToStatus(mrerrors.Precondition("conversationId", "is required"))
	}
	reg, version, err := s.store.Load(ctx, req.ConversationID)
	if err != nil {
		return nil, ToStatus(err)
	}
	items := reg.Items()
	return &ListMediaResponse{
		ConversationID: req.ConversationID,
		Version:        version,
		Media:          items,
		Listing:        resolver.FormatMediaListForUser(items),
	}, nil
}

// ServerOptions configures NewGRPCServer.
type ServerOptions struct {
	// TLS enables transport security when non-nil.
	TLS    *tls.Config
	Logger logging.Logger
	// MaxRecvMsgSize bounds request size. Zero uses DefaultMaxRecvMsgSize.
	MaxRecvMsgSize int
}

// NewGRPCServer builds a grpc.Server serving srv and the standard health
// service. The health status of ServiceName starts as SERVING.
func NewGRPCServer(srv ResolverServer, opts ServerOptions) (*grpc.Server, *health.Server) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	logger = logger.With(logging.Component("grpc"))

	maxRecv := opts.MaxRecvMsgSize
	if maxRecv <= 0 {
		maxRecv = DefaultMaxRecvMsgSize
	}

	serverOpts := []grpc.ServerOption{
		grpc.MaxRecvMsgSize(maxRecv),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             DefaultKeepaliveMinTime,
			PermitWithoutStream: true,
		}),
		grpc.ChainUnaryInterceptor(
			recoveryInterceptor(logger),
			loggingInterceptor(logger),
		),
	}
	if opts.TLS != nil {
		serverOpts = append(serverOpts, grpc.Creds(credentials.NewTLS(opts.TLS)))
	}

	gs := grpc.NewServer(serverOpts...)
	RegisterResolverServer(gs, srv)

	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(gs, hs)

	return gs, hs
}

func loggingInterceptor(logger logging.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		code := status.Code(err)
		fields := []logging.Field{
			logging.F("method", info.FullMethod),
			logging.F("code", code.String()),
			logging.F("duration", time.Since(start)),
		}
		switch code {
		case codes.OK:
			logger.Debug("RPC completed", fields...)
		case codes.Internal, codes.Unknown:
			logger.Error("RPC failed", append(fields, logging.Err(err))...)
		default:
			logger.Warn("RPC rejected", append(fields, logging.Err(err))...)
		}
		return resp, err
	}
}

func recoveryInterceptor(logger logging.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("RPC panicked",
					logging.F("method", info.FullMethod),
					logging.F("panic", fmt.Sprint(r)),
					logging.F("stack", string(debug.Stack())))
				err = status.Errorf(codes.Internal, "internal error")
			}
		}()
		return handler(ctx, req)
	}
}
