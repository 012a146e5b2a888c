package httpapi

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/Qlaws-Tech/qlaws-mulit-tenant/internal/auth"
	"github.com/Qlaws-Tech/qlaws-mulit-tenant/internal/tenancy"
)

const (
	metadataAuthorization = "authorization"
	metadataTenantID      = "x-tenant-id"
)

// HealthServer implements grpc.health.v1 on top of the readiness check.
type HealthServer struct {
	healthpb.UnimplementedHealthServer

	readiness readinessChecker
	logger    *zap.Logger
}

func NewHealthServer(r readinessChecker, logger *zap.Logger) *HealthServer {
	if r == nil {
		r = Readiness{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthServer{readiness: r, logger: logger}
}

// Check answers for the whole server ("") and for the IAM service name.
func (s *HealthServer) Check(ctx context.Context, req *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	if svc := req.GetService(); svc != "" && svc != serviceName {
		return nil, status.Errorf(codes.NotFound, "unknown service %q", svc)
	}
	if err := s.readiness.Check(ctx); err != nil {
		s.logger.Warn("grpc readiness check failed", zap.Error(err))
		return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_NOT_SERVING}, nil
	}
	return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}, nil
}

// AuthInterceptor authenticates bearer metadata on every unary call except
// the health service.
type AuthInterceptor struct {
	svc    *auth.Service
	logger *zap.Logger
}

func NewAuthInterceptor(svc *auth.Service, logger *zap.Logger) *AuthInterceptor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthInterceptor{svc: svc, logger: logger}
}

func (i *AuthInterceptor) Unary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if strings.HasPrefix(info.FullMethod, "/"+healthpb.Health_ServiceDesc.ServiceName+"/") {
			return handler(ctx, req)
		}
		md, _ := metadata.FromIncomingContext(ctx)
		token, err := extractBearerToken(first(md, metadataAuthorization))
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, "authentication failed")
		}
		principal, err := i.svc.Authenticate(ctx, token)
		if err != nil {
			return nil, grpcError(err)
		}
		tenantID, err := tenancy.Resolve(first(md, metadataTenantID), principal.TenantID)
		if err != nil {
			i.logger.Info("grpc tenant resolution failed", zap.String("method", info.FullMethod), zap.Error(err))
			return nil, grpcError(err)
		}
		principal.TenantID = tenantID

		ctx = tenancy.WithTenant(ctx, tenantID)
		ctx = auth.ContextWithPrincipal(ctx, principal)
		ctx = auth.ContextWithToken(ctx, token)
		return handler(ctx, req)
	}
}

// NewGRPCServer builds a server with the health service and the auth
// interceptor installed.
func NewGRPCServer(svc *auth.Service, r readinessChecker, logger *zap.Logger, opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ChainUnaryInterceptor(NewAuthInterceptor(svc, logger).Unary()))
	server := grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(server, NewHealthServer(r, logger))
	return server
}

func grpcError(err error) error {
	var perr *auth.PermissionError
	switch {
	case errors.As(err, &perr):
		return status.Errorf(codes.PermissionDenied, "missing permissions: %s", strings.Join(perr.Missing, ", "))
	case errors.Is(err, tenancy.ErrTenantMismatch), errors.Is(err, tenancy.ErrInvalidTenant), errors.Is(err, tenancy.ErrNoTenant):
		return status.Error(codes.InvalidArgument, "valid tenant id is required")
	case errors.Is(err, auth.ErrUnauthenticated):
		return status.Error(codes.Unauthenticated, "authentication failed")
	case errors.Is(err, auth.ErrForbidden):
		return status.Error(codes.PermissionDenied, "forbidden")
	case errors.Is(err, auth.ErrInvalidInput):
		return status.Error(codes.InvalidArgument, "invalid request")
	case errors.Is(err, auth.ErrNotFound):
		return status.Error(codes.NotFound, "not found")
	case errors.Is(err, auth.ErrConflict):
		return status.Error(codes.AlreadyExists, "conflict")
	case errors.Is(err, auth.ErrUnavailable):
		return status.Error(codes.Unavailable, "service unavailable")
	default:
		return status.Error(codes.Internal, "internal error")
	}
}

func first(md metadata.MD, key string) string {
	if vals := md.Get(key); len(vals) > 0 {
		return vals[0]
	}
	return ""
}
