package grpcapi

import (
	"context"
	"net/http"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"tokengate.org/internal/audit"
	"tokengate.org/internal/auth"
	"tokengate.org/internal/ids"
	"tokengate.org/internal/obs"
)

const (
	authorizationKey = "authorization"
	requestIDKey     = "x-request-id"
)

// Interceptor runs the guard in front of every RPC. Public methods are
// identified by their full method name, e.g. "/grpc.health.v1.Health/Check".
type Interceptor struct {
	guard  *auth.Guard
	public map[string]bool
}

func NewInterceptor(guard *auth.Guard, publicMethods ...string) *Interceptor {
	public := make(map[string]bool, len(publicMethods))
	for _, m := range publicMethods {
		public[m] = true
	}
	return &Interceptor{guard: guard, public: public}
}

func (i *Interceptor) Unary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, err := i.authorize(ctx, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

func (i *Interceptor) Stream() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := i.authorize(ss.Context(), info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &contextStream{ServerStream: ss, ctx: ctx})
	}
}

func (i *Interceptor) authorize(ctx context.Context, fullMethod string) (context.Context, error) {
	md, _ := metadata.FromIncomingContext(ctx)

	inbound := ""
	if vals := md.Get(requestIDKey); len(vals) > 0 {
		inbound = vals[0]
	}
	ctx = obs.WithRequestID(ctx, ids.RequestIDOrNew(inbound))

	header := http.Header{}
	for _, v := range md.Get(authorizationKey) {
		header.Add("Authorization", v)
	}

	principal, err := i.guard.Authorize(ctx, auth.RouteMeta{Public: i.public[fullMethod], Name: fullMethod}, header)
	if err != nil {
		_ = audit.Denied(ctx, fullMethod, err)
		return nil, status.Error(codes.Unauthenticated, "unauthorized")
	}
	if principal.Authenticated() {
		ctx = auth.ContextWithPrincipal(ctx, principal)
	}
	return ctx, nil
}

type contextStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *contextStream) Context() context.Context { return s.ctx }
