package api

import (
	"context"
	"crypto/subtle"
	"strings"
	"time"

	"dayroll/internal/config"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

const (
	apiKeyHeaderDefault = "x-api-key"
	permReadTasks       = "read:tasks"
	permWriteTasks      = "write:tasks"
	permReadSync        = "read:sync"
	permWriteSync       = "write:sync"
	clientKeyUnknown    = "unknown"
)

// keyring resolves API keys to clients and checks their permissions.
type keyring struct {
	header  string
	clients map[string]config.APIClientKey
}

func newKeyring(cfg *config.APIConfig) keyring {
	m := make(map[string]config.APIClientKey, len(cfg.Auth.APIKeys))
	for _, k := range cfg.Auth.APIKeys {
		m[k.Key] = k
	}
	header := strings.ToLower(strings.TrimSpace(cfg.Auth.HeaderAPIKey))
	if header == "" {
		header = apiKeyHeaderDefault
	}
	return keyring{header: header, clients: m}
}

// lookup compares against every key so timing does not reveal a prefix match.
func (k keyring) lookup(apiKey string) (config.APIClientKey, bool) {
	var found config.APIClientKey
	ok := false
	for key, client := range k.clients {
		if subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) == 1 {
			found, ok = client, true
		}
	}
	return found, ok
}

func allowed(client config.APIClientKey, required string) bool {
	if required == "" {
		return true
	}
	// If permissions list is empty, treat as allow-all.
	if len(client.Permissions) == 0 {
		return true
	}
	for _, p := range client.Permissions {
		if strings.TrimSpace(p) == required {
			return true
		}
	}
	return false
}

type AuthInterceptor struct {
	cfg     *config.APIConfig
	keys    keyring
	limiter *rateLimiter
}

func NewAuthInterceptor(cfg *config.APIConfig) *AuthInterceptor {
	return &AuthInterceptor{
		cfg:     cfg,
		keys:    newKeyring(cfg),
		limiter: newRateLimiter(cfg),
	}
}

func (a *AuthInterceptor) Unary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if err := a.check(ctx, info.FullMethod); err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

func (a *AuthInterceptor) Stream() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if err := a.check(ss.Context(), info.FullMethod); err != nil {
			return err
		}
		return handler(srv, ss)
	}
}

func (a *AuthInterceptor) check(ctx context.Context, fullMethod string) error {
	if !a.cfg.Enabled {
		return nil
	}
	if a.cfg.Auth.Enabled {
		if err := a.checkAuth(ctx, fullMethod); err != nil {
			return err
		}
	}
	if !a.limiter.allow(a.clientKey(ctx)) {
		return status.Error(codes.ResourceExhausted, "rate limit exceeded")
	}
	return nil
}

func (a *AuthInterceptor) checkAuth(ctx context.Context, fullMethod string) error {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "missing metadata")
	}

	apiKey := first(md.Get(a.keys.header))
	if apiKey == "" {
		return status.Error(codes.Unauthenticated, "missing api key header")
	}

	client, ok := a.keys.lookup(apiKey)
	if !ok {
		return status.Error(codes.Unauthenticated, "invalid api key")
	}

	if !allowed(client, requiredPermission(fullMethod)) {
		return status.Error(codes.PermissionDenied, "permission denied")
	}
	return nil
}

func requiredPermission(fullMethod string) string {
	switch fullMethod {
	case methodGetStatus, methodWatchStatus:
		return permReadSync
	case methodTriggerSync:
		return permWriteSync
	default:
		return ""
	}
}

func (a *AuthInterceptor) clientKey(ctx context.Context) string {
	md, _ := metadata.FromIncomingContext(ctx)
	if apiKey := first(md.Get(a.keys.header)); apiKey != "" {
		return apiKey
	}

	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return clientKeyUnknown
}

func first(vals []string) string {
	if len(vals) == 0 {
		return ""
	}
	return strings.TrimSpace(vals[0])
}

func LoggingUnaryInterceptor(logger *zerolog.Logger) grpc.UnaryServerInterceptor {
	base := grpcLogger(logger)

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		requestID := requestIDFromMetadata(ctx)
		_ = grpc.SetHeader(ctx, metadata.Pairs(requestIDMetadataKey, requestID))

		start := time.Now()
		resp, err := handler(ctx, req)
		logCall(ctx, base, requestID, info.FullMethod, start, err)
		return resp, err
	}
}

func LoggingStreamInterceptor(logger *zerolog.Logger) grpc.StreamServerInterceptor {
	base := grpcLogger(logger)

	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		requestID := requestIDFromMetadata(ss.Context())
		_ = ss.SetHeader(metadata.Pairs(requestIDMetadataKey, requestID))

		start := time.Now()
		err := handler(srv, ss)
		logCall(ss.Context(), base, requestID, info.FullMethod, start, err)
		return err
	}
}

func grpcLogger(logger *zerolog.Logger) zerolog.Logger {
	if logger == nil {
		return zerolog.Nop()
	}
	return logger.With().Str("component", "grpc").Logger()
}

func logCall(ctx context.Context, base zerolog.Logger, requestID, method string, start time.Time, err error) {
	code := codes.OK
	if err != nil {
		code = status.Code(err)
	}

	remote := clientKeyUnknown
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		remote = p.Addr.String()
	}

	base.Info().
		Str("request_id", requestID).
		Str("method", method).
		Str("remote", remote).
		Str("code", code.String()).
		Dur("duration", time.Since(start)).
		Msg("grpc request")
}

const requestIDMetadataKey = "x-request-id"

func requestIDFromMetadata(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if ok {
		if vals := md.Get(requestIDMetadataKey); len(vals) > 0 {
			if id := strings.TrimSpace(vals[0]); id != "" {
				return id
			}
		}
	}
	return uuid.NewString()
}
