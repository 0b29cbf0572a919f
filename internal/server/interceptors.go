package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/alfredjeanlab/contestfeed/internal/access"
	"github.com/alfredjeanlab/contestfeed/internal/idgen"
)

// Capability is a permission a caller may hold.
type Capability string

const (
	CapReader Capability = "api_reader"
	CapWriter Capability = "api_writer"
)

// Capabilities are what a caller's credentials grant. The zero value is an
// anonymous caller.
type Capabilities struct {
	Reader bool
	Writer bool
}

// Has reports whether c grants capability. Writers are also readers.
func (c Capabilities) Has(capability Capability) bool {
	switch capability {
	case CapReader:
		return c.Reader || c.Writer
	case CapWriter:
		return c.Writer
	}
	return false
}

// Tier is the feed viewer tier for c.
func (c Capabilities) Tier() access.Tier {
	if c.Has(CapReader) {
		return access.Privileged
	}
	return access.Public
}

// ErrUnauthenticated is returned for credentials that are present but not
// accepted.
var ErrUnauthenticated = errors.New("unauthenticated")

type tokenGrant struct {
	token []byte
	caps  Capabilities
}

// Authenticator maps bearer tokens to capabilities.
type Authenticator struct {
	grants []tokenGrant
}

// NewAuthenticator grants CapReader to readerTokens and CapWriter to
// writerTokens. Blank tokens are ignored.
func NewAuthenticator(readerTokens, writerTokens []string) *Authenticator {
	a := &Authenticator{}
	for _, t := range readerTokens {
		if t = strings.TrimSpace(t); t != "" {
			a.grants = append(a.grants, tokenGrant{token: []byte(t), caps: Capabilities{Reader: true}})
		}
	}
	for _, t := range writerTokens {
		if t = strings.TrimSpace(t); t != "" {
			a.grants = append(a.grants, tokenGrant{token: []byte(t), caps: Capabilities{Reader: true, Writer: true}})
		}
	}
	return a
}

// Resolve returns the capabilities for an Authorization header value. An
// empty header is anonymous.
func (a *Authenticator) Resolve(authorization string) (Capabilities, error) {
	if authorization == "" {
		return Capabilities{}, nil
	}
	if !strings.HasPrefix(authorization, "Bearer ") {
		return Capabilities{}, fmt.Errorf("%w: invalid authorization scheme", ErrUnauthenticated)
	}
	provided := []byte(strings.TrimPrefix(authorization, "Bearer "))

	var (
		caps  Capabilities
		found bool
	)
	// Every grant is compared so timing does not reveal which one matched.
	for _, g := range a.grants {
		if subtle.ConstantTimeCompare(provided, g.token) == 1 {
			caps.Reader = caps.Reader || g.caps.Reader
			caps.Writer = caps.Writer || g.caps.Writer
			found = true
		}
	}
	if !found {
		return Capabilities{}, fmt.Errorf("%w: invalid token", ErrUnauthenticated)
	}
	return caps, nil
}

type capabilitiesKey struct{}

// WithCapabilities returns ctx carrying caps.
func WithCapabilities(ctx context.Context, caps Capabilities) context.Context {
	return context.WithValue(ctx, capabilitiesKey{}, caps)
}

// CapabilitiesFrom returns the caller's capabilities, anonymous if unset.
func CapabilitiesFrom(ctx context.Context) Capabilities {
	caps, _ := ctx.Value(capabilitiesKey{}).(Capabilities)
	return caps
}

// CapabilityMiddleware resolves the caller's bearer token and stores the
// result in the request context. A token that is presented but unknown is
// rejected with 401; GET /api/health is always exempt.
func CapabilityMiddleware(auth *Authenticator, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && r.URL.Path == "/api/health" {
			next.ServeHTTP(w, r)
			return
		}
		caps, err := auth.Resolve(r.Header.Get("Authorization"))
		if err != nil {
			writeError(w, http.StatusUnauthorized, strings.TrimPrefix(err.Error(), ErrUnauthenticated.Error()+": "))
			return
		}
		next.ServeHTTP(w, r.WithContext(WithCapabilities(r.Context(), caps)))
	})
}

// statusWriter records the response status for the request log. Unwrap lets
// http.ResponseController reach the underlying writer.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// LoggingMiddleware tags each request with an id and logs it when done.
func LoggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := idgen.RequestID()
		w.Header().Set("X-Request-Id", id)
		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r)
		logger.Info("http request",
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration", time.Since(start),
			"remote", r.RemoteAddr,
		)
	})
}

// LoggingInterceptor logs the method name, duration, and error (if any) for every
// unary RPC call.
func LoggingInterceptor(
	ctx context.Context,
	req any,
	info *grpc.UnaryServerInfo,
	handler grpc.UnaryHandler,
) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	logRPC(info.FullMethod, time.Since(start), err)
	return resp, err
}

// StreamLoggingInterceptor is LoggingInterceptor for streaming RPCs; it
// logs once the stream ends.
func StreamLoggingInterceptor(
	srv any,
	ss grpc.ServerStream,
	info *grpc.StreamServerInfo,
	handler grpc.StreamHandler,
) error {
	start := time.Now()
	err := handler(srv, ss)
	logRPC(info.FullMethod, time.Since(start), err)
	return err
}

func logRPC(method string, duration time.Duration, err error) {
	if err != nil {
		slog.Error("rpc completed",
			"method", method,
			"duration", duration,
			"error", err,
		)
		return
	}
	slog.Info("rpc completed",
		"method", method,
		"duration", duration,
	)
}

// RecoveryInterceptor catches panics in downstream handlers, logs the stack
// trace, and returns a codes.Internal error instead of crashing the server.
func RecoveryInterceptor(
	ctx context.Context,
	req any,
	info *grpc.UnaryServerInfo,
	handler grpc.UnaryHandler,
) (resp any, err error) {
	defer recoverRPC(info.FullMethod, &err)
	return handler(ctx, req)
}

// StreamRecoveryInterceptor is RecoveryInterceptor for streaming RPCs.
func StreamRecoveryInterceptor(
	srv any,
	ss grpc.ServerStream,
	info *grpc.StreamServerInfo,
	handler grpc.StreamHandler,
) (err error) {
	defer recoverRPC(info.FullMethod, &err)
	return handler(srv, ss)
}

func recoverRPC(method string, err *error) {
	if r := recover(); r != nil {
		slog.Error("panic recovered in gRPC handler",
			"method", method,
			"panic", fmt.Sprintf("%v", r),
			"stack", string(debug.Stack()),
		)
		*err = status.Errorf(codes.Internal, "internal server error")
	}
}

// StreamCapabilityInterceptor resolves the "authorization" metadata of a
// stream into capabilities, like CapabilityMiddleware does for HTTP.
func StreamCapabilityInterceptor(auth *Authenticator) grpc.StreamServerInterceptor {
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		var header string
		if md, ok := metadata.FromIncomingContext(ss.Context()); ok {
			if vals := md.Get("authorization"); len(vals) > 0 {
				header = vals[0]
			}
		}
		caps, err := auth.Resolve(header)
		if err != nil {
			return status.Error(codes.Unauthenticated, err.Error())
		}
		return handler(srv, &authedStream{ServerStream: ss, ctx: WithCapabilities(ss.Context(), caps)})
	}
}

type authedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *authedStream) Context() context.Context { return s.ctx }
