package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/alfredjeanlab/contestfeed/internal/access"
)

// stubHandler is a no-op gRPC handler used in interceptor tests.
func stubHandler(_ context.Context, _ any) (any, error) {
	return "ok", nil
}

func TestAuthenticator_Resolve(t *testing.T) {
	auth := NewAuthenticator([]string{"r1", " "}, []string{"w1"})
	for _, tc := range []struct {
		header  string
		want    Capabilities
		wantErr bool
	}{
		{header: "", want: Capabilities{}},
		{header: "Bearer r1", want: Capabilities{Reader: true}},
		{header: "Bearer w1", want: Capabilities{Reader: true, Writer: true}},
		{header: "Bearer x", wantErr: true},
		{header: "Bearer ", wantErr: true},
		{header: "Basic r1", wantErr: true},
	} {
		got, err := auth.Resolve(tc.header)
		if tc.wantErr {
			if !errors.Is(err, ErrUnauthenticated) {
				t.Errorf("Resolve(%q) err = %v, want ErrUnauthenticated", tc.header, err)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Errorf("Resolve(%q) = %+v, %v; want %+v", tc.header, got, err, tc.want)
		}
	}
}

func TestCapabilities(t *testing.T) {
	writer := Capabilities{Writer: true}
	if !writer.Has(CapReader) || !writer.Has(CapWriter) {
		t.Error("writer should hold both capabilities")
	}
	if writer.Tier() != access.Privileged {
		t.Error("writer should be privileged")
	}
	anon := Capabilities{}
	if anon.Has(CapReader) || anon.Tier() != access.Public {
		t.Error("anonymous caller should be public")
	}
}

func TestCapabilityMiddleware(t *testing.T) {
	auth := NewAuthenticator([]string{"r1"}, nil)
	var seen Capabilities
	h := CapabilityMiddleware(auth, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = CapabilitiesFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	for _, tc := range []struct {
		path   string
		header string
		code   int
		reader bool
	}{
		{"/api/contests/wf", "", http.StatusNoContent, false},
		{"/api/contests/wf", "Bearer r1", http.StatusNoContent, true},
		{"/api/contests/wf", "Bearer bad", http.StatusUnauthorized, false},
		{"/api/health", "Bearer bad", http.StatusNoContent, false},
	} {
		seen = Capabilities{}
		req := httptest.NewRequest(http.MethodGet, tc.path, nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tc.code {
			t.Errorf("%s %q: status = %d, want %d", tc.path, tc.header, rec.Code, tc.code)
		}
		if seen.Reader != tc.reader {
			t.Errorf("%s %q: reader = %v, want %v", tc.path, tc.header, seen.Reader, tc.reader)
		}
	}
}

type fakeServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (f *fakeServerStream) Context() context.Context { return f.ctx }

func TestStreamCapabilityInterceptor(t *testing.T) {
	interceptor := StreamCapabilityInterceptor(NewAuthenticator([]string{"r1"}, nil))
	info := &grpc.StreamServerInfo{FullMethod: EventFeedStreamMethod, IsServerStream: true}

	var seen Capabilities
	handler := func(_ any, ss grpc.ServerStream) error {
		seen = CapabilitiesFrom(ss.Context())
		return nil
	}

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer r1"))
	if err := interceptor(nil, &fakeServerStream{ctx: ctx}, info, handler); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !seen.Reader {
		t.Error("reader capability not propagated")
	}

	seen = Capabilities{Reader: true}
	if err := interceptor(nil, &fakeServerStream{ctx: context.Background()}, info, handler); err != nil {
		t.Fatalf("anonymous: expected no error, got %v", err)
	}
	if seen.Reader {
		t.Error("anonymous stream should not be a reader")
	}

	ctx = metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer nope"))
	err := interceptor(nil, &fakeServerStream{ctx: ctx}, info, handler)
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated, got %v", err)
	}
}

func TestRecoveryInterceptor(t *testing.T) {
	panicking := func(_ context.Context, _ any) (any, error) {
		panic("boom")
	}
	_, err := RecoveryInterceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/x/Y"}, panicking)
	if status.Code(err) != codes.Internal {
		t.Fatalf("expected Internal, got %v", err)
	}

	resp, err := RecoveryInterceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/x/Y"}, stubHandler)
	if err != nil || resp != "ok" {
		t.Fatalf("got %v, %v", resp, err)
	}
}

func TestStreamRecoveryInterceptor(t *testing.T) {
	info := &grpc.StreamServerInfo{FullMethod: EventFeedStreamMethod}
	err := StreamRecoveryInterceptor(nil, &fakeServerStream{ctx: context.Background()}, info, func(any, grpc.ServerStream) error {
		panic("boom")
	})
	if status.Code(err) != codes.Internal {
		t.Fatalf("expected Internal, got %v", err)
	}
}

func TestLoggingInterceptor_PassesThrough(t *testing.T) {
	resp, err := LoggingInterceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/x/Y"}, stubHandler)
	if err != nil || resp != "ok" {
		t.Fatalf("got %v, %v", resp, err)
	}
}
