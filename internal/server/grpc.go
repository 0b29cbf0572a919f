package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alfredjeanlab/contestfeed/internal/feed"
	"github.com/alfredjeanlab/contestfeed/internal/store"
)

// EventFeedService is the fully qualified gRPC service name.
const EventFeedService = "contestfeed.v1.EventFeed"

// EventFeedStreamMethod is the full method name of the feed stream.
const EventFeedStreamMethod = "/" + EventFeedService + "/Stream"

// EventFeedServer is the server side of contestfeed.v1.EventFeed. Requests
// and records are google.protobuf.Struct messages with the same fields as
// the HTTP query parameters and NDJSON lines; a keepalive is an empty Struct.
// Struct numbers are doubles, so an integer in a payload that a double
// cannot hold exactly is sent as its decimal string.
type EventFeedServer interface {
	Stream(*structpb.Struct, grpc.ServerStream) error
}

var eventFeedServiceDesc = grpc.ServiceDesc{
	ServiceName: EventFeedService,
	HandlerType: (*EventFeedServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Stream",
			Handler:       eventFeedStreamHandler,
			ServerStreams: true,
		},
	},
	Metadata: "contestfeed/v1/feed.proto",
}

func eventFeedStreamHandler(srv any, stream grpc.ServerStream) error {
	req := new(structpb.Struct)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(EventFeedServer).Stream(req, stream)
}

// NewGRPCServer creates a gRPC server with standard interceptors,
// registers the EventFeed, health and reflection services, and returns the
// server ready to serve.
func NewGRPCServer(s *Server) *grpc.Server {
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			RecoveryInterceptor,
			LoggingInterceptor,
		),
		grpc.ChainStreamInterceptor(
			StreamRecoveryInterceptor,
			StreamLoggingInterceptor,
			StreamCapabilityInterceptor(s.auth),
		),
	)

	srv.RegisterService(&eventFeedServiceDesc, s)

	hs := health.NewServer()
	hs.SetServingStatus(EventFeedService, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)

	return srv
}

// Stream serves one feed session over gRPC.
func (s *Server) Stream(req *structpb.Struct, stream grpc.ServerStream) error {
	ctx := stream.Context()
	tier := CapabilitiesFrom(ctx).Tier()

	fields := req.GetFields()
	cid := fields["contest_id"].GetStringValue()
	if cid == "" {
		return status.Error(codes.InvalidArgument, "contest_id is required")
	}
	contest, err := s.visibleContest(ctx, cid, tier)
	if err != nil {
		return grpcError(err)
	}

	params, err := feed.ParseParams(feedQuery(req))
	if err != nil {
		return grpcError(err)
	}

	var remote string
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		remote = p.Addr.String()
	}
	session, err := s.dispatcher.Open(ctx, contest, params, tier, feed.Peer{Transport: "grpc", Remote: remote})
	if err != nil {
		return grpcError(err)
	}
	if err := session.Run(ctx, grpcSink{stream}); err != nil {
		return grpcError(err)
	}
	return nil
}

// feedQuery turns a request Struct into feed query parameters.
func feedQuery(req *structpb.Struct) url.Values {
	q := url.Values{}
	for _, name := range []string{"since_id", "types", "strict", "stream"} {
		v, ok := req.GetFields()[name]
		if !ok {
			continue
		}
		switch kind := v.GetKind().(type) {
		case *structpb.Value_StringValue:
			q.Set(name, kind.StringValue)
		case *structpb.Value_NumberValue:
			q.Set(name, strconv.FormatFloat(kind.NumberValue, 'f', -1, 64))
		case *structpb.Value_BoolValue:
			q.Set(name, strconv.FormatBool(kind.BoolValue))
		case *structpb.Value_ListValue:
			parts := make([]string, 0, len(kind.ListValue.GetValues()))
			for _, item := range kind.ListValue.GetValues() {
				parts = append(parts, item.GetStringValue())
			}
			q.Set(name, strings.Join(parts, ","))
		}
	}
	return q
}

// grpcSink sends records as Structs. SendMsg blocks while the client's
// flow-control window is full.
type grpcSink struct {
	stream grpc.ServerStream
}

func (g grpcSink) Send(r feed.Record) error {
	msg, err := recordStruct(r)
	if err != nil {
		return err
	}
	return g.stream.SendMsg(msg)
}

func (g grpcSink) Keepalive() error {
	return g.stream.SendMsg(&structpb.Struct{})
}

// recordStruct converts a record to its Struct form.
func recordStruct(r feed.Record) (*structpb.Struct, error) {
	line, err := r.MarshalLine()
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("decode record %s: %w", r.ID, err)
	}
	return structpb.NewStruct(structValue(fields).(map[string]any))
}

// maxExactInt is the largest magnitude a double holds every integer up to.
const maxExactInt = 1 << 53

// structValue replaces json.Numbers with float64, or with their text when
// the conversion would lose precision.
func structValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		for k, x := range v {
			v[k] = structValue(x)
		}
		return v
	case []any:
		for i, x := range v {
			v[i] = structValue(x)
		}
		return v
	case json.Number:
		text := v.String()
		if !strings.ContainsAny(text, ".eE") {
			i, err := v.Int64()
			if err != nil || i > maxExactInt || i < -maxExactInt {
				return text
			}
			return float64(i)
		}
		f, err := v.Float64()
		if err != nil {
			return text
		}
		return f
	}
	return v
}

// grpcError maps feed and store errors onto gRPC status codes.
func grpcError(err error) error {
	var (
		verr     *feed.ValidationError
		notFound errContestNotFound
	)
	switch {
	case errors.As(err, &verr):
		return status.Error(codes.InvalidArgument, verr.Message)
	case errors.As(err, &notFound), errors.Is(err, store.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, store.ErrUnavailable):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, feed.ErrInvariant):
		return status.Error(codes.Internal, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Error(codes.Internal, err.Error())
}
