package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alfredjeanlab/contestfeed/internal/feed"
)

// eventFeedStreamMethod mirrors the server's EventFeed stream method.
const eventFeedStreamMethod = "/contestfeed.v1.EventFeed/Stream"

// GRPCClient implements FeedClient using the gRPC transport.
type GRPCClient struct {
	conn  *grpc.ClientConn
	token string
}

// NewGRPCClient connects to the given gRPC address and returns a client.
func NewGRPCClient(addr, token string, opts ...grpc.DialOption) (*GRPCClient, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial: %w", err)
	}
	return &GRPCClient{conn: conn, token: token}, nil
}

func (c *GRPCClient) Close() error {
	return c.conn.Close()
}

func (c *GRPCClient) Tail(ctx context.Context, req *TailRequest, fn func(feed.Record) error) error {
	fields := map[string]any{
		"contest_id": req.ContestID,
		"strict":     req.Strict,
		"stream":     !req.NoStream,
	}
	if req.SinceID != "" {
		fields["since_id"] = req.SinceID
	}
	if len(req.Types) > 0 {
		types := make([]any, len(req.Types))
		for i, t := range req.Types {
			types[i] = t
		}
		fields["types"] = types
	}
	msg, err := structpb.NewStruct(fields)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}

	if c.token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.token)
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := c.conn.NewStream(ctx, &grpc.StreamDesc{ServerStreams: true}, eventFeedStreamMethod)
	if err != nil {
		return err
	}
	if err := stream.SendMsg(msg); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}

	for {
		in := new(structpb.Struct)
		if err := stream.RecvMsg(in); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if len(in.GetFields()) == 0 {
			continue // keepalive
		}
		rec, err := recordFromStruct(in)
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			if errors.Is(err, ErrStop) {
				return nil
			}
			return err
		}
	}
}

// recordFromStruct converts a streamed Struct back into a feed record.
func recordFromStruct(s *structpb.Struct) (feed.Record, error) {
	var rec feed.Record
	data, err := protojson.Marshal(s)
	if err != nil {
		return rec, fmt.Errorf("encoding record: %w", err)
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("decoding record: %w", err)
	}
	return rec, nil
}
