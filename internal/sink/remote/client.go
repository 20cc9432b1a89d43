package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"passkeygate.org/internal/auth"
	"passkeygate.org/internal/sink"
)

var (
	ErrRejected    = errors.New("remote sink: batch rejected")
	ErrUnavailable = errors.New("remote sink: unavailable")
)

// Client is a sink.Sink that forwards batches to a remote server.
type Client struct {
	conn    *grpc.ClientConn
	timeout time.Duration
}

var _ sink.Sink = (*Client)(nil)

// Dial creates a client with insecure transport unless opts say otherwise.
func Dial(target string, timeout time.Duration, opts ...grpc.DialOption) (*Client, error) {
	if len(opts) == 0 {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, err
	}
	return NewClient(conn, timeout), nil
}

// NewClient wraps an existing connection. A zero timeout means 10s.
func NewClient(conn *grpc.ClientConn, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{conn: conn, timeout: timeout}
}

func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *Client) Submit(ctx context.Context, b sink.Batch) error {
	raw, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}
	in := new(structpb.Struct)
	if err := protojson.Unmarshal(raw, in); err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}
	ctx, cancel := context.WithTimeout(outgoingWithIdentity(ctx), c.timeout)
	defer cancel()
	if err := c.conn.Invoke(ctx, submitMethod, in, new(emptypb.Empty)); err != nil {
		return mapSinkError(err)
	}
	return nil
}

func outgoingWithIdentity(ctx context.Context) context.Context {
	id, ok := auth.IdentityFromContext(ctx)
	if !ok {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx,
		callerHeader, id.Caller.String(),
		signerHeader, id.Signer.String(),
	)
}

func mapSinkError(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.InvalidArgument, codes.FailedPrecondition:
		return fmt.Errorf("%w: %s", ErrRejected, st.Message())
	case codes.Unavailable, codes.DeadlineExceeded:
		return fmt.Errorf("%w: %s", ErrUnavailable, st.Message())
	default:
		return err
	}
}
