// Package remote carries promise batches to an operation sink over gRPC.
// Batches travel as a google.protobuf.Struct holding their JSON form.
package remote

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"passkeygate.org/internal/obs"
	"passkeygate.org/internal/sink"
)

const (
	ServiceName  = "passkeygate.sink.v1.OperationSink"
	submitMethod = "/" + ServiceName + "/Submit"

	callerHeader = "x-passkeygate-caller"
	signerHeader = "x-passkeygate-signer"
)

// Handler applies batches received by the server.
type Handler interface {
	SubmitBatch(ctx context.Context, b sink.Batch) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, b sink.Batch) error

func (f HandlerFunc) SubmitBatch(ctx context.Context, b sink.Batch) error { return f(ctx, b) }

// FromSink serves batches by handing them to s.
func FromSink(s sink.Sink) Handler {
	return HandlerFunc(s.Submit)
}

type submitServer interface {
	submit(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error)
}

type server struct {
	h Handler
}

// Register installs the operation sink service on s.
func Register(s grpc.ServiceRegistrar, h Handler) {
	s.RegisterService(&serviceDesc, &server{h: h})
}

func (s *server) submit(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	raw, err := protojson.Marshal(in)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "encode batch: %v", err)
	}
	var b sink.Batch
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decode batch: %v", err)
	}
	fields := map[string]any{"batch_id": b.ID, "origin": b.Origin.String(), "promises": len(b.Promises)}
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get(callerHeader); len(v) > 0 {
			fields["caller"] = v[0]
		}
	}
	if err := s.h.SubmitBatch(ctx, b); err != nil {
		obs.Error("remote_batch_failed", err, fields)
		return nil, status.Errorf(codes.Internal, "apply batch: %v", err)
	}
	obs.Info("remote_batch_received", fields)
	return &emptypb.Empty{}, nil
}

func submitHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(submitServer).submit(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: submitMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(submitServer).submit(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*submitServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Submit", Handler: submitHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "passkeygate/sink/v1/sink.proto",
}
