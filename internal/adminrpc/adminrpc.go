// Package adminrpc exposes Market Registry admin operations
// (halt/resume/delist) over gRPC (spec.md §6's administrative halt,
// unspecified transport). Grounded on monjeychiang-DES-V2's
// google.golang.org/grpc usage and on the dead internal/server/server.go
// + protocol package the teacher repo referenced but never committed.
//
// No .proto toolchain runs in this build, so there is no generated
// _grpc.pb.go service descriptor. Instead this file hand-writes a
// grpc.ServiceDesc against google.golang.org/protobuf's well-known types
// (structpb.Struct, emptypb.Empty), which already satisfy proto.Message
// and so need no codegen of their own — the one hand-rolled exception
// noted in DESIGN.md.
package adminrpc

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"nyxex/internal/common"
	"nyxex/internal/market"
)

// Service implements the admin control plane against a live Market
// Registry.
type Service struct {
	markets *market.Registry
}

// New returns a Service operating on markets.
func New(markets *market.Registry) *Service {
	return &Service{markets: markets}
}

// Halt suspends a market. req must carry a "symbol" string field and may
// carry a "resumeAtUnix" number field and a "reason" string field for a
// scheduled auto-resume (spec.md §3: "optional temporary Halt with
// resumeAt").
func (s *Service) Halt(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	symbol, err := requireSymbol(req)
	if err != nil {
		return nil, err
	}

	if resumeAt, ok := req.Fields["resumeAtUnix"]; ok {
		reason := ""
		if r, ok := req.Fields["reason"]; ok {
			reason = r.GetStringValue()
		}
		t := time.Unix(int64(resumeAt.GetNumberValue()), 0)
		if err := s.markets.HaltUntil(symbol, t, reason); err != nil {
			return nil, err
		}
		log.Info().Str("symbol", string(symbol)).Time("resumeAt", t).Msg("adminrpc: market halted")
		return &emptypb.Empty{}, nil
	}

	if err := s.markets.Suspend(symbol); err != nil {
		return nil, err
	}
	log.Info().Str("symbol", string(symbol)).Msg("adminrpc: market suspended")
	return &emptypb.Empty{}, nil
}

// Resume reactivates a suspended market. req must carry a "symbol" field.
func (s *Service) Resume(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	symbol, err := requireSymbol(req)
	if err != nil {
		return nil, err
	}
	if err := s.markets.Resume(symbol); err != nil {
		return nil, err
	}
	log.Info().Str("symbol", string(symbol)).Msg("adminrpc: market resumed")
	return &emptypb.Empty{}, nil
}

// Delist permanently removes a market from trading. req must carry a
// "symbol" field.
func (s *Service) Delist(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	symbol, err := requireSymbol(req)
	if err != nil {
		return nil, err
	}
	if err := s.markets.Delist(symbol); err != nil {
		return nil, err
	}
	log.Info().Str("symbol", string(symbol)).Msg("adminrpc: market delisted")
	return &emptypb.Empty{}, nil
}

// ListMarkets returns every registered symbol and its status.
func (s *Service) ListMarkets(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	out := make(map[string]any, len(s.markets.Symbols()))
	for _, symbol := range s.markets.Symbols() {
		snap, ok := s.markets.Snapshot(symbol)
		if !ok {
			continue
		}
		out[string(symbol)] = snap.Status.String()
	}
	return structpb.NewStruct(out)
}

func requireSymbol(req *structpb.Struct) (common.Symbol, error) {
	field, ok := req.Fields["symbol"]
	if !ok || field.GetStringValue() == "" {
		return "", fmt.Errorf("adminrpc: request missing symbol field")
	}
	return common.Symbol(field.GetStringValue()), nil
}

// serviceDesc is the hand-written equivalent of a .proto-generated
// grpc.ServiceDesc; each Handler unmarshals the request via dec, calls
// the matching Service method, and lets grpc marshal the proto.Message
// result.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: "nyxex.adminrpc.AdminService",
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Halt", Handler: haltHandler},
		{MethodName: "Resume", Handler: resumeHandler},
		{MethodName: "Delist", Handler: delistHandler},
		{MethodName: "ListMarkets", Handler: listMarketsHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "adminrpc.proto",
}

func haltHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	svc := srv.(*Service)
	if interceptor == nil {
		return svc.Halt(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: svc, FullMethod: "/nyxex.adminrpc.AdminService/Halt"}
	handler := func(ctx context.Context, req any) (any, error) {
		return svc.Halt(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func resumeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	svc := srv.(*Service)
	if interceptor == nil {
		return svc.Resume(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: svc, FullMethod: "/nyxex.adminrpc.AdminService/Resume"}
	handler := func(ctx context.Context, req any) (any, error) {
		return svc.Resume(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func delistHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	svc := srv.(*Service)
	if interceptor == nil {
		return svc.Delist(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: svc, FullMethod: "/nyxex.adminrpc.AdminService/Delist"}
	handler := func(ctx context.Context, req any) (any, error) {
		return svc.Delist(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func listMarketsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	svc := srv.(*Service)
	if interceptor == nil {
		return svc.ListMarkets(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: svc, FullMethod: "/nyxex.adminrpc.AdminService/ListMarkets"}
	handler := func(ctx context.Context, req any) (any, error) {
		return svc.ListMarkets(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// Register attaches the admin service to a gRPC server.
func Register(s *grpc.Server, svc *Service) {
	s.RegisterService(&serviceDesc, svc)
}
