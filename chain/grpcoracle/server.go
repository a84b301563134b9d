package grpcoracle

import (
	"context"
	"regexp"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"xdao.co/sealvault/chain"
)

var txidRe = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Server exposes a chain.ConfirmationOracle over the Oracle gRPC service.
type Server struct {
	UnimplementedOracleServer
	Oracle chain.ConfirmationOracle
}

func (s *Server) Confirmation(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	if s == nil || s.Oracle == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing oracle")
	}
	txid := in.GetValue()
	if !txidRe.MatchString(txid) {
		return nil, status.Error(codes.InvalidArgument, "malformed txid")
	}
	st, err := s.Oracle.Confirmation(ctx, txid)
	if err != nil {
		return nil, status.Error(codes.Unavailable, err.Error())
	}
	encoded, err := EncodeStatus(st)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return wrapperspb.String(encoded), nil
}
