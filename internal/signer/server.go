/**
 * @description
 * This file implements the gRPC server for the remote signing service.
 * It handles incoming RPC requests, orchestrates the signing process by using
 * the vault and the Signer, and returns the response.
 *
 * Key features:
 * - Well-known wire types: requests are `google.protobuf.Struct` values with `user_id` and
 *   `payload` fields; responses are `google.protobuf.StringValue` signatures. The service
 *   descriptor is registered by hand, so no generated stubs are needed.
 * - Dependency Injection: The server struct holds dependencies (logger, vault, signer),
 *   making it modular and easy to test.
 * - Robust Error Handling: Returns specific gRPC status codes (`InvalidArgument`,
 *   `Unauthenticated`, `Internal`).
 */

package signer

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/daosign/proofs/internal/vault"
)

const (
	ServiceName = "daosign.signer.v1.Signer"

	MethodSignPersonal  = "/" + ServiceName + "/SignPersonal"
	MethodSignTypedData = "/" + ServiceName + "/SignTypedData"

	FieldUserID  = "user_id"
	FieldPayload = "payload"
)

// SignerServer is the service implemented by Server.
type SignerServer interface {
	SignPersonal(ctx context.Context, req *structpb.Struct) (*wrapperspb.StringValue, error)
	SignTypedData(ctx context.Context, req *structpb.Struct) (*wrapperspb.StringValue, error)
}

// Server implements the gRPC Signer service.
type Server struct {
	logger *slog.Logger
	vault  vault.Vault
	signer *Signer
}

// NewGRPCServer creates a new instance of the gRPC server.
func NewGRPCServer(logger *slog.Logger, v vault.Vault, s *Signer) *Server {
	return &Server{
		logger: logger,
		vault:  v,
		signer: s,
	}
}

// Register attaches srv to a gRPC server.
func Register(s grpc.ServiceRegistrar, srv SignerServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// NewRequest builds the wire request for both methods.
func NewRequest(userID, payload string) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		FieldUserID:  structpb.NewStringValue(userID),
		FieldPayload: structpb.NewStringValue(payload),
	}}
}

func (s *Server) parse(method string, req *structpb.Struct) (string, string, error) {
	fields := req.GetFields()
	userID := fields[FieldUserID].GetStringValue()
	payload := fields[FieldPayload].GetStringValue()
	s.logger.Info("received sign request", "method", method, "user_id", userID)

	if userID == "" {
		s.logger.Warn("sign request rejected: missing user_id")
		return "", "", status.Error(codes.InvalidArgument, "user_id is required")
	}
	if payload == "" {
		s.logger.Warn("sign request rejected: missing payload", "user_id", userID)
		return "", "", status.Error(codes.InvalidArgument, "payload is required")
	}
	return userID, payload, nil
}

func (s *Server) key(ctx context.Context, userID string) (string, error) {
	privateKey, err := s.vault.GetPrivateKey(ctx, userID)
	if err != nil {
		s.logger.Error("failed to get private key from vault", "error", err, "user_id", userID)
		return "", status.Error(codes.Unauthenticated, "could not retrieve signing key for user")
	}
	return privateKey, nil
}

// SignPersonal signs the hex-encoded payload bytes with the EIP-191 prefix.
func (s *Server) SignPersonal(ctx context.Context, req *structpb.Struct) (*wrapperspb.StringValue, error) {
	userID, payload, err := s.parse("SignPersonal", req)
	if err != nil {
		return nil, err
	}
	message, err := hexutil.Decode(payload)
	if err != nil {
		s.logger.Warn("sign request rejected: payload is not hex", "user_id", userID)
		return nil, status.Error(codes.InvalidArgument, "payload must be 0x-prefixed hex")
	}
	privateKey, err := s.key(ctx, userID)
	if err != nil {
		return nil, err
	}

	signature, err := s.signer.SignPersonal(privateKey, message)
	if err != nil {
		s.logger.Error("failed to sign personal message", "error", err, "user_id", userID)
		return nil, signStatus(err)
	}
	return wrapperspb.String(signature), nil
}

// SignTypedData signs a typed-data document.
func (s *Server) SignTypedData(ctx context.Context, req *structpb.Struct) (*wrapperspb.StringValue, error) {
	userID, payload, err := s.parse("SignTypedData", req)
	if err != nil {
		return nil, err
	}
	privateKey, err := s.key(ctx, userID)
	if err != nil {
		return nil, err
	}

	signature, err := s.signer.SignTypedData(privateKey, payload)
	if err != nil {
		s.logger.Error("failed to sign typed data", "error", err, "user_id", userID)
		return nil, signStatus(err)
	}
	return wrapperspb.String(signature), nil
}

func signStatus(err error) error {
	if errors.Is(err, ErrInvalidPayload) {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	return status.Error(codes.Internal, "failed to sign payload")
}

func signPersonalHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SignerServer).SignPersonal(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodSignPersonal}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(SignerServer).SignPersonal(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func signTypedDataHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SignerServer).SignTypedData(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodSignTypedData}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(SignerServer).SignTypedData(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// ServiceDesc describes daosign.signer.v1.Signer.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SignerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SignPersonal", Handler: signPersonalHandler},
		{MethodName: "SignTypedData", Handler: signTypedDataHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "daosign/signer/v1/signer.proto",
}
