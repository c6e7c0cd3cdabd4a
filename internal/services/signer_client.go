/**
 * @description
 * This file contains the gRPC client implementation for communicating with the
 * isolated remote-signer service. It is responsible for establishing a connection
 * and providing methods to request proof signatures for custodial users.
 *
 * Key features:
 * - gRPC Client: Manages the connection to the remote-signer gRPC server.
 * - Abstraction: `SignPersonal` and `SignTypedData` hide the underlying gRPC call details.
 * - Secure Communication: Configured to use an insecure connection for local
 *   development. In production, this should be updated with TLS credentials.
 * - Context Propagation: Forwards the context of the incoming request to the
 *   gRPC call, enabling timeout and cancellation propagation.
 *
 * @dependencies
 * - google.golang.org/grpc: The Go gRPC library.
 * - google.golang.org/protobuf: Well-known Struct and StringValue wire messages.
 */

package services

import (
	"context"
	"log/slog"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/daosign/proofs/internal/signer"
)

// SignerClient provides an interface for communicating with the remote signer service.
type SignerClient interface {
	// SignPersonal requests an EIP-191 signature over message.
	SignPersonal(ctx context.Context, userID string, message []byte) ([]byte, error)
	// SignTypedData requests an EIP-712 signature over a typed-data document.
	SignTypedData(ctx context.Context, userID, payloadJSON string) ([]byte, error)
	Close() error
}

// grpcSignerClient is the concrete implementation of the SignerClient.
type grpcSignerClient struct {
	conn   *grpc.ClientConn
	logger *slog.Logger
}

/**
 * @description
 * NewSignerClient creates a new gRPC client for the remote-signer service.
 *
 * @param address The network address of the remote-signer service (e.g., "localhost:8081").
 * @param logger A structured logger.
 * @param opts Extra dial options; tests pass an in-memory dialer.
 * @returns A SignerClient interface and an error if the connection fails.
 */
func NewSignerClient(address string, logger *slog.Logger, opts ...grpc.DialOption) (SignerClient, error) {
	logger.Info("connecting to remote signer service", "address", address)

	// In a production environment, you would use grpc.WithTransportCredentials()
	// to establish a secure TLS connection.
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(address, opts...)
	if err != nil {
		logger.Error("failed to connect to remote signer service", "error", err)
		return nil, err
	}

	return &grpcSignerClient{
		conn:   conn,
		logger: logger,
	}, nil
}

func (c *grpcSignerClient) SignPersonal(ctx context.Context, userID string, message []byte) ([]byte, error) {
	return c.invoke(ctx, signer.MethodSignPersonal, userID, hexutil.Encode(message))
}

func (c *grpcSignerClient) SignTypedData(ctx context.Context, userID, payloadJSON string) ([]byte, error) {
	return c.invoke(ctx, signer.MethodSignTypedData, userID, payloadJSON)
}

func (c *grpcSignerClient) invoke(ctx context.Context, method, userID, payload string) ([]byte, error) {
	c.logger.Info("sending sign request to remote signer", "method", method, "user_id", userID)

	resp := new(wrapperspb.StringValue)
	if err := c.conn.Invoke(ctx, method, signer.NewRequest(userID, payload), resp); err != nil {
		c.logger.Error("remote signer returned an error", "error", err, "user_id", userID)
		return nil, err
	}
	return hexutil.Decode(resp.GetValue())
}

// Close terminates the gRPC connection to the remote-signer service.
func (c *grpcSignerClient) Close() error {
	c.logger.Info("closing connection to remote signer service")
	return c.conn.Close()
}
