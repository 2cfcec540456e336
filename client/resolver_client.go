package client

import (
	"context"
	"fmt"

	"github.com/otherjamesbrown/mediaref/pkg/rpc"
	"github.com/otherjamesbrown/mediaref/pkg/turn"
)

// ResolverClient returns a resolver service client.
// Returns an error if not connected.
func (c *GRPCClient) ResolverClient() (rpc.ResolverClient, error) {
	conn, err := c.connection()
	if err != nil {
		return nil, err
	}
	return rpc.NewResolverClient(conn), nil
}

// ResolveTurn sends one user turn to the server.
func (c *GRPCClient) ResolveTurn(ctx context.Context, req *turn.Request) (*turn.Result, error) {
	client, err := c.ResolverClient()
	if err != nil {
		return nil, err
	}

	var resp *turn.Result
	err = c.WithRetry(ctx, func() error {
		var callErr error
		resp, callErr = client.ResolveTurn(ctx, req)
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("ResolveTurn RPC failed: %w", err)
	}
	return resp, nil
}

// ListMedia fetches a conversation's stored registry.
func (c *GRPCClient) ListMedia(ctx context.Context, conversationID string) (*rpc.ListMediaResponse, error) {
	client, err := c.ResolverClient()
	if err != nil {
		return nil, err
	}

	var resp *rpc.ListMediaResponse
	err = c.WithRetry(ctx, func() error {
		var callErr error
		resp, callErr = client.ListMedia(ctx, &rpc.ListMediaRequest{ConversationID: conversationID})
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("ListMedia RPC failed: %w", err)
	}
	return resp, nil
}
