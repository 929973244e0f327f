package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// AdminClient is the client API for the Admin service.
type AdminClient struct {
	cc grpc.ClientConnInterface
}

func NewAdminClient(cc grpc.ClientConnInterface) *AdminClient {
	return &AdminClient{cc: cc}
}

func (c *AdminClient) invoke(ctx context.Context, method string, in, out any, opts ...grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	return c.cc.Invoke(ctx, "/"+serviceName+"/"+method, in, out, opts...)
}

func (c *AdminClient) ListClients(ctx context.Context, in *ListClientsRequest, opts ...grpc.CallOption) (*ListClientsResponse, error) {
	out := new(ListClientsResponse)
	if err := c.invoke(ctx, "ListClients", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *AdminClient) Publish(ctx context.Context, in *PublishRequest, opts ...grpc.CallOption) (*PublishResponse, error) {
	out := new(PublishResponse)
	if err := c.invoke(ctx, "Publish", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *AdminClient) DisconnectClient(ctx context.Context, in *DisconnectClientRequest, opts ...grpc.CallOption) (*ExecuteResponse, error) {
	out := new(ExecuteResponse)
	if err := c.invoke(ctx, "DisconnectClient", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
