package rpc

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/life-stream-dev/life-stream-go-mqtt-core/internal/dispatcher"
	"github.com/life-stream-dev/life-stream-go-mqtt-core/internal/logger"
	"github.com/life-stream-dev/life-stream-go-mqtt-core/internal/session"
	"github.com/life-stream-dev/life-stream-go-mqtt-core/internal/topic"
)

const serviceName = "lifestream.mqtt.Admin"

// AdminServer is the server API for the Admin service.
type AdminServer interface {
	ListClients(context.Context, *ListClientsRequest) (*ListClientsResponse, error)
	Publish(context.Context, *PublishRequest) (*PublishResponse, error)
	DisconnectClient(context.Context, *DisconnectClientRequest) (*ExecuteResponse, error)
}

func RegisterAdminServer(s grpc.ServiceRegistrar, srv AdminServer) {
	s.RegisterService(&adminServiceDesc, srv)
}

func unaryHandler[Req any, Resp any](method string, call func(AdminServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(AdminServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + serviceName + "/" + method,
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(AdminServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var adminServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*AdminServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("ListClients", AdminServer.ListClients),
		unaryHandler("Publish", AdminServer.Publish),
		unaryHandler("DisconnectClient", AdminServer.DisconnectClient),
	},
	Streams: []grpc.StreamDesc{},
}

// Service implements AdminServer on top of the session registry and dispatcher.
type Service struct {
	registry   *session.Registry
	dispatcher *dispatcher.Dispatcher
}

func NewService(registry *session.Registry, d *dispatcher.Dispatcher) *Service {
	return &Service{registry: registry, dispatcher: d}
}

func (s *Service) ListClients(_ context.Context, _ *ListClientsRequest) (*ListClientsResponse, error) {
	infos := s.registry.List()
	clients := make([]*ClientState, len(infos))
	for i, info := range infos {
		clients[i] = &ClientState{
			ClientID:      info.ClientID,
			Connected:     info.Connected,
			CleanSession:  info.CleanSession,
			Subscriptions: info.Subscriptions,
			Queued:        int32(info.Queued),
			Inflight:      int32(info.Inflight),
		}
	}
	return &ListClientsResponse{Clients: clients}, nil
}

func (s *Service) Publish(_ context.Context, req *PublishRequest) (*PublishResponse, error) {
	if req.QoS > 1 {
		return nil, status.Errorf(codes.InvalidArgument, "qos %d is not supported", req.QoS)
	}
	sender := req.Sender
	if sender == "" {
		sender = "rpc"
	}
	delivered, err := s.dispatcher.Inject(req.Topic, req.Payload, byte(req.QoS), sender)
	if err != nil {
		if errors.Is(err, topic.ErrTopicInvalid) || errors.Is(err, dispatcher.ErrInvalidQoS) {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		return nil, status.Error(codes.Internal, err.Error())
	}
	return &PublishResponse{Delivered: int32(delivered)}, nil
}

func (s *Service) DisconnectClient(_ context.Context, req *DisconnectClientRequest) (*ExecuteResponse, error) {
	if req.ClientID == "" {
		return nil, status.Error(codes.InvalidArgument, "client_id is required")
	}
	if !s.registry.Purge(req.ClientID) {
		return &ExecuteResponse{Status: false}, status.Errorf(codes.NotFound, "client %s not found", req.ClientID)
	}
	logger.InfoF("Client %s removed through gRPC", req.ClientID)
	return &ExecuteResponse{Status: true}, nil
}
