package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "incident.v1.IncidentEngine"

// RPC method names.
const (
	MethodProcessIncident  = "ProcessIncident"
	MethodGetIncident      = "GetIncident"
	MethodListIncidents    = "ListIncidents"
	MethodDecideApproval   = "DecideApproval"
	MethodListApprovals    = "ListApprovals"
	MethodEscalateIncident = "EscalateIncident"
	MethodRecheckIncident  = "RecheckIncident"
)

// IncidentEngineServer is the server API for the IncidentEngine service. Requests and responses are
// google.protobuf.Struct documents whose fields mirror the JSON shape of the domain models.
type IncidentEngineServer interface {
	ProcessIncident(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetIncident(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListIncidents(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DecideApproval(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListApprovals(context.Context, *structpb.Struct) (*structpb.Struct, error)
	EscalateIncident(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RecheckIncident(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryMethod func(IncidentEngineServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func handler(name string, call unaryMethod) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(IncidentEngineServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(IncidentEngineServer), ctx, req.(*structpb.Struct))
			})
		},
	}
}

// IncidentEngineServiceDesc describes the service for grpc.Server registration.
var IncidentEngineServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*IncidentEngineServer)(nil),
	Methods: []grpc.MethodDesc{
		handler(MethodProcessIncident, IncidentEngineServer.ProcessIncident),
		handler(MethodGetIncident, IncidentEngineServer.GetIncident),
		handler(MethodListIncidents, IncidentEngineServer.ListIncidents),
		handler(MethodDecideApproval, IncidentEngineServer.DecideApproval),
		handler(MethodListApprovals, IncidentEngineServer.ListApprovals),
		handler(MethodEscalateIncident, IncidentEngineServer.EscalateIncident),
		handler(MethodRecheckIncident, IncidentEngineServer.RecheckIncident),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "incident/v1/incident.proto",
}

// RegisterIncidentEngineServer registers srv on s.
func RegisterIncidentEngineServer(s grpc.ServiceRegistrar, srv IncidentEngineServer) {
	s.RegisterService(&IncidentEngineServiceDesc, srv)
}

// Client calls the IncidentEngine service.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Call invokes method with req and returns the response document.
func (c *Client) Call(ctx context.Context, method string, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	if req == nil {
		req = &structpb.Struct{}
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
