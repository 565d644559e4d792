package apiserver

import (
	"context"
	"net/http"
	"time"

	"github.com/improbable-eng/grpc-web/go/grpcweb"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"

	"github.com/flowbase/repl-engine/config"
	"github.com/flowbase/repl-engine/coordinator"
	"github.com/flowbase/repl-engine/facade"
)

// StatusServiceServer is the hand-written equivalent of a generated
// `*_grpc.pb.go` server interface; see codec.go for why this is
// hand-registered rather than protoc-generated.
type StatusServiceServer interface {
	GetStatus(ctx context.Context, req *statusRequest) (*coordinator.StatusSnapshot, error)
	Promote(ctx context.Context, req *promoteRequest) (*coordinator.StatusSnapshot, error)
}

func _StatusService_GetStatus_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(statusRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(StatusServiceServer).GetStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/replengine.StatusService/GetStatus"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(StatusServiceServer).GetStatus(ctx, req.(*statusRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _StatusService_Promote_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(promoteRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(StatusServiceServer).Promote(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/replengine.StatusService/Promote"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(StatusServiceServer).Promote(ctx, req.(*promoteRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// StatusServiceServiceDesc is registered directly against a *grpc.Server
// in place of the usual generated `_ServiceDesc` variable.
var StatusServiceServiceDesc = grpc.ServiceDesc{
	ServiceName: "replengine.StatusService",
	HandlerType: (*StatusServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetStatus", Handler: _StatusService_GetStatus_Handler},
		{MethodName: "Promote", Handler: _StatusService_Promote_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "repl_engine_status.proto",
}

// statusServiceImpl implements StatusServiceServer over a Facade.
type statusServiceImpl struct {
	facade *facade.Facade
}

func (s *statusServiceImpl) GetStatus(ctx context.Context, _ *statusRequest) (*coordinator.StatusSnapshot, error) {
	snap := s.facade.Status()
	return &snap, nil
}

func (s *statusServiceImpl) Promote(ctx context.Context, req *promoteRequest) (*coordinator.StatusSnapshot, error) {
	if err := s.facade.Promote(ctx, req.Replica); err != nil {
		return nil, err
	}
	snap := s.facade.Status()
	return &snap, nil
}

// GRPCServer owns the grpc.Server plus its grpc-web wrapper as a pair
// of fields. Both are served by one http.Server on a single listener,
// which routes grpc-web requests to the wrapper and everything else to
// the plain gRPC server; they start and stop together.
type GRPCServer struct {
	grpcServer *grpc.Server
	wrapped    *grpcweb.WrappedGrpcServer
	http       *http.Server
}

// NewGRPCServer builds the combined grpc/grpc-web listener. Serving
// unencrypted gRPC over http.Server requires an h2c-capable handler in
// production; omitted here since this listener is always expected to
// sit behind a TLS-terminating proxy.
func NewGRPCServer(cfg config.Config, f *facade.Facade) *GRPCServer {
	gs := grpc.NewServer()
	gs.RegisterService(&StatusServiceServiceDesc, &statusServiceImpl{facade: f})

	wrapped := grpcweb.WrapServer(gs)

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if wrapped.IsGrpcWebRequest(r) || wrapped.IsAcceptableGrpcCorsRequest(r) {
			wrapped.ServeHTTP(w, r)
			return
		}
		gs.ServeHTTP(w, r)
	})

	return &GRPCServer{
		grpcServer: gs,
		wrapped:    wrapped,
		http: &http.Server{
			Addr:         cfg.GRPCListen,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}

func (g *GRPCServer) ListenAndServe() error {
	log.WithField("addr", g.http.Addr).Info("apiserver: grpc/grpc-web listening")
	return g.http.ListenAndServe()
}

func (g *GRPCServer) Shutdown(ctx context.Context) error {
	g.grpcServer.GracefulStop()
	return g.http.Shutdown(ctx)
}
