package engine

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/xela07ax/sentinel-gateway/internal/domain"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ToolGatewayService = "sentinel.v1.ToolGateway"
	InvokeMethod       = "/sentinel.v1.ToolGateway/Invoke"
	// StatusHeader — HTTP-статус конверта в метаданных ответа.
	StatusHeader = "x-sentinel-status"
)

// ToolGatewayServer — gRPC-вход в тот же пайплайн, что и POST /tool.
// Запрос и ответ — google.protobuf.Struct с полями конверта.
type ToolGatewayServer interface {
	Invoke(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var ToolGatewayServiceDesc = grpc.ServiceDesc{
	ServiceName: ToolGatewayService,
	HandlerType: (*ToolGatewayServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Invoke", Handler: invokeHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "sentinel/v1/gateway.proto",
}

func invokeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ToolGatewayServer).Invoke(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: InvokeMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ToolGatewayServer).Invoke(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

type GRPCGatewayServer struct {
	gw *Gateway
}

func NewGRPCGatewayServer(gw *Gateway) *GRPCGatewayServer {
	return &GRPCGatewayServer{gw: gw}
}

func (s *GRPCGatewayServer) Invoke(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	// 1. Конверт из Struct
	m := req.AsMap()
	resp, code := s.gw.Invoke(ctx, domain.ToolRequest{Tool: m["tool"], Args: m["args"], Ctx: m["ctx"]})

	// 2. Статус конверта уходит в заголовке, тело одинаково с HTTP
	_ = grpc.SetHeader(ctx, metadata.Pairs(StatusHeader, strconv.Itoa(code)))

	// 3. Собираем ответ обратно в Protobuf
	raw, err := json.Marshal(resp)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	st, err := structpb.NewStruct(out)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return st, nil
}

// HaltSource — признак глобальной остановки.
type HaltSource interface {
	Status() domain.KillSwitchReport
}

// HealthReporter держит grpc.health.v1 в NOT_SERVING, пока активен
// глобальный рубильник.
type HealthReporter struct {
	srv    *health.Server
	src    HaltSource
	every  time.Duration
	logger *zap.Logger
}

func NewHealthReporter(srv *health.Server, src HaltSource, every time.Duration, logger *zap.Logger) *HealthReporter {
	if every <= 0 {
		every = time.Second
	}
	return &HealthReporter{srv: srv, src: src, every: every, logger: logger.Named("health")}
}

// Sync выставляет статус по текущему состоянию рубильников.
func (h *HealthReporter) Sync() healthpb.HealthCheckResponse_ServingStatus {
	st := healthpb.HealthCheckResponse_SERVING
	if h.src.Status().GlobalActive {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.srv.SetServingStatus("", st)
	h.srv.SetServingStatus(ToolGatewayService, st)
	return st
}

// Run синхронизирует статус до отмены контекста.
func (h *HealthReporter) Run(ctx context.Context) {
	ticker := time.NewTicker(h.every)
	defer ticker.Stop()

	last := h.Sync()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if st := h.Sync(); st != last {
				h.logger.Warn("serving status changed", zap.String("status", st.String()))
				last = st
			}
		}
	}
}
