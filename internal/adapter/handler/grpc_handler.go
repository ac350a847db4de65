package handler

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rl1809/canteen/internal/core/domain"
)

const (
	CanteenServiceName = "canteen.v1.Canteen"

	metadataUserID       = "x-user-id"
	metadataKitchenAdmin = "x-kitchen-admin"
	errorDomain          = "canteen"
)

// CanteenServer is the gRPC surface. Messages are google.protobuf.Struct
// values carrying the same JSON documents as the HTTP API.
type CanteenServer interface {
	ListMenu(context.Context, *structpb.Struct) (*structpb.Struct, error)
	PlaceOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SubmitPayment(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListPendingPayments(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DecidePayment(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Dashboard(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(CanteenServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryMethod(name string, call unaryCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(CanteenServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + CanteenServiceName + "/" + name,
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(CanteenServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var canteenServiceDesc = grpc.ServiceDesc{
	ServiceName: CanteenServiceName,
	HandlerType: (*CanteenServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("ListMenu", CanteenServer.ListMenu),
		unaryMethod("PlaceOrder", CanteenServer.PlaceOrder),
		unaryMethod("SubmitPayment", CanteenServer.SubmitPayment),
		unaryMethod("ListPendingPayments", CanteenServer.ListPendingPayments),
		unaryMethod("DecidePayment", CanteenServer.DecidePayment),
		unaryMethod("Dashboard", CanteenServer.Dashboard),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "canteen/v1/canteen.proto",
}

func RegisterCanteenServer(s grpc.ServiceRegistrar, srv CanteenServer) {
	s.RegisterService(&canteenServiceDesc, srv)
}

var _ CanteenServer = (*GRPCHandler)(nil)

type GRPCHandler struct {
	svc    Services
	logger *zap.Logger
}

func NewGRPCHandler(svc Services, logger *zap.Logger) *GRPCHandler {
	return &GRPCHandler{svc: svc, logger: logger}
}

// NewGRPCServer registers the canteen service and the standard health service.
func NewGRPCServer(h *GRPCHandler, opts ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	opts = append(opts, grpc.ChainUnaryInterceptor(h.logCalls))
	server := grpc.NewServer(opts...)

	RegisterCanteenServer(server, h)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(server, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(CanteenServiceName, healthpb.HealthCheckResponse_SERVING)

	return server, healthServer
}

func (h *GRPCHandler) logCalls(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	h.logger.Debug("grpc call",
		zap.String("method", info.FullMethod),
		zap.String("code", status.Code(err).String()),
		zap.Duration("duration", time.Since(start)))
	return resp, err
}

type listMenuRequest struct {
	Available bool   `json:"available"`
	Category  string `json:"category"`
}

type grpcPlaceOrderRequest struct {
	Items          []orderLineRequest `json:"items"`
	IdempotencyKey string             `json:"idempotency_key"`
}

type grpcDecisionRequest struct {
	PaymentID string `json:"payment_id"`
	Accept    bool   `json:"accept"`
	Notes     string `json:"notes"`
}

func (h *GRPCHandler) ListMenu(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req listMenuRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, err
	}

	meals, err := h.svc.Catalog.List(ctx, domain.MealFilter{OnlyAvailable: req.Available, Category: req.Category})
	if err != nil {
		return nil, h.toStatus(ctx, err)
	}
	return toStruct(map[string]any{"meals": meals})
}

func (h *GRPCHandler) PlaceOrder(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req grpcPlaceOrderRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, err
	}

	cart := make([]domain.OrderLine, 0, len(req.Items))
	for _, item := range req.Items {
		cart = append(cart, domain.OrderLine{MealID: item.MealID, Quantity: item.Quantity})
	}

	order, err := h.svc.Lifecycle.Place(ctx, callerFromMetadata(ctx), cart, req.IdempotencyKey)
	if err != nil {
		return nil, h.toStatus(ctx, err)
	}
	return toStruct(order)
}

func (h *GRPCHandler) SubmitPayment(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req submitPaymentRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, err
	}

	payment, err := h.svc.Payments.Submit(ctx, callerFromMetadata(ctx), req.OrderID, req.TransactionCode, req.Amount)
	if err != nil {
		return nil, h.toStatus(ctx, err)
	}
	return toStruct(payment)
}

func (h *GRPCHandler) ListPendingPayments(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	pending, err := h.svc.Lifecycle.Pending(ctx, callerFromMetadata(ctx))
	if err != nil {
		return nil, h.toStatus(ctx, err)
	}
	return toStruct(map[string]any{"pending": pending})
}

func (h *GRPCHandler) DecidePayment(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req grpcDecisionRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, err
	}

	order, err := h.svc.Payments.Decide(ctx, callerFromMetadata(ctx), req.PaymentID, req.Accept, req.Notes)
	if err != nil {
		return nil, h.toStatus(ctx, err)
	}
	return toStruct(order)
}

func (h *GRPCHandler) Dashboard(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	summary, err := h.svc.Dashboard.Summary(ctx, callerFromMetadata(ctx))
	if err != nil {
		return nil, h.toStatus(ctx, err)
	}
	return toStruct(summary)
}

func callerFromMetadata(ctx context.Context) domain.Caller {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return domain.Caller{}
	}
	var caller domain.Caller
	if v := md.Get(metadataUserID); len(v) > 0 {
		caller.UserID = v[0]
	}
	if v := md.Get(metadataKitchenAdmin); len(v) > 0 {
		caller.Admin = parseFlag(v[0])
	}
	return caller
}

// toStatus converts err to a gRPC status carrying the domain code as ErrorInfo.
func (h *GRPCHandler) toStatus(ctx context.Context, err error) error {
	code := grpcCode(err)
	message := err.Error()
	if code == codes.Internal {
		h.logger.Error("grpc call failed", zap.Error(err))
		message = "internal error"
	}

	st := status.New(code, message)
	detailed, detailErr := st.WithDetails(&errdetails.ErrorInfo{
		Reason: domain.CodeOf(err),
		Domain: errorDomain,
	})
	if detailErr != nil {
		return st.Err()
	}
	return detailed.Err()
}

func fromStruct(in *structpb.Struct, v any) error {
	raw, err := protojson.Marshal(in)
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "invalid request: %v", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return status.Errorf(codes.InvalidArgument, "invalid request: %v", err)
	}
	return nil
}

func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}
