// Package reorder looks up per-SKU reorder points, the low-stock threshold used by availability checks.
package reorder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"

	"github.com/rl1809/inventory-engine/internal/logging"
	"github.com/rl1809/inventory-engine/internal/port"
)

const (
	codecName             = "json"
	serviceName           = "reorder.v1.ReorderPointService"
	getReorderPointMethod = "/" + serviceName + "/GetReorderPoint"
)

// jsonCodec carries the reorder-point messages as JSON so neither side needs generated stubs.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type GetReorderPointRequest struct {
	TenantID string `json:"tenantId"`
	SKU      string `json:"skuId"`
}

type GetReorderPointResponse struct {
	ReorderPoint int `json:"reorderPoint"`
}

type ReorderPointServer interface {
	GetReorderPoint(ctx context.Context, req *GetReorderPointRequest) (*GetReorderPointResponse, error)
}

func RegisterReorderPointServer(s grpc.ServiceRegistrar, srv ReorderPointServer) {
	s.RegisterService(&serviceDesc, srv)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ReorderPointServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetReorderPoint", Handler: getReorderPointHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "reorder/v1/reorder.proto",
}

func getReorderPointHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetReorderPointRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ReorderPointServer).GetReorderPoint(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: getReorderPointMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ReorderPointServer).GetReorderPoint(ctx, req.(*GetReorderPointRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// Dial opens a client connection that speaks the JSON codec by default.
func Dial(target string) (*grpc.ClientConn, error) {
	conn, err := grpc.NewClient(target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("dial reorder service: %w", err)
	}
	return conn, nil
}

// GRPCProvider asks the reorder-point service, guarded by a per-call timeout and a circuit breaker.
type GRPCProvider struct {
	conn    grpc.ClientConnInterface
	timeout time.Duration
	cb      *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

var _ port.ReorderPointProvider = (*GRPCProvider)(nil)

func NewGRPCProvider(conn grpc.ClientConnInterface, timeout time.Duration, logger *zap.Logger) *GRPCProvider {
	settings := gobreaker.Settings{
		Name:        "ReorderPointService",
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
		// an unknown SKU is an answer, not an outage
		IsSuccessful: func(err error) bool {
			return err == nil || status.Code(err) == codes.NotFound
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn(
				"Circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}

	return &GRPCProvider{
		conn:    conn,
		timeout: timeout,
		cb:      gobreaker.NewCircuitBreaker(settings),
		logger:  logger,
	}
}

func (p *GRPCProvider) GetReorderPoint(ctx context.Context, tenantID, sku string) (int, error) {
	result, err := p.cb.Execute(func() (interface{}, error) {
		callCtx := ctx
		if p.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, p.timeout)
			defer cancel()
		}

		out := new(GetReorderPointResponse)
		err := p.conn.Invoke(callCtx, getReorderPointMethod,
			&GetReorderPointRequest{TenantID: tenantID, SKU: sku}, out, grpc.CallContentSubtype(codecName))
		return out, err
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			logging.Warn(ctx, p.logger, "Circuit breaker open", zap.String("sku", sku))
		}
		return 0, fmt.Errorf("get reorder point for %s: %w", sku, err)
	}

	return result.(*GetReorderPointResponse).ReorderPoint, nil
}
