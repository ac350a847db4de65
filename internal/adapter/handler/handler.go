package handler

import (
	"errors"
	"net/http"
	"strings"

	"google.golang.org/grpc/codes"

	"github.com/rl1809/canteen/internal/core/domain"
	"github.com/rl1809/canteen/internal/core/service"
)

// Services bundles what the HTTP and gRPC transports expose.
type Services struct {
	Catalog   *service.CatalogService
	Lifecycle *service.LifecycleManager
	Payments  *service.PaymentService
	Dashboard *service.DashboardService
}

func httpStatus(err error) int {
	kind, ok := domain.KindOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindInventory, domain.KindState:
		return http.StatusConflict
	case domain.KindAuthorization:
		if errors.Is(err, domain.ErrUnauthenticated) {
			return http.StatusUnauthorized
		}
		return http.StatusForbidden
	case domain.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func grpcCode(err error) codes.Code {
	kind, ok := domain.KindOf(err)
	if !ok {
		return codes.Internal
	}
	switch kind {
	case domain.KindValidation:
		return codes.InvalidArgument
	case domain.KindInventory:
		return codes.ResourceExhausted
	case domain.KindState:
		return codes.FailedPrecondition
	case domain.KindAuthorization:
		if errors.Is(err, domain.ErrUnauthenticated) {
			return codes.Unauthenticated
		}
		return codes.PermissionDenied
	case domain.KindNotFound:
		return codes.NotFound
	default:
		return codes.Internal
	}
}

// parseStatuses reads a comma-separated status list. Unknown names are rejected.
func parseStatuses(raw string) ([]domain.OrderStatus, bool) {
	if raw == "" {
		return nil, true
	}
	var statuses []domain.OrderStatus
	for _, part := range strings.Split(raw, ",") {
		s := domain.OrderStatus(strings.TrimSpace(part))
		switch s {
		case domain.OrderStatusPlaced, domain.OrderStatusPaymentSubmitted,
			domain.OrderStatusVerified, domain.OrderStatusAbandoned:
			statuses = append(statuses, s)
		default:
			return nil, false
		}
	}
	return statuses, true
}

func parseFlag(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes":
		return true
	}
	return false
}
