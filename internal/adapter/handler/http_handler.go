package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/canteen/internal/core/domain"
	"github.com/rl1809/canteen/internal/core/service"
)

const (
	headerUserID         = "X-User-ID"
	headerKitchenAdmin   = "X-Kitchen-Admin"
	headerIdempotencyKey = "Idempotency-Key"
)

type callerKey struct{}

type HTTPHandler struct {
	svc    Services
	logger *zap.Logger
}

type orderLineRequest struct {
	MealID   string `json:"meal_id"`
	Quantity int    `json:"quantity"`
}

type placeOrderRequest struct {
	Items []orderLineRequest `json:"items"`
}

type submitPaymentRequest struct {
	OrderID         string          `json:"order_id"`
	TransactionCode string          `json:"transaction_code"`
	Amount          decimal.Decimal `json:"amount"`
}

type decisionRequest struct {
	Accept bool   `json:"accept"`
	Notes  string `json:"notes"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

type mealRequest struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Description    string          `json:"description"`
	Category       string          `json:"category"`
	Price          decimal.Decimal `json:"price"`
	MaxPerPerson   int             `json:"max_per_person"`
	UnitsAvailable *int            `json:"units_available"`
	IsAvailable    *bool           `json:"is_available"`
	Requires       []string        `json:"requires"`
}

type mealPatchRequest struct {
	Name           *string          `json:"name"`
	Description    *string          `json:"description"`
	Category       *string          `json:"category"`
	Price          *decimal.Decimal `json:"price"`
	MaxPerPerson   *int             `json:"max_per_person"`
	UnitsAvailable *int             `json:"units_available"`
	Unlimited      bool             `json:"unlimited"`
	IsAvailable    *bool            `json:"is_available"`
	Requires       *[]string        `json:"requires"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func NewHTTPHandler(svc Services, logger *zap.Logger) *HTTPHandler {
	return &HTTPHandler{svc: svc, logger: logger}
}

// Routes builds the HTTP API. Identity comes from headers set by the
// authentication gateway in front of the service.
func (h *HTTPHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.HealthCheck)

	r.Route("/api", func(r chi.Router) {
		r.Use(identify)

		r.Get("/meals", h.ListMeals)
		r.Get("/meals/{id}", h.GetMeal)
		r.Get("/categories", h.Categories)

		r.Post("/orders", h.PlaceOrder)
		r.Get("/orders", h.MyOrders)
		r.Get("/orders/{id}", h.GetOrder)
		r.Get("/orders/{id}/payments", h.PaymentHistory)
		r.Post("/orders/{id}/cancel", h.CancelOrder)

		r.Post("/payments", h.SubmitPayment)
		r.Get("/payments/{id}", h.GetPayment)

		r.Get("/dashboard/customer-stats", h.CustomerStats)

		r.Route("/admin", func(r chi.Router) {
			r.Use(h.requireAdmin)

			r.Post("/meals", h.CreateMeal)
			r.Patch("/meals/{id}", h.UpdateMeal)
			r.Delete("/meals/{id}", h.DeleteMeal)
			r.Get("/orders", h.ListOrders)
			r.Post("/orders/{id}/abandon", h.AbandonOrder)
			r.Get("/payments/pending", h.PendingPayments)
			r.Post("/payments/{id}/decision", h.DecidePayment)
			r.Get("/dashboard-stats", h.DashboardStats)
		})
	})

	return r
}

func identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := domain.Caller{
			UserID: r.Header.Get(headerUserID),
			Admin:  parseFlag(r.Header.Get(headerKitchenAdmin)),
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey{}, caller)))
	})
}

func callerFrom(r *http.Request) domain.Caller {
	caller, _ := r.Context().Value(callerKey{}).(domain.Caller)
	return caller
}

func (h *HTTPHandler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := callerFrom(r)
		switch {
		case caller.UserID == "":
			h.writeError(w, r, domain.ErrUnauthenticated)
		case !caller.Admin:
			h.writeError(w, r, domain.ErrForbidden)
		default:
			next.ServeHTTP(w, r)
		}
	})
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) ListMeals(w http.ResponseWriter, r *http.Request) {
	meals, err := h.svc.Catalog.List(r.Context(), domain.MealFilter{
		OnlyAvailable: parseFlag(r.URL.Query().Get("available")),
		Category:      r.URL.Query().Get("category"),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, meals)
}

func (h *HTTPHandler) GetMeal(w http.ResponseWriter, r *http.Request) {
	meal, err := h.svc.Catalog.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, meal)
}

func (h *HTTPHandler) Categories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.svc.Catalog.Categories(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, categories)
}

func (h *HTTPHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if !h.decode(w, r, &req) {
		return
	}

	cart := make([]domain.OrderLine, 0, len(req.Items))
	for _, item := range req.Items {
		cart = append(cart, domain.OrderLine{MealID: item.MealID, Quantity: item.Quantity})
	}

	order, err := h.svc.Lifecycle.Place(r.Context(), callerFrom(r), cart, r.Header.Get(headerIdempotencyKey))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (h *HTTPHandler) MyOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.svc.Lifecycle.ListForUser(r.Context(), callerFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (h *HTTPHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.svc.Lifecycle.Get(r.Context(), callerFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *HTTPHandler) PaymentHistory(w http.ResponseWriter, r *http.Request) {
	payments, err := h.svc.Payments.History(r.Context(), callerFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payments)
}

func (h *HTTPHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}
	if req.Reason == "" {
		req.Reason = "cancelled by customer"
	}

	caller := callerFrom(r)
	if caller.UserID == "" {
		h.writeError(w, r, domain.ErrUnauthenticated)
		return
	}
	// Cancellation is always an owner action, even for kitchen staff.
	caller.Admin = false

	order, err := h.svc.Lifecycle.Abandon(r.Context(), caller, chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *HTTPHandler) SubmitPayment(w http.ResponseWriter, r *http.Request) {
	var req submitPaymentRequest
	if !h.decode(w, r, &req) {
		return
	}

	payment, err := h.svc.Payments.Submit(r.Context(), callerFrom(r), req.OrderID, req.TransactionCode, req.Amount)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, payment)
}

func (h *HTTPHandler) GetPayment(w http.ResponseWriter, r *http.Request) {
	payment, err := h.svc.Payments.Get(r.Context(), callerFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payment)
}

func (h *HTTPHandler) CustomerStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Dashboard.CustomerStats(r.Context(), callerFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *HTTPHandler) CreateMeal(w http.ResponseWriter, r *http.Request) {
	var req mealRequest
	if !h.decode(w, r, &req) {
		return
	}

	available := true
	if req.IsAvailable != nil {
		available = *req.IsAvailable
	}

	meal, err := h.svc.Catalog.Create(r.Context(), callerFrom(r), domain.MenuItem{
		ID:             req.ID,
		Name:           req.Name,
		Description:    req.Description,
		Category:       req.Category,
		Price:          req.Price,
		MaxPerPerson:   req.MaxPerPerson,
		UnitsAvailable: req.UnitsAvailable,
		IsAvailable:    available,
		Requires:       req.Requires,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, meal)
}

func (h *HTTPHandler) UpdateMeal(w http.ResponseWriter, r *http.Request) {
	var req mealPatchRequest
	if !h.decode(w, r, &req) {
		return
	}

	meal, err := h.svc.Catalog.Update(r.Context(), callerFrom(r), chi.URLParam(r, "id"), service.MealPatch{
		Name:         req.Name,
		Description:  req.Description,
		Category:     req.Category,
		Price:        req.Price,
		MaxPerPerson: req.MaxPerPerson,
		Units:        req.UnitsAvailable,
		Unlimited:    req.Unlimited,
		IsAvailable:  req.IsAvailable,
		Requires:     req.Requires,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, meal)
}

func (h *HTTPHandler) DeleteMeal(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Catalog.Delete(r.Context(), callerFrom(r), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	statuses, ok := parseStatuses(r.URL.Query().Get("status"))
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: errorBody{
			Code:    "BAD_REQUEST",
			Message: "unknown order status",
		}})
		return
	}

	orders, err := h.svc.Lifecycle.List(r.Context(), callerFrom(r), domain.OrderFilter{
		UserID:   r.URL.Query().Get("user_id"),
		Statuses: statuses,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (h *HTTPHandler) AbandonOrder(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}
	if req.Reason == "" {
		req.Reason = "abandoned by kitchen"
	}

	order, err := h.svc.Lifecycle.Abandon(r.Context(), callerFrom(r), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *HTTPHandler) PendingPayments(w http.ResponseWriter, r *http.Request) {
	pending, err := h.svc.Lifecycle.Pending(r.Context(), callerFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pending)
}

func (h *HTTPHandler) DecidePayment(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if !h.decode(w, r, &req) {
		return
	}

	order, err := h.svc.Payments.Decide(r.Context(), callerFrom(r), chi.URLParam(r, "id"), req.Accept, req.Notes)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *HTTPHandler) DashboardStats(w http.ResponseWriter, r *http.Request) {
	summary, err := h.svc.Dashboard.Summary(r.Context(), callerFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: errorBody{
			Code:    "BAD_REQUEST",
			Message: "invalid request body",
		}})
		return false
	}
	return true
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := httpStatus(err)
	body := errorBody{Code: domain.CodeOf(err), Message: err.Error()}

	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err))
		body.Message = "internal error"
	}
	writeJSON(w, status, errorResponse{Error: body})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
