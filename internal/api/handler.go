// Package api serves the dashboard over HTTP: the filtered order list, order
// details, invoice downloads, summary stats, contact links and the live
// websocket feed.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/sivakasi-crackers/order-dashboard/internal/circuitbreaker"
	"github.com/sivakasi-crackers/order-dashboard/internal/contact"
	"github.com/sivakasi-crackers/order-dashboard/internal/dashboard"
	"github.com/sivakasi-crackers/order-dashboard/internal/invoice"
	"github.com/sivakasi-crackers/order-dashboard/internal/orderquery"
	"github.com/sivakasi-crackers/order-dashboard/pkg/models"
)

type Dashboard interface {
	Loaded() bool
	Snapshot() []models.OrderRecord
	View(p orderquery.Params) []models.OrderRecord
	Stats() orderquery.Stats
	Order(id string) (models.OrderRecord, error)
	Invoice(ctx context.Context, id string) (*invoice.Rendered, error)
}

type WebSocketHub interface {
	HandleWebSocket(w http.ResponseWriter, r *http.Request)
	GetClientCount() int
}

// BreakerReporter exposes the state of the optional dependencies.
type BreakerReporter interface {
	AllMetrics() map[string]circuitbreaker.Metrics
}

type OrdersResponse struct {
	Success bool                 `json:"success"`
	Params  orderquery.Params    `json:"params"`
	Count   int                  `json:"count"`
	Orders  []models.OrderRecord `json:"orders"`
}

type OrderResponse struct {
	Success bool               `json:"success"`
	Order   models.OrderRecord `json:"order"`
}

type Handler struct {
	dash    Dashboard
	contact contact.Info
	logger  *logrus.Logger
	wsHub   WebSocketHub
	breaker BreakerReporter
}

func NewHandler(dash Dashboard, info contact.Info, logger *logrus.Logger) *Handler {
	return &Handler{
		dash:    dash,
		contact: info,
		logger:  logger,
	}
}

func (h *Handler) SetWebSocketHub(hub WebSocketHub) {
	h.wsHub = hub
}

func (h *Handler) SetBreakers(reporter BreakerReporter) {
	h.breaker = reporter
}

func (h *Handler) Router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/health", h.HealthCheck).Methods("GET", "OPTIONS")
	router.HandleFunc("/orders", h.ListOrders).Methods("GET", "OPTIONS")
	router.HandleFunc("/orders/{id}", h.GetOrder).Methods("GET", "OPTIONS")
	router.HandleFunc("/orders/{id}/invoice", h.DownloadInvoice).Methods("GET", "OPTIONS")
	router.HandleFunc("/stats", h.GetStats).Methods("GET", "OPTIONS")
	router.HandleFunc("/contact", h.GetContact).Methods("GET", "OPTIONS")
	router.HandleFunc("/contact/whatsapp", h.OpenWhatsApp).Methods("GET")
	router.HandleFunc("/contact/call", h.Call).Methods("GET")
	if h.wsHub != nil {
		router.HandleFunc("/ws", h.wsHub.HandleWebSocket)
	}

	router.Use(corsMiddleware())
	router.Use(loggingMiddleware(h.logger))
	return router
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	if !h.dash.Loaded() {
		status = "loading"
	}
	body := map[string]interface{}{
		"status":  status,
		"service": "order-dashboard",
		"orders":  len(h.dash.Snapshot()),
	}
	if h.wsHub != nil {
		body["ws_clients"] = h.wsHub.GetClientCount()
	}
	if h.breaker != nil {
		body["dependencies"] = h.breaker.AllMetrics()
	}
	h.respondWithJSON(w, http.StatusOK, body)
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sortKey, err := orderquery.ParseSortKey(q.Get("sort"))
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	params := orderquery.Params{
		Search: q.Get("search"),
		Status: models.Status(q.Get("status")),
		Sort:   sortKey,
	}.Normalize()

	orders := h.dash.View(params)
	h.respondWithJSON(w, http.StatusOK, OrdersResponse{
		Success: true,
		Params:  params,
		Count:   len(orders),
		Orders:  orders,
	})
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	order, err := h.dash.Order(id)
	if err != nil {
		h.respondWithDashboardError(w, id, err, "Failed to load order")
		return
	}
	h.respondWithJSON(w, http.StatusOK, OrderResponse{Success: true, Order: order})
}

func (h *Handler) DownloadInvoice(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rendered, err := h.dash.Invoice(r.Context(), id)
	if err != nil {
		h.respondWithDashboardError(w, id, err, "Failed to generate invoice")
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
		"filename": rendered.FileName,
	}))
	w.Header().Set("Content-Length", strconv.Itoa(len(rendered.Data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(rendered.Data); err != nil {
		h.logger.WithError(err).WithField("order_id", id).Warn("Failed to write invoice response")
	}
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	h.respondWithJSON(w, http.StatusOK, h.dash.Stats())
}

func (h *Handler) GetContact(w http.ResponseWriter, r *http.Request) {
	h.respondWithJSON(w, http.StatusOK, h.contact.Links(r.UserAgent()))
}

func (h *Handler) OpenWhatsApp(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, h.contact.WhatsAppURI(r.UserAgent()), http.StatusFound)
}

func (h *Handler) Call(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, h.contact.CallURI(), http.StatusFound)
}

func (h *Handler) respondWithDashboardError(w http.ResponseWriter, id string, err error, message string) {
	if errors.Is(err, dashboard.ErrOrderNotFound) {
		h.respondWithError(w, http.StatusNotFound, "Order not found")
		return
	}
	h.logger.WithError(err).WithField("order_id", id).Error("Failed to serve order")
	h.respondWithError(w, http.StatusInternalServerError, message)
}

func (h *Handler) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		h.logger.WithError(err).Error("Failed to marshal response")
		code = http.StatusInternalServerError
		response = []byte(`{"success":false,"message":"Internal error"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func (h *Handler) respondWithError(w http.ResponseWriter, code int, message string) {
	h.respondWithJSON(w, code, map[string]interface{}{
		"success": false,
		"message": message,
	})
}
