package websocket

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kiwis93160/OUIOUIPOSv2-sub000/app/kitchen"
	"github.com/kiwis93160/OUIOUIPOSv2-sub000/app/models"
	"github.com/kiwis93160/OUIOUIPOSv2-sub000/app/services"
	"github.com/kiwis93160/OUIOUIPOSv2-sub000/app/session"
)

// Handlers provides the HTTP REST endpoints the tablet and self-order
// apps read and write through.
type Handlers struct {
	orders    *services.OrderService
	products  *services.ProductService
	employees *services.EmployeeService
	reports   *services.ReportsService
	baseURL   string
}

// NewHandlers creates a new REST handlers instance.
func NewHandlers(orders *services.OrderService, products *services.ProductService,
	employees *services.EmployeeService, reports *services.ReportsService, baseURL string) *Handlers {
	return &Handlers{
		orders:    orders,
		products:  products,
		employees: employees,
		reports:   reports,
		baseURL:   baseURL,
	}
}

// Register wires the REST endpoints onto the mux.
func (h *Handlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/products", h.HandleGetProducts)
	mux.HandleFunc("/api/categories", h.HandleGetCategories)
	mux.HandleFunc("/api/tables", h.HandleGetTables)
	mux.HandleFunc("/api/tables/qr", h.HandleTableQR)
	mux.HandleFunc("/api/kitchen/tickets", h.HandleKitchenTickets)
	mux.HandleFunc("/api/orders/takeaway", h.HandleCreateTakeaway)
	mux.HandleFunc("/api/orders/", h.HandleOrderByID)
	mux.HandleFunc("/api/sales/today", h.HandleTodaySales)
	mux.HandleFunc("/api/login", h.HandleLogin)
	log.Println("REST API endpoints registered")
}

// cors enables the headers the tablet webviews need and answers the
// preflight. Returns false when the request is already handled.
func cors(w http.ResponseWriter, r *http.Request, methods string) bool {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", methods+", OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return false
	}
	if !strings.Contains(methods, r.Method) {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// HandleGetProducts returns all active products.
func (h *Handlers) HandleGetProducts(w http.ResponseWriter, r *http.Request) {
	if !cors(w, r, http.MethodGet) {
		return
	}
	products, err := h.products.GetProducts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, products)
}

// HandleGetCategories returns all active categories in display order.
func (h *Handlers) HandleGetCategories(w http.ResponseWriter, r *http.Request) {
	if !cors(w, r, http.MethodGet) {
		return
	}
	categories, err := h.products.GetCategories(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, categories)
}

// HandleGetTables returns the table board.
func (h *Handlers) HandleGetTables(w http.ResponseWriter, r *http.Request) {
	if !cors(w, r, http.MethodGet) {
		return
	}
	tables, err := h.orders.GetTables(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, tables)
}

// HandleTableQR renders the self-order QR for a table as PNG.
func (h *Handlers) HandleTableQR(w http.ResponseWriter, r *http.Request) {
	if !cors(w, r, http.MethodGet) {
		return
	}
	tableID, err := strconv.ParseUint(r.URL.Query().Get("table_id"), 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("table_id is required"))
		return
	}
	png, err := h.orders.GenerateTableQR(r.Context(), uint(tableID), h.baseURL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(png)
}

// HandleKitchenTickets returns the live kitchen board: one ticket per
// send batch, oldest first, each carrying its urgency.
func (h *Handlers) HandleKitchenTickets(w http.ResponseWriter, r *http.Request) {
	if !cors(w, r, http.MethodGet) {
		return
	}
	orders, err := h.orders.GetKitchenOrders(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	tickets := kitchen.GroupOrders(orders, time.Now().UTC())
	writeJSON(w, http.StatusOK, tickets)
}

type takeawayRequest struct {
	Items []takeawayItem `json:"items"`
}

type takeawayItem struct {
	ProductID           uint           `json:"product_id"`
	Quantity            int            `json:"quantity"`
	Comment             string         `json:"comment"`
	ExcludedIngredients models.UintSet `json:"excluded_ingredients"`
}

// HandleCreateTakeaway records a customer self-submitted order, pending
// validation by staff.
func (h *Handlers) HandleCreateTakeaway(w http.ResponseWriter, r *http.Request) {
	if !cors(w, r, http.MethodPost) {
		return
	}
	var req takeawayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(req.Items) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("order has no items"))
		return
	}

	items := make([]models.OrderItem, 0, len(req.Items))
	for _, line := range req.Items {
		product, err := h.products.GetProduct(r.Context(), line.ProductID)
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.New("unknown product"))
			return
		}
		item := models.NewTemporaryItem(product, line.Quantity)
		item.Comment = line.Comment
		item.ExcludedIngredients = line.ExcludedIngredients.Normalized()
		items = append(items, item)
	}

	order, err := h.orders.CreateTakeawayOrder(r.Context(), items)
	if err != nil {
		if errors.Is(err, services.ErrQuantityInvalid) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

// HandleOrderByID routes /api/orders/{id} and /api/orders/{id}/validate.
func (h *Handlers) HandleOrderByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/orders/")
	if rest, ok := strings.CutSuffix(path, "/validate"); ok {
		h.handleValidateTakeaway(w, r, rest)
		return
	}

	if !cors(w, r, http.MethodGet) {
		return
	}
	order, err := h.orders.GetOrder(r.Context(), path)
	if errors.Is(err, session.ErrOrderNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *Handlers) handleValidateTakeaway(w http.ResponseWriter, r *http.Request, orderID string) {
	if !cors(w, r, http.MethodPost) {
		return
	}
	order, err := h.orders.ValidateTakeaway(r.Context(), orderID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// HandleTodaySales returns today's sales summary.
func (h *Handlers) HandleTodaySales(w http.ResponseWriter, r *http.Request) {
	if !cors(w, r, http.MethodGet) {
		return
	}
	summary, err := h.reports.GetDailySummary(r.Context(), time.Now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

type loginRequest struct {
	Username string `json:"username"`
	PIN      string `json:"pin"`
}

// HandleLogin verifies an employee PIN.
func (h *Handlers) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if !cors(w, r, http.MethodPost) {
		return
	}
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	employee, err := h.employees.VerifyPIN(r.Context(), req.Username, req.PIN)
	if errors.Is(err, services.ErrInvalidPIN) {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, employee)
}
