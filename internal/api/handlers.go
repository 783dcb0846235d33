// Package api is the HTTP boundary: it resolves identities, asks the authz
// engine for a decision, and delegates to the store or aggregation service.
// No access decisions are made here beyond the coarse admin gate on the
// aggregation and grant-management paths.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/investops/internal/authz"
	"github.com/punchamoorthee/investops/internal/domain"
	"github.com/punchamoorthee/investops/internal/service"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "investops_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "investops_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})
)

// Store is the persistence surface the handlers need. *store.Store satisfies
// it; tests plug in an in-memory fake.
type Store interface {
	GetUser(ctx context.Context, id int64) (*domain.User, error)

	GetAccount(ctx context.Context, id int64) (*domain.Account, error)
	CreateAccount(ctx context.Context, name string, creatorID int64) (*domain.Account, error)
	UpdateAccount(ctx context.Context, id int64, name string) (*domain.Account, error)
	DeleteAccount(ctx context.Context, id int64) error
	ListAccountsVisibleTo(ctx context.Context, identity domain.Identity) ([]domain.Account, error)

	GetTransaction(ctx context.Context, id int64) (*domain.Transaction, error)
	CreateTransaction(ctx context.Context, accountID, userID int64, amount decimal.Decimal, createdAt time.Time) (*domain.Transaction, error)
	ListTransactionsVisibleTo(ctx context.Context, identity domain.Identity) ([]domain.Transaction, error)

	UpsertGrant(ctx context.Context, g domain.PermissionGrant) error
	RevokeGrant(ctx context.Context, userID, accountID int64) error
}

type Handler struct {
	store      Store
	engine     *authz.Engine
	aggregator *service.Aggregator
}

func NewHandler(s Store, engine *authz.Engine, aggregator *service.Aggregator) *Handler {
	return &Handler{store: s, engine: engine, aggregator: aggregator}
}

// Router wires all routes. /health and /metrics sit outside the identity
// middleware.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(Trace)
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	apiV1 := r.PathPrefix("/api/v1").Subrouter()
	apiV1.Use(h.WithIdentity)

	apiV1.HandleFunc("/accounts", h.ListAccounts).Methods("GET")
	apiV1.HandleFunc("/accounts", h.CreateAccount).Methods("POST")
	apiV1.HandleFunc("/accounts/{id}", h.GetAccount).Methods("GET")
	apiV1.HandleFunc("/accounts/{id}", h.UpdateAccount).Methods("PUT")
	apiV1.HandleFunc("/accounts/{id}", h.DeleteAccount).Methods("DELETE")
	apiV1.HandleFunc("/accounts/{id}/transactions", h.AdminAccountTransactions).Methods("GET")
	apiV1.HandleFunc("/accounts/{id}/grants", h.UpsertGrant).Methods("PUT")
	apiV1.HandleFunc("/accounts/{id}/grants", h.RevokeGrant).Methods("DELETE")

	apiV1.HandleFunc("/transactions", h.ListTransactions).Methods("GET")
	apiV1.HandleFunc("/transactions", h.CreateTransaction).Methods("POST")
	apiV1.HandleFunc("/transactions/{id}", h.GetTransaction).Methods("GET")

	return r
}

// authorize runs the engine and writes the 403 on deny. Returns true when the
// request may proceed.
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request, accountRef string, action domain.Action) bool {
	identity := identityFromContext(r.Context())
	decision, err := h.engine.Authorize(r.Context(), identity, accountRef, action)
	if err != nil {
		slog.Error("authorization lookup failed", "request_id", RequestID(r.Context()), "error", err)
		respondWithError(w, http.StatusInternalServerError, "Authorization check failed")
		return false
	}
	if !decision.Allowed() {
		respondWithError(w, http.StatusForbidden, "Forbidden")
		return false
	}
	return true
}

func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	identity := identityFromContext(r.Context())
	if !h.authorize(w, r, "", domain.ActionList) {
		return
	}

	accounts, err := h.store.ListAccountsVisibleTo(r.Context(), identity)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "System error listing accounts")
		return
	}
	if accounts == nil {
		accounts = []domain.Account{}
	}
	respondWithJSON(w, http.StatusOK, accounts)
}

func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req domain.AccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	if req.Name == "" {
		respondWithError(w, http.StatusUnprocessableEntity, "Name is required")
		return
	}

	// The account reference for a create comes from the payload, not the
	// path.
	if !h.authorize(w, r, req.Account, domain.ActionCreate) {
		return
	}

	identity := identityFromContext(r.Context())
	acc, err := h.store.CreateAccount(r.Context(), req.Name, identity.UserID)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "System error creating account")
		return
	}
	respondWithJSON(w, http.StatusCreated, acc)
}

func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	idStr := mux.Vars(r)["id"]
	if !h.authorize(w, r, idStr, domain.ActionRetrieve) {
		return
	}

	id, _ := authz.ParseAccountRef(idStr)
	acc, err := h.store.GetAccount(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			respondWithError(w, http.StatusNotFound, "Account not found")
			return
		}
		respondWithError(w, http.StatusInternalServerError, "System error fetching account")
		return
	}
	respondWithJSON(w, http.StatusOK, acc)
}

func (h *Handler) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	idStr := mux.Vars(r)["id"]

	var req domain.AccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	if req.Name == "" {
		respondWithError(w, http.StatusUnprocessableEntity, "Name is required")
		return
	}

	if !h.authorize(w, r, idStr, domain.ActionUpdate) {
		return
	}

	id, _ := authz.ParseAccountRef(idStr)
	acc, err := h.store.UpdateAccount(r.Context(), id, req.Name)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			respondWithError(w, http.StatusNotFound, "Account not found")
			return
		}
		respondWithError(w, http.StatusInternalServerError, "System error updating account")
		return
	}
	respondWithJSON(w, http.StatusOK, acc)
}

func (h *Handler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	idStr := mux.Vars(r)["id"]
	if !h.authorize(w, r, idStr, domain.ActionDelete) {
		return
	}

	id, _ := authz.ParseAccountRef(idStr)
	if err := h.store.DeleteAccount(r.Context(), id); err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			respondWithError(w, http.StatusNotFound, "Account not found")
			return
		}
		respondWithError(w, http.StatusInternalServerError, "System error deleting account")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AdminAccountTransactions is the privileged oversight read: all of an
// account's transactions, optionally narrowed by user and date range, plus
// their exact sum. The per-account tier model is bypassed here on purpose,
// gated instead by the admin flag.
func (h *Handler) AdminAccountTransactions(w http.ResponseWriter, r *http.Request) {
	identity := identityFromContext(r.Context())
	if !identity.Privileged {
		respondWithError(w, http.StatusForbidden, "Admin access required")
		return
	}

	accountID, err := authz.ParseAccountRef(mux.Vars(r)["id"])
	if err != nil {
		respondWithError(w, http.StatusNotFound, "Account not found")
		return
	}

	filters := service.Filters{
		UserID:    r.URL.Query().Get("user_id"),
		StartDate: r.URL.Query().Get("start_date"),
		EndDate:   r.URL.Query().Get("end_date"),
	}

	result, err := h.aggregator.Aggregate(r.Context(), accountID, filters)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			respondWithError(w, http.StatusNotFound, "Account not found")
			return
		}
		respondWithError(w, http.StatusInternalServerError, "System error aggregating transactions")
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

// UpsertGrant creates or replaces a user's tier on an account. Admin only;
// grant provisioning is an oversight operation, not something tiers confer.
func (h *Handler) UpsertGrant(w http.ResponseWriter, r *http.Request) {
	identity := identityFromContext(r.Context())
	if !identity.Privileged {
		respondWithError(w, http.StatusForbidden, "Admin access required")
		return
	}

	accountID, err := authz.ParseAccountRef(mux.Vars(r)["id"])
	if err != nil {
		respondWithError(w, http.StatusNotFound, "Account not found")
		return
	}

	var req domain.GrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	tier, err := domain.ParseTier(req.Tier)
	if err != nil {
		respondWithError(w, http.StatusUnprocessableEntity, "Unknown tier")
		return
	}

	if _, err := h.store.GetAccount(r.Context(), accountID); err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			respondWithError(w, http.StatusNotFound, "Account not found")
			return
		}
		respondWithError(w, http.StatusInternalServerError, "System error fetching account")
		return
	}
	if _, err := h.store.GetUser(r.Context(), req.UserID); err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			respondWithError(w, http.StatusNotFound, "User not found")
			return
		}
		respondWithError(w, http.StatusInternalServerError, "System error fetching user")
		return
	}

	grant := domain.PermissionGrant{UserID: req.UserID, AccountID: accountID, Tier: tier}
	if err := h.store.UpsertGrant(r.Context(), grant); err != nil {
		respondWithError(w, http.StatusInternalServerError, "System error saving grant")
		return
	}
	respondWithJSON(w, http.StatusOK, grant)
}

// RevokeGrant deletes a user's grant on an account. Takes effect on the very
// next authorization decision.
func (h *Handler) RevokeGrant(w http.ResponseWriter, r *http.Request) {
	identity := identityFromContext(r.Context())
	if !identity.Privileged {
		respondWithError(w, http.StatusForbidden, "Admin access required")
		return
	}

	accountID, err := authz.ParseAccountRef(mux.Vars(r)["id"])
	if err != nil {
		respondWithError(w, http.StatusNotFound, "Account not found")
		return
	}
	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil {
		respondWithError(w, http.StatusUnprocessableEntity, "user_id query parameter required")
		return
	}

	if err := h.store.RevokeGrant(r.Context(), userID, accountID); err != nil {
		if errors.Is(err, domain.ErrGrantNotFound) {
			respondWithError(w, http.StatusNotFound, "Grant not found")
			return
		}
		respondWithError(w, http.StatusInternalServerError, "System error revoking grant")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	identity := identityFromContext(r.Context())
	if !h.authorize(w, r, "", domain.ActionList) {
		return
	}

	txns, err := h.store.ListTransactionsVisibleTo(r.Context(), identity)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "System error listing transactions")
		return
	}
	if txns == nil {
		txns = []domain.Transaction{}
	}
	respondWithJSON(w, http.StatusOK, txns)
}

func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req domain.TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}

	if !h.authorize(w, r, req.Account, domain.ActionCreate) {
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		respondWithError(w, http.StatusUnprocessableEntity, "Invalid amount")
		return
	}
	if amount.Exponent() < -2 {
		respondWithError(w, http.StatusUnprocessableEntity, "Amount precision limited to 2 decimal places")
		return
	}

	identity := identityFromContext(r.Context())
	var createdAt time.Time
	if req.CreatedAt != nil && identity.Privileged {
		// Backfill timestamps are a privileged concern; others get now().
		createdAt = *req.CreatedAt
	}

	accountID, _ := authz.ParseAccountRef(req.Account)
	txn, err := h.store.CreateTransaction(r.Context(), accountID, identity.UserID, amount, createdAt)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "System error creating transaction")
		return
	}
	respondWithJSON(w, http.StatusCreated, txn)
}

func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondWithError(w, http.StatusNotFound, "Transaction not found")
		return
	}

	txn, err := h.store.GetTransaction(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrTransactionNotFound) {
			respondWithError(w, http.StatusNotFound, "Transaction not found")
			return
		}
		respondWithError(w, http.StatusInternalServerError, "System error fetching transaction")
		return
	}

	if !h.authorize(w, r, strconv.FormatInt(txn.AccountID, 10), domain.ActionRetrieve) {
		return
	}
	respondWithJSON(w, http.StatusOK, txn)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
