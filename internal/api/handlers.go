package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/KayaSend/remit-backend/internal/audit"
	"github.com/KayaSend/remit-backend/internal/idem"
	"github.com/KayaSend/remit-backend/internal/ledger"
	"github.com/KayaSend/remit-backend/internal/models"
	"github.com/KayaSend/remit-backend/internal/onramp"
	"github.com/KayaSend/remit-backend/internal/payment"
	"github.com/KayaSend/remit-backend/internal/reconcile"
	"github.com/KayaSend/remit-backend/internal/store"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "remit_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "remit_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})

	spendsAuthorizedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "remit_spends_authorized_total",
		Help: "Agent spends that passed budget authorization",
	})
)

// PaymentHeader carries the proof on a retried order; ChallengeHeader
// carries the 402 terms back.
const (
	PaymentHeader   = "X-Payment"
	ChallengeHeader = "Payment-Required"
)

// Reconciler is the webhook consumer; satisfied by *reconcile.Reconciler.
type Reconciler interface {
	Reconcile(ctx context.Context, conf *reconcile.Confirmation) error
}

// OperatorStore backs the operator endpoints; satisfied by *store.Store.
type OperatorStore interface {
	GetAuthorization(ctx context.Context, id int64) (*models.AgentAuthorization, error)
	CreateAuthorization(ctx context.Context, escrowID int64, wallet, category string, maxDaily int64) (int64, error)
	GetEscrow(ctx context.Context, id int64) (*models.Escrow, []models.SpendingCategory, error)
}

type Handler struct {
	protocol   *payment.Protocol
	gate       *idem.Gate
	reconciler Reconciler
	funding    *onramp.Service
	store      OperatorStore
	audit      audit.Log
}

func NewHandler(p *payment.Protocol, gate *idem.Gate, r Reconciler, funding *onramp.Service, st OperatorStore, auditLog audit.Log) *Handler {
	return &Handler{protocol: p, gate: gate, reconciler: r, funding: funding, store: st, audit: auditLog}
}

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// OrderHandler implements the pay-per-request flow on
// POST /merchant/{merchantId}/order. Without a payment proof it answers 402
// with the priced challenge; with one, it authorizes and settles the spend.
func (h *Handler) OrderHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/merchant/{merchantId}/order"
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", endpoint))
	defer timer.ObserveDuration()

	var body struct {
		ItemID      string `json:"itemId"`
		AgentWallet string `json:"agentWallet"`
		Category    string `json:"category"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.countAndRespondError(w, http.StatusBadRequest, endpoint, "Malformed JSON body", "BadRequest")
		return
	}

	req := payment.OrderRequest{
		MerchantID:  mux.Vars(r)["merchantId"],
		ItemID:      body.ItemID,
		AgentWallet: body.AgentWallet,
		Category:    body.Category,
		Resource:    r.URL.Path,
	}

	proofHeader := r.Header.Get(PaymentHeader)
	if proofHeader == "" {
		challenge, err := h.protocol.Challenge(req)
		if err != nil {
			h.countAndRespondError(w, http.StatusNotFound, endpoint, err.Error(), "NotFound")
			return
		}
		terms, err := json.Marshal(challenge)
		if err != nil {
			h.countAndRespondError(w, http.StatusInternalServerError, endpoint, "Internal Server Error", "Internal")
			return
		}
		httpRequestsTotal.WithLabelValues("POST", endpoint, "402").Inc()
		w.Header().Set(ChallengeHeader, string(terms))
		respondWithJSON(w, http.StatusPaymentRequired, map[string]string{
			"error":  "payment required",
			"reason": "PaymentRequired",
		})
		return
	}

	proof, err := payment.ParseProof(proofHeader)
	if err != nil {
		h.countAndRespondError(w, http.StatusBadRequest, endpoint, err.Error(), "InvalidProof")
		return
	}

	receipt, err := h.protocol.Spend(r.Context(), req, proof)
	if err != nil {
		var de *payment.DispatchError
		switch {
		case errors.Is(err, payment.ErrNotFound):
			h.countAndRespondError(w, http.StatusNotFound, endpoint, err.Error(), "NotFound")
		case errors.As(err, &de):
			// Compensation already applied; the txId points at the failed,
			// refunded audit row.
			httpRequestsTotal.WithLabelValues("POST", endpoint, "500").Inc()
			respondWithJSON(w, http.StatusInternalServerError, map[string]string{
				"error":  "settlement dispatch failed",
				"reason": "DispatchFailed",
				"txId":   de.TxID,
			})
		case ledger.Reason(err) != "Internal":
			h.countAndRespondError(w, http.StatusForbidden, endpoint, err.Error(), ledger.Reason(err))
		default:
			h.countAndRespondError(w, http.StatusInternalServerError, endpoint, "Internal Server Error", "Internal")
		}
		return
	}

	spendsAuthorizedTotal.Inc()
	httpRequestsTotal.WithLabelValues("POST", endpoint, "200").Inc()
	respondWithJSON(w, http.StatusOK, receipt)
}

// WebhookHandler consumes POST /webhooks/{provider}. Handled outcomes,
// including duplicates, answer 200 so the provider stops retrying;
// integrity failures answer 400 so it retries or alerts.
func (h *Handler) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/webhooks/{provider}"
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", endpoint))
	defer timer.ObserveDuration()

	provider := mux.Vars(r)["provider"]
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.countAndRespondError(w, http.StatusInternalServerError, endpoint, "Stream read error", "Internal")
		return
	}

	conf, err := reconcile.ParsePayload(provider, body)
	if err != nil {
		h.countAndRespondError(w, http.StatusBadRequest, endpoint, err.Error(), "BadPayload")
		return
	}

	duplicate, err := h.gate.Guard(r.Context(), provider, conf.ExternalCode, func(ctx context.Context) error {
		return h.reconciler.Reconcile(ctx, conf)
	})
	if err != nil {
		switch {
		case errors.Is(err, reconcile.ErrUnderfunded):
			h.countAndRespondError(w, http.StatusBadRequest, endpoint, err.Error(), "Underfunded")
		case errors.Is(err, reconcile.ErrUnknownTransaction):
			h.countAndRespondError(w, http.StatusBadRequest, endpoint, err.Error(), "UnknownTransaction")
		default:
			h.countAndRespondError(w, http.StatusInternalServerError, endpoint, "Internal Server Error", "Internal")
		}
		return
	}

	httpRequestsTotal.WithLabelValues("POST", endpoint, "200").Inc()
	respondWithJSON(w, http.StatusOK, map[string]bool{"ok": true, "duplicate": duplicate})
}

// FundingHandler starts an on-ramp collection and records the intent.
func (h *Handler) FundingHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/v1/funding"
	var req onramp.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.countAndRespondError(w, http.StatusBadRequest, endpoint, "Malformed JSON body", "BadRequest")
		return
	}

	intent, err := h.funding.Initiate(r.Context(), req)
	if err != nil {
		if errors.Is(err, onramp.ErrBadRequest) {
			h.countAndRespondError(w, http.StatusUnprocessableEntity, endpoint, err.Error(), "BadRequest")
			return
		}
		h.countAndRespondError(w, http.StatusBadGateway, endpoint, err.Error(), "OnRampFailed")
		return
	}

	httpRequestsTotal.WithLabelValues("POST", endpoint, "201").Inc()
	respondWithJSON(w, http.StatusCreated, intent)
}

// CreateAuthorizationHandler grants an agent a capped daily budget against
// an active escrow (operator action).
func (h *Handler) CreateAuthorizationHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/v1/authorizations"
	var req struct {
		EscrowID    int64  `json:"escrow_id"`
		AgentWallet string `json:"agent_wallet"`
		Category    string `json:"category"`
		MaxDaily    int64  `json:"max_daily_budget"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.countAndRespondError(w, http.StatusBadRequest, endpoint, "Malformed JSON body", "BadRequest")
		return
	}
	if req.AgentWallet == "" || req.Category == "" || req.MaxDaily <= 0 {
		h.countAndRespondError(w, http.StatusUnprocessableEntity, endpoint, "agent_wallet, category and a positive max_daily_budget are required", "BadRequest")
		return
	}

	id, err := h.store.CreateAuthorization(r.Context(), req.EscrowID, req.AgentWallet, req.Category, req.MaxDaily)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.countAndRespondError(w, http.StatusNotFound, endpoint, "Escrow not found", "NotFound")
			return
		}
		h.countAndRespondError(w, http.StatusUnprocessableEntity, endpoint, err.Error(), "EscrowNotActive")
		return
	}

	httpRequestsTotal.WithLabelValues("POST", endpoint, "201").Inc()
	respondWithJSON(w, http.StatusCreated, map[string]int64{"authorization_id": id})
}

// GetAuthorizationHandler reports an authorization with the daily reset
// applied, so a read across midnight shows today's spend, not yesterday's.
func (h *Handler) GetAuthorizationHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/v1/authorizations/{id}"
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)

	auth, err := h.store.GetAuthorization(r.Context(), id)
	if err != nil {
		httpRequestsTotal.WithLabelValues("GET", endpoint, "404").Inc()
		respondWithJSON(w, http.StatusNotFound, map[string]string{"error": "Authorization not found", "reason": "NotFound"})
		return
	}

	snap := ledger.Snapshot(auth, time.Now())
	httpRequestsTotal.WithLabelValues("GET", endpoint, "200").Inc()
	respondWithJSON(w, http.StatusOK, struct {
		*models.AgentAuthorization
		Remaining int64 `json:"remaining"`
	}{snap, snap.Remaining()})
}

// GetEscrowHandler reports an escrow and its category allocations.
func (h *Handler) GetEscrowHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/v1/escrows/{id}"
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)

	escrow, categories, err := h.store.GetEscrow(r.Context(), id)
	if err != nil {
		httpRequestsTotal.WithLabelValues("GET", endpoint, "404").Inc()
		respondWithJSON(w, http.StatusNotFound, map[string]string{"error": "Escrow not found", "reason": "NotFound"})
		return
	}

	httpRequestsTotal.WithLabelValues("GET", endpoint, "200").Inc()
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"escrow":     escrow,
		"categories": categories,
	})
}

func (h *Handler) GetTransactionHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/v1/transactions/{id}"
	tx, err := h.audit.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httpRequestsTotal.WithLabelValues("GET", endpoint, "404").Inc()
		respondWithJSON(w, http.StatusNotFound, map[string]string{"error": "Transaction not found", "reason": "NotFound"})
		return
	}

	httpRequestsTotal.WithLabelValues("GET", endpoint, "200").Inc()
	respondWithJSON(w, http.StatusOK, tx)
}

func (h *Handler) countAndRespondError(w http.ResponseWriter, code int, endpoint, message, reason string) {
	httpRequestsTotal.WithLabelValues("POST", endpoint, strconv.Itoa(code)).Inc()
	respondWithJSON(w, code, map[string]string{"error": message, "reason": reason})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
