package wallet

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/scoutlink/unlock-api/internal/middleware"
	"github.com/scoutlink/unlock-api/internal/pkg/logger"
	"github.com/scoutlink/unlock-api/internal/pkg/response"
	"github.com/scoutlink/unlock-api/internal/pkg/validator"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Balance handles GET /wallet/balance
func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	operatorID := middleware.GetUserID(r.Context())
	if operatorID == "" {
		response.Unauthorized(w, "unauthorized")
		return
	}

	balance, err := h.svc.GetBalance(r.Context(), operatorID)
	if err != nil {
		logger.FromContext(r.Context()).Error().Err(err).Msg("get balance failed")
		response.InternalError(w)
		return
	}

	response.OK(w, BalanceResponse{Success: true, Balance: Number(balance)})
}

// Transactions handles GET /wallet/transactions?limit&offset
func (h *Handler) Transactions(w http.ResponseWriter, r *http.Request) {
	operatorID := middleware.GetUserID(r.Context())
	if operatorID == "" {
		response.Unauthorized(w, "unauthorized")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	items, err := h.svc.ListTransactions(r.Context(), operatorID, limit, offset)
	if err != nil {
		logger.FromContext(r.Context()).Error().Err(err).Msg("list transactions failed")
		response.InternalError(w)
		return
	}

	out := make([]TransactionResponse, 0, len(items))
	for _, t := range items {
		out = append(out, TransactionResponseFrom(t))
	}
	response.OK(w, map[string]interface{}{"success": true, "items": out})
}

// TopUp handles POST /admin/wallets/{operatorId}/topup
func (h *Handler) TopUp(w http.ResponseWriter, r *http.Request) {
	operatorID := chi.URLParam(r, "operatorId")
	if err := validator.ValidateVar(operatorID, "entity_id"); err != nil {
		response.ValidationError(w, map[string]string{"operatorId": "Invalid identifier"})
		return
	}

	var req TopUpRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	txRef := req.ReferenceID
	if txRef == "" {
		txRef = "admin_topup:" + uuid.NewString()
	}

	mv, err := h.svc.Credit(r.Context(), operatorID, req.Amount, txRef, AdminTopUpKinds)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidAmount):
			response.ValidationError(w, map[string]string{"amount": "Value must be greater than 0"})
		case errors.Is(err, ErrReferenceConflict):
			response.Conflict(w, "reference_conflict", "reference_id already used with a different amount")
		default:
			logger.FromContext(r.Context()).Error().Err(err).Str("operator_id", operatorID).Msg("admin topup failed")
			response.InternalError(w)
		}
		return
	}

	logger.FromContext(r.Context()).Info().
		Str("operator_id", operatorID).
		Str("amount", Format(req.Amount)).
		Str("reason", req.Reason).
		Msg("admin topup")

	response.OK(w, TopUpResponse{
		Success:  true,
		TxID:     mv.TxID,
		Kind:     string(mv.Kind),
		Balance:  Number(mv.Balance),
		Replayed: mv.Replayed,
	})
}

// Routes mounts the operator-facing wallet endpoints.
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Use(middleware.RequireOperator())
	r.Get("/balance", h.Balance)
	r.Get("/transactions", h.Transactions)
	return r
}
