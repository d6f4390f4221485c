package unlock

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/scoutlink/unlock-api/internal/domain/wallet"
	"github.com/scoutlink/unlock-api/internal/middleware"
	"github.com/scoutlink/unlock-api/internal/pkg/logger"
	"github.com/scoutlink/unlock-api/internal/pkg/response"
	"github.com/scoutlink/unlock-api/internal/pkg/validator"
)

type Handler struct {
	saga *Orchestrator
}

func NewHandler(saga *Orchestrator) *Handler {
	return &Handler{saga: saga}
}

// Unlock handles POST /unlocks
func (h *Handler) Unlock(w http.ResponseWriter, r *http.Request) {
	operatorID := middleware.GetUserID(r.Context())
	if operatorID == "" {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var req UnlockRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.ValidationError(w, map[string]string{"athleteId": "Invalid identifier"})
		return
	}
	if errs := validator.Validate(req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	res, err := h.saga.Unlock(r.Context(), operatorID, string(req.AthleteID))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	response.OK(w, UnlockResponse{
		Success:         true,
		AlreadyUnlocked: res.AlreadyUnlocked,
		Unlock:          grantResponse(res.Grant),
		Balance:         wallet.Number(res.Balance),
		Contacts:        res.Contacts,
	})
}

// Status handles GET /unlocks/{athleteId}
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	operatorID := middleware.GetUserID(r.Context())
	if operatorID == "" {
		response.Unauthorized(w, "unauthorized")
		return
	}

	athleteID := chi.URLParam(r, "athleteId")
	if err := validator.ValidateVar(athleteID, "entity_id"); err != nil {
		response.ValidationError(w, map[string]string{"athleteId": "Invalid identifier"})
		return
	}

	st, err := h.saga.Status(r.Context(), operatorID, athleteID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out := StatusResponse{Success: true, Active: st.Active, Balance: wallet.Number(st.Balance), Contacts: st.Contacts}
	if st.Grant != nil {
		g := grantResponse(st.Grant)
		out.Unlock = &g
	}
	response.OK(w, out)
}

// Reset handles POST /admin/unlocks/reset
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	var req ResetRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.ValidationError(w, map[string]string{"operatorId": "Invalid identifier"})
		return
	}
	if errs := validator.Validate(req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	res, err := h.saga.Reset(r.Context(), string(req.OperatorID))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	response.OK(w, ResetResponse{
		Success:                true,
		ClearedUnlocks:         res.Cleared,
		Tables:                 res.Tables,
		RemainingActiveUnlocks: res.Remaining,
	})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrValidation):
		response.Error(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, ErrInsufficientCredits):
		response.Error(w, http.StatusPaymentRequired, "insufficient_credits", "Not enough credits to unlock this contact")
	case errors.Is(err, ErrPricingUnavailable):
		response.Error(w, http.StatusServiceUnavailable, "pricing_unavailable", "Unlock pricing is not available right now")
	case errors.Is(err, ErrUnlockInProgress):
		response.Conflict(w, "unlock_in_progress", "An unlock for this athlete is already in progress")
	default:
		logger.FromContext(r.Context()).Error().Err(err).Msg("unlock request failed")
		response.Error(w, http.StatusInternalServerError, "unlock_failed", "Unlock failed, please try again")
	}
}

// Routes mounts the operator-facing unlock endpoints.
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Use(middleware.RequireOperator())
	r.Post("/", h.Unlock)
	r.Get("/{athleteId}", h.Status)
	return r
}
