/*
handlers.go - HTTP API handlers for the policy book

PURPOSE:
  Exposes the policy book CRUD and the commission engine via REST API.
  Handlers are the collaborator: they write source fields through the
  store, then call the matching engine operation so derived fields stay
  consistent before the response is sent.

ENDPOINTS:
  Reference data:
    GET/POST /api/insurers
    GET/POST /api/insurance-types
    GET/POST /api/clients

  Rates:
    GET    /api/rates                  List rate entries (newest first)
    POST   /api/rates                  Create entry, dispatch fan-out
    PUT    /api/rates/{id}             Edit entry, dispatch fan-out
    DELETE /api/rates/{id}             Delete entry
    GET    /api/rates/preview          ?insurer_id=&insurance_type_id=

  Policies:
    GET    /api/policies               ?insurer_id=&insurance_type_id=
    POST   /api/policies               Create policy
    GET    /api/policies/{id}          Policy with its schedule
    PUT    /api/policies/{id}          Update; reassignment cascades

  Installments:
    POST   /api/installments           Create, recalculates commission + premium
    GET    /api/installments/{id}
    PUT    /api/installments/{id}      Update (amount, date, or move to other policy)
    DELETE /api/installments/{id}      Delete, recomputes premium

  Admin:
    POST   /api/admin/repair           Run the repair tool
    GET    /api/admin/repair/runs      ?status=

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Write conflict that survived the retry (client may retry)
  - 503: Fan-out queue full
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/premium-engine/commission"
	"github.com/warp/premium-engine/factory"
	"github.com/warp/premium-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store  *sqlite.Store
	Engine *commission.Engine
	Logger *zap.Logger

	// Track currently loaded scenario
	mu              sync.RWMutex
	currentScenario string
}

// NewHandler creates a new handler with the given store and engine.
func NewHandler(store *sqlite.Store, engine *commission.Engine, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Store:  store,
		Engine: engine,
		Logger: logger,
	}
}

// =============================================================================
// REFERENCE DATA HANDLERS
// =============================================================================

func (h *Handler) ListInsurers(w http.ResponseWriter, r *http.Request) {
	insurers, err := h.Store.ListInsurers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list insurers", err)
		return
	}
	dtos := make([]NamedDTO, len(insurers))
	for i, in := range insurers {
		dtos[i] = NamedDTO{ID: string(in.ID), Name: in.Name}
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateInsurer(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeNamed(w, r)
	if !ok {
		return
	}
	if err := h.Store.SaveInsurer(r.Context(), commission.Insurer{ID: commission.InsurerID(req.ID), Name: req.Name}); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save insurer", err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (h *Handler) ListInsuranceTypes(w http.ResponseWriter, r *http.Request) {
	types, err := h.Store.ListInsuranceTypes(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list insurance types", err)
		return
	}
	dtos := make([]NamedDTO, len(types))
	for i, it := range types {
		dtos[i] = NamedDTO{ID: string(it.ID), Name: it.Name}
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateInsuranceType(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeNamed(w, r)
	if !ok {
		return
	}
	if err := h.Store.SaveInsuranceType(r.Context(), commission.InsuranceType{ID: commission.InsuranceTypeID(req.ID), Name: req.Name}); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save insurance type", err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (h *Handler) ListClients(w http.ResponseWriter, r *http.Request) {
	clients, err := h.Store.ListClients(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list clients", err)
		return
	}
	dtos := make([]NamedDTO, len(clients))
	for i, c := range clients {
		dtos[i] = NamedDTO{ID: string(c.ID), Name: c.Name}
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateClient(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeNamed(w, r)
	if !ok {
		return
	}
	if err := h.Store.SaveClient(r.Context(), commission.Client{ID: commission.ClientID(req.ID), Name: req.Name}); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save client", err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func decodeNamed(w http.ResponseWriter, r *http.Request) (NamedDTO, bool) {
	var req NamedDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return req, false
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required", nil)
		return req, false
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	return req, true
}

// =============================================================================
// RATE HANDLERS
// =============================================================================

// ListRates returns every rate entry, newest first.
func (h *Handler) ListRates(w http.ResponseWriter, r *http.Request) {
	rates, err := h.Store.ListRates(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list rates", err)
		return
	}
	dtos := make([]RateDTO, len(rates))
	for i, rate := range rates {
		dtos[i] = toRateDTO(rate)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateRate adds an entry to the rate table and dispatches the fan-out.
func (h *Handler) CreateRate(w http.ResponseWriter, r *http.Request) {
	var req SaveRateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	h.saveRate(w, r, commission.RateEntry{
		ID:              commission.RateEntryID(req.ID),
		InsurerID:       commission.InsurerID(req.InsurerID),
		InsuranceTypeID: commission.InsuranceTypeID(req.InsuranceTypeID),
		Percent:         req.Percent,
		CreatedAt:       time.Now().UTC(),
	}, http.StatusAccepted)
}

// UpdateRate edits an entry in place. The entry keeps its CreatedAt.
func (h *Handler) UpdateRate(w http.ResponseWriter, r *http.Request) {
	id := commission.RateEntryID(chi.URLParam(r, "id"))
	existing, err := h.Store.GetRate(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to load rate", err)
		return
	}

	// fields absent from the body keep their stored values
	req := SaveRateRequest{Percent: existing.Percent}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	updated := existing
	updated.Percent = req.Percent
	if req.InsurerID != "" {
		updated.InsurerID = commission.InsurerID(req.InsurerID)
	}
	if req.InsuranceTypeID != "" {
		updated.InsuranceTypeID = commission.InsuranceTypeID(req.InsuranceTypeID)
	}

	if !h.saveRate(w, r, updated, http.StatusAccepted) {
		return
	}

	// moving an entry to another pair also affects the pair it left
	if updated.Pair() != existing.Pair() {
		if err := h.Engine.OnRateEntryChanged(r.Context(), existing); err != nil {
			h.Logger.Warn("fan-out for former pair not dispatched",
				zap.Stringer("pair", existing.Pair()), zap.Error(err))
		}
	}
}

// saveRate writes the response itself and reports whether the entry was
// saved and its fan-out dispatched.
func (h *Handler) saveRate(w http.ResponseWriter, r *http.Request, rate commission.RateEntry, status int) bool {
	if rate.InsurerID == "" || rate.InsuranceTypeID == "" {
		writeError(w, http.StatusBadRequest, "insurer_id and insurance_type_id are required", nil)
		return false
	}
	if err := factory.ValidatePercent(rate.Percent); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid percent", err)
		return false
	}
	if err := h.Store.SaveRate(r.Context(), rate); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save rate", err)
		return false
	}
	if err := h.Engine.OnRateEntryChanged(r.Context(), rate); err != nil {
		// the entry is saved; the periodic repair will catch up
		writeDomainError(w, "Rate saved but fan-out not dispatched", err)
		return false
	}
	writeJSON(w, status, RateChangeResponse{Rate: toRateDTO(rate), FanOut: "dispatched"})
	return true
}

// DeleteRate removes an entry. Installments linked to it are re-linked by
// the fan-out for its pair.
func (h *Handler) DeleteRate(w http.ResponseWriter, r *http.Request) {
	id := commission.RateEntryID(chi.URLParam(r, "id"))
	rate, err := h.Store.GetRate(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to load rate", err)
		return
	}
	if err := h.Store.DeleteRate(r.Context(), id); err != nil {
		writeDomainError(w, "Failed to delete rate", err)
		return
	}
	if err := h.Engine.OnRateEntryChanged(r.Context(), rate); err != nil {
		h.Logger.Warn("fan-out after delete not dispatched", zap.String("rate_id", string(id)), zap.Error(err))
	}
	w.WriteHeader(http.StatusNoContent)
}

// PreviewRate returns the percent that would apply to a pair. Read-only.
func (h *Handler) PreviewRate(w http.ResponseWriter, r *http.Request) {
	insurer := r.URL.Query().Get("insurer_id")
	typ := r.URL.Query().Get("insurance_type_id")
	if insurer == "" || typ == "" {
		writeError(w, http.StatusBadRequest, "insurer_id and insurance_type_id are required", nil)
		return
	}

	pct, err := h.Engine.PreviewRate(r.Context(), commission.InsurerID(insurer), commission.InsuranceTypeID(typ))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to look up rate", err)
		return
	}
	dto := RatePreviewDTO{InsurerID: insurer, InsuranceTypeID: typ, Uncalculated: pct == nil}
	if pct != nil {
		s := pct.String()
		dto.Percent = &s
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// POLICY HANDLERS
// =============================================================================

// ListPolicies returns policies, optionally filtered by pair.
func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	filter := commission.PolicyFilter{}
	insurer := r.URL.Query().Get("insurer_id")
	typ := r.URL.Query().Get("insurance_type_id")
	if insurer != "" || typ != "" {
		if insurer == "" || typ == "" {
			writeError(w, http.StatusBadRequest, "filter needs both insurer_id and insurance_type_id", nil)
			return
		}
		filter.Pair = &commission.Pair{Insurer: commission.InsurerID(insurer), Type: commission.InsuranceTypeID(typ)}
	}

	policies, err := h.Store.ListPolicies(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list policies", err)
		return
	}
	dtos := make([]PolicyDTO, len(policies))
	for i, p := range policies {
		dtos[i] = toPolicyDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetPolicy returns a policy with its schedule.
func (h *Handler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	id := commission.PolicyID(chi.URLParam(r, "id"))
	p, err := h.Store.GetPolicy(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get policy", err)
		return
	}
	insts, err := h.Store.ListInstallments(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list installments", err)
		return
	}

	dto := toPolicyDTO(p)
	dto.Installments = make([]InstallmentDTO, len(insts))
	for i, inst := range insts {
		dto.Installments[i] = toInstallmentDTO(inst)
	}
	writeJSON(w, http.StatusOK, dto)
}

// CreatePolicy creates a policy with an empty schedule.
func (h *Handler) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	var req SavePolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.InsurerID == "" || req.InsuranceTypeID == "" || req.ClientID == "" {
		writeError(w, http.StatusBadRequest, "client_id, insurer_id and insurance_type_id are required", nil)
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	ctx := r.Context()
	if err := h.Store.SavePolicy(ctx, policyFromRequest(req)); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save policy", err)
		return
	}
	saved, err := h.Store.GetPolicy(ctx, commission.PolicyID(req.ID))
	if err != nil {
		writeDomainError(w, "Failed to reload policy", err)
		return
	}
	writeJSON(w, http.StatusCreated, PolicyWriteResponse{Policy: toPolicyDTO(saved)})
}

// UpdatePolicy edits a policy. Fields absent from the body keep their stored
// values. When the (insurer, type) pair changes the whole schedule is
// recalculated before responding.
func (h *Handler) UpdatePolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := commission.PolicyID(chi.URLParam(r, "id"))
	old, err := h.Store.GetPolicy(ctx, id)
	if err != nil {
		writeDomainError(w, "Failed to get policy", err)
		return
	}

	req := SavePolicyRequest{Number: old.Number, Closed: old.Closed}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	req.ID = string(id)
	if req.ClientID == "" {
		req.ClientID = string(old.ClientID)
	}
	if req.InsurerID == "" {
		req.InsurerID = string(old.InsurerID)
	}
	if req.InsuranceTypeID == "" {
		req.InsuranceTypeID = string(old.InsuranceTypeID)
	}
	updated := policyFromRequest(req)
	if err := h.Store.SavePolicy(ctx, updated); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save policy", err)
		return
	}

	var outcome *OutcomeDTO
	if updated.Pair() != old.Pair() {
		out, err := h.Engine.OnPolicyReassigned(ctx, id, old.InsurerID, old.InsuranceTypeID)
		if err != nil {
			writeDomainError(w, "Policy saved but reassignment failed", err)
			return
		}
		dto := toOutcomeDTO(out)
		outcome = &dto
	}

	saved, err := h.Store.GetPolicy(ctx, id)
	if err != nil {
		writeDomainError(w, "Failed to reload policy", err)
		return
	}
	writeJSON(w, http.StatusOK, PolicyWriteResponse{Policy: toPolicyDTO(saved), Outcome: outcome})
}

func policyFromRequest(req SavePolicyRequest) commission.Policy {
	return commission.Policy{
		ID:              commission.PolicyID(req.ID),
		ClientID:        commission.ClientID(req.ClientID),
		InsurerID:       commission.InsurerID(req.InsurerID),
		InsuranceTypeID: commission.InsuranceTypeID(req.InsuranceTypeID),
		Number:          req.Number,
		Active:          !req.Closed,
		Closed:          req.Closed,
	}
}

// =============================================================================
// INSTALLMENT HANDLERS
// =============================================================================

func (h *Handler) GetInstallment(w http.ResponseWriter, r *http.Request) {
	inst, err := h.Store.GetInstallment(r.Context(), commission.InstallmentID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, "Failed to get installment", err)
		return
	}
	writeJSON(w, http.StatusOK, toInstallmentDTO(inst))
}

// CreateInstallment adds a row to a policy's schedule.
func (h *Handler) CreateInstallment(w http.ResponseWriter, r *http.Request) {
	var req SaveInstallmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	inst, err := installmentFromRequest(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid installment", err)
		return
	}

	ctx := r.Context()
	if err := h.Store.SaveInstallment(ctx, inst); err != nil {
		writeDomainError(w, "Failed to save installment", err)
		return
	}
	out, err := h.Engine.OnInstallmentSaved(ctx, inst.ID)
	if err != nil {
		writeDomainError(w, "Installment saved but recalculation failed", err)
		return
	}
	h.writeInstallmentResult(w, r, http.StatusCreated, inst.ID, out)
}

// UpdateInstallment edits amount, due date, or moves the row to another policy.
// Fields absent from the body keep their stored values.
func (h *Handler) UpdateInstallment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := commission.InstallmentID(chi.URLParam(r, "id"))
	old, err := h.Store.GetInstallment(ctx, id)
	if err != nil {
		writeDomainError(w, "Failed to get installment", err)
		return
	}

	req := SaveInstallmentRequest{Amount: old.Amount}
	if old.PaidAt != nil {
		// decoding writes through the pointer
		paid := *old.PaidAt
		req.PaidAt = &paid
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	req.ID = string(id)
	if req.PolicyID == "" {
		req.PolicyID = string(old.PolicyID)
	}
	if req.DueDate == "" {
		req.DueDate = old.DueDate.Format("2006-01-02")
	}
	inst, err := installmentFromRequest(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid installment", err)
		return
	}
	if err := h.Store.SaveInstallment(ctx, inst); err != nil {
		writeDomainError(w, "Failed to save installment", err)
		return
	}

	var out commission.Outcome
	if inst.PolicyID != old.PolicyID {
		out, err = h.Engine.OnInstallmentMoved(ctx, id, old.PolicyID)
	} else {
		out, err = h.Engine.OnInstallmentSaved(ctx, id)
	}
	if err != nil {
		writeDomainError(w, "Installment saved but recalculation failed", err)
		return
	}
	h.writeInstallmentResult(w, r, http.StatusOK, id, out)
}

// DeleteInstallment removes a row and recomputes its policy's premium.
func (h *Handler) DeleteInstallment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	deleted, err := h.Store.DeleteInstallment(ctx, commission.InstallmentID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, "Failed to delete installment", err)
		return
	}
	out, err := h.Engine.OnInstallmentDeleted(ctx, deleted)
	if err != nil {
		writeDomainError(w, "Installment deleted but premium recomputation failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toOutcomeDTO(out))
}

func (h *Handler) writeInstallmentResult(w http.ResponseWriter, r *http.Request, status int, id commission.InstallmentID, out commission.Outcome) {
	saved, err := h.Store.GetInstallment(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to reload installment", err)
		return
	}
	writeJSON(w, status, InstallmentWriteResponse{
		Installment: toInstallmentDTO(saved),
		Outcome:     toOutcomeDTO(out),
	})
}

func installmentFromRequest(req SaveInstallmentRequest) (commission.Installment, error) {
	if req.PolicyID == "" {
		return commission.Installment{}, errors.New("policy_id is required")
	}
	due, err := time.Parse("2006-01-02", req.DueDate)
	if err != nil {
		return commission.Installment{}, fmt.Errorf("due_date: %w", err)
	}
	if err := factory.ValidateAmount(req.Amount); err != nil {
		return commission.Installment{}, err
	}
	return commission.Installment{
		ID:       commission.InstallmentID(req.ID),
		PolicyID: commission.PolicyID(req.PolicyID),
		DueDate:  due,
		Amount:   req.Amount,
		PaidAt:   req.PaidAt,
	}, nil
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// TriggerRepair runs the repair tool synchronously and returns its report.
func (h *Handler) TriggerRepair(w http.ResponseWriter, r *http.Request) {
	var req RepairRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}
	scope, err := scopeFromRequest(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid scope", err)
		return
	}

	report, err := h.Engine.RunRepair(r.Context(), scope)
	if err != nil {
		writeDomainError(w, "Repair failed", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func scopeFromRequest(req RepairRequest) (commission.Scope, error) {
	var scope commission.Scope
	switch req.Scope {
	case "", string(commission.ScopeKindAll):
		scope = commission.ScopeAll()
	case string(commission.ScopeKindPolicy):
		scope = commission.ScopePolicy(commission.PolicyID(req.PolicyID))
	case string(commission.ScopeKindPair):
		scope = commission.ScopePair(commission.InsurerID(req.InsurerID), commission.InsuranceTypeID(req.InsuranceTypeID))
	default:
		scope = commission.Scope{Kind: commission.ScopeKind(req.Scope)}
	}
	return scope, scope.Validate()
}

// ListRepairRuns returns recorded repair runs, newest first.
func (h *Handler) ListRepairRuns(w http.ResponseWriter, r *http.Request) {
	status := commission.RunStatus(r.URL.Query().Get("status"))
	runs, err := h.Engine.RepairRuns(r.Context(), status)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list repair runs", err)
		return
	}
	dtos := make([]RepairRunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toRepairRunDTO(run)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ResetDatabase clears all data (dev only).
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps engine and store errors to HTTP statuses.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	writeError(w, statusFor(err), message, err)
}

func statusFor(err error) int {
	switch {
	case commission.IsNotFound(err):
		return http.StatusNotFound
	case commission.IsRetryable(err):
		return http.StatusConflict
	case errors.Is(err, commission.ErrInvalidScope), errors.Is(err, factory.ErrInvalidBook):
		return http.StatusBadRequest
	case errors.Is(err, commission.ErrQueueFull), errors.Is(err, commission.ErrQueueClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
