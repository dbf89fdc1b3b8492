/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built policy books that populate the database with
	realistic data for demos. Each scenario shows one behavior of the
	commission engine.

AVAILABLE SCENARIOS:

	covered-rate:   Rate exists, installments get commission on save
	uncovered-pair: No rate for the pair, installments stay uncalculated
	late-rate:      Rate added after the schedule, fan-out links it
	reassignment:   Policy moves to another insurer, schedule recalculated
	drifted-book:   Rows written without engine calls, for the repair tool

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Parse the scenario's JSON book via factory
 3. Apply it through the store + engine, like the collaborator would
 4. Run the scenario's follow-up step, if any

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "late-rate"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: ResetDatabase
  - factory/book.go: Book JSON format
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/warp/premium-engine/commission"
	"github.com/warp/premium-engine/factory"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

type scenario struct {
	ScenarioDTO
	book  string
	after func(ctx context.Context, h *Handler) error
}

const referenceData = `
  "insurers": [
    {"id": "ins-acme", "name": "Acme Mutual"},
    {"id": "ins-north", "name": "Northwind Assurance"}
  ],
  "insurance_types": [
    {"id": "property", "name": "Property"},
    {"id": "auto", "name": "Auto"}
  ],
  "clients": [{"id": "client-roe", "name": "Jane Roe"}]`

var scenarios = []scenario{
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "covered-rate",
			Name:        "Covered Rate",
			Description: "Acme property at 12.50%: every installment gets its commission on save",
		},
		book: `{` + referenceData + `,
  "rates": [{"id": "rate-acme-property", "insurer_id": "ins-acme", "insurance_type_id": "property",
             "percent": "12.50", "created_at": "2025-01-01T00:00:00Z"}],
  "policies": [{"id": "pol-1001", "client_id": "client-roe", "insurer_id": "ins-acme",
                "insurance_type_id": "property", "number": "PRP-1001",
                "installments": [
                  {"id": "inst-1001-1", "due_date": "2025-02-01", "amount": "1000.00"},
                  {"id": "inst-1001-2", "due_date": "2025-05-01", "amount": "333.33"},
                  {"id": "inst-1001-3", "due_date": "2025-08-01", "amount": "250.00"}
                ]}]
}`,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "uncovered-pair",
			Name:        "Uncovered Pair",
			Description: "Northwind auto has no rate: installments are saved uncalculated",
		},
		book: `{` + referenceData + `,
  "policies": [{"id": "pol-2001", "client_id": "client-roe", "insurer_id": "ins-north",
                "insurance_type_id": "auto", "number": "AUT-2001",
                "installments": [
                  {"id": "inst-2001-1", "due_date": "2025-03-01", "amount": "500.00"},
                  {"id": "inst-2001-2", "due_date": "2025-09-01", "amount": "500.00"}
                ]}]
}`,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "late-rate",
			Name:        "Late Rate",
			Description: "Uncovered schedule, then an 8% rate is added and the fan-out links both installments",
		},
		book: `{` + referenceData + `,
  "policies": [{"id": "pol-3001", "client_id": "client-roe", "insurer_id": "ins-north",
                "insurance_type_id": "auto", "number": "AUT-3001",
                "installments": [
                  {"id": "inst-3001-1", "due_date": "2025-03-01", "amount": "400.00"},
                  {"id": "inst-3001-2", "due_date": "2025-09-01", "amount": "400.00"}
                ]}]
}`,
		after: func(ctx context.Context, h *Handler) error {
			rate := commission.RateEntry{
				ID:              "rate-north-auto",
				InsurerID:       "ins-north",
				InsuranceTypeID: "auto",
				Percent:         decimal.NewFromInt(8),
				CreatedAt:       time.Now().UTC(),
			}
			if err := h.Store.SaveRate(ctx, rate); err != nil {
				return err
			}
			return h.Engine.OnRateEntryChanged(ctx, rate)
		},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "reassignment",
			Name:        "Reassignment",
			Description: "Policy moves from Acme (10%) to Northwind (15%): the whole schedule is recalculated",
		},
		book: `{` + referenceData + `,
  "rates": [
    {"id": "rate-acme-auto", "insurer_id": "ins-acme", "insurance_type_id": "auto",
     "percent": "10", "created_at": "2025-01-01T00:00:00Z"},
    {"id": "rate-north-auto", "insurer_id": "ins-north", "insurance_type_id": "auto",
     "percent": "15", "created_at": "2025-01-01T00:00:00Z"}
  ],
  "policies": [{"id": "pol-4001", "client_id": "client-roe", "insurer_id": "ins-acme",
                "insurance_type_id": "auto", "number": "AUT-4001",
                "installments": [
                  {"id": "inst-4001-1", "due_date": "2025-01-15", "amount": "200.00"},
                  {"id": "inst-4001-2", "due_date": "2025-04-15", "amount": "200.00"},
                  {"id": "inst-4001-3", "due_date": "2025-07-15", "amount": "200.00"}
                ]}]
}`,
		after: func(ctx context.Context, h *Handler) error {
			p, err := h.Store.GetPolicy(ctx, "pol-4001")
			if err != nil {
				return err
			}
			old := p.Pair()
			p.InsurerID = "ins-north"
			if err := h.Store.SavePolicy(ctx, p); err != nil {
				return err
			}
			_, err = h.Engine.OnPolicyReassigned(ctx, p.ID, old.Insurer, old.Type)
			return err
		},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "drifted-book",
			Name:        "Drifted Book",
			Description: "Installments written without engine calls: run POST /api/admin/repair to fix them",
		},
		book: `{` + referenceData + `,
  "rates": [{"id": "rate-acme-property", "insurer_id": "ins-acme", "insurance_type_id": "property",
             "percent": "12.50", "created_at": "2025-01-01T00:00:00Z"}],
  "policies": [
    {"id": "pol-5001", "client_id": "client-roe", "insurer_id": "ins-acme", "insurance_type_id": "property"},
    {"id": "pol-5002", "client_id": "client-roe", "insurer_id": "ins-acme", "insurance_type_id": "property"}
  ]
}`,
		after: func(ctx context.Context, h *Handler) error {
			// rows saved before the engine existed
			due := time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)
			rows := []commission.Installment{
				{ID: "inst-5001-1", PolicyID: "pol-5001", DueDate: due, Amount: decimal.RequireFromString("800.00")},
				{ID: "inst-5001-2", PolicyID: "pol-5001", DueDate: due.AddDate(0, 6, 0), Amount: decimal.RequireFromString("800.00")},
				{ID: "inst-5002-1", PolicyID: "pol-5002", DueDate: due, Amount: decimal.RequireFromString("120.40")},
			}
			for _, inst := range rows {
				if err := h.Store.SaveInstallment(ctx, inst); err != nil {
					return err
				}
			}
			return nil
		},
	},
}

func findScenario(id string) (scenario, bool) {
	for _, s := range scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return scenario{}, false
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	dtos := make([]ScenarioDTO, len(scenarios))
	for i, s := range scenarios {
		dtos[i] = s.ScenarioDTO
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	current := h.currentScenario
	h.mu.RUnlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	s, _ := findScenario(current)
	writeJSON(w, http.StatusOK, s.ScenarioDTO)
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScenarioID string `json:"scenario_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if _, ok := findScenario(req.ScenarioID); !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", fmt.Errorf("scenario %q", req.ScenarioID))
		return
	}
	summary, err := h.loadScenario(r.Context(), req.ScenarioID)
	if err != nil {
		writeDomainError(w, "Failed to load scenario", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "loaded",
		"scenario": req.ScenarioID,
		"summary":  summary,
	})
}

// loadScenario resets the database and writes the scenario's book.
func (h *Handler) loadScenario(ctx context.Context, id string) (factory.Summary, error) {
	s, ok := findScenario(id)
	if !ok {
		return factory.Summary{}, fmt.Errorf("unknown scenario %q", id)
	}
	if err := h.Store.Reset(ctx); err != nil {
		return factory.Summary{}, fmt.Errorf("reset: %w", err)
	}

	book, err := factory.ParseBook([]byte(s.book))
	if err != nil {
		return factory.Summary{}, err
	}
	summary, err := factory.Apply(ctx, h.Store, h.Engine, book)
	if err != nil {
		return summary, err
	}
	if s.after != nil {
		if err := s.after(ctx, h); err != nil {
			return summary, fmt.Errorf("scenario %s: %w", id, err)
		}
	}

	h.mu.Lock()
	h.currentScenario = id
	h.mu.Unlock()
	return summary, nil
}
