/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for HTTP API communication. DTOs decouple
  the API contract from internal domain types, allowing independent
  evolution.

CONVENTIONS:
  - Request types: CreateXxxRequest, UpdateXxxRequest
  - Response types: XxxDTO
  - Money and percents are strings ("125.00") so clients never see floats
  - Derived fields (commission, premium total) appear in responses only

SEE ALSO:
  - handlers.go: Uses these DTOs
  - commission/types.go: Domain types these map to
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/premium-engine/commission"
)

// =============================================================================
// REFERENCE DATA
// =============================================================================

// NamedDTO is an insurer, insurance type or client.
type NamedDTO struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// =============================================================================
// RATES
// =============================================================================

type RateDTO struct {
	ID              string `json:"id"`
	InsurerID       string `json:"insurer_id"`
	InsuranceTypeID string `json:"insurance_type_id"`
	Percent         string `json:"percent"`
	CreatedAt       string `json:"created_at"`
}

type SaveRateRequest struct {
	ID              string          `json:"id,omitempty"`
	InsurerID       string          `json:"insurer_id"`
	InsuranceTypeID string          `json:"insurance_type_id"`
	Percent         decimal.Decimal `json:"percent"`
}

// RateChangeResponse reports whether the fan-out already ran.
type RateChangeResponse struct {
	Rate   RateDTO `json:"rate"`
	FanOut string  `json:"fan_out"` // dispatched
}

type RatePreviewDTO struct {
	InsurerID       string  `json:"insurer_id"`
	InsuranceTypeID string  `json:"insurance_type_id"`
	Percent         *string `json:"percent"`
	Uncalculated    bool    `json:"uncalculated"`
}

// =============================================================================
// POLICIES + INSTALLMENTS
// =============================================================================

type PolicyDTO struct {
	ID              string           `json:"id"`
	ClientID        string           `json:"client_id"`
	InsurerID       string           `json:"insurer_id"`
	InsuranceTypeID string           `json:"insurance_type_id"`
	Number          string           `json:"number,omitempty"`
	PremiumTotal    string           `json:"premium_total"`
	Version         int64            `json:"version"`
	Active          bool             `json:"active"`
	Closed          bool             `json:"closed"`
	Installments    []InstallmentDTO `json:"installments,omitempty"`
}

type SavePolicyRequest struct {
	ID              string `json:"id,omitempty"`
	ClientID        string `json:"client_id"`
	InsurerID       string `json:"insurer_id"`
	InsuranceTypeID string `json:"insurance_type_id"`
	Number          string `json:"number,omitempty"`
	Closed          bool   `json:"closed,omitempty"`
}

type InstallmentDTO struct {
	ID                string  `json:"id"`
	PolicyID          string  `json:"policy_id"`
	DueDate           string  `json:"due_date"`
	Amount            string  `json:"amount"`
	CommissionRateRef *string `json:"commission_rate_ref"`
	CommissionAmount  string  `json:"commission_amount"`
	Uncalculated      bool    `json:"uncalculated"`
	PaidAt            *string `json:"paid_at,omitempty"`
}

type SaveInstallmentRequest struct {
	ID       string          `json:"id,omitempty"`
	PolicyID string          `json:"policy_id"`
	DueDate  string          `json:"due_date"` // YYYY-MM-DD
	Amount   decimal.Decimal `json:"amount"`
	PaidAt   *time.Time      `json:"paid_at,omitempty"`
}

// OutcomeDTO is the engine's answer to a write.
type OutcomeDTO struct {
	PolicyID     string   `json:"policy_id"`
	PremiumTotal string   `json:"premium_total"`
	Recalculated []string `json:"recalculated"`
	Uncalculated []string `json:"uncalculated"`
}

type InstallmentWriteResponse struct {
	Installment InstallmentDTO `json:"installment"`
	Outcome     OutcomeDTO     `json:"outcome"`
}

type PolicyWriteResponse struct {
	Policy  PolicyDTO   `json:"policy"`
	Outcome *OutcomeDTO `json:"outcome,omitempty"`
}

// =============================================================================
// REPAIR
// =============================================================================

type RepairRequest struct {
	Scope           string `json:"scope"` // all, policy, pair
	PolicyID        string `json:"policy_id,omitempty"`
	InsurerID       string `json:"insurer_id,omitempty"`
	InsuranceTypeID string `json:"insurance_type_id,omitempty"`
}

type RepairRunDTO struct {
	ID          string            `json:"id"`
	Scope       string            `json:"scope"`
	Trigger     string            `json:"trigger"`
	Status      string            `json:"status"`
	Report      commission.Report `json:"report"`
	Error       string            `json:"error,omitempty"`
	StartedAt   string            `json:"started_at"`
	CompletedAt *string           `json:"completed_at,omitempty"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// =============================================================================
// ERRORS
// =============================================================================

type ErrorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toRateDTO(r commission.RateEntry) RateDTO {
	return RateDTO{
		ID:              string(r.ID),
		InsurerID:       string(r.InsurerID),
		InsuranceTypeID: string(r.InsuranceTypeID),
		Percent:         r.Percent.String(),
		CreatedAt:       r.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func toPolicyDTO(p commission.Policy) PolicyDTO {
	return PolicyDTO{
		ID:              string(p.ID),
		ClientID:        string(p.ClientID),
		InsurerID:       string(p.InsurerID),
		InsuranceTypeID: string(p.InsuranceTypeID),
		Number:          p.Number,
		PremiumTotal:    money(p.PremiumTotal),
		Version:         p.Version,
		Active:          p.Active,
		Closed:          p.Closed,
	}
}

func toInstallmentDTO(i commission.Installment) InstallmentDTO {
	dto := InstallmentDTO{
		ID:               string(i.ID),
		PolicyID:         string(i.PolicyID),
		DueDate:          i.DueDate.Format("2006-01-02"),
		Amount:           money(i.Amount),
		CommissionAmount: money(i.CommissionAmount),
		Uncalculated:     i.Uncalculated(),
	}
	if i.RateRef != nil {
		ref := string(*i.RateRef)
		dto.CommissionRateRef = &ref
	}
	if i.PaidAt != nil {
		paid := i.PaidAt.UTC().Format(time.RFC3339)
		dto.PaidAt = &paid
	}
	return dto
}

func toOutcomeDTO(o commission.Outcome) OutcomeDTO {
	return OutcomeDTO{
		PolicyID:     string(o.PolicyID),
		PremiumTotal: money(o.PremiumTotal),
		Recalculated: idStrings(o.Recalculated),
		Uncalculated: idStrings(o.Uncalculated),
	}
}

func toRepairRunDTO(r commission.RepairRun) RepairRunDTO {
	dto := RepairRunDTO{
		ID:        r.ID,
		Scope:     r.Scope,
		Trigger:   string(r.Trigger),
		Status:    string(r.Status),
		Report:    r.Report,
		Error:     r.Error,
		StartedAt: r.StartedAt.UTC().Format(time.RFC3339),
	}
	if r.CompletedAt != nil {
		done := r.CompletedAt.UTC().Format(time.RFC3339)
		dto.CompletedAt = &done
	}
	return dto
}

func idStrings(ids []commission.InstallmentID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

func money(d decimal.Decimal) string {
	return d.StringFixed(commission.MoneyPlaces)
}
