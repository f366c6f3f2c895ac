/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the count and stock domain types from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Responses whose shape goes beyond the plain envelope

FIELD NAMES:
  Identifiers are "_id", everything else is camelCase. Quantities are JSON
  numbers; money is a decimal string with two places. An uncounted line has
  "countedQty": null and "diffQty": null, never 0.

ENVELOPE:
  Every JSON response is {success, data?, message?, error?}.

SEE ALSO:
  - handlers.go: Uses these types
  - count/types.go: Session and Line
*/
package api

import (
	"encoding/json"
	"time"

	"github.com/warp/stockcount/count"
	"github.com/warp/stockcount/stock"
)

// =============================================================================
// ENVELOPE
// =============================================================================

// Envelope wraps every JSON response.
type Envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// =============================================================================
// SESSIONS
// =============================================================================

// CreateSessionRequest is the body of POST /api/counts/sessions.
type CreateSessionRequest struct {
	Type        string      `json:"type"`
	Scope       count.Scope `json:"scope"`
	Description string      `json:"description"`
}

type StatsDTO struct {
	TotalLines       int    `json:"totalLines"`
	CountedLines     int    `json:"countedLines"`
	UncountedLines   int    `json:"uncountedLines"`
	DiscrepancyLines int    `json:"discrepancyLines"`
	NetDiff          int64  `json:"netDiff"`
	DiscrepancyValue string `json:"discrepancyValue"`
}

type SessionDTO struct {
	ID              string      `json:"_id"`
	SessionCode     string      `json:"sessionCode"`
	Type            string      `json:"type"`
	Scope           count.Scope `json:"scope"`
	Description     string      `json:"description,omitempty"`
	Status          string      `json:"status"`
	Version         int64       `json:"version"`
	CreatedAt       time.Time   `json:"createdAt"`
	CreatedBy       string      `json:"createdBy"`
	SubmittedAt     *time.Time  `json:"submittedAt,omitempty"`
	SubmittedBy     string      `json:"submittedBy,omitempty"`
	ApprovedAt      *time.Time  `json:"approvedAt,omitempty"`
	ApprovedBy      string      `json:"approvedBy,omitempty"`
	CancelledAt     *time.Time  `json:"cancelledAt,omitempty"`
	CancelledBy     string      `json:"cancelledBy,omitempty"`
	CompletedAt     *time.Time  `json:"completedAt,omitempty"`
	CompletedBy     string      `json:"completedBy,omitempty"`
	AdjustmentCount int         `json:"adjustmentCount"`
	Stats           StatsDTO    `json:"stats"`
}

func toSessionDTO(s *count.Session) SessionDTO {
	return SessionDTO{
		ID:              string(s.ID),
		SessionCode:     s.Code,
		Type:            string(s.Type),
		Scope:           s.Scope,
		Description:     s.Description,
		Status:          string(s.Status),
		Version:         s.Version,
		CreatedAt:       s.CreatedAt,
		CreatedBy:       s.CreatedBy,
		SubmittedAt:     s.SubmittedAt,
		SubmittedBy:     s.SubmittedBy,
		ApprovedAt:      s.ApprovedAt,
		ApprovedBy:      s.ApprovedBy,
		CancelledAt:     s.CancelledAt,
		CancelledBy:     s.CancelledBy,
		CompletedAt:     s.CompletedAt,
		CompletedBy:     s.CompletedBy,
		AdjustmentCount: s.AdjustmentCount,
		Stats: StatsDTO{
			TotalLines:       s.Stats.TotalLines,
			CountedLines:     s.Stats.CountedLines,
			UncountedLines:   s.Stats.UncountedLines,
			DiscrepancyLines: s.Stats.DiscrepancyLines,
			NetDiff:          s.Stats.NetDiff,
			DiscrepancyValue: s.Stats.DiscrepancyValue.StringFixed(2),
		},
	}
}

// =============================================================================
// LINES
// =============================================================================

type LineDTO struct {
	ID           string     `json:"_id"`
	SessionID    string     `json:"sessionId"`
	ProductID    string     `json:"productId"`
	ProductName  string     `json:"productName"`
	SKU          string     `json:"sku"`
	Barcode      string     `json:"barcode,omitempty"`
	LocationID   string     `json:"locationId"`
	LocationCode string     `json:"locationCode"`
	Zone         string     `json:"zone"`
	SystemQty    int64      `json:"systemQty"`
	CountedQty   *int64     `json:"countedQty"`
	DiffQty      *int64     `json:"diffQty"`
	UnitCost     string     `json:"unitCost"`
	DiffValue    string     `json:"diffValue"`
	CountedBy    string     `json:"countedBy,omitempty"`
	CountedAt    *time.Time `json:"countedAt,omitempty"`
}

func toLineDTO(l count.Line) LineDTO {
	dto := LineDTO{
		ID:           string(l.ID),
		SessionID:    string(l.SessionID),
		ProductID:    string(l.ProductID),
		ProductName:  l.ProductName,
		SKU:          l.SKU,
		Barcode:      l.Barcode,
		LocationID:   string(l.LocationID),
		LocationCode: l.LocationCode,
		Zone:         l.Zone,
		SystemQty:    l.SystemQty,
		CountedQty:   l.CountedQty,
		UnitCost:     l.UnitCost.StringFixed(2),
		DiffValue:    l.DiffValue().StringFixed(2),
		CountedBy:    l.CountedBy,
		CountedAt:    l.CountedAt,
	}
	if d, ok := l.Diff(); ok {
		dto.DiffQty = &d
	}
	return dto
}

func toLineDTOs(lines []count.Line) []LineDTO {
	out := make([]LineDTO, 0, len(lines))
	for _, l := range lines {
		out = append(out, toLineDTO(l))
	}
	return out
}

// LinesResponse is returned by GET /api/counts/{id}/lines.
type LinesResponse struct {
	Success bool       `json:"success"`
	Data    []LineDTO  `json:"data"`
	Session SessionDTO `json:"session"`
}

// LineUpdateDTO is one entry of an update batch. CountedQty is kept raw so
// a bad value fails that line only.
type LineUpdateDTO struct {
	ID         string          `json:"_id"`
	CountedQty json.RawMessage `json:"countedQty"`
}

// UpdateLinesRequest is the body of POST /api/counts/{id}/lines.
type UpdateLinesRequest struct {
	Lines []LineUpdateDTO `json:"lines"`
}

type LineFailureDTO struct {
	Index int    `json:"index"`
	ID    string `json:"_id"`
	Error string `json:"error"`
}

type BatchResultDTO struct {
	Updated int              `json:"updated"`
	Lines   []LineDTO        `json:"lines"`
	Failed  []LineFailureDTO `json:"failed"`
}

// =============================================================================
// APPROVAL
// =============================================================================

type AdjustmentDTO struct {
	LineID       string `json:"lineId"`
	ProductID    string `json:"productId"`
	ProductName  string `json:"productName"`
	LocationID   string `json:"locationId"`
	LocationCode string `json:"locationCode"`
	SystemQty    int64  `json:"systemQty"`
	CountedQty   int64  `json:"countedQty"`
	Delta        int64  `json:"delta"`
	Value        string `json:"value"`
}

type SkippedDTO struct {
	AdjustmentDTO
	Reason string `json:"reason"`
}

type PlanDTO struct {
	SessionID   string          `json:"sessionId"`
	Adjustments []AdjustmentDTO `json:"adjustments"`
	Skipped     []SkippedDTO    `json:"skipped"`
	Uncounted   int             `json:"uncounted"`
	NetDiff     int64           `json:"netDiff"`
	NetValue    string          `json:"netValue"`
}

func toAdjustmentDTO(a count.Adjustment) AdjustmentDTO {
	return AdjustmentDTO{
		LineID:       string(a.LineID),
		ProductID:    string(a.ProductID),
		ProductName:  a.ProductName,
		LocationID:   string(a.LocationID),
		LocationCode: a.LocationCode,
		SystemQty:    a.SystemQty,
		CountedQty:   a.CountedQty,
		Delta:        a.Delta,
		Value:        a.Value.StringFixed(2),
	}
}

func toSkippedDTOs(skipped []count.SkippedAdjustment) []SkippedDTO {
	out := make([]SkippedDTO, 0, len(skipped))
	for _, s := range skipped {
		out = append(out, SkippedDTO{AdjustmentDTO: toAdjustmentDTO(s.Adjustment), Reason: s.Reason})
	}
	return out
}

func toPlanDTO(p *count.AdjustmentPlan) PlanDTO {
	dto := PlanDTO{
		SessionID:   string(p.SessionID),
		Adjustments: make([]AdjustmentDTO, 0, len(p.Adjustments)),
		Skipped:     toSkippedDTOs(p.Skipped),
		Uncounted:   p.Uncounted,
		NetDiff:     p.NetDiff,
		NetValue:    p.NetValue.StringFixed(2),
	}
	for _, a := range p.Adjustments {
		dto.Adjustments = append(dto.Adjustments, toAdjustmentDTO(a))
	}
	return dto
}

// ApproveResponse is returned by POST /api/counts/{id}/approve.
type ApproveResponse struct {
	Success         bool         `json:"success"`
	Message         string       `json:"message"`
	AdjustmentCount int          `json:"adjustmentCount"`
	Skipped         []SkippedDTO `json:"skipped"`
	Data            SessionDTO   `json:"data"`
}

// =============================================================================
// STOCK
// =============================================================================

type PositionDTO struct {
	ProductID    string `json:"productId"`
	ProductName  string `json:"productName"`
	SKU          string `json:"sku"`
	LocationID   string `json:"locationId"`
	LocationCode string `json:"locationCode"`
	Zone         string `json:"zone"`
	Qty          int64  `json:"qty"`
	Value        string `json:"value"`
}

func toPositionDTOs(ps []stock.Position) []PositionDTO {
	out := make([]PositionDTO, 0, len(ps))
	for _, p := range ps {
		out = append(out, PositionDTO{
			ProductID:    string(p.Product.ID),
			ProductName:  p.Product.Name,
			SKU:          p.Product.SKU,
			LocationID:   string(p.Location.ID),
			LocationCode: p.Location.Code,
			Zone:         p.Location.Zone,
			Qty:          p.Qty,
			Value:        stock.ValueOf(p.Qty, p.Product.UnitCost).StringFixed(2),
		})
	}
	return out
}

type MovementDTO struct {
	ID          string    `json:"_id"`
	ProductID   string    `json:"productId"`
	LocationID  string    `json:"locationId"`
	Delta       int64     `json:"delta"`
	Type        string    `json:"type"`
	ReferenceID string    `json:"referenceId,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	Value       string    `json:"value"`
	CreatedBy   string    `json:"createdBy,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

func toMovementDTOs(ms []stock.Movement) []MovementDTO {
	out := make([]MovementDTO, 0, len(ms))
	for _, m := range ms {
		out = append(out, MovementDTO{
			ID:          string(m.ID),
			ProductID:   string(m.ProductID),
			LocationID:  string(m.LocationID),
			Delta:       m.Delta,
			Type:        string(m.Type),
			ReferenceID: m.ReferenceID,
			Reason:      m.Reason,
			Value:       m.Value.StringFixed(2),
			CreatedBy:   m.CreatedBy,
			CreatedAt:   m.CreatedAt,
		})
	}
	return out
}

// SyncDTO is the data of POST /api/counts/sync.
type SyncDTO struct {
	Positions int       `json:"positions"`
	SyncedAt  time.Time `json:"syncedAt"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest is the body of POST /api/scenarios/load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}
