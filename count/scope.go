/*
scope.go - Which (product, location) pairs a session audits

SCOPE KINDS:
  all:       every location, every product with stock there
  zones:     every location in the listed zones
  locations: exactly the listed location codes

JSON FORM:
  "all"
  {"zones": ["A", "B"]}
  {"locationCodes": ["A1-01", "A1-02"]}

RESOLUTION:
  Scopes resolve against the stock snapshot, never against a cache. The
  snapshot is filled by the sync operation; an empty snapshot means sync
  has not run yet and is reported separately from a scope that simply
  matched nothing.
*/
package count

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/warp/stockcount/stock"
)

type ScopeKind string

const (
	ScopeAll       ScopeKind = "all"
	ScopeZones     ScopeKind = "zones"
	ScopeLocations ScopeKind = "locations"
)

// Scope declares the audited area of a session.
type Scope struct {
	Kind          ScopeKind
	Zones         []string
	LocationCodes []string
}

func AllLocations() Scope { return Scope{Kind: ScopeAll} }

func InZones(zones ...string) Scope { return Scope{Kind: ScopeZones, Zones: zones} }

func AtLocations(codes ...string) Scope { return Scope{Kind: ScopeLocations, LocationCodes: codes} }

// Validate checks the scope is one of the three shapes with a non-empty list.
func (s Scope) Validate() error {
	switch s.Kind {
	case ScopeAll:
		return nil
	case ScopeZones:
		if len(nonBlank(s.Zones)) == 0 {
			return &ValidationError{Field: "scope.zones", Message: "at least one zone is required"}
		}
		return nil
	case ScopeLocations:
		if len(nonBlank(s.LocationCodes)) == 0 {
			return &ValidationError{Field: "scope.locationCodes", Message: "at least one location code is required"}
		}
		return nil
	}
	return &ValidationError{Field: "scope", Message: fmt.Sprintf("unknown scope kind %q", s.Kind)}
}

// Filter converts the scope into a snapshot filter.
func (s Scope) Filter() stock.PositionFilter {
	switch s.Kind {
	case ScopeZones:
		return stock.PositionFilter{Zones: nonBlank(s.Zones)}
	case ScopeLocations:
		return stock.PositionFilter{LocationCodes: nonBlank(s.LocationCodes)}
	}
	return stock.PositionFilter{}
}

func (s Scope) String() string {
	switch s.Kind {
	case ScopeZones:
		return "zones " + strings.Join(s.Zones, ", ")
	case ScopeLocations:
		return "locations " + strings.Join(s.LocationCodes, ", ")
	}
	return "all locations"
}

type scopeJSON struct {
	Zones         []string `json:"zones,omitempty"`
	LocationCodes []string `json:"locationCodes,omitempty"`
}

func (s Scope) MarshalJSON() ([]byte, error) {
	switch s.Kind {
	case ScopeZones:
		return json.Marshal(scopeJSON{Zones: s.Zones})
	case ScopeLocations:
		return json.Marshal(scopeJSON{LocationCodes: s.LocationCodes})
	}
	return json.Marshal(string(ScopeAll))
}

func (s *Scope) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var kind string
		if err := json.Unmarshal(data, &kind); err != nil {
			return err
		}
		if kind != string(ScopeAll) {
			return &ValidationError{Field: "scope", Message: fmt.Sprintf("unknown scope %q", kind)}
		}
		*s = AllLocations()
		return nil
	}

	var raw scopeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return &ValidationError{Field: "scope", Message: "must be \"all\" or an object"}
	}
	switch {
	case len(raw.Zones) > 0 && len(raw.LocationCodes) > 0:
		return &ValidationError{Field: "scope", Message: "zones and locationCodes are mutually exclusive"}
	case len(raw.Zones) > 0:
		*s = InZones(raw.Zones...)
	case len(raw.LocationCodes) > 0:
		*s = AtLocations(raw.LocationCodes...)
	default:
		return &ValidationError{Field: "scope", Message: "zones or locationCodes is required"}
	}
	return nil
}

// =============================================================================
// RESOLUTION
// =============================================================================

// ResolveScope returns the snapshot positions a new session must cover:
// nonzero quantities only, one per (product, location), in stable order.
func ResolveScope(ctx context.Context, snap stock.Snapshotter, scope Scope) ([]stock.Position, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	size, err := snap.SnapshotSize(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot size: %w", err)
	}
	if size == 0 {
		return nil, &EmptyScopeError{Scope: scope, SnapshotEmpty: true}
	}

	rows, err := snap.SnapshotPositions(ctx, scope.Filter())
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	seen := make(map[stock.PositionKey]bool, len(rows))
	positions := make([]stock.Position, 0, len(rows))
	for _, p := range rows {
		if p.Qty == 0 || seen[p.Key()] {
			continue
		}
		seen[p.Key()] = true
		positions = append(positions, p)
	}
	if len(positions) == 0 {
		return nil, &EmptyScopeError{Scope: scope}
	}

	stock.SortPositions(positions)
	return positions, nil
}

func nonBlank(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
