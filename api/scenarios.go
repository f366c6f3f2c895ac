/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
  Provides pre-built warehouses that populate the database with a catalog,
  locations and stock, ready for a count session.

AVAILABLE SCENARIOS (scenarios/*.yaml, embedded):
  small-warehouse:      Two zones, fasteners, first spot count
  distribution-center:  Three zones, mixed-value items for zone cycle counts

HOW SCENARIOS WORK:
  1. Reset database (clear all data)
  2. Save products and locations
  3. Receive stock through the ledger (one receipt movement per row)
  4. Sync the snapshot so sessions can be created right away

USAGE:
  POST /api/scenarios/load
  {"scenario_id": "small-warehouse"}

  stockcount seed small-warehouse

ADDING NEW SCENARIOS:
  Drop a YAML file into scenarios/. Rows in "stock" reference product and
  location ids from the same file.

NOTE:
  Scenarios reset the database. Only use in development/demo environments.
*/
package api

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/stockcount/count"
	"github.com/warp/stockcount/stock"
	"gopkg.in/yaml.v3"
)

//go:embed scenarios/*.yaml
var scenarioFiles embed.FS

// Store is everything the API layer needs from persistence.
type Store interface {
	count.TxStore
	stock.CatalogWriter
	Reset(ctx context.Context) error
}

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

type Scenario struct {
	ID          string             `yaml:"id"`
	Name        string             `yaml:"name"`
	Description string             `yaml:"description"`
	Order       int                `yaml:"order"`
	Products    []ScenarioProduct  `yaml:"products"`
	Locations   []ScenarioLocation `yaml:"locations"`
	Stock       []ScenarioStock    `yaml:"stock"`
}

type ScenarioProduct struct {
	ID       string `yaml:"id"`
	SKU      string `yaml:"sku"`
	Barcode  string `yaml:"barcode"`
	Name     string `yaml:"name"`
	UnitCost string `yaml:"unit_cost"`
}

type ScenarioLocation struct {
	ID   string `yaml:"id"`
	Code string `yaml:"code"`
	Zone string `yaml:"zone"`
	Name string `yaml:"name"`
}

type ScenarioStock struct {
	Product  string `yaml:"product"`
	Location string `yaml:"location"`
	Qty      int64  `yaml:"qty"`
}

// ParseScenario decodes and checks one scenario document.
func ParseScenario(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("invalid scenario yaml: %w", err)
	}
	if _, _, err := sc.catalog(); err != nil {
		return nil, fmt.Errorf("scenario %q: %w", sc.ID, err)
	}
	return &sc, nil
}

// LoadScenarios reads every embedded scenario, ordered for display.
func LoadScenarios() ([]*Scenario, error) {
	paths, err := fs.Glob(scenarioFiles, "scenarios/*.yaml")
	if err != nil {
		return nil, err
	}
	var out []*Scenario
	for _, p := range paths {
		data, err := scenarioFiles.ReadFile(p)
		if err != nil {
			return nil, err
		}
		sc, err := ParseScenario(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		out = append(out, sc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// FindScenario returns the embedded scenario with the given id.
func FindScenario(id string) (*Scenario, error) {
	all, err := LoadScenarios()
	if err != nil {
		return nil, err
	}
	for _, sc := range all {
		if sc.ID == id {
			return sc, nil
		}
	}
	return nil, &count.NotFoundError{Kind: "scenario", ID: id}
}

func (sc *Scenario) catalog() (map[string]stock.Product, map[string]stock.Location, error) {
	if strings.TrimSpace(sc.ID) == "" {
		return nil, nil, fmt.Errorf("missing id")
	}
	products := make(map[string]stock.Product, len(sc.Products))
	for _, p := range sc.Products {
		cost, err := decimal.NewFromString(p.UnitCost)
		if err != nil {
			return nil, nil, fmt.Errorf("product %s: invalid unit_cost %q", p.ID, p.UnitCost)
		}
		products[p.ID] = stock.Product{
			ID:       stock.ProductID(p.ID),
			SKU:      p.SKU,
			Barcode:  p.Barcode,
			Name:     p.Name,
			UnitCost: cost,
		}
	}
	locations := make(map[string]stock.Location, len(sc.Locations))
	for _, l := range sc.Locations {
		locations[l.ID] = stock.Location{ID: stock.LocationID(l.ID), Code: l.Code, Zone: l.Zone, Name: l.Name}
	}
	seen := make(map[[2]string]int, len(sc.Stock))
	for i, row := range sc.Stock {
		key := [2]string{row.Product, row.Location}
		if j, dup := seen[key]; dup {
			return nil, nil, fmt.Errorf("stock[%d]: %s at %s already stocked by stock[%d]", i, row.Product, row.Location, j)
		}
		seen[key] = i
		if _, ok := products[row.Product]; !ok {
			return nil, nil, fmt.Errorf("stock[%d]: unknown product %q", i, row.Product)
		}
		if _, ok := locations[row.Location]; !ok {
			return nil, nil, fmt.Errorf("stock[%d]: unknown location %q", i, row.Location)
		}
		if row.Qty <= 0 {
			return nil, nil, fmt.Errorf("stock[%d]: qty must be positive", i)
		}
	}
	return products, locations, nil
}

// =============================================================================
// LOADING
// =============================================================================

// Load resets the store, writes the scenario and syncs the snapshot.
func (sc *Scenario) Load(ctx context.Context, store Store, engine *count.Engine) (stock.SyncResult, error) {
	products, locations, err := sc.catalog()
	if err != nil {
		return stock.SyncResult{}, err
	}

	if err := store.Reset(ctx); err != nil {
		return stock.SyncResult{}, fmt.Errorf("failed to reset store: %w", err)
	}
	for _, p := range sc.Products {
		if err := store.SaveProduct(ctx, products[p.ID]); err != nil {
			return stock.SyncResult{}, fmt.Errorf("failed to save product %s: %w", p.ID, err)
		}
	}
	for _, l := range sc.Locations {
		if err := store.SaveLocation(ctx, locations[l.ID]); err != nil {
			return stock.SyncResult{}, fmt.Errorf("failed to save location %s: %w", l.ID, err)
		}
	}

	ref := "scenario:" + sc.ID
	movements := make([]stock.Movement, 0, len(sc.Stock))
	for _, row := range sc.Stock {
		movements = append(movements, stock.Receive(products[row.Product], stock.LocationID(row.Location), row.Qty, ref))
	}
	if err := store.ApplyMovements(ctx, movements); err != nil {
		return stock.SyncResult{}, fmt.Errorf("failed to receive stock: %w", err)
	}

	res, err := engine.Sync(ctx, systemActor)
	if err != nil {
		return stock.SyncResult{}, err
	}
	log.Printf("[Scenario] Loaded %s: %d products, %d locations, %d positions",
		sc.ID, len(sc.Products), len(sc.Locations), res.Positions)
	return res, nil
}

// systemActor runs maintenance on behalf of the service itself.
var systemActor = count.Actor{ID: "system", Role: count.RoleAdmin}
