/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built workbooks that demonstrate specific engine features
	without a real operator workbook. Each scenario builds a dataset,
	exports it as an .xlsx file into the scenario directory and reloads
	the session from that file, so commits and backups work exactly as
	they do on a real workbook.

AVAILABLE SCENARIOS:

	fresh-district:   Nothing bound yet; try auto-bind and load calculation
	partial-shares:   Consumers already partly bound; settlement bind clamps shares
	grs-mismatch:     Organizations whose GRS reference disagrees with their bindings

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "partial-shares"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create a dataset builder function
 3. Add it to 'scenarioBuilders'

NOTE:

	Loading a scenario drops all pending changes of the current session.

SEE ALSO:
  - workbook/export.go: writes the scenario workbook
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/warp/prg-engine/allocation"
	"github.com/warp/prg-engine/workbook"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "fresh-district",
		Name:        "Fresh District",
		Description: "Two settlements, nothing bound yet. Auto-bind, then calculate loads.",
	},
	{
		ID:          "partial-shares",
		Name:        "Partial Shares",
		Description: "Consumers already bound at 0.6. A settlement bind grants only the remaining 0.4.",
	},
	{
		ID:          "grs-mismatch",
		Name:        "GRS Mismatch",
		Description: "Organizations bound through a different GRS than the one they reference.",
	},
}

var scenarioBuilders = map[string]func() *allocation.Dataset{
	"fresh-district": freshDistrictDataset,
	"partial-shares": partialSharesDataset,
	"grs-mismatch":   grsMismatchDataset,
}

// ListScenarios returns all available demo scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario ID.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"scenario_id": h.currentScenario})
}

// LoadScenario writes the scenario workbook and reloads the session from it.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	path, err := h.UseScenario(r.Context(), req.ScenarioID)
	if err != nil {
		if _, known := scenarioBuilders[req.ScenarioID]; !known {
			writeError(w, http.StatusBadRequest, "Unknown scenario", err)
			return
		}
		writeDomainError(w, r, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID, "workbook": path})
}

// UseScenario writes the scenario workbook, reloads the session from it and
// marks it current. It returns the workbook path.
func (h *Handler) UseScenario(ctx context.Context, id string) (string, error) {
	path, err := h.WriteScenario(id)
	if err != nil {
		return "", err
	}
	if err := h.Session.Reload(ctx, path); err != nil {
		return "", err
	}

	// Track the loaded scenario
	h.mu.Lock()
	h.currentScenario = id
	h.mu.Unlock()
	return path, nil
}

// WriteScenario exports the named scenario into ScenarioDir and returns the
// workbook path. An existing file for the scenario is replaced.
func (h *Handler) WriteScenario(id string) (string, error) {
	build, ok := scenarioBuilders[id]
	if !ok {
		return "", fmt.Errorf("unknown scenario %q", id)
	}
	if err := os.MkdirAll(h.ScenarioDir, 0o755); err != nil {
		return "", fmt.Errorf("create scenario dir: %w", err)
	}
	path := filepath.Join(h.ScenarioDir, id+".xlsx")
	if err := workbook.Export(path, workbook.DefaultLayout(), build()); err != nil {
		return "", err
	}
	return path, nil
}

// =============================================================================
// SCENARIO DATASETS
// =============================================================================

const demoDistrict = "Заречный район"

func demoGRS() []allocation.GRS {
	return []allocation.GRS{
		{ID: "1", Name: "ГРС Заречная", District: demoDistrict},
		{ID: "2", Name: "ГРС Лесная", District: demoDistrict},
	}
}

func demoPipelines() []allocation.Pipeline {
	return []allocation.Pipeline{
		{PipelineID: "ПРГ-101", GRSID: "1", District: demoDistrict, Settlement: "Заречье"},
		{PipelineID: "ПРГ-102", GRSID: "2", District: demoDistrict, Settlement: "Заречье"},
		{PipelineID: "ПРГ-201", GRSID: "2", District: demoDistrict, Settlement: "Сосновка"},
	}
}

func demoPopulation(settlement, yearly, code string) allocation.Consumer {
	return allocation.Consumer{
		Kind: allocation.KindPopulation, District: demoDistrict, Settlement: settlement,
		YearlyExpense: yearly, BindingCode: code,
	}
}

func demoOrganization(name, settlement, yearly, hourly, grsRef, code string) allocation.Consumer {
	return allocation.Consumer{
		Kind: allocation.KindOrganization, Name: name, District: demoDistrict, Settlement: settlement,
		YearlyExpense: yearly, HourlyExpense: hourly, GRSReferenceID: grsRef, BindingCode: code,
	}
}

func freshDistrictDataset() *allocation.Dataset {
	return &allocation.Dataset{
		Pipelines: demoPipelines(),
		GRS:       demoGRS(),
		Consumers: []allocation.Consumer{
			demoPopulation("Заречье", "1250000", ""),
			demoPopulation("Сосновка", "430000", ""),
			demoOrganization("Школа №1", "Заречье", "52000", "", "1", ""),
			demoOrganization("Котельная", "Заречье", "980000,5", "310", "1", ""),
			demoOrganization("Пекарня", "Сосновка", "", "", "2", ""),
		},
	}
}

func partialSharesDataset() *allocation.Dataset {
	return &allocation.Dataset{
		Pipelines: demoPipelines(),
		GRS:       demoGRS(),
		Consumers: []allocation.Consumer{
			demoPopulation("Заречье", "1250000", "ПРГ-101|0,6|ГРС Заречная"),
			demoOrganization("Школа №1", "Заречье", "52000", "", "1", "ПРГ-101|0,6|ГРС Заречная"),
			demoOrganization("Котельная", "Заречье", "980000", "310", "1", "ПРГ-101|1|ГРС Заречная"),
			demoPopulation("Сосновка", "430000", ""),
		},
	}
}

func grsMismatchDataset() *allocation.Dataset {
	return &allocation.Dataset{
		Pipelines: demoPipelines(),
		GRS:       demoGRS(),
		Consumers: []allocation.Consumer{
			demoOrganization("Школа №1", "Заречье", "52000", "", "1", "ПРГ-102|1|ГРС Лесная"),
			demoOrganization("Котельная", "Заречье", "980000", "310", "", "ПРГ-101|1|ГРС Заречная"),
			demoOrganization("Пекарня", "Сосновка", "12000", "", "2", "ПРГ-201|1|ГРС Лесная"),
		},
	}
}
