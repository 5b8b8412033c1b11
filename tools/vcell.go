package tools

import (
	"context"
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/vcell-ai/assistant/llms"
	"github.com/vcell-ai/assistant/vcelldb"
)

// decodeArgs coerces raw LLM-supplied arguments into a typed struct.
func decodeArgs(args map[string]interface{}, target interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(args); err != nil {
		return fmt.Errorf("invalid tool arguments: %w", err)
	}
	return nil
}

// ============================================================================
// FETCH BIOMODELS
// ============================================================================

// FetchBiomodelsTool searches the VCell database for biomodels.
type FetchBiomodelsTool struct {
	client *vcelldb.Client
}

func NewFetchBiomodelsTool(client *vcelldb.Client) *FetchBiomodelsTool {
	return &FetchBiomodelsTool{client: client}
}

type fetchBiomodelsArgs struct {
	BmID      string `mapstructure:"bmId"`
	BmName    string `mapstructure:"bmName"`
	Category  string `mapstructure:"category"`
	Owner     string `mapstructure:"owner"`
	SavedLow  string `mapstructure:"savedLow"`
	SavedHigh string `mapstructure:"savedHigh"`
	StartRow  int    `mapstructure:"startRow"`
	MaxRows   int    `mapstructure:"maxRows"`
	OrderBy   string `mapstructure:"orderBy"`
}

func (t *FetchBiomodelsTool) listShaped() {}

func (t *FetchBiomodelsTool) Definition() llms.ToolDefinition {
	return llms.ToolDefinition{
		Name:        "fetch_biomodels",
		Description: "Retrieves a list of biomodels from the VCell database based on various filtering criteria such as the biomodel name, category, owner, and saved date range. This allows to search for specific biomodels based on their attributes and retrieve the results.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"bmId": map[string]interface{}{
					"type":        "string",
					"description": "The unique identifier of the biomodel. This can be used to retrieve specific biomodels directly by their ID.",
				},
				"bmName": map[string]interface{}{
					"type":        "string",
					"description": "The name or part of the name of the biomodel you are searching for. This can be used to find biomodels that match the provided name or keyword.",
				},
				"category": map[string]interface{}{
					"type":        "string",
					"enum":        []string{"all", "public", "shared", "tutorial", "educational"},
					"description": "The category under which the biomodels are classified. Options include: 'all', 'public', 'shared', 'tutorial', and 'educational'.",
				},
				"owner": map[string]interface{}{
					"type":        "string",
					"description": "The owner of the biomodel. This filter allows users to search for biomodels owned by a specific user.",
				},
				"savedLow": map[string]interface{}{
					"type":        "string",
					"description": "The lower bound of the saved date range. Only biomodels saved after this date will be included (format: YYYY-MM-DD). Empty means unbounded.",
				},
				"savedHigh": map[string]interface{}{
					"type":        "string",
					"description": "The upper bound of the saved date range. Only biomodels saved before this date will be included (format: YYYY-MM-DD). Empty means unbounded.",
				},
				"startRow": map[string]interface{}{
					"type":        "integer",
					"description": "The starting row for pagination. This determines the first result to be included in the response.",
				},
				"maxRows": map[string]interface{}{
					"type":        "integer",
					"description": "The maximum number of results to return per page.",
				},
				"orderBy": map[string]interface{}{
					"type":        "string",
					"enum":        []string{"date_desc", "date_asc", "name_desc", "name_asc"},
					"description": "The order in which the biomodels should be sorted.",
				},
			},
			"required": []string{
				"bmId", "bmName", "category", "owner",
				"savedLow", "savedHigh", "startRow", "maxRows", "orderBy",
			},
			"additionalProperties": false,
		},
		Strict: true,
	}
}

func (t *FetchBiomodelsTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	var parsed fetchBiomodelsArgs
	if err := decodeArgs(args, &parsed); err != nil {
		return nil, err
	}

	params := vcelldb.BiomodelSearchParams{
		BmID:      parsed.BmID,
		BmName:    parsed.BmName,
		Category:  vcelldb.Category(parsed.Category),
		Owner:     parsed.Owner,
		SavedLow:  parsed.SavedLow,
		SavedHigh: parsed.SavedHigh,
		StartRow:  parsed.StartRow,
		OrderBy:   vcelldb.OrderBy(parsed.OrderBy),
		// Always request the maximum page so the harvested model keys
		// cover the complete result set.
		MaxRows: 1000,
	}
	return t.client.SearchBiomodels(ctx, params)
}

// ============================================================================
// FETCH SIMULATION DETAILS
// ============================================================================

// FetchSimulationDetailsTool fetches one simulation's detail record.
type FetchSimulationDetailsTool struct {
	client *vcelldb.Client
}

func NewFetchSimulationDetailsTool(client *vcelldb.Client) *FetchSimulationDetailsTool {
	return &FetchSimulationDetailsTool{client: client}
}

func (t *FetchSimulationDetailsTool) listShaped() {}

func (t *FetchSimulationDetailsTool) Definition() llms.ToolDefinition {
	return llms.ToolDefinition{
		Name:        "fetch_simulation_details",
		Description: "Fetches detailed information about a specific simulation id. This function allows to retrieve all available details about a simulation, including simulation parameters, solver information, and result data. Use only when biomodel id and simulation id are given.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"bmId": map[string]interface{}{
					"type":        "string",
					"description": "Biomodel ID for which simulations will be fetched",
				},
				"simId": map[string]interface{}{
					"type":        "string",
					"description": "Simulation ID to fetch specific simulation details",
				},
			},
			"required":             []string{"bmId", "simId"},
			"additionalProperties": false,
		},
		Strict: true,
	}
}

func (t *FetchSimulationDetailsTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	var parsed struct {
		BmID  string `mapstructure:"bmId"`
		SimID string `mapstructure:"simId"`
	}
	if err := decodeArgs(args, &parsed); err != nil {
		return nil, err
	}
	if parsed.BmID == "" || parsed.SimID == "" {
		return nil, fmt.Errorf("bmId and simId are required")
	}
	return t.client.SimulationDetails(ctx, parsed.BmID, parsed.SimID)
}

// ============================================================================
// GET VCML FILE
// ============================================================================

// GetVCMLFileTool fetches a biomodel's VCML definition as raw text.
type GetVCMLFileTool struct {
	client *vcelldb.Client
}

func NewGetVCMLFileTool(client *vcelldb.Client) *GetVCMLFileTool {
	return &GetVCMLFileTool{client: client}
}

func (t *GetVCMLFileTool) Definition() llms.ToolDefinition {
	return llms.ToolDefinition{
		Name:        "get_vcml_file",
		Description: "Retrieves the VCML (Virtual Cell Markup Language) file content for a specified biomodel. VCML files provide a detailed, machine-readable description of a biomodel's structure and behavior, which is used for simulation and model analysis. This function allows to download the VCML representation of a biomodel for further analysis.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"biomodel_id": map[string]interface{}{
					"type":        "string",
					"description": "ID of the biomodel to retrieve VCML",
				},
			},
			"required":             []string{"biomodel_id"},
			"additionalProperties": false,
		},
		Strict: true,
	}
}

func (t *GetVCMLFileTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	var parsed struct {
		BiomodelID string `mapstructure:"biomodel_id"`
	}
	if err := decodeArgs(args, &parsed); err != nil {
		return nil, err
	}
	if parsed.BiomodelID == "" {
		return nil, fmt.Errorf("biomodel_id is required")
	}
	return t.client.VCMLFile(ctx, parsed.BiomodelID, false)
}

// ============================================================================
// FETCH PUBLICATIONS
// ============================================================================

// FetchPublicationsTool lists VCell-related publications.
type FetchPublicationsTool struct {
	client *vcelldb.Client
}

func NewFetchPublicationsTool(client *vcelldb.Client) *FetchPublicationsTool {
	return &FetchPublicationsTool{client: client}
}

func (t *FetchPublicationsTool) listShaped() {}

func (t *FetchPublicationsTool) Definition() llms.ToolDefinition {
	return llms.ToolDefinition{
		Name:        "fetch_publications",
		Description: "Retrieves the full list of VCell related publications with fields: pubKey (unique identifier), title, authors (array), year, citation, pubmedid (PubMed ID), doi (DOI link), url (publication URL), biomodelReferences (related biomodels), and mathmodelReferences (related mathematical models).",
		Parameters: map[string]interface{}{
			"type":                 "object",
			"properties":           map[string]interface{}{},
			"required":             []string{},
			"additionalProperties": false,
		},
		Strict: true,
	}
}

func (t *FetchPublicationsTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	return t.client.Publications(ctx)
}
