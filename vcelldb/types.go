// Package vcelldb is a client for the VCell biomodel database REST API.
package vcelldb

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
)

// ============================================================================
// SEARCH PARAMETERS
// ============================================================================

// Category filters biomodels by visibility class.
type Category string

const (
	CategoryAll         Category = "all"
	CategoryPublic      Category = "public"
	CategoryShared      Category = "shared"
	CategoryTutorial    Category = "tutorial"
	CategoryEducational Category = "educational"
)

// OrderBy selects the sort order of search results.
type OrderBy string

const (
	OrderByDateDesc OrderBy = "date_desc"
	OrderByDateAsc  OrderBy = "date_asc"
	OrderByNameDesc OrderBy = "name_desc"
	OrderByNameAsc  OrderBy = "name_asc"
)

// BiomodelSearchParams is the filter and sort parameter set for a biomodel
// search. Zero values serialize as empty strings so the remote API always
// receives the full parameter set.
type BiomodelSearchParams struct {
	BmID      string
	BmName    string
	Category  Category
	Owner     string
	SavedLow  string // YYYY-MM-DD, empty for unbounded
	SavedHigh string // YYYY-MM-DD, empty for unbounded
	StartRow  int
	MaxRows   int
	OrderBy   OrderBy
}

// SetDefaults fills in the standard pagination and ordering defaults.
func (p *BiomodelSearchParams) SetDefaults() {
	if p.Category == "" {
		p.Category = CategoryAll
	}
	if p.StartRow == 0 {
		p.StartRow = 1
	}
	if p.MaxRows == 0 {
		p.MaxRows = 1000
	}
	if p.OrderBy == "" {
		p.OrderBy = OrderByDateDesc
	}
}

// Values serializes the full parameter set as a query string. Every key is
// always present, matching what the remote API expects.
func (p *BiomodelSearchParams) Values() url.Values {
	v := url.Values{}
	v.Set("bmId", p.BmID)
	v.Set("bmName", p.BmName)
	v.Set("category", string(p.Category))
	v.Set("owner", p.Owner)
	v.Set("savedLow", p.SavedLow)
	v.Set("savedHigh", p.SavedHigh)
	v.Set("startRow", strconv.Itoa(p.StartRow))
	v.Set("maxRows", strconv.Itoa(p.MaxRows))
	v.Set("orderBy", string(p.OrderBy))
	return v
}

// Map returns the parameter set as a plain map, used to echo search
// parameters back in results.
func (p *BiomodelSearchParams) Map() map[string]interface{} {
	return map[string]interface{}{
		"bmId":      p.BmID,
		"bmName":    p.BmName,
		"category":  string(p.Category),
		"owner":     p.Owner,
		"savedLow":  p.SavedLow,
		"savedHigh": p.SavedHigh,
		"startRow":  p.StartRow,
		"maxRows":   p.MaxRows,
		"orderBy":   string(p.OrderBy),
	}
}

// ============================================================================
// RESULTS
// ============================================================================

// BiomodelSearchResult wraps the raw model records with echoed search
// parameters and the harvested unique model keys.
type BiomodelSearchResult struct {
	SearchParams map[string]interface{}   `json:"search_params"`
	ModelsCount  int                      `json:"models_count"`
	BmKeys       []string                 `json:"unique_model_keys (bmkey)"`
	Data         []map[string]interface{} `json:"data"`
}

// ApplicationFile describes one application of a biomodel together with the
// download URLs of its exported model files.
type ApplicationFile struct {
	Name    string `json:"name"`
	Type    string `json:"type,omitempty"`
	BnglURL string `json:"bngl_url"`
	SbmlURL string `json:"sbml_url"`
}

// ApplicationFilesResult lists a biomodel's applications with file URLs.
type ApplicationFilesResult struct {
	BiomodelID        string            `json:"biomodel_id"`
	Applications      []ApplicationFile `json:"applications"`
	TotalApplications int               `json:"total_applications"`
}

// ============================================================================
// ERRORS
// ============================================================================

// ErrNotFound reports a 404 from the remote database, surfaced distinctly so
// callers can render "not found" rather than a generic failure.
var ErrNotFound = errors.New("resource not found")

// StatusError is a non-2xx response from the remote database.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("vcell api returned status %d for %s", e.Code, e.URL)
}

// Is makes 404 status errors match ErrNotFound.
func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.Code == 404
}
