package vcelldb

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/vcell-ai/assistant/config"
	"github.com/vcell-ai/assistant/logger"
)

// DefaultBaseURL is the public VCell REST API.
const DefaultBaseURL = "https://vcell.cam.uchc.edu/api/v0"

// TruncateChars is the number of characters kept when a definition file is
// fetched with truncation enabled.
const TruncateChars = 500

// ============================================================================
// CLIENT
// ============================================================================

// Client issues read requests against the VCell biomodel database. It is
// safe for concurrent use; construct once and share.
type Client struct {
	baseURL    string
	client     *http.Client
	fileClient *http.Client
	maxRetries int
	retryDelay time.Duration
	log        *slog.Logger
}

// NewClientFromConfig creates a client from config.
func NewClientFromConfig(cfg *config.VCellConfig) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		client:     &http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second},
		fileClient: &http.Client{Timeout: time.Duration(cfg.FileTimeout) * time.Second},
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelayDuration(),
		log:        logger.With("vcelldb"),
	}
}

// ============================================================================
// SEARCH
// ============================================================================

// SearchBiomodels fetches biomodels matching the given filters and wraps
// them with echoed parameters and the harvested unique model keys.
func (c *Client) SearchBiomodels(ctx context.Context, params BiomodelSearchParams) (*BiomodelSearchResult, error) {
	params.SetDefaults()
	requestURL := c.baseURL + "/biomodel?" + params.Values().Encode()
	c.log.Info("searching biomodels", "url", requestURL)

	body, err := c.get(ctx, c.client, requestURL)
	if err != nil {
		return nil, err
	}

	// The API normally returns a bare list; tolerate a {"data": [...]}
	// wrapper as well.
	var models []map[string]interface{}
	if err := json.Unmarshal(body, &models); err != nil {
		var wrapper struct {
			Data []map[string]interface{} `json:"data"`
		}
		if err := json.Unmarshal(body, &wrapper); err != nil {
			return nil, fmt.Errorf("failed to parse biomodel search response: %w", err)
		}
		models = wrapper.Data
	}

	result := &BiomodelSearchResult{
		SearchParams: params.Map(),
		ModelsCount:  len(models),
		BmKeys:       []string{},
		Data:         models,
	}
	for _, model := range models {
		if key := stringField(model, "bmKey"); key != "" {
			result.BmKeys = append(result.BmKeys, key)
		}
	}
	return result, nil
}

// SimulationDetails fetches detailed information about one simulation.
func (c *Client) SimulationDetails(ctx context.Context, bmID, simID string) (map[string]interface{}, error) {
	requestURL := fmt.Sprintf("%s/biomodel/%s/simulation/%s",
		c.baseURL, escapeSegment(bmID), escapeSegment(simID))

	body, err := c.get(ctx, c.client, requestURL)
	if err != nil {
		return nil, err
	}
	var details map[string]interface{}
	if err := json.Unmarshal(body, &details); err != nil {
		return nil, fmt.Errorf("failed to parse simulation details: %w", err)
	}
	return details, nil
}

// ============================================================================
// DEFINITION FILES
// ============================================================================

// VCMLFile fetches the VCML definition of a biomodel. Transient failures are
// retried with exponential backoff. With truncate set, the returned text is
// limited to TruncateChars characters.
func (c *Client) VCMLFile(ctx context.Context, biomodelID string, truncate bool) (string, error) {
	requestURL := fmt.Sprintf("%s/biomodel/%s/biomodel.vcml", c.baseURL, escapeSegment(biomodelID))
	content, err := c.getWithRetry(ctx, requestURL)
	if err != nil {
		return "", err
	}
	if truncate {
		// Counted in runes, not bytes, so a multi-byte character on the
		// boundary is never split.
		if runes := []rune(content); len(runes) > TruncateChars {
			content = string(runes[:TruncateChars])
		}
	}
	return content, nil
}

// SBMLFile fetches the SBML definition of a biomodel, with the same retry
// behavior as VCMLFile.
func (c *Client) SBMLFile(ctx context.Context, biomodelID string) (string, error) {
	requestURL := fmt.Sprintf("%s/biomodel/%s/biomodel.sbml", c.baseURL, escapeSegment(biomodelID))
	return c.getWithRetry(ctx, requestURL)
}

// getWithRetry fetches a definition file, retrying transient failures with a
// doubling backoff delay. The last error is returned after exhaustion.
func (c *Client) getWithRetry(ctx context.Context, requestURL string) (string, error) {
	var lastErr error
	delay := c.retryDelay
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		body, err := c.get(ctx, c.fileClient, requestURL)
		if err == nil {
			return string(body), nil
		}
		lastErr = err
		c.log.Warn("definition file fetch failed",
			"url", requestURL, "attempt", attempt, "error", err)

		if attempt < c.maxRetries {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
			delay *= 2
		}
	}
	return "", lastErr
}

// ============================================================================
// DIAGRAMS, APPLICATIONS, PUBLICATIONS
// ============================================================================

// DiagramURL returns the URL of a biomodel's reaction diagram image.
func (c *Client) DiagramURL(biomodelID string) string {
	return fmt.Sprintf("%s/biomodel/%s/diagram", c.baseURL, escapeSegment(biomodelID))
}

// DiagramImage fetches a biomodel's reaction diagram as PNG bytes.
func (c *Client) DiagramImage(ctx context.Context, biomodelID string) ([]byte, error) {
	return c.get(ctx, c.client, c.DiagramURL(biomodelID))
}

// ApplicationFiles looks up a biomodel's applications and builds download
// URLs for each application's exported BNGL and SBML files.
func (c *Client) ApplicationFiles(ctx context.Context, biomodelID string) (*ApplicationFilesResult, error) {
	search, err := c.SearchBiomodels(ctx, BiomodelSearchParams{BmID: biomodelID, MaxRows: 1})
	if err != nil {
		return nil, err
	}

	result := &ApplicationFilesResult{
		BiomodelID:   biomodelID,
		Applications: []ApplicationFile{},
	}
	if len(search.Data) == 0 {
		return result, nil
	}

	apps, _ := search.Data[0]["applications"].([]interface{})
	for _, raw := range apps {
		app, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		name := stringField(app, "name")
		encoded := escapeSegment(name)
		result.Applications = append(result.Applications, ApplicationFile{
			Name: name,
			Type: stringField(app, "type"),
			BnglURL: fmt.Sprintf("%s/biomodel/%s/applications/%s/biomodel.bngl",
				c.baseURL, escapeSegment(biomodelID), encoded),
			SbmlURL: fmt.Sprintf("%s/biomodel/%s/applications/%s/biomodel.sbml",
				c.baseURL, escapeSegment(biomodelID), encoded),
		})
	}
	result.TotalApplications = len(result.Applications)
	return result, nil
}

// Publications fetches the list of VCell-related publications.
func (c *Client) Publications(ctx context.Context) ([]map[string]interface{}, error) {
	body, err := c.get(ctx, c.client, c.baseURL+"/publications")
	if err != nil {
		return nil, err
	}
	var publications []map[string]interface{}
	if err := json.Unmarshal(body, &publications); err != nil {
		return nil, fmt.Errorf("failed to parse publications: %w", err)
	}
	return publications, nil
}

// ============================================================================
// INTERNALS
// ============================================================================

// get issues a single GET and returns the body. Non-2xx responses become a
// StatusError carrying the upstream code.
func (c *Client) get(ctx context.Context, client *http.Client, requestURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to vcell api failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{Code: resp.StatusCode, URL: requestURL}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return body, nil
}

func stringField(m map[string]interface{}, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	case json.Number:
		return v.String()
	}
	return ""
}

// escapeSegment percent-encodes a path segment. Unreserved characters and
// the marks left intact by common URI encoders stay literal.
func escapeSegment(segment string) string {
	var b strings.Builder
	for i := 0; i < len(segment); i++ {
		ch := segment[i]
		switch {
		case ch >= 'A' && ch <= 'Z', ch >= 'a' && ch <= 'z', ch >= '0' && ch <= '9':
			b.WriteByte(ch)
		case ch == '-' || ch == '_' || ch == '.' || ch == '~':
			b.WriteByte(ch)
		case ch == '!' || ch == '*' || ch == '\'' || ch == '(' || ch == ')':
			b.WriteByte(ch)
		default:
			fmt.Fprintf(&b, "%%%02X", ch)
		}
	}
	return b.String()
}
