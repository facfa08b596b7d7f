// Package azsearch talks to an Azure-AI-Search-style REST service: index
// management under /indexes/{name} and bulk writes under
// /indexes/{name}/docs/index, authenticated with an api-key header.
package azsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"docindex/internal/backend"
	"docindex/internal/flatten"
	"docindex/internal/schema"
)

const defaultAPIVersion = "2024-07-01"

type Client struct {
	endpoint   string
	apiKey     string
	indexName  string
	apiVersion string
	httpc      *http.Client
}

func New(endpoint, apiKey, indexName string, timeout time.Duration) *Client {
	return &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		apiKey:     apiKey,
		indexName:  indexName,
		apiVersion: defaultAPIVersion,
		httpc:      &http.Client{Timeout: timeout},
	}
}

func (c *Client) SetAPIVersion(v string) {
	if v != "" {
		c.apiVersion = v
	}
}

type indexField struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Key        bool   `json:"key,omitempty"`
	Searchable bool   `json:"searchable"`
	Filterable bool   `json:"filterable,omitempty"`
	Facetable  bool   `json:"facetable,omitempty"`
	Sortable   bool   `json:"sortable,omitempty"`

	Dimensions          int    `json:"dimensions,omitempty"`
	VectorSearchProfile string `json:"vectorSearchProfile,omitempty"`
}

type indexBody struct {
	Name         string         `json:"name"`
	Fields       []indexField   `json:"fields"`
	VectorSearch map[string]any `json:"vectorSearch,omitempty"`
}

// EnsureIndex describes the index and creates it from the schema when it does
// not exist. An existing index is compared field-by-field; mismatches come
// back as warnings, never as an in-place migration.
func (c *Client) EnsureIndex(ctx context.Context, s *schema.Schema) (backend.EnsureResult, error) {
	url := fmt.Sprintf("%s/indexes/%s?api-version=%s", c.endpoint, c.indexName, c.apiVersion)

	status, body, err := c.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return backend.EnsureResult{}, err
	}

	switch {
	case status == http.StatusOK:
		var existing indexBody
		if err := json.Unmarshal(body, &existing); err != nil {
			return backend.EnsureResult{}, fmt.Errorf("decode index description: %w", err)
		}
		return compareFields(s, existing.Fields), nil

	case status == http.StatusNotFound:
		return c.createIndex(ctx, url, s)

	default:
		return backend.EnsureResult{}, statusError(status, body)
	}
}

func (c *Client) createIndex(ctx context.Context, url string, s *schema.Schema) (backend.EnsureResult, error) {
	payload, err := json.Marshal(buildIndexBody(c.indexName, s))
	if err != nil {
		return backend.EnsureResult{}, err
	}

	status, body, err := c.do(ctx, http.MethodPut, url, payload)
	if err != nil {
		return backend.EnsureResult{}, err
	}
	// 200/201 on create, 204 on an update with no body.
	if status == http.StatusOK || status == http.StatusCreated || status == http.StatusNoContent {
		return backend.EnsureResult{Status: backend.StatusCreated}, nil
	}
	return backend.EnsureResult{}, statusError(status, body)
}

type uploadAction struct {
	docFields map[string]any
}

func (a uploadAction) MarshalJSON() ([]byte, error) {
	doc := make(map[string]any, len(a.docFields)+1)
	for k, v := range a.docFields {
		doc[k] = v
	}
	// mergeOrUpload gives insert-or-replace by key, which is what makes
	// re-sending a batch after an ambiguous timeout safe.
	doc["@search.action"] = "mergeOrUpload"
	return json.Marshal(doc)
}

type uploadResponse struct {
	Value []struct {
		Key          string `json:"key"`
		Status       bool   `json:"status"`
		ErrorMessage string `json:"errorMessage"`
		StatusCode   int    `json:"statusCode"`
	} `json:"value"`
}

// UploadBatch bulk-writes one batch. Per-record rejections are reported in
// the outcome; transport-level failures are classified for the retry policy.
func (c *Client) UploadBatch(ctx context.Context, records []flatten.Record) (backend.BatchOutcome, error) {
	actions := make([]uploadAction, 0, len(records))
	for _, r := range records {
		actions = append(actions, uploadAction{docFields: r.Fields})
	}
	payload, err := json.Marshal(map[string]any{"value": actions})
	if err != nil {
		return backend.BatchOutcome{}, err
	}

	url := fmt.Sprintf("%s/indexes/%s/docs/index?api-version=%s", c.endpoint, c.indexName, c.apiVersion)
	status, body, err := c.do(ctx, http.MethodPost, url, payload)
	if err != nil {
		return backend.BatchOutcome{}, err
	}

	// 207 means the batch partially failed; the body still carries a status
	// per record.
	if status != http.StatusOK && status != http.StatusMultiStatus {
		return backend.BatchOutcome{}, statusError(status, body)
	}

	var resp uploadResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return backend.BatchOutcome{}, fmt.Errorf("decode upload response: %w", err)
	}

	var outcome backend.BatchOutcome
	for _, r := range resp.Value {
		if r.Status {
			outcome.Succeeded = append(outcome.Succeeded, r.Key)
			continue
		}
		reason := r.ErrorMessage
		if reason == "" {
			reason = fmt.Sprintf("rejected with status %d", r.StatusCode)
		}
		outcome.Failed = append(outcome.Failed, backend.RecordFailure{ID: r.Key, Reason: reason})
	}
	return outcome, nil
}

func (c *Client) do(ctx context.Context, method, url string, payload []byte) (int, []byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", c.apiKey)

	resp, err := c.httpc.Do(req)
	if err != nil {
		// Connection resets and client-side timeouts are indistinguishable
		// from a slow backend, treat them as transient.
		return 0, nil, &backend.TransientError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, &backend.TransientError{Err: err}
	}
	return resp.StatusCode, body, nil
}

func statusError(status int, body []byte) error {
	err := fmt.Errorf("search service returned %d: %s", status, truncate(body, 200))
	if classified := backend.ClassifyStatus(status, err); classified != nil {
		return classified
	}
	return err
}

func truncate(b []byte, n int) string {
	s := string(b)
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}

func buildIndexBody(name string, s *schema.Schema) indexBody {
	body := indexBody{Name: name}

	hasVector := false
	for _, f := range s.Fields() {
		out := indexField{
			Name:       f.Name,
			Type:       string(f.Type),
			Key:        f.Key,
			Searchable: f.Searchable,
			Filterable: f.Filterable,
			Facetable:  f.Facetable,
			Sortable:   f.Sortable,
		}
		if f.Type == schema.TypeFloatVector {
			hasVector = true
			out.Searchable = true
			out.Dimensions = f.Dimensions
			out.VectorSearchProfile = "docindex-vector-profile"
		}
		body.Fields = append(body.Fields, out)
	}

	if hasVector {
		body.VectorSearch = map[string]any{
			"algorithms": []map[string]any{
				{
					"name": "docindex-hnsw",
					"kind": "hnsw",
					"hnswParameters": map[string]any{
						"metric":         "cosine",
						"m":              8,
						"efConstruction": 400,
						"efSearch":       500,
					},
				},
			},
			"profiles": []map[string]any{
				{"name": "docindex-vector-profile", "algorithm": "docindex-hnsw"},
			},
		}
	}
	return body
}

func compareFields(s *schema.Schema, existing []indexField) backend.EnsureResult {
	res := backend.EnsureResult{Status: backend.StatusExisting}

	byName := make(map[string]indexField, len(existing))
	for _, f := range existing {
		byName[f.Name] = f
	}

	for _, want := range s.Fields() {
		got, ok := byName[want.Name]
		if !ok {
			res.Warnings = append(res.Warnings, fmt.Sprintf("field %q missing from existing index", want.Name))
			continue
		}
		if got.Type != string(want.Type) {
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("field %q: index has type %s, schema declares %s", want.Name, got.Type, want.Type))
		}
	}

	if len(res.Warnings) > 0 {
		res.Status = backend.StatusIncompatible
	}
	return res
}
