package wvstore_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"docindex/internal/backend"
	"docindex/internal/backend/wvstore"
	"docindex/internal/flatten"
	"docindex/internal/schema"
)

func mockWeaviate(t *testing.T, handler http.HandlerFunc) (*weaviate.Client, *httptest.Server) {
	t.Helper()
	ts := httptest.NewServer(handler)
	cfg := weaviate.Config{Host: ts.Listener.Addr().String(), Scheme: "http"}
	client, err := weaviate.NewClient(cfg)
	require.NoError(t, err)
	return client, ts
}

func meta(w http.ResponseWriter, r *http.Request) bool {
	if r.URL.Path == "/v1/meta" {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"version": "1.33.0"}`))
		return true
	}
	return false
}

func testSchema(t *testing.T) *schema.Schema {
	t.Helper()
	s, err := schema.New([]schema.Field{
		{Name: "id", Type: schema.TypeString, Key: true},
		{Name: "content", Type: schema.TypeString, Searchable: true},
		{Name: "page_number", Type: schema.TypeInt32},
		{Name: "content_vector", Type: schema.TypeFloatVector, Dimensions: 4},
	})
	require.NoError(t, err)
	return s
}

func TestClassName(t *testing.T) {
	assert.Equal(t, "DocChunks", wvstore.ClassName("doc-chunks"))
	assert.Equal(t, "Documents", wvstore.ClassName("documents"))
	assert.Equal(t, "IndexV2", wvstore.ClassName("index_v2"))
}

func TestEnsureIndex_CreatesClass(t *testing.T) {
	var created map[string]any
	client, ts := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		if meta(w, r) {
			return
		}
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v1/schema/Documents":
			w.WriteHeader(http.StatusNotFound)
		case r.Method == http.MethodPost && r.URL.Path == "/v1/schema":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&created))
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{}`))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	})
	defer ts.Close()

	store := wvstore.New(client, "documents", testSchema(t))
	res, err := store.EnsureIndex(context.Background(), testSchema(t))
	require.NoError(t, err)
	assert.Equal(t, backend.StatusCreated, res.Status)

	require.NotNil(t, created)
	assert.Equal(t, "Documents", created["class"])
	assert.Equal(t, "none", created["vectorizer"])

	props := created["properties"].([]any)
	names := make([]string, 0, len(props))
	for _, p := range props {
		names = append(names, p.(map[string]any)["name"].(string))
	}
	// the vector field is carried as the object vector, not a property
	assert.Equal(t, []string{"id", "content", "page_number"}, names)
}

func TestEnsureIndex_ExistingClassCompared(t *testing.T) {
	client, ts := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		if meta(w, r) {
			return
		}
		require.Equal(t, "/v1/schema/Documents", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"class": "Documents",
			"properties": []map[string]any{
				{"name": "id", "dataType": []string{"text"}},
				{"name": "content", "dataType": []string{"int"}}, // wrong type
			},
		})
	})
	defer ts.Close()

	store := wvstore.New(client, "documents", testSchema(t))
	res, err := store.EnsureIndex(context.Background(), testSchema(t))
	require.NoError(t, err)
	assert.Equal(t, backend.StatusIncompatible, res.Status)
	require.Len(t, res.Warnings, 2) // content type + missing page_number
}

func TestUploadBatch(t *testing.T) {
	var sent []map[string]any
	client, ts := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		if meta(w, r) {
			return
		}
		require.Equal(t, "/v1/batch/objects", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)

		var body struct {
			Objects []map[string]any `json:"objects"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		sent = body.Objects

		var resp []map[string]any
		for _, o := range body.Objects {
			resp = append(resp, map[string]any{
				"class":  o["class"],
				"id":     o["id"],
				"result": map[string]any{"status": "SUCCESS"},
			})
		}
		json.NewEncoder(w).Encode(resp)
	})
	defer ts.Close()

	recs := []flatten.Record{
		{ID: "doc_1_p1_c0", Fields: map[string]any{
			"id":             "doc_1_p1_c0",
			"content":        "hello",
			"page_number":    1,
			"content_vector": []any{0.1, 0.2, 0.3, 0.4},
		}},
	}

	store := wvstore.New(client, "documents", testSchema(t))
	outcome, err := store.UploadBatch(context.Background(), recs)
	require.NoError(t, err)
	assert.Equal(t, []string{"doc_1_p1_c0"}, outcome.Succeeded)

	require.Len(t, sent, 1)
	obj := sent[0]
	assert.Equal(t, "Documents", obj["class"])
	assert.NotEmpty(t, obj["id"])
	assert.Len(t, obj["vector"], 4)

	props := obj["properties"].(map[string]any)
	assert.Equal(t, "hello", props["content"])
	assert.NotContains(t, props, "content_vector")
}

func TestUploadBatch_DeterministicObjectIDs(t *testing.T) {
	var ids []string
	client, ts := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		if meta(w, r) {
			return
		}
		var body struct {
			Objects []map[string]any `json:"objects"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		var resp []map[string]any
		for _, o := range body.Objects {
			ids = append(ids, o["id"].(string))
			resp = append(resp, map[string]any{"id": o["id"], "result": map[string]any{"status": "SUCCESS"}})
		}
		json.NewEncoder(w).Encode(resp)
	})
	defer ts.Close()

	recs := []flatten.Record{
		{ID: "doc_1_p1_c0", Fields: map[string]any{"id": "doc_1_p1_c0", "content": "x"}},
	}

	store := wvstore.New(client, "documents", testSchema(t))
	_, err := store.UploadBatch(context.Background(), recs)
	require.NoError(t, err)
	_, err = store.UploadBatch(context.Background(), recs)
	require.NoError(t, err)

	// same record id maps onto the same object UUID, so a re-send replaces
	require.Len(t, ids, 2)
	assert.Equal(t, ids[0], ids[1])
}

func TestUploadBatch_CoercesNumericVectorElements(t *testing.T) {
	var sent []map[string]any
	client, ts := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		if meta(w, r) {
			return
		}
		var body struct {
			Objects []map[string]any `json:"objects"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		sent = body.Objects

		var resp []map[string]any
		for _, o := range body.Objects {
			resp = append(resp, map[string]any{"id": o["id"], "result": map[string]any{"status": "SUCCESS"}})
		}
		json.NewEncoder(w).Encode(resp)
	})
	defer ts.Close()

	// in-process producers may hand over ints and float32s, not just the
	// float64s a JSON decode yields
	recs := []flatten.Record{
		{ID: "doc_1_p1_c0", Fields: map[string]any{
			"id":             "doc_1_p1_c0",
			"content_vector": []any{0.1, 1, float32(0.3), int64(2)},
		}},
	}

	store := wvstore.New(client, "documents", testSchema(t))
	outcome, err := store.UploadBatch(context.Background(), recs)
	require.NoError(t, err)
	assert.Equal(t, []string{"doc_1_p1_c0"}, outcome.Succeeded)

	require.Len(t, sent, 1)
	assert.Len(t, sent[0]["vector"], 4)
}

func TestUploadBatch_UnconvertibleVectorRejectsRecord(t *testing.T) {
	var sent []map[string]any
	client, ts := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		if meta(w, r) {
			return
		}
		var body struct {
			Objects []map[string]any `json:"objects"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		sent = body.Objects

		var resp []map[string]any
		for _, o := range body.Objects {
			resp = append(resp, map[string]any{"id": o["id"], "result": map[string]any{"status": "SUCCESS"}})
		}
		json.NewEncoder(w).Encode(resp)
	})
	defer ts.Close()

	recs := []flatten.Record{
		{ID: "doc_1_p1_c0", Fields: map[string]any{
			"id":             "doc_1_p1_c0",
			"content_vector": []any{0.1, "not a number", 0.3, 0.4},
		}},
		{ID: "doc_1_p1_c1", Fields: map[string]any{
			"id":             "doc_1_p1_c1",
			"content_vector": []any{0.1, 0.2, 0.3, 0.4},
		}},
	}

	store := wvstore.New(client, "documents", testSchema(t))
	outcome, err := store.UploadBatch(context.Background(), recs)
	require.NoError(t, err)

	// the bad record never reaches the service, and it is not stored
	// vectorless either
	assert.Equal(t, []string{"doc_1_p1_c1"}, outcome.Succeeded)
	require.Len(t, outcome.Failed, 1)
	assert.Equal(t, "doc_1_p1_c0", outcome.Failed[0].ID)
	assert.Contains(t, outcome.Failed[0].Reason, "content_vector")

	require.Len(t, sent, 1)
	assert.Len(t, sent[0]["vector"], 4)
}

func TestUploadBatch_PerObjectErrors(t *testing.T) {
	client, ts := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		if meta(w, r) {
			return
		}
		var body struct {
			Objects []map[string]any `json:"objects"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		resp := []map[string]any{
			{"id": body.Objects[0]["id"], "result": map[string]any{"status": "SUCCESS"}},
			{"id": body.Objects[1]["id"], "result": map[string]any{
				"errors": map[string]any{"error": []map[string]any{{"message": "invalid property"}}},
			}},
		}
		json.NewEncoder(w).Encode(resp)
	})
	defer ts.Close()

	recs := []flatten.Record{
		{ID: "doc_1_p1_c0", Fields: map[string]any{"id": "doc_1_p1_c0"}},
		{ID: "doc_1_p1_c1", Fields: map[string]any{"id": "doc_1_p1_c1"}},
	}

	store := wvstore.New(client, "documents", testSchema(t))
	outcome, err := store.UploadBatch(context.Background(), recs)
	require.NoError(t, err)

	assert.Equal(t, []string{"doc_1_p1_c0"}, outcome.Succeeded)
	require.Len(t, outcome.Failed, 1)
	assert.Equal(t, "doc_1_p1_c1", outcome.Failed[0].ID)
	assert.Equal(t, "invalid property", outcome.Failed[0].Reason)
}
