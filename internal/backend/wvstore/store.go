// Package wvstore implements the index backend contract on Weaviate: one
// class per index, records as objects with client-supplied vectors.
package wvstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/fault"
	"github.com/weaviate/weaviate/entities/models"

	"docindex/internal/backend"
	"docindex/internal/flatten"
	"docindex/internal/schema"
)

// recordNamespace seeds the deterministic object UUIDs. The same record id
// always maps to the same object UUID, so a batch re-send replaces objects
// instead of duplicating them.
var recordNamespace = uuid.MustParse("9aa34f9d-5c36-4d23-9b2c-d0a1c6f1f3b7")

type Store struct {
	client       *weaviate.Client
	class        string
	vectorFields map[string]bool
}

func New(client *weaviate.Client, indexName string, sch *schema.Schema) *Store {
	vectorFields := make(map[string]bool)
	for _, f := range sch.VectorFields() {
		vectorFields[f.Name] = true
	}
	return &Store{client: client, class: ClassName(indexName), vectorFields: vectorFields}
}

// ClassName maps an index name onto a valid Weaviate class name: strip
// non-alphanumerics, capitalize the following letter.
func ClassName(indexName string) string {
	var b strings.Builder
	upper := true
	for _, r := range indexName {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			upper = true
			continue
		}
		if upper {
			b.WriteRune(unicode.ToUpper(r))
			upper = false
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func dataType(t schema.FieldType) []string {
	switch t {
	case schema.TypeString, schema.TypeDateTime:
		// Dates arrive pre-validated as RFC 3339 strings; Weaviate's date
		// type is stricter than the index contract, so store them as text.
		return []string{"text"}
	case schema.TypeInt32, schema.TypeInt64:
		return []string{"int"}
	case schema.TypeDouble:
		return []string{"number"}
	case schema.TypeStringCollection:
		return []string{"text[]"}
	}
	return nil
}

// EnsureIndex creates the class when missing and compares properties when it
// exists. Mismatches are reported as warnings, never altered in place.
func (s *Store) EnsureIndex(ctx context.Context, sch *schema.Schema) (backend.EnsureResult, error) {
	exists, err := s.client.Schema().ClassExistenceChecker().WithClassName(s.class).Do(ctx)
	if err != nil {
		return backend.EnsureResult{}, classify(err)
	}

	if !exists {
		class := &models.Class{
			Class:       s.class,
			Description: "One flattened document chunk per object",
			Vectorizer:  "none",
			Properties:  buildProperties(sch),
		}
		if err := s.client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
			return backend.EnsureResult{}, classify(err)
		}
		return backend.EnsureResult{Status: backend.StatusCreated}, nil
	}

	class, err := s.client.Schema().ClassGetter().WithClassName(s.class).Do(ctx)
	if err != nil {
		return backend.EnsureResult{}, classify(err)
	}

	existing := make(map[string]string, len(class.Properties))
	for _, p := range class.Properties {
		if len(p.DataType) > 0 {
			existing[p.Name] = p.DataType[0]
		}
	}

	res := backend.EnsureResult{Status: backend.StatusExisting}
	for _, p := range buildProperties(sch) {
		got, ok := existing[p.Name]
		if !ok {
			res.Warnings = append(res.Warnings, fmt.Sprintf("property %q missing from class %s", p.Name, s.class))
			continue
		}
		if got != p.DataType[0] {
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("property %q: class has type %s, schema maps to %s", p.Name, got, p.DataType[0]))
		}
	}
	if len(res.Warnings) > 0 {
		res.Status = backend.StatusIncompatible
	}
	return res, nil
}

func buildProperties(sch *schema.Schema) []*models.Property {
	var props []*models.Property
	for _, f := range sch.Fields() {
		if f.Type == schema.TypeFloatVector {
			continue // carried as the object vector, not a property
		}
		props = append(props, &models.Property{
			Name:     f.Name,
			DataType: dataType(f.Type),
		})
	}
	return props
}

// UploadBatch writes one batch through the objects batcher. Object UUIDs are
// derived from the record id, so the call is an upsert. A record whose vector
// field cannot be converted is rejected individually rather than stored
// without its vector.
func (s *Store) UploadBatch(ctx context.Context, records []flatten.Record) (backend.BatchOutcome, error) {
	var outcome backend.BatchOutcome
	objects := make([]*models.Object, 0, len(records))
	sent := make([]flatten.Record, 0, len(records))

	for _, rec := range records {
		properties := make(map[string]any, len(rec.Fields))
		var vector []float32
		badVector := ""
		for k, v := range rec.Fields {
			if s.vectorFields[k] {
				vec, ok := asVector(v)
				if !ok {
					badVector = k
					break
				}
				vector = vec
				continue
			}
			properties[k] = v
		}
		if badVector != "" {
			outcome.Failed = append(outcome.Failed, backend.RecordFailure{
				ID:     rec.ID,
				Reason: fmt.Sprintf("field %q is not a numeric vector", badVector),
			})
			continue
		}

		sent = append(sent, rec)
		objects = append(objects, &models.Object{
			Class:      s.class,
			ID:         deterministicID(rec.ID),
			Properties: properties,
			Vector:     vector,
		})
	}

	if len(objects) == 0 {
		return outcome, nil
	}

	resp, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return backend.BatchOutcome{}, classify(err)
	}

	for i, r := range resp {
		if i >= len(sent) {
			break
		}
		id := sent[i].ID
		if msg := responseError(r); msg != "" {
			outcome.Failed = append(outcome.Failed, backend.RecordFailure{ID: id, Reason: msg})
		} else {
			outcome.Succeeded = append(outcome.Succeeded, id)
		}
	}
	return outcome, nil
}

func deterministicID(recordID string) strfmt.UUID {
	return strfmt.UUID(uuid.NewSHA1(recordNamespace, []byte(recordID)).String())
}

func responseError(r models.ObjectsGetResponse) string {
	if r.Result == nil || r.Result.Errors == nil || len(r.Result.Errors.Error) == 0 {
		return ""
	}
	var msgs []string
	for _, e := range r.Result.Errors.Error {
		if e != nil {
			msgs = append(msgs, e.Message)
		}
	}
	return strings.Join(msgs, "; ")
}

func asVector(v any) ([]float32, bool) {
	switch vec := v.(type) {
	case []float32:
		return vec, true
	case []float64:
		out := make([]float32, len(vec))
		for i, f := range vec {
			out[i] = float32(f)
		}
		return out, true
	case []any:
		out := make([]float32, len(vec))
		for i, item := range vec {
			// validation accepts any numeric shape, so coerce the same set
			switch f := item.(type) {
			case float64:
				out[i] = float32(f)
			case float32:
				out[i] = f
			case int:
				out[i] = float32(f)
			case int64:
				out[i] = float32(f)
			default:
				return nil, false
			}
		}
		return out, true
	}
	return nil, false
}

func classify(err error) error {
	var clientErr *fault.WeaviateClientError
	if errors.As(err, &clientErr) {
		if mapped := backend.ClassifyStatus(clientErr.StatusCode, err); mapped != nil {
			return mapped
		}
		return err
	}
	// Transport-level failures surface without a status code.
	return &backend.TransientError{Err: err}
}
