package pipeline_test

import (
	"context"

	"github.com/stretchr/testify/mock"

	"docindex/internal/backend"
	"docindex/internal/flatten"
	"docindex/internal/schema"
)

// Mocks

type MockBackend struct{ mock.Mock }

func (m *MockBackend) EnsureIndex(ctx context.Context, s *schema.Schema) (backend.EnsureResult, error) {
	args := m.Called(ctx, s)
	return args.Get(0).(backend.EnsureResult), args.Error(1)
}

func (m *MockBackend) UploadBatch(ctx context.Context, records []flatten.Record) (backend.BatchOutcome, error) {
	args := m.Called(ctx, records)
	return args.Get(0).(backend.BatchOutcome), args.Error(1)
}

// allSucceed builds the outcome a healthy backend returns for a batch.
func allSucceed(records []flatten.Record) backend.BatchOutcome {
	var out backend.BatchOutcome
	for _, r := range records {
		out.Succeeded = append(out.Succeeded, r.ID)
	}
	return out
}
