package pipeline

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/da-ingest/internal/fetcher"
	"github.com/sells-group/da-ingest/internal/model"
	"github.com/sells-group/da-ingest/internal/store"
)

// --- PageFetcher Mock ---

type mockFetcher struct {
	mock.Mock
}

func (m *mockFetcher) FetchPage(ctx context.Context, token fetcher.PageToken, dr model.DateRange) (*fetcher.RawPage, error) {
	args := m.Called(ctx, token, dr)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*fetcher.RawPage), args.Error(1)
}

// --- Store Mock ---

type mockStore struct {
	mock.Mock
}

func (m *mockStore) Upsert(ctx context.Context, rec model.ApplicationRecord) error {
	return m.Called(ctx, rec).Error(0)
}

func (m *mockStore) CommitPage(ctx context.Context, recs []model.ApplicationRecord, cp model.FetchCheckpoint) error {
	return m.Called(ctx, recs, cp).Error(0)
}

func (m *mockStore) GetAll(ctx context.Context) ([]model.ApplicationRecord, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.ApplicationRecord), args.Error(1)
}

func (m *mockStore) List(ctx context.Context, f store.Filter) ([]model.ApplicationRecord, error) {
	args := m.Called(ctx, f)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.ApplicationRecord), args.Error(1)
}

func (m *mockStore) Get(ctx context.Context, daNumber string) (*model.ApplicationRecord, error) {
	args := m.Called(ctx, daNumber)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ApplicationRecord), args.Error(1)
}

func (m *mockStore) Count(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *mockStore) GetCheckpoint(ctx context.Context, dr model.DateRange) (*model.FetchCheckpoint, error) {
	args := m.Called(ctx, dr)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.FetchCheckpoint), args.Error(1)
}

func (m *mockStore) SaveCheckpoint(ctx context.Context, cp model.FetchCheckpoint) error {
	return m.Called(ctx, cp).Error(0)
}

func (m *mockStore) DeleteCheckpoint(ctx context.Context, dr model.DateRange) error {
	return m.Called(ctx, dr).Error(0)
}

func (m *mockStore) ListCheckpoints(ctx context.Context) ([]model.FetchCheckpoint, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.FetchCheckpoint), args.Error(1)
}

func (m *mockStore) RecordRun(ctx context.Context, report *model.RunReport) error {
	return m.Called(ctx, report).Error(0)
}

func (m *mockStore) ListRuns(ctx context.Context, limit int) ([]model.RunReport, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.RunReport), args.Error(1)
}

func (m *mockStore) Migrate(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockStore) Close() error {
	return m.Called().Error(0)
}
