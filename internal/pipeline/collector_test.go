package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"provengine/internal/domain"
	"provengine/internal/registry"
	"provengine/internal/repository"
)

type fakeUnitRepo struct {
	rows []repository.UnitModel
	err  error
}

func (f *fakeUnitRepo) CreateBatch(context.Context, []*domain.Unit) error { return nil }
func (f *fakeUnitRepo) RecordOutcome(context.Context, *domain.Unit) error { return nil }

func (f *fakeUnitRepo) ListByBatchID(context.Context, string) ([]repository.UnitModel, error) {
	return f.rows, f.err
}

func seedCompletedBatch(t *testing.T, reg *registry.Registry, batchID string, count int) {
	t.Helper()

	batch, err := domain.NewBatch(batchID, "tester", count, "", time.Now())
	if err != nil {
		t.Fatalf("NewBatch returned error: %v", err)
	}
	units := make([]*domain.Unit, count)
	for i := range units {
		units[i] = domain.NewUnit(batchID, i)
	}
	if err := reg.Put(batch, units); err != nil {
		t.Fatalf("Put returned error: %v", err)
	}

	ladder := []domain.Stage{
		domain.StageProfileGenerated,
		domain.StageResourceAcquired,
		domain.StageAppProvisioned,
		domain.StageEmailAcquired,
		domain.StagePhoneAcquired,
		domain.StageRegistered,
		domain.StageVerified,
		domain.StageWarmed,
		domain.StageHardened,
	}
	for ordinal := 0; ordinal < count; ordinal++ {
		for _, stage := range ladder {
			if err := reg.AdvanceUnit(batchID, ordinal, stage); err != nil {
				t.Fatalf("AdvanceUnit(%d, %s) returned error: %v", ordinal, stage, err)
			}
		}
		result := &domain.UnitResult{
			UnitID:      units[ordinal].ID,
			BatchID:     batchID,
			Ordinal:     ordinal,
			Credentials: domain.Credentials{Username: "user", Password: "secret"},
			CompletedAt: time.Now(),
		}
		if err := reg.CompleteUnit(batchID, ordinal, result); err != nil {
			t.Fatalf("CompleteUnit(%d) returned error: %v", ordinal, err)
		}
	}
}

func TestCollectReturnsLiveResults(t *testing.T) {
	reg := registry.New()
	seedCompletedBatch(t, reg, "b-1", 2)

	collector, err := NewCollector(reg, nil, nil)
	if err != nil {
		t.Fatalf("NewCollector returned error: %v", err)
	}

	results, err := collector.Collect(context.Background(), "b-1")
	if err != nil {
		t.Fatalf("Collect returned error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Credentials.Password == "" {
		t.Fatalf("live results must carry credential secrets")
	}
}

func TestCollectFallsBackToPersistedRows(t *testing.T) {
	reg := registry.New()
	username := "user-1"
	finishedAt := time.Now()
	repo := &fakeUnitRepo{
		rows: []repository.UnitModel{
			{ID: "b-1/0", BatchID: "b-1", Ordinal: 0, Stage: domain.StageCompleted, Username: &username, FinishedAt: &finishedAt},
			{ID: "b-1/1", BatchID: "b-1", Ordinal: 1, Stage: domain.StageFailed},
		},
	}

	collector, err := NewCollector(reg, repo, nil)
	if err != nil {
		t.Fatalf("NewCollector returned error: %v", err)
	}

	results, err := collector.Collect(context.Background(), "b-1")
	if err != nil {
		t.Fatalf("Collect returned error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1 (failed rows excluded)", len(results))
	}
	if results[0].Credentials.Username != username {
		t.Fatalf("username = %q, want %q", results[0].Credentials.Username, username)
	}
	// Secrets are never persisted; late reads must not invent them.
	if results[0].Credentials.Password != "" {
		t.Fatalf("persisted fallback must not carry a password")
	}
}

func TestCollectUnknownBatch(t *testing.T) {
	collector, err := NewCollector(registry.New(), &fakeUnitRepo{}, nil)
	if err != nil {
		t.Fatalf("NewCollector returned error: %v", err)
	}

	if _, err := collector.Collect(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Collect error = %v, want ErrNotFound", err)
	}
}
