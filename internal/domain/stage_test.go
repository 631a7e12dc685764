package domain

import (
	"errors"
	"testing"
)

func TestStagePercentMonotonic(t *testing.T) {
	t.Parallel()

	last := -1
	for _, stage := range stageOrder {
		percent, ok := stage.Percent()
		if !ok {
			t.Fatalf("stage %s has no percent mapping", stage)
		}
		if percent < last {
			t.Fatalf("percent for %s regresses: %d < %d", stage, percent, last)
		}
		last = percent
	}

	if first, _ := StageInit.Percent(); first != 0 {
		t.Fatalf("INIT percent = %d, want 0", first)
	}
	if final, _ := StageCompleted.Percent(); final != 100 {
		t.Fatalf("COMPLETED percent = %d, want 100", final)
	}
}

func TestStageNextFollowsCanonicalOrder(t *testing.T) {
	t.Parallel()

	current := StageInit
	visited := []Stage{current}
	for !current.IsTerminal() {
		next, err := current.Next()
		if err != nil {
			t.Fatalf("Next() from %s unexpected error = %v", current, err)
		}
		if next.Index() != current.Index()+1 {
			t.Fatalf("Next() from %s = %s, index jumped", current, next)
		}
		current = next
		visited = append(visited, current)
	}

	if current != StageCompleted {
		t.Fatalf("walk ended at %s, want COMPLETED", current)
	}
	if len(visited) != StageCount() {
		t.Fatalf("visited %d stages, want %d", len(visited), StageCount())
	}
}

func TestStageNextRejectsTerminals(t *testing.T) {
	t.Parallel()

	for _, stage := range []Stage{StageCompleted, StageFailed, StageAborted} {
		if _, err := stage.Next(); err == nil {
			t.Fatalf("Next() from %s expected error", stage)
		}
	}
}

func TestParseStageFromString(t *testing.T) {
	t.Parallel()

	got, err := ParseStageFromString(" registered ")
	if err != nil {
		t.Fatalf("ParseStageFromString() unexpected error = %v", err)
	}
	if got != StageRegistered {
		t.Fatalf("ParseStageFromString() = %s, want %s", got, StageRegistered)
	}

	_, err = ParseStageFromString("SHIPPED")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("ParseStageFromString() error = %v, want ErrValidation", err)
	}
}
