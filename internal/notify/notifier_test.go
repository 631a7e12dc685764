package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"provengine/internal/domain"
)

type fakeSource struct {
	mu        sync.Mutex
	snapshots []domain.BatchSnapshot
	index     int
	target    domain.NotifyTarget
	storedID  int
}

func (f *fakeSource) Snapshot(string) (domain.BatchSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.snapshots) == 0 {
		return domain.BatchSnapshot{}, domain.ErrNotFound
	}
	snap := f.snapshots[f.index]
	if f.index < len(f.snapshots)-1 {
		f.index++
	}
	return snap, nil
}

func (f *fakeSource) NotifyTarget(string) (domain.NotifyTarget, error) {
	return f.target, nil
}

func (f *fakeSource) SetNotifyMessageID(_ string, messageID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.storedID = messageID
	return nil
}

type fakeChannel struct {
	mu      sync.Mutex
	sendErr error
	editErr error
	// failNextEdits makes that many Edit calls fail before recovering.
	failNextEdits int
	sends         []string
	edits         []string
}

func (f *fakeChannel) Send(_ context.Context, _ int64, text string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return 0, f.sendErr
	}
	f.sends = append(f.sends, text)
	return 42, nil
}

func (f *fakeChannel) Edit(_ context.Context, _ int64, _ int, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.editErr != nil {
		return f.editErr
	}
	if f.failNextEdits > 0 {
		f.failNextEdits--
		return errors.New("chat unreachable")
	}
	f.edits = append(f.edits, text)
	return nil
}

func (f *fakeChannel) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends), len(f.edits)
}

func snapshotAt(percent int, terminal bool) domain.BatchSnapshot {
	return domain.BatchSnapshot{
		BatchID:        "b-1",
		TargetCount:    2,
		OverallPercent: percent,
		Terminal:       terminal,
	}
}

func TestWatchEditsSingleMessageUntilTerminal(t *testing.T) {
	source := &fakeSource{
		target: domain.NotifyTarget{ChatID: 100},
		snapshots: []domain.BatchSnapshot{
			snapshotAt(0, false),
			snapshotAt(30, false),
			snapshotAt(100, true),
		},
	}
	channel := &fakeChannel{}

	notifier, err := NewNotifier(source, channel, 5*time.Millisecond, 5, nil)
	if err != nil {
		t.Fatalf("NewNotifier returned error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := notifier.Watch(ctx, "b-1"); err != nil {
		t.Fatalf("Watch returned error: %v", err)
	}

	sends, edits := channel.counts()
	if sends != 1 {
		t.Fatalf("expected exactly one Send, got %d", sends)
	}
	if edits < 2 {
		t.Fatalf("expected at least two Edits, got %d", edits)
	}
	if source.storedID != 42 {
		t.Fatalf("expected stored message id 42, got %d", source.storedID)
	}
}

func TestWatchSkipsSmallDeltas(t *testing.T) {
	source := &fakeSource{
		target: domain.NotifyTarget{ChatID: 100},
		snapshots: []domain.BatchSnapshot{
			snapshotAt(50, false),
			snapshotAt(52, false),
			snapshotAt(53, false),
			snapshotAt(100, true),
		},
	}
	channel := &fakeChannel{}

	notifier, err := NewNotifier(source, channel, 5*time.Millisecond, 5, nil)
	if err != nil {
		t.Fatalf("NewNotifier returned error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := notifier.Watch(ctx, "b-1"); err != nil {
		t.Fatalf("Watch returned error: %v", err)
	}

	sends, edits := channel.counts()
	if sends != 1 {
		t.Fatalf("expected exactly one Send, got %d", sends)
	}
	// 52 and 53 are under the 5-point delta; only the terminal push edits.
	if edits != 1 {
		t.Fatalf("expected exactly one Edit, got %d", edits)
	}
}

func TestWatchToleratesDispatchFailures(t *testing.T) {
	source := &fakeSource{
		target: domain.NotifyTarget{ChatID: 100},
		snapshots: []domain.BatchSnapshot{
			snapshotAt(0, false),
			snapshotAt(60, false),
			snapshotAt(100, true),
		},
	}
	channel := &fakeChannel{
		sendErr: errors.New("chat unreachable"),
		editErr: errors.New("chat unreachable"),
	}

	notifier, err := NewNotifier(source, channel, 5*time.Millisecond, 5, nil)
	if err != nil {
		t.Fatalf("NewNotifier returned error: %v", err)
	}

	// The channel never recovers, so Watch keeps retrying the terminal
	// push until the context runs out.
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	if err := notifier.Watch(ctx, "b-1"); err != nil {
		t.Fatalf("Watch must swallow channel errors, got: %v", err)
	}
}

func TestWatchRetriesTerminalPushUntilDelivered(t *testing.T) {
	source := &fakeSource{
		target: domain.NotifyTarget{ChatID: 100},
		snapshots: []domain.BatchSnapshot{
			snapshotAt(0, false),
			snapshotAt(100, true),
		},
	}
	channel := &fakeChannel{failNextEdits: 1}

	notifier, err := NewNotifier(source, channel, 5*time.Millisecond, 5, nil)
	if err != nil {
		t.Fatalf("NewNotifier returned error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := notifier.Watch(ctx, "b-1"); err != nil {
		t.Fatalf("Watch returned error: %v", err)
	}
	if ctx.Err() != nil {
		t.Fatalf("Watch gave up instead of retrying the terminal push")
	}

	sends, edits := channel.counts()
	if sends != 1 {
		t.Fatalf("expected exactly one Send, got %d", sends)
	}
	if edits != 1 {
		t.Fatalf("expected the retried terminal Edit to land once, got %d", edits)
	}
	channel.mu.Lock()
	last := channel.edits[len(channel.edits)-1]
	channel.mu.Unlock()
	if !strings.Contains(last, "All units settled.") {
		t.Fatalf("terminal message not delivered, got:\n%s", last)
	}
}

func TestWatchReturnsWhenNoChatConfigured(t *testing.T) {
	source := &fakeSource{target: domain.NotifyTarget{}}
	channel := &fakeChannel{}

	notifier, err := NewNotifier(source, channel, time.Millisecond, 5, nil)
	if err != nil {
		t.Fatalf("NewNotifier returned error: %v", err)
	}

	if err := notifier.Watch(context.Background(), "b-1"); err != nil {
		t.Fatalf("Watch returned error: %v", err)
	}

	sends, edits := channel.counts()
	if sends != 0 || edits != 0 {
		t.Fatalf("expected no pushes without a chat target, got sends=%d edits=%d", sends, edits)
	}
}

func TestRenderCapsUnitLines(t *testing.T) {
	snap := domain.BatchSnapshot{
		BatchID:     "0c9a4c1e-aaaa-bbbb-cccc-000000000000",
		TargetCount: 8,
	}
	for i := 1; i <= 8; i++ {
		snap.Units = append(snap.Units, domain.UnitSnapshot{
			Ordinal: i,
			Stage:   domain.StageRegistered,
			Step:    "registering account",
			Percent: 65,
		})
	}

	text := Render(snap)
	if got := strings.Count(text, "registering account"); got != 5 {
		t.Fatalf("expected 5 unit lines, got %d:\n%s", got, text)
	}
	if !strings.Contains(text, "3 more in flight") {
		t.Fatalf("expected overflow line, got:\n%s", text)
	}
	if !strings.Contains(text, "0c9a4c1e") || strings.Contains(text, "aaaa") {
		t.Fatalf("expected shortened batch id, got:\n%s", text)
	}
}

func TestRenderTerminalShowsCounters(t *testing.T) {
	snap := domain.BatchSnapshot{
		BatchID:        "b-1",
		TargetCount:    3,
		Completed:      2,
		Failed:         1,
		Terminal:       true,
		OverallPercent: 70,
	}

	text := Render(snap)
	if !strings.Contains(text, "3/3 finished") {
		t.Fatalf("expected terminal counter line, got:\n%s", text)
	}
	if !strings.Contains(text, "All units settled.") {
		t.Fatalf("expected settled line, got:\n%s", text)
	}
}
