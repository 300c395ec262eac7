package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/codconfirm/internal/domain"
	"github.com/vladislavdragonenkov/codconfirm/internal/storage/memory"
)

func TestAssessmentRepository_RecordUpdatesCurrentReference(t *testing.T) {
	ctx := context.Background()
	orders := memory.NewOrderRepository()
	repo := memory.NewAssessmentRepository(orders)
	if err := orders.Create(ctx, newOrder("order-1")); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	first := domain.RiskAssessment{ID: "a-1", OrderID: "order-1", Score: 1, Tier: domain.RiskTierLow, Action: domain.RiskActionShortCall, CreatedAt: time.Now().Add(-time.Minute)}
	second := domain.RiskAssessment{ID: "a-2", OrderID: "order-1", Score: 5, Tier: domain.RiskTierHigh, Action: domain.RiskActionCallCenter, CreatedAt: time.Now()}
	for _, a := range []domain.RiskAssessment{first, second} {
		if err := repo.Record(ctx, a); err != nil {
			t.Fatalf("record failed: %v", err)
		}
	}

	current, err := repo.Current(ctx, "order-1")
	if err != nil {
		t.Fatalf("current failed: %v", err)
	}
	if current.ID != "a-2" {
		t.Fatalf("expected a-2 as current, got %s", current.ID)
	}

	order, _ := orders.Get(ctx, "order-1")
	if order.RiskScore != 5 || order.RiskLevel != domain.RiskTierHigh || order.CurrentAssessmentID != "a-2" {
		t.Fatalf("order risk fields not updated: %+v", order)
	}
}

func TestAssessmentRepository_RecordUnknownOrder(t *testing.T) {
	repo := memory.NewAssessmentRepository(memory.NewOrderRepository())
	err := repo.Record(context.Background(), domain.RiskAssessment{OrderID: "missing"})
	if !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestAssessmentRepository_PendingReviewNewestFirst(t *testing.T) {
	ctx := context.Background()
	orders := memory.NewOrderRepository()
	repo := memory.NewAssessmentRepository(orders)
	now := time.Now().UTC()

	for i, id := range []string{"o-1", "o-2", "o-3"} {
		if err := orders.Create(ctx, newOrder(id)); err != nil {
			t.Fatalf("create failed: %v", err)
		}
		if err := repo.Record(ctx, domain.RiskAssessment{
			ID: "a-" + id, OrderID: id, Tier: domain.RiskTierHigh, CreatedAt: now.Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatalf("record failed: %v", err)
		}
	}
	if err := orders.Create(ctx, newOrder("o-low")); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := repo.Record(ctx, domain.RiskAssessment{ID: "a-low", OrderID: "o-low", Tier: domain.RiskTierLow, CreatedAt: now}); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	reviewedAt := now
	if _, err := repo.SetOutcome(ctx, "a-o-2", domain.AssessmentOutcome{Result: domain.ActionResultApproved, ReviewedBy: "ops", ReviewedAt: &reviewedAt}); err != nil {
		t.Fatalf("set outcome failed: %v", err)
	}

	pending, err := repo.ListPendingReview(ctx, domain.RiskTierHigh)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(pending) != 2 || pending[0].ID != "a-o-3" || pending[1].ID != "a-o-1" {
		t.Fatalf("unexpected pending queue: %+v", pending)
	}
}

func TestAssessmentRepository_AutomaticOutcomeKeepsQueueEntry(t *testing.T) {
	ctx := context.Background()
	orders := memory.NewOrderRepository()
	repo := memory.NewAssessmentRepository(orders)
	if err := orders.Create(ctx, newOrder("o-1")); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := repo.Record(ctx, domain.RiskAssessment{ID: "a-1", OrderID: "o-1", Tier: domain.RiskTierHigh}); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	updated, err := repo.SetOutcome(ctx, "a-1", domain.AssessmentOutcome{Result: domain.ActionResultForwardedToCallCenter, Notes: "high risk"})
	if err != nil {
		t.Fatalf("set outcome failed: %v", err)
	}
	if updated.Reviewed() {
		t.Fatal("automatic outcome must not mark the assessment reviewed")
	}
	pending, _ := repo.ListPendingReview(ctx, domain.RiskTierHigh)
	if len(pending) != 1 {
		t.Fatalf("expected assessment to stay in queue, got %d", len(pending))
	}
}

func TestCallLogRepository_AttemptsAreContiguous(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewCallLogRepository()

	first, err := repo.Reserve(ctx, domain.CallLog{OrderID: "o-1", AttemptNumber: 1, ScriptType: domain.ScriptShort})
	if err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if _, err := repo.Reserve(ctx, domain.CallLog{OrderID: "o-1", AttemptNumber: 1}); !errors.Is(err, domain.ErrCallAttemptConflict) {
		t.Fatalf("expected attempt conflict, got %v", err)
	}
	if _, err := repo.Reserve(ctx, domain.CallLog{OrderID: "o-1", AttemptNumber: 3}); !errors.Is(err, domain.ErrCallAttemptConflict) {
		t.Fatalf("expected attempt conflict for a gap, got %v", err)
	}

	if err := repo.MarkPlaced(ctx, first.ID, "CA123"); err != nil {
		t.Fatalf("mark placed failed: %v", err)
	}
	updated, err := repo.UpdateStatus(ctx, "o-1", "CA123", domain.CallStatusNoAnswer)
	if err != nil {
		t.Fatalf("update status failed: %v", err)
	}
	if updated.CallStatus != domain.CallStatusNoAnswer {
		t.Fatalf("unexpected status %s", updated.CallStatus)
	}

	count, _ := repo.Count(ctx, "o-1")
	if count != 1 {
		t.Fatalf("expected 1 attempt, got %d", count)
	}
}

func TestCallLogRepository_RecordResponseUpdatesLatest(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewCallLogRepository()
	for attempt := 1; attempt <= 2; attempt++ {
		if _, err := repo.Reserve(ctx, domain.CallLog{OrderID: "o-1", AttemptNumber: attempt}); err != nil {
			t.Fatalf("reserve failed: %v", err)
		}
	}

	_, err := repo.RecordResponse(ctx, "o-1", domain.CallResponse{Digits: "1", Intent: domain.IntentConfirmed, RespondedAt: time.Now()})
	if err != nil {
		t.Fatalf("record response failed: %v", err)
	}

	latest, _ := repo.Latest(ctx, "o-1")
	if latest.AttemptNumber != 2 || latest.Intent != domain.IntentConfirmed || latest.RespondedAt == nil {
		t.Fatalf("response not stored on latest attempt: %+v", latest)
	}

	if _, err := repo.RecordResponse(ctx, "o-none", domain.CallResponse{}); !errors.Is(err, domain.ErrCallLogNotFound) {
		t.Fatalf("expected ErrCallLogNotFound, got %v", err)
	}
}

func TestTrackingRepository_AppendKeepsDuplicates(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewTrackingRepository()
	entry := domain.TrackingHistoryEntry{OrderID: "o-1", TrackingNumber: "TRK", Status: "InTransit", EventTime: time.Now()}

	for i := 0; i < 2; i++ {
		if err := repo.Append(ctx, entry); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	entries, _ := repo.ListByOrder(ctx, "o-1")
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
}

func TestTaskRepository_ScheduleClaimAndDedup(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewTaskRepository()
	now := time.Now().UTC()

	due, err := repo.Schedule(ctx, domain.ScheduledTask{Kind: domain.TaskCallRetry, OrderID: "o-1", DedupKey: "o-1:2", DueAt: now.Add(-time.Second)})
	if err != nil {
		t.Fatalf("schedule failed: %v", err)
	}
	if _, err := repo.Schedule(ctx, domain.ScheduledTask{Kind: domain.TaskCallRetry, OrderID: "o-1", DedupKey: "o-1:2"}); !errors.Is(err, domain.ErrTaskDuplicate) {
		t.Fatalf("expected ErrTaskDuplicate, got %v", err)
	}
	if _, err := repo.Schedule(ctx, domain.ScheduledTask{Kind: domain.TaskChatNotification, OrderID: "o-1", DueAt: now.Add(time.Hour)}); err != nil {
		t.Fatalf("schedule failed: %v", err)
	}

	claimed, err := repo.ClaimDue(ctx, now, time.Minute, 10)
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if len(claimed) != 1 || claimed[0].ID != due.ID || claimed[0].Status != domain.TaskStatusRunning || claimed[0].Attempts != 1 {
		t.Fatalf("unexpected claimed tasks: %+v", claimed)
	}

	again, _ := repo.ClaimDue(ctx, now, time.Minute, 10)
	if len(again) != 0 {
		t.Fatalf("running task must not be claimed twice, got %d", len(again))
	}

	stats, _ := repo.Stats(ctx)
	if stats.PendingCount != 1 {
		t.Fatalf("expected 1 pending task, got %d", stats.PendingCount)
	}
}

func TestTaskRepository_ReleaseAndLease(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewTaskRepository()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	task, _ := repo.Schedule(ctx, domain.ScheduledTask{Kind: domain.TaskCallRetry, OrderID: "o-1", DueAt: now})
	if claimed, _ := repo.ClaimDue(ctx, now, time.Minute, 10); len(claimed) != 1 {
		t.Fatalf("expected task to be claimed, got %d", len(claimed))
	}
	if err := repo.Release(ctx, task.ID); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	tasks, _ := repo.ListByOrder(ctx, "o-1")
	if tasks[0].Status != domain.TaskStatusPending || tasks[0].Attempts != 0 {
		t.Fatalf("released task must be pending with no attempts: %+v", tasks[0])
	}

	if claimed, _ := repo.ClaimDue(ctx, now, time.Minute, 10); len(claimed) != 1 {
		t.Fatalf("released task must be claimable, got %d", len(claimed))
	}
	if again, _ := repo.ClaimDue(ctx, now.Add(59*time.Second), time.Minute, 10); len(again) != 0 {
		t.Fatalf("task under lease must not be claimed, got %d", len(again))
	}
	stale, _ := repo.ClaimDue(ctx, now.Add(time.Minute), time.Minute, 10)
	if len(stale) != 1 || stale[0].Attempts != 2 {
		t.Fatalf("expired lease must be reclaimed: %+v", stale)
	}
	if none, _ := repo.ClaimDue(ctx, now.Add(time.Hour), 0, 10); len(none) != 0 {
		t.Fatalf("zero lease disables reclaim, got %d", len(none))
	}

	if err := repo.MarkDone(ctx, task.ID); err != nil {
		t.Fatalf("mark done failed: %v", err)
	}
	if err := repo.Release(ctx, task.ID); err != nil {
		t.Fatalf("release of finished task must be a no-op: %v", err)
	}
	tasks, _ = repo.ListByOrder(ctx, "o-1")
	if tasks[0].Status != domain.TaskStatusDone {
		t.Fatalf("release must not reopen finished task: %+v", tasks[0])
	}
	if err := repo.Release(ctx, "missing"); !errors.Is(err, domain.ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestTaskRepository_DeleteFinished(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewTaskRepository()

	task, _ := repo.Schedule(ctx, domain.ScheduledTask{Kind: domain.TaskCallRetry, OrderID: "o-1", DedupKey: "k"})
	if err := repo.MarkDone(ctx, task.ID); err != nil {
		t.Fatalf("mark done failed: %v", err)
	}
	pending, _ := repo.Schedule(ctx, domain.ScheduledTask{Kind: domain.TaskChatNotification, OrderID: "o-1"})

	deleted, err := repo.DeleteFinished(ctx, time.Now().Add(time.Second), 10)
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted task, got %d", deleted)
	}

	tasks, _ := repo.ListByOrder(ctx, "o-1")
	if len(tasks) != 1 || tasks[0].ID != pending.ID {
		t.Fatalf("pending task must survive cleanup: %+v", tasks)
	}
	if _, err := repo.Schedule(ctx, domain.ScheduledTask{Kind: domain.TaskCallRetry, OrderID: "o-1", DedupKey: "k"}); err != nil {
		t.Fatalf("dedup key must be released after cleanup: %v", err)
	}
}
