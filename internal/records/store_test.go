package records_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"clearskin/internal/records"
	"clearskin/internal/services"
	"clearskin/internal/testsupport"
)

type storeFactory struct {
	name string
	open func(t *testing.T) records.Store
}

func factories() []storeFactory {
	return []storeFactory{
		{name: "sqlite", open: func(t *testing.T) records.Store {
			cfg := testsupport.NewConfig(t)
			return testsupport.MustOpenStore(t, cfg)
		}},
		{name: "memory", open: func(t *testing.T) records.Store {
			return records.NewMemoryStore()
		}},
	}
}

func forEachStore(t *testing.T, fn func(t *testing.T, store records.Store)) {
	t.Helper()
	for _, factory := range factories() {
		t.Run(factory.name, func(t *testing.T) {
			fn(t, factory.open(t))
		})
	}
}

func completedPatch(answers map[string]string) records.Patch {
	return records.Patch{
		JobStatus: records.StatusCompleted,
		Detections: []records.Detection{
			{Box: records.Box{X: 10, Y: 20, Width: 30, Height: 40}, Class: "papule", Confidence: 0.91},
		},
		ImageSize:   &records.ImageSize{Width: 640, Height: 480},
		QuizAnswers: answers,
	}
}

func TestCreatePendingThenGet(t *testing.T) {
	forEachStore(t, func(t *testing.T, store records.Store) {
		ctx := context.Background()
		created := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
		if _, err := store.CreatePending(ctx, "abc", "/images/abc.jpg", created); err != nil {
			t.Fatalf("CreatePending: %v", err)
		}

		got, err := store.Get(ctx, "abc")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.JobStatus != records.StatusPending {
			t.Fatalf("expected pending status, got %q", got.JobStatus)
		}
		if got.Detections != nil {
			t.Fatalf("expected detections absent, got %v", got.Detections)
		}
		if got.QuizAnswers != nil || got.ImageSize != nil {
			t.Fatalf("expected no answers or size on placeholder: %#v", got)
		}
		if !got.CreatedAt.Equal(created) || got.ImageRef != "/images/abc.jpg" {
			t.Fatalf("unexpected placeholder: %#v", got)
		}
		if got.Finalized() {
			t.Fatal("placeholder must not be finalized")
		}
	})
}

func TestCreatePendingRejectsReuseAndReservedIDs(t *testing.T) {
	forEachStore(t, func(t *testing.T, store records.Store) {
		ctx := context.Background()
		if _, err := store.CreatePending(ctx, "dup", "/img.jpg", time.Now()); err != nil {
			t.Fatalf("CreatePending: %v", err)
		}
		if _, err := store.CreatePending(ctx, "dup", "/img.jpg", time.Now()); !errors.Is(err, records.ErrExists) {
			t.Fatalf("expected ErrExists, got %v", err)
		}
		for _, id := range []string{"", "  ", records.IndexKey} {
			if _, err := store.CreatePending(ctx, id, "/img.jpg", time.Now()); !errors.Is(err, records.ErrInvalidID) {
				t.Fatalf("expected ErrInvalidID for %q, got %v", id, err)
			}
		}
	})
}

func TestCommitFinalMergesPatch(t *testing.T) {
	forEachStore(t, func(t *testing.T, store records.Store) {
		ctx := context.Background()
		if _, err := store.CreatePending(ctx, "abc", "/img.jpg", time.Now()); err != nil {
			t.Fatalf("CreatePending: %v", err)
		}
		answers := map[string]string{"1": "7-8", "2": "Balanced"}
		updated, err := store.CommitFinal(ctx, "abc", completedPatch(answers))
		if err != nil {
			t.Fatalf("CommitFinal: %v", err)
		}
		if !updated.Finalized() || updated.FinalizedAt == nil {
			t.Fatalf("expected finalized record, got %#v", updated)
		}

		got, err := store.Get(ctx, "abc")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.JobStatus != records.StatusCompleted || len(got.Detections) != 1 {
			t.Fatalf("unexpected committed record: %#v", got)
		}
		if got.ImageSize == nil || got.ImageSize.Width != 640 {
			t.Fatalf("expected image size, got %#v", got.ImageSize)
		}
		if got.QuizAnswers["2"] != "Balanced" {
			t.Fatalf("expected answers persisted, got %v", got.QuizAnswers)
		}

		if _, err := store.CommitFinal(ctx, "abc", completedPatch(answers)); !errors.Is(err, records.ErrFinalized) {
			t.Fatalf("expected ErrFinalized on second commit, got %v", err)
		}
	})
}

func TestCommitFinalErrorStatusKeepsDetectionsAbsent(t *testing.T) {
	forEachStore(t, func(t *testing.T, store records.Store) {
		ctx := context.Background()
		if _, err := store.CreatePending(ctx, "err", "/img.jpg", time.Now()); err != nil {
			t.Fatalf("CreatePending: %v", err)
		}
		patch := records.Patch{
			JobStatus:   records.StatusError,
			JobError:    "analysis service returned an error",
			QuizAnswers: map[string]string{"1": "<6"},
		}
		if _, err := store.CommitFinal(ctx, "err", patch); err != nil {
			t.Fatalf("CommitFinal: %v", err)
		}
		got, err := store.Get(ctx, "err")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.JobStatus != records.StatusError || got.Detections != nil || got.ImageSize != nil {
			t.Fatalf("unexpected error record: %#v", got)
		}
		if got.JobError == "" {
			t.Fatal("expected job error reason")
		}
	})
}

func TestCommitFinalUnknownIDFailsWithNotFound(t *testing.T) {
	forEachStore(t, func(t *testing.T, store records.Store) {
		_, err := store.CommitFinal(context.Background(), "missing", completedPatch(map[string]string{"1": "a"}))
		if !errors.Is(err, records.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		if !errors.Is(err, services.ErrNotFound) {
			t.Fatalf("expected services.ErrNotFound marker, got %v", err)
		}
		if _, err := store.Get(context.Background(), "missing"); !errors.Is(err, records.ErrNotFound) {
			t.Fatalf("expected ErrNotFound from Get, got %v", err)
		}
	})
}

func TestCommitFinalRejectsInvalidPatch(t *testing.T) {
	cases := []struct {
		name  string
		patch records.Patch
	}{
		{"pending", records.Patch{JobStatus: records.StatusPending, QuizAnswers: map[string]string{"1": "a"}}},
		{"completed without size", records.Patch{JobStatus: records.StatusCompleted, Detections: []records.Detection{}, QuizAnswers: map[string]string{"1": "a"}}},
		{"error with detections", records.Patch{JobStatus: records.StatusError, Detections: []records.Detection{}, QuizAnswers: map[string]string{"1": "a"}}},
		{"no answers", records.Patch{JobStatus: records.StatusError}},
	}
	forEachStore(t, func(t *testing.T, store records.Store) {
		ctx := context.Background()
		if _, err := store.CreatePending(ctx, "p", "/img.jpg", time.Now()); err != nil {
			t.Fatalf("CreatePending: %v", err)
		}
		for _, tc := range cases {
			if _, err := store.CommitFinal(ctx, "p", tc.patch); !errors.Is(err, records.ErrInvalidPatch) {
				t.Fatalf("%s: expected ErrInvalidPatch, got %v", tc.name, err)
			}
		}
		got, err := store.Get(ctx, "p")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.JobStatus != records.StatusPending {
			t.Fatalf("rejected patches must not modify the record: %#v", got)
		}
	})
}

func TestListRecentReturnsNewestFirst(t *testing.T) {
	forEachStore(t, func(t *testing.T, store records.Store) {
		ctx := context.Background()
		base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		for i := 1; i <= 5; i++ {
			id := fmt.Sprintf("scan-%d", i)
			if _, err := store.CreatePending(ctx, id, "/img.jpg", base.Add(time.Duration(i)*time.Minute)); err != nil {
				t.Fatalf("CreatePending %s: %v", id, err)
			}
			if _, err := store.CommitFinal(ctx, id, completedPatch(map[string]string{"1": "a"})); err != nil {
				t.Fatalf("CommitFinal %s: %v", id, err)
			}
		}

		recent, err := store.ListRecent(ctx, 3)
		if err != nil {
			t.Fatalf("ListRecent: %v", err)
		}
		want := []string{"scan-5", "scan-4", "scan-3"}
		if len(recent) != len(want) {
			t.Fatalf("expected %d records, got %d", len(want), len(recent))
		}
		for i, rec := range recent {
			if rec.ID != want[i] {
				t.Fatalf("position %d: got %s want %s", i, rec.ID, want[i])
			}
		}

		all, err := store.ListRecent(ctx, 50)
		if err != nil {
			t.Fatalf("ListRecent: %v", err)
		}
		if len(all) != 5 {
			t.Fatalf("expected all 5 records when n exceeds size, got %d", len(all))
		}
		none, err := store.ListRecent(ctx, 0)
		if err != nil || len(none) != 0 {
			t.Fatalf("expected empty result for n=0, got %v %v", none, err)
		}

		stats, err := store.Stats(ctx)
		if err != nil {
			t.Fatalf("Stats: %v", err)
		}
		if stats.Total != 5 || stats.Completed != 5 || stats.Finalized != 5 {
			t.Fatalf("unexpected stats: %+v", stats)
		}
	})
}

func TestConcurrentCreatePendingKeepsEveryAppend(t *testing.T) {
	forEachStore(t, func(t *testing.T, store records.Store) {
		ctx := context.Background()
		const writers = 32
		var wg sync.WaitGroup
		errs := make(chan error, writers)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				id := fmt.Sprintf("concurrent-%02d", i)
				if _, err := store.CreatePending(ctx, id, "/img.jpg", time.Now()); err != nil {
					errs <- err
				}
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Fatalf("CreatePending: %v", err)
		}

		list, err := store.List(ctx)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(list) != writers {
			t.Fatalf("expected %d indexed records, got %d", writers, len(list))
		}
		report, err := store.Verify(ctx)
		if err != nil {
			t.Fatalf("Verify: %v", err)
		}
		if !report.Healthy() || report.Indexed != writers || report.Records != writers {
			t.Fatalf("unexpected index report: %+v", report)
		}
	})
}

func TestReturnedRecordsAreCopies(t *testing.T) {
	forEachStore(t, func(t *testing.T, store records.Store) {
		ctx := context.Background()
		if _, err := store.CreatePending(ctx, "copy", "/img.jpg", time.Now()); err != nil {
			t.Fatalf("CreatePending: %v", err)
		}
		answers := map[string]string{"1": "a"}
		if _, err := store.CommitFinal(ctx, "copy", completedPatch(answers)); err != nil {
			t.Fatalf("CommitFinal: %v", err)
		}
		answers["1"] = "mutated"

		got, err := store.Get(ctx, "copy")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		got.QuizAnswers["1"] = "also mutated"

		again, err := store.Get(ctx, "copy")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if again.QuizAnswers["1"] != "a" {
			t.Fatalf("stored answers leaked mutation: %v", again.QuizAnswers)
		}
	})
}
