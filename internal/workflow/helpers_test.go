package workflow_test

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"clearskin/internal/images"
	"clearskin/internal/jobs"
	"clearskin/internal/quiz"
	"clearskin/internal/records"
	"clearskin/internal/services/detector"
	"clearskin/internal/testsupport"
	"clearskin/internal/workflow"
)

// gateAnalyzer holds every Detect call until its gate is opened.
type gateAnalyzer struct {
	gate chan struct{}
	err  error
}

func newGateAnalyzer() *gateAnalyzer {
	return &gateAnalyzer{gate: make(chan struct{})}
}

func (g *gateAnalyzer) open() { close(g.gate) }

func (g *gateAnalyzer) Detect(ctx context.Context, _ string, _ []byte) (*detector.Result, error) {
	select {
	case <-g.gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if g.err != nil {
		return nil, g.err
	}
	return &detector.Result{
		Detections: []detector.Detection{
			{Box: detector.Box{X: 1, Y: 2, Width: 3, Height: 4}, Class: "pustule", Confidence: 0.9},
		},
		ImageSize:     detector.ImageSize{Width: 16, Height: 16},
		NumDetections: 1,
	}, nil
}

// countingStore records how often CommitFinal runs per id.
type countingStore struct {
	records.Store
	mu      sync.Mutex
	commits map[string]int
	total   atomic.Int32
}

func newCountingStore() *countingStore {
	return &countingStore{Store: records.NewMemoryStore(), commits: make(map[string]int)}
}

func (s *countingStore) CommitFinal(ctx context.Context, id string, patch records.Patch) (*records.ScanRecord, error) {
	s.mu.Lock()
	s.commits[id]++
	s.mu.Unlock()
	s.total.Add(1)
	return s.Store.CommitFinal(ctx, id, patch)
}

func (s *countingStore) commitsFor(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits[id]
}

func sequentialIDs(prefix string) func() string {
	var n atomic.Int32
	return func() string {
		return fmt.Sprintf("%s-%d", prefix, n.Add(1))
	}
}

func newManager(t *testing.T, store records.Store, analyzer jobs.Analyzer, opts ...workflow.ManagerOption) *workflow.Manager {
	t.Helper()
	catalog, err := quiz.DefaultCatalog()
	if err != nil {
		t.Fatalf("DefaultCatalog: %v", err)
	}
	manager, err := workflow.NewManager(store, images.NewStore(t.TempDir(), 0), jobs.NewCoordinator(analyzer), catalog, opts...)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(manager.Close)
	return manager
}

func capture(t *testing.T, manager *workflow.Manager) *workflow.Session {
	t.Helper()
	session, err := manager.Capture(context.Background(), bytes.NewReader(testsupport.JPEGBytes(t, 16, 16)))
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	return session
}

// answerAll answers every question with the first option, leaving the last
// question selected but not advanced when stopBeforeLast is set.
func answerAll(t *testing.T, machine *quiz.Machine, stopBeforeLast bool) {
	t.Helper()
	total := machine.Catalog().Len()
	for i := range total {
		if err := machine.SelectAnswer(0); err != nil {
			t.Fatalf("SelectAnswer on question %d: %v", i+1, err)
		}
		if stopBeforeLast && i == total-1 {
			return
		}
		if err := machine.Advance(); err != nil {
			t.Fatalf("Advance on question %d: %v", i+1, err)
		}
	}
}

func waitQuiz(t *testing.T, machine *quiz.Machine) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := machine.Wait(ctx)
	if ctx.Err() != nil {
		t.Fatal("questionnaire did not finish")
	}
	return err
}

func waitJob(t *testing.T, handle *jobs.Handle) jobs.Outcome {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out, err := handle.Wait(ctx)
	if err != nil {
		t.Fatalf("job did not settle: %v", err)
	}
	return out
}
