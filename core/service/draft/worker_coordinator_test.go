package draft

import (
	"context"
	"sync"
	"testing"
	"time"

	"pattern_worker/core/domain"
	"pattern_worker/core/port/out"
	"pattern_worker/core/service/common"
)

func TestProcessEmailCoalescesConcurrentRequests(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(func(out.OracleRequest) (string, error) {
		<-release
		return "shared reply", nil
	})
	h.seedRefundPattern()
	coord := NewCoordinator(h.selector, h.memory, nil, DefaultCoordinatorConfig())
	defer coord.Shutdown(context.Background())

	const n = 5
	results := make([]*domain.DraftResult, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = coord.ProcessEmail(context.Background(), domain.DraftRequest{Email: h.email("m1")})
		}(i)
	}

	deadline := time.Now().Add(2 * time.Second)
	for h.oracle.Calls() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if h.oracle.Calls() != 1 {
		t.Fatalf("oracle calls = %d, want 1", h.oracle.Calls())
	}
	for i, r := range results {
		if r != results[0] {
			t.Errorf("result %d is not the shared result", i)
		}
	}
	if !results[0].Success || results[0].Draft.Body != "shared reply" {
		t.Errorf("result = %+v", results[0])
	}
}

func TestProcessEmailKeysByUser(t *testing.T) {
	h := newHarness(reply("reply"))
	coord := NewCoordinator(h.selector, h.memory, nil, DefaultCoordinatorConfig())
	defer coord.Shutdown(context.Background())

	first := h.email("m1")
	other := first
	other.UserID = [16]byte{1}

	a := coord.ProcessEmail(context.Background(), domain.DraftRequest{Email: first})
	b := coord.ProcessEmail(context.Background(), domain.DraftRequest{Email: other})
	if a == b {
		t.Fatal("different users must not share a result")
	}
	if b.Draft.UserID != other.UserID {
		t.Errorf("draft user = %v, want %v", b.Draft.UserID, other.UserID)
	}
}

func TestProcessBatchCountsIndependentFailures(t *testing.T) {
	h := newHarness(reply("batch reply"))
	coord := NewCoordinator(h.selector, h.memory, nil, DefaultCoordinatorConfig())
	defer coord.Shutdown(context.Background())

	reqs := []domain.DraftRequest{
		{Email: h.email("m1")},
		{Email: domain.Email{ID: "", UserID: h.userID, Subject: "no id"}},
		{Email: h.email("m2")},
		{Email: domain.Email{ID: "m3", UserID: h.userID}},
		{Email: h.email("m4")},
	}
	report := coord.ProcessBatch(context.Background(), reqs)

	if report.Total != 5 || report.Succeeded != 3 || report.Failed != 2 {
		t.Fatalf("report = %d/%d/%d, want 5/3/2", report.Total, report.Succeeded, report.Failed)
	}
	wantSuccess := []bool{true, false, true, false, true}
	for i, want := range wantSuccess {
		if report.Results[i].Success != want {
			t.Errorf("result %d success = %v, want %v", i, report.Results[i].Success, want)
		}
	}
	if report.Results[2].Draft.EmailID != "m2" {
		t.Errorf("results out of order: %q", report.Results[2].Draft.EmailID)
	}
}

func TestShutdownRejectsNewWork(t *testing.T) {
	h := newHarness(reply("reply"))
	coord := NewCoordinator(h.selector, h.memory, nil, DefaultCoordinatorConfig())

	if err := coord.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := coord.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}

	res := coord.ProcessEmail(context.Background(), domain.DraftRequest{Email: h.email("m1")})
	if res.Success || res.Error != common.ErrClosed.Error() {
		t.Errorf("result = %+v, want closed error", res)
	}
}

func TestCoalescer(t *testing.T) {
	t.Run("retained result is shared", func(t *testing.T) {
		c := NewCoalescer(time.Minute)
		runs := 0
		fn := func() *domain.DraftResult {
			runs++
			return &domain.DraftResult{Success: true}
		}

		first, shared := c.Do(context.Background(), "k", false, fn)
		if shared {
			t.Error("leader reported as shared")
		}
		second, shared := c.Do(context.Background(), "k", false, fn)
		if !shared || second != first || runs != 1 {
			t.Errorf("shared=%v same=%v runs=%d", shared, second == first, runs)
		}
		if err := c.Drain(context.Background()); err != nil {
			t.Fatal(err)
		}
		if c.Len() != 0 {
			t.Errorf("Len after Drain = %d", c.Len())
		}
	})

	t.Run("fresh skips a retained result", func(t *testing.T) {
		c := NewCoalescer(time.Minute)
		defer c.Drain(context.Background())
		runs := 0
		fn := func() *domain.DraftResult {
			runs++
			return &domain.DraftResult{Success: true}
		}
		c.Do(context.Background(), "k", false, fn)
		c.Do(context.Background(), "k", true, fn)
		if runs != 2 {
			t.Errorf("runs = %d, want 2", runs)
		}
	})

	t.Run("zero retention evicts immediately", func(t *testing.T) {
		c := NewCoalescer(0)
		c.Do(context.Background(), "k", false, func() *domain.DraftResult { return &domain.DraftResult{} })
		if err := c.Drain(context.Background()); err != nil {
			t.Fatal(err)
		}
		if c.Len() != 0 {
			t.Errorf("Len = %d, want 0", c.Len())
		}
	})

	t.Run("caller context ends the wait", func(t *testing.T) {
		c := NewCoalescer(0)
		release := make(chan struct{})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		res, _ := c.Do(ctx, "k", false, func() *domain.DraftResult {
			<-release
			return &domain.DraftResult{Success: true}
		})
		if res.Success || res.Error == "" {
			t.Errorf("result = %+v, want context error", res)
		}
		close(release)
		if err := c.Drain(context.Background()); err != nil {
			t.Fatal(err)
		}
	})
}
