package octoprint

import (
	"context"
	"errors"
	"testing"
	"time"
)

type countingSource struct {
	calls int
	err   error
	temp  float64
}

func (s *countingSource) CurrentTemperatures(context.Context) (Temperatures, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return Temperatures{StatusTool: {Actual: s.temp}}, nil
}

func (s *countingSource) CurrentJob(context.Context) (Job, error) {
	s.calls++
	if s.err != nil {
		return Job{}, s.err
	}
	est := 60.0
	return Job{EstimatedPrintTime: &est}, nil
}

func TestStatusCacheThrottles(t *testing.T) {
	src := &countingSource{temp: 200}
	c := NewStatusCache(src, 2*time.Second)
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	if _, err := c.CurrentTemperatures(ctx); err != nil {
		t.Fatal(err)
	}
	src.temp = 210
	temps, err := c.CurrentTemperatures(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if src.calls != 1 || temps[StatusTool].Actual != 200 {
		t.Fatalf("calls = %d, temp = %v; want cached value", src.calls, temps[StatusTool].Actual)
	}

	now = now.Add(2 * time.Second)
	temps, _ = c.CurrentTemperatures(ctx)
	if src.calls != 2 || temps[StatusTool].Actual != 210 {
		t.Fatalf("calls = %d, temp = %v; want fresh value", src.calls, temps[StatusTool].Actual)
	}

	if _, err := c.CurrentJob(ctx); err != nil || src.calls != 3 {
		t.Fatalf("job: %v, calls = %d", err, src.calls)
	}
}

func TestStatusCacheServesStaleOnError(t *testing.T) {
	src := &countingSource{temp: 200}
	c := NewStatusCache(src, time.Second)
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	if _, err := c.CurrentTemperatures(ctx); err != nil {
		t.Fatal(err)
	}
	src.err = errors.New("connection refused")
	now = now.Add(time.Minute)
	temps, err := c.CurrentTemperatures(ctx)
	if err == nil {
		t.Fatal("expected the fetch error")
	}
	if temps[StatusTool].Actual != 200 {
		t.Fatalf("stale value not returned: %+v", temps)
	}

	if _, err := c.CurrentJob(ctx); err == nil {
		t.Fatal("expected error with empty cache")
	}
}
