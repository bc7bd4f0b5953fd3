package limiter

import (
	"testing"
	"time"
)

func TestWindowSumWithinSpan(t *testing.T) {
	w := newWindow(time.Minute, time.Second)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	w.add(base, 1)
	w.add(base.Add(10*time.Second), 1)
	w.add(base.Add(30*time.Second), 2)

	if got := w.sum(base.Add(30 * time.Second)); got != 4 {
		t.Errorf("expected sum 4, got %d", got)
	}
}

func TestWindowPrunesExpiredBuckets(t *testing.T) {
	w := newWindow(time.Minute, time.Second)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	w.add(base, 5)
	w.add(base.Add(59*time.Second), 1)

	// base 桶在 61s 后超出窗口
	if got := w.sum(base.Add(61 * time.Second)); got != 1 {
		t.Errorf("expected sum 1 after pruning, got %d", got)
	}
}

func TestWindowSameBucketAccumulates(t *testing.T) {
	w := newWindow(time.Minute, time.Second)
	base := time.Date(2025, 6, 1, 12, 0, 0, 100*1000*1000, time.UTC)

	w.add(base, 1)
	w.add(base.Add(200*time.Millisecond), 1)

	if got := w.sum(base.Add(time.Second)); got != 2 {
		t.Errorf("expected sum 2 in same bucket, got %d", got)
	}
}

func TestWindowReset(t *testing.T) {
	w := newWindow(time.Minute, time.Second)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	w.add(now, 10)
	w.reset()

	if got := w.sum(now); got != 0 {
		t.Errorf("expected sum 0 after reset, got %d", got)
	}
}

func TestWindowRecyclesOldestBucket(t *testing.T) {
	// 3 桶窗口, 写第 4 个时间片时最旧的桶被复用
	w := newWindow(3*time.Second, time.Second)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		w.add(base.Add(time.Duration(i)*time.Second), 1)
	}

	if got := w.sum(base.Add(3 * time.Second)); got != 3 {
		t.Errorf("expected sum 3, got %d", got)
	}
}
