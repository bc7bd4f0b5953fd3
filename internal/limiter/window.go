package limiter

import (
	"sync"
	"time"
)

// window 是桶式滑动窗口计数器。旧桶按需剔除, 不依赖后台定时器,
// 也没有固定窗口的整点突刺问题。
type window struct {
	span       time.Duration
	bucketSize time.Duration
	buckets    []bucket
	mu         sync.Mutex
}

type bucket struct {
	timestamp time.Time
	value     int64
}

func newWindow(span, bucketSize time.Duration) *window {
	n := int(span / bucketSize)
	if n == 0 {
		n = 1
	}
	return &window{
		span:       span,
		bucketSize: bucketSize,
		buckets:    make([]bucket, n),
	}
}

func (w *window) add(now time.Time, value int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(now)
	b := w.slot(now)
	b.value += value
}

func (w *window) sum(now time.Time) int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(now)
	var total int64
	for i := range w.buckets {
		if !w.buckets[i].timestamp.IsZero() {
			total += w.buckets[i].value
		}
	}
	return total
}

func (w *window) reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := range w.buckets {
		w.buckets[i] = bucket{}
	}
}

func (w *window) prune(now time.Time) {
	cutoff := now.Add(-w.span)
	for i := range w.buckets {
		if !w.buckets[i].timestamp.IsZero() && w.buckets[i].timestamp.Before(cutoff) {
			w.buckets[i] = bucket{}
		}
	}
}

// slot 返回当前时间对应的桶, 必要时复用空桶或最旧的桶
func (w *window) slot(now time.Time) *bucket {
	bucketTime := now.Truncate(w.bucketSize)

	for i := range w.buckets {
		if w.buckets[i].timestamp.Equal(bucketTime) {
			return &w.buckets[i]
		}
	}

	target := -1
	for i := range w.buckets {
		if w.buckets[i].timestamp.IsZero() {
			target = i
			break
		}
	}
	if target == -1 {
		target = 0
		for i := 1; i < len(w.buckets); i++ {
			if w.buckets[i].timestamp.Before(w.buckets[target].timestamp) {
				target = i
			}
		}
	}

	w.buckets[target] = bucket{timestamp: bucketTime}
	return &w.buckets[target]
}
