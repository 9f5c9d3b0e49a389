package clock

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"time"
)

// Clock は再生時刻の基準。
type Clock interface {
	Now() time.Time
}

// Waiter は「時刻 target まで待つ」能力。ctx が終わったら早めに戻ってよい。
type Waiter interface {
	Wait(ctx context.Context, target time.Time) error
}

// System は実時間の Clock。
type System struct{}

func (System) Now() time.Time { return time.Now() }

const (
	DefaultSpinWindow = 2 * time.Millisecond
	minSpinWindow     = 500 * time.Microsecond
	maxSpinWindow     = 5 * time.Millisecond
)

// SpinWaiter は大部分をタイマーで Sleep し、最後の SpinWindow だけ
// Gosched を挟みつつスピンして精度を上げる。
type SpinWaiter struct {
	SpinWindow time.Duration
}

// NewSpinWaiter は spin が 0 以下なら Calibrate した値を使う。
func NewSpinWaiter(spin time.Duration) *SpinWaiter {
	if spin <= 0 {
		spin = Calibrate(20)
	}
	return &SpinWaiter{SpinWindow: spin}
}

func (w *SpinWaiter) Wait(ctx context.Context, target time.Time) error {
	d := time.Until(target)
	if d <= 0 {
		return ctx.Err()
	}
	spin := max(w.SpinWindow, 0)
	if d > spin {
		timer := time.NewTimer(d - spin)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	for time.Until(target) > 0 {
		runtime.Gosched()
	}
	return nil
}

// Calibrate は 1ms の Sleep の寝過ごし量を samples 回測り、スピン幅を決める。
// 結果は 0.5ms〜5ms に収める。
func Calibrate(samples int) time.Duration {
	if samples <= 0 {
		samples = 1
	}
	over := make([]time.Duration, 0, samples)
	for i := 0; i < samples; i++ {
		start := time.Now()
		time.Sleep(time.Millisecond)
		over = append(over, time.Since(start)-time.Millisecond)
	}
	sort.Slice(over, func(i, j int) bool { return over[i] < over[j] })
	// 外れ値を避けて 90 パーセンタイル
	idx := min(len(over)*9/10, len(over)-1)
	spin := over[idx] + 250*time.Microsecond
	return min(max(spin, minSpinWindow), maxSpinWindow)
}

// Manual はテスト用の時計。Wait は即座に時刻を target まで進める。
type Manual struct {
	mu    sync.Mutex
	now   time.Time
	waits []time.Time
}

// NewManual は start から始まる時計を作る。
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance は時刻を d 進める。
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

func (m *Manual) Wait(ctx context.Context, target time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.waits = append(m.waits, target)
	if target.After(m.now) {
		m.now = target
	}
	return nil
}

// Waits はこれまでに要求された待機時刻。
func (m *Manual) Waits() []time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]time.Time(nil), m.waits...)
}
