package output

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"jiperform/internal/clock"
)

const (
	recordResolution = 960
	recordBPM        = 120.0
)

// Recorder は送られたメッセージを実際の送信時刻で SMF に書き出す。
// Begin より前のメッセージ（開始前のリセット等）は先頭に置く。
type Recorder struct {
	mu       sync.Mutex
	path     string
	clock    clock.Clock
	ticks    smf.MetricTicks
	track    smf.Track
	start    time.Time
	started  bool
	lastTick uint64
	count    int
	closed   bool
}

// NewRecorder は path に書き出す Recorder を作る。ファイルは Close 時に作られる。
func NewRecorder(path string, c clock.Clock) *Recorder {
	r := &Recorder{path: path, clock: c, ticks: smf.MetricTicks(recordResolution)}
	r.track.Add(0, smf.MetaTrackSequenceName("jiperform"))
	r.track.Add(0, smf.MetaTempo(recordBPM))
	return r
}

// Begin は再生開始時刻を記録の 0 tick にする。
func (r *Recorder) Begin(at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.start = at
	r.started = true
}

func (r *Recorder) Send(msg midi.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errors.New("録音は終了しています")
	}
	var abs uint64
	if r.started {
		if d := r.clock.Now().Sub(r.start); d > 0 {
			abs = uint64(r.ticks.Ticks(recordBPM, d))
		}
	}
	if abs < r.lastTick {
		abs = r.lastTick
	}
	r.track.Add(uint32(abs-r.lastTick), msg)
	r.lastTick = abs
	r.count++
	return nil
}

// Count は記録したメッセージ数。
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Close はトラックを閉じてファイルに書き出す。
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	r.track.Close(0)
	s := smf.New()
	s.TimeFormat = r.ticks
	if err := s.Add(r.track); err != nil {
		return errors.Wrap(err, "録音トラックの追加に失敗")
	}
	if err := s.WriteFile(r.path); err != nil {
		return errors.Wrapf(err, "録音ファイル %s の書き込みに失敗", r.path)
	}
	return nil
}
