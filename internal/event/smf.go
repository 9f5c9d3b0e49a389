package event

import (
	"fmt"
	"sort"
	"time"

	"github.com/pkg/errors"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"
)

// DefaultBPM はテンポ指定が無いファイルのテンポ。
const DefaultBPM = 120.0

// SourceDecodeError は入力ファイルが読めない・解釈できない場合のエラー。
// 再生開始前に返される。
type SourceDecodeError struct {
	Path   string
	Reason string
	Err    error
}

func (e *SourceDecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("MIDIファイルの読み込みに失敗しました (%s): %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("MIDIファイルの読み込みに失敗しました (%s): %s", e.Path, e.Reason)
}

func (e *SourceDecodeError) Unwrap() error { return e.Err }

// rawEvent は全トラックを絶対 tick でマージするための中間表現。
type rawEvent struct {
	tick  uint64
	track int
	order int
	msg   smf.Message
}

// Load は Standard MIDI File を読み込み、時間順のイベント列に変換する。
func Load(path string) (*Performance, error) {
	s, err := smf.ReadFile(path)
	if err != nil {
		return nil, &SourceDecodeError{Path: path, Reason: "SMFの解析に失敗", Err: err}
	}
	perf, err := FromSMF(s)
	if err != nil {
		var de *SourceDecodeError
		if errors.As(err, &de) {
			de.Path = path
		}
		return nil, err
	}
	perf.Path = path
	return perf, nil
}

// FromSMF は読み込み済みの SMF をイベント列に変換する。
func FromSMF(s *smf.SMF) (*Performance, error) {
	ticks, ok := s.TimeFormat.(smf.MetricTicks)
	if !ok {
		return nil, &SourceDecodeError{Reason: "タイムコード(SMPTE)形式のファイルには対応していません"}
	}
	if ticks.Resolution() == 0 {
		return nil, &SourceDecodeError{Reason: "分解能(PPQN)が0です"}
	}

	var raws []rawEvent
	for ti, tr := range s.Tracks {
		var abs uint64
		for i, ev := range tr {
			abs += uint64(ev.Delta)
			raws = append(raws, rawEvent{tick: abs, track: ti, order: i, msg: ev.Message})
		}
	}
	// 同一 tick はトラック番号 → トラック内順序で並べる
	sort.SliceStable(raws, func(i, j int) bool {
		if raws[i].tick != raws[j].tick {
			return raws[i].tick < raws[j].tick
		}
		if raws[i].track != raws[j].track {
			return raws[i].track < raws[j].track
		}
		return raws[i].order < raws[j].order
	})

	perf := &Performance{Tracks: len(s.Tracks)}
	bpm := DefaultBPM
	var (
		now      time.Duration
		lastTick uint64
	)
	for _, r := range raws {
		if r.tick > lastTick {
			now += ticks.Duration(bpm, uint32(r.tick-lastTick))
			lastTick = r.tick
		}

		var tempo float64
		if r.msg.GetMetaTempo(&tempo) {
			if tempo <= 0 {
				return nil, &SourceDecodeError{Reason: fmt.Sprintf("不正なテンポ値: %v", tempo)}
			}
			bpm = tempo
			continue
		}
		var text string
		if r.msg.GetMetaText(&text) || r.msg.GetMetaTrackName(&text) || r.msg.GetMetaMarker(&text) {
			perf.Texts = append(perf.Texts, Text{Time: now, Text: text})
			continue
		}

		msg := midi.Message(r.msg)
		var ch, key, vel, ctrl, val uint8
		switch {
		case msg.GetNoteStart(&ch, &key, &vel):
			perf.Events = append(perf.Events, Note(NoteOn, now, key, vel))
		case msg.GetNoteOff(&ch, &key, &vel):
			perf.Events = append(perf.Events, Note(NoteOff, now, key, vel))
		case msg.GetNoteEnd(&ch, &key):
			// velocity 0 の NoteOn
			perf.Events = append(perf.Events, Note(NoteOff, now, key, 0))
		case msg.GetControlChange(&ch, &ctrl, &val):
			perf.Events = append(perf.Events, CC(now, ctrl, val))
		}
	}
	return perf, nil
}
