package tuning

import (
	"math"
	"time"
)

// DefaultHalfLife は解放済みの音が文脈に残る重みの半減期。
const DefaultHalfLife = 1500 * time.Millisecond

// evictBelow を下回る重みになった解放済みエントリは次の Tune 冒頭で破棄する。
const evictBelow = 0.05

// Slot はピッチクラスごとの直近の割り当て。
type Slot struct {
	Pitch   Monzo // A を 1/1 としたピッチクラス単位の音高（オクターブ情報なし）
	Voices  int
	LastOn  time.Duration
	LastOff time.Duration
	Valid   bool
}

// HarmonicContext は直近に鳴った/鳴っている音高の場。
// 再生 1 回につき 1 つ、スケジューラのスレッドだけが書き込む。
type HarmonicContext struct {
	HalfLife time.Duration
	slots    [12]Slot
}

// NewHarmonicContext は空の文脈を作る。halfLife は解放後に重みが半分になる時間（イベント時刻基準）。
func NewHarmonicContext(halfLife time.Duration) *HarmonicContext {
	return &HarmonicContext{HalfLife: halfLife}
}

// Slot は pc のエントリを返す。
func (c *HarmonicContext) Slot(pc int) Slot {
	s := c.slots[pc]
	s.Pitch = s.Pitch.Clone()
	return s
}

// Sounding は pc が発音中かどうか。
func (c *HarmonicContext) Sounding(pc int) bool {
	return c.slots[pc].Voices > 0
}

// Weight は時刻 now における pc の影響度。発音中は 1、解放後は半減期で減衰する。
func (c *HarmonicContext) Weight(pc int, now time.Duration) float64 {
	s := c.slots[pc]
	switch {
	case !s.Valid:
		return 0
	case s.Voices > 0:
		return 1
	case c.HalfLife <= 0:
		return 0
	}
	dt := now - s.LastOff
	if dt < 0 {
		dt = 0
	}
	return math.Pow(0.5, float64(dt)/float64(c.HalfLife))
}

// Active は重みが正のエントリ数。
func (c *HarmonicContext) Active(now time.Duration) int {
	n := 0
	for pc := range c.slots {
		if c.Weight(pc, now) > 0 {
			n++
		}
	}
	return n
}

// Reset は全エントリを破棄する。
func (c *HarmonicContext) Reset() {
	c.slots = [12]Slot{}
}

// evict は十分に減衰した解放済みエントリを破棄する。Tune の冒頭でのみ呼ぶ。
func (c *HarmonicContext) evict(now time.Duration) {
	for pc := range c.slots {
		s := &c.slots[pc]
		if s.Valid && s.Voices == 0 && c.Weight(pc, now) < evictBelow {
			*s = Slot{}
		}
	}
}

func (c *HarmonicContext) noteOn(pc int, pitch Monzo, at time.Duration) {
	s := &c.slots[pc]
	s.Pitch = pitch.Clone()
	s.Voices++
	s.LastOn = at
	s.Valid = true
}

func (c *HarmonicContext) noteOff(pc int, at time.Duration) {
	s := &c.slots[pc]
	if s.Voices == 0 {
		return
	}
	s.Voices--
	if s.Voices == 0 {
		s.LastOff = at
	}
}
