package tuning

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"

	"jiperform/internal/event"
)

func TestFromRatio(t *testing.T) {
	cases := []struct {
		in    string
		monzo Monzo
		cents float64
	}{
		{"1/1", Monzo{}, 0},
		{"2", Monzo{1}, 1200},
		{"3/2", Monzo{-1, 1}, 701.955},
		{"5/4", Monzo{-2, 0, 1}, 386.314},
		{"7/4", Monzo{-2, 0, 0, 1}, 968.826},
		{"32/27", Monzo{5, -3}, 294.135},
		{"17/16", Monzo{-4, 0, 0, 0, 0, 0, 1}, 104.955},
	}
	for _, c := range cases {
		m, err := ParseRatio(c.in)
		if err != nil {
			t.Fatalf("ParseRatio(%q): %v", c.in, err)
		}
		if !m.Equal(c.monzo) {
			t.Fatalf("ParseRatio(%q)=%v; want %v", c.in, m, c.monzo)
		}
		if math.Abs(m.Cents()-c.cents) > 0.001 {
			t.Fatalf("%s cents=%.3f; want %.3f", c.in, m.Cents(), c.cents)
		}
	}
}

func TestParseRatioErrors(t *testing.T) {
	for _, in := range []string{"", "abc", "-3/2", "0", "1/0"} {
		if _, err := ParseRatio(in); err == nil {
			t.Fatalf("ParseRatio(%q) should fail", in)
		}
	}
	_, err := FromRatio(131, 128)
	if !errors.Is(err, ErrPrimeLimit) {
		t.Fatalf("expected ErrPrimeLimit, got %v", err)
	}
}

func TestOctaveReduced(t *testing.T) {
	cases := []struct {
		ratio string
		want  Monzo
	}{
		{"5/4", Monzo{0, 0, 1}},
		{"3/2", Monzo{0, 1}},
		{"4/3", Monzo{1, -1}},
		{"7/4", Monzo{0, 0, 0, 1}},
		{"2", Monzo{1}},
	}
	for _, c := range cases {
		m, _ := ParseRatio(c.ratio)
		if got := m.OctaveReduced(); !got.Equal(c.want) {
			t.Fatalf("%s reduced=%v; want %v", c.ratio, got, c.want)
		}
	}
}

func TestMonzoArithmetic(t *testing.T) {
	fifth, _ := ParseRatio("3/2")
	third, _ := ParseRatio("5/4")
	seventh := fifth.Add(third)
	if seventh.RatioString() != "15/8" {
		t.Fatalf("3/2*5/4=%s", seventh.RatioString())
	}
	if got := seventh.Sub(third); !got.Equal(fifth) {
		t.Fatalf("15/8 / 5/4 = %v", got)
	}
	if seventh.Limit() != 5 {
		t.Fatalf("limit=%d", seventh.Limit())
	}
	if c := fifth.ShiftOctaves(1).Complexity(); math.Abs(c-math.Log2(3)) > 1e-9 {
		t.Fatalf("complexity must ignore octaves: %v", c)
	}
	if (Monzo{0, 0, 0}).String() != "[>" || (Monzo{-2, 0, 1}).String() != "[-2 0 1>" {
		t.Fatal("String format")
	}
}

func TestJIPitchWire(t *testing.T) {
	m, _ := ParseRatio("5/4")
	raw := JIPitch{Monzo: m}
	red := JIPitch{Monzo: m, OctaveReduced: true}
	if raw.WireString() != "-2:0:1" {
		t.Fatalf("raw wire=%s", raw.WireString())
	}
	if red.WireString() != "0:0:1" {
		t.Fatalf("reduced wire=%s", red.WireString())
	}
	if (JIPitch{}).WireString() != "0" {
		t.Fatalf("unison wire=%q", (JIPitch{}).WireString())
	}
	if !red.Equal(JIPitch{Monzo: Monzo{-2, 0, 1, 0}, OctaveReduced: true}) {
		t.Fatal("equality must ignore trailing zeros")
	}
}

func newAdaptive(t *testing.T) *Engine {
	t.Helper()
	a, err := NewAdaptive(AdaptiveOptions{})
	if err != nil {
		t.Fatal(err)
	}
	return NewEngine(a, false)
}

func TestFifthDyadFromEmptyContext(t *testing.T) {
	eng := newAdaptive(t)
	hc := NewHarmonicContext(2 * time.Second)

	c := eng.Tune(event.Note(event.NoteOn, 0, 60, 100), hc)
	g := eng.Tune(event.Note(event.NoteOn, time.Second, 67, 100), hc)

	fifth, _ := ParseRatio("3/2")
	if iv := g.Pitch.Monzo.Sub(c.Pitch.Monzo); !iv.Equal(fifth) {
		t.Fatalf("G/C = %s; want 3/2 (C=%s G=%s)", iv.RatioString(), c.Pitch, g.Pitch)
	}
	if math.Abs(g.CentsDeviation) > 10 {
		t.Fatalf("G deviation %.2f too large", g.CentsDeviation)
	}
	if math.Abs(c.CentsDeviation) > 10 {
		t.Fatalf("C deviation %.2f too large", c.CentsDeviation)
	}
}

func TestMajorTriadIsJust(t *testing.T) {
	eng := newAdaptive(t)
	hc := NewHarmonicContext(2 * time.Second)

	c := eng.Tune(event.Note(event.NoteOn, 0, 60, 100), hc)
	e := eng.Tune(event.Note(event.NoteOn, 0, 64, 100), hc)
	g := eng.Tune(event.Note(event.NoteOn, 0, 67, 100), hc)

	third, _ := ParseRatio("5/4")
	fifth, _ := ParseRatio("3/2")
	if iv := e.Pitch.Monzo.Sub(c.Pitch.Monzo); !iv.Equal(third) {
		t.Fatalf("E/C = %s; want 5/4", iv.RatioString())
	}
	if iv := g.Pitch.Monzo.Sub(c.Pitch.Monzo); !iv.Equal(fifth) {
		t.Fatalf("G/C = %s; want 3/2", iv.RatioString())
	}
}

func TestTuneDeterministic(t *testing.T) {
	keys := []uint8{60, 64, 67, 72, 62, 65, 69, 71, 59, 55, 63, 66, 70, 61, 68}
	run := func() []TunedNote {
		eng := newAdaptive(t)
		hc := NewHarmonicContext(time.Second)
		var out []TunedNote
		for i, k := range keys {
			at := time.Duration(i) * 300 * time.Millisecond
			out = append(out, eng.Tune(event.Note(event.NoteOn, at, k, 90), hc))
			eng.Release(event.Note(event.NoteOff, at+200*time.Millisecond, k, 0), hc)
		}
		return out
	}
	a, b := run(), run()
	for i := range a {
		if a[i].CentsDeviation != b[i].CentsDeviation || !a[i].Pitch.Equal(b[i].Pitch) {
			t.Fatalf("note %d differs: %v vs %v", i, a[i], b[i])
		}
		if math.IsNaN(a[i].CentsDeviation) || math.IsInf(a[i].CentsDeviation, 0) {
			t.Fatalf("note %d deviation not finite", i)
		}
	}
}

func TestSoundingPitchClassIsCoalesced(t *testing.T) {
	eng := newAdaptive(t)
	hc := NewHarmonicContext(time.Second)

	first := eng.Tune(event.Note(event.NoteOn, 0, 60, 100), hc)
	eng.Tune(event.Note(event.NoteOn, 0, 64, 100), hc)
	again := eng.Tune(event.Note(event.NoteOn, 10*time.Millisecond, 72, 100), hc) // C5

	if again.CentsDeviation != first.CentsDeviation {
		t.Fatalf("sounding C retuned: %.3f vs %.3f", again.CentsDeviation, first.CentsDeviation)
	}
	if hc.Slot(3).Voices != 2 {
		t.Fatalf("voices=%d", hc.Slot(3).Voices)
	}
}

func TestTuneOnlyTouchesOwnSlot(t *testing.T) {
	eng := newAdaptive(t)
	hc := NewHarmonicContext(time.Second)
	eng.Tune(event.Note(event.NoteOn, 0, 60, 100), hc)
	before := hc.Slot(3)
	eng.Tune(event.Note(event.NoteOn, 0, 64, 100), hc)
	after := hc.Slot(3)
	if !before.Pitch.Equal(after.Pitch) || before.Voices != after.Voices {
		t.Fatalf("slot C changed: %+v -> %+v", before, after)
	}
}

func TestContextDecayAndEviction(t *testing.T) {
	hc := NewHarmonicContext(time.Second)
	hc.noteOn(3, Monzo{5, -3}, 0)
	if w := hc.Weight(3, 5*time.Second); w != 1 {
		t.Fatalf("sounding weight=%v", w)
	}
	hc.noteOff(3, time.Second)
	if w := hc.Weight(3, 2*time.Second); math.Abs(w-0.5) > 1e-9 {
		t.Fatalf("weight after one half-life=%v", w)
	}
	// 評価しただけでは消えない
	if !hc.Slot(3).Valid {
		t.Fatal("slot evicted outside Tune")
	}
	hc.evict(10 * time.Second)
	if hc.Slot(3).Valid {
		t.Fatal("slot should be evicted after decaying")
	}
}

func TestNearestCandidateWhenBoundExcludesAll(t *testing.T) {
	a, err := NewAdaptive(AdaptiveOptions{MaxDeviation: 0.001})
	if err != nil {
		t.Fatal(err)
	}
	eng := NewEngine(a, false)
	hc := NewHarmonicContext(time.Second)
	n := eng.Tune(event.Note(event.NoteOn, 0, 60, 100), hc)
	// A 基準で最も 12平均律に近い候補（32/27, -5.87c）。クランプはしない。
	if math.Abs(n.CentsDeviation+5.865) > 0.01 {
		t.Fatalf("deviation=%.3f", n.CentsDeviation)
	}
}

func TestNewAdaptiveRejectsBadLimit(t *testing.T) {
	for _, lim := range []int{2, 4, 9, 37} {
		if _, err := NewAdaptive(AdaptiveOptions{PrimeLimit: lim}); err == nil {
			t.Fatalf("prime limit %d accepted", lim)
		}
	}
}

func TestIntervalTableSteps(t *testing.T) {
	a, err := NewAdaptive(AdaptiveOptions{PrimeLimit: 5})
	if err != nil {
		t.Fatal(err)
	}
	for step := 0; step < 12; step++ {
		ivs := a.Intervals(step)
		if len(ivs) == 0 || len(ivs) > DefaultPerStep {
			t.Fatalf("step %d has %d intervals", step, len(ivs))
		}
		for _, iv := range ivs {
			if iv.Limit() > 5 {
				t.Fatalf("step %d: %v exceeds 5-limit", step, iv)
			}
		}
	}
	if !a.Intervals(0)[0].Equal(Monzo{}) {
		t.Fatalf("simplest unison should be 1/1: %v", a.Intervals(0)[0])
	}
	if !a.Intervals(7)[0].Equal(Monzo{0, 1}) {
		t.Fatalf("simplest fifth should be 3: %v", a.Intervals(7)[0])
	}
}

func TestEveryPrimeLimitTunesAllPitchClasses(t *testing.T) {
	for _, lim := range []int{3, 5, 7, 11, 13, 17, 19, 23, 29, 31} {
		a, err := NewAdaptive(AdaptiveOptions{PrimeLimit: lim})
		if err != nil {
			t.Fatalf("limit %d: %v", lim, err)
		}
		for step := 0; step < 12; step++ {
			if len(a.Intervals(step)) == 0 {
				t.Fatalf("limit %d: step %d has no intervals", lim, step)
			}
		}
		eng := NewEngine(a, false)
		// A4..G#5 をそれぞれ空の文脈から
		for key := uint8(69); key < 81; key++ {
			tn := eng.Tune(event.Note(event.NoteOn, 0, key, 90), NewHarmonicContext(time.Second))
			if math.IsNaN(tn.CentsDeviation) || math.Abs(tn.CentsDeviation) >= 50 {
				t.Fatalf("limit %d key %d: deviation %v", lim, key, tn.CentsDeviation)
			}
			if tn.Pitch.Monzo.Limit() > lim {
				t.Fatalf("limit %d key %d: %s exceeds limit", lim, key, tn.Pitch)
			}
		}
	}
	// 3-limit の短2度はリンマ 256/243
	a, _ := NewAdaptive(AdaptiveOptions{PrimeLimit: 3})
	limma, _ := ParseRatio("256/243")
	if got := a.Intervals(1)[0]; !got.Equal(limma) {
		t.Fatalf("3-limit semitone=%s; want 256/243", got.RatioString())
	}
}

const ondineOpening = `{
  "entries": [
    {"time": 0, "root": "C#", "offset": "5/4",
     "ratios": ["1/1","17/16","9/8","19/16","5/4","4/3","11/8","3/2","13/8","5/3","7/4","15/8"]},
    {"time": 5, "root": 4, "offset": "5/4",
     "ratios": [0,"25/24",0,0,0,0,0,"35/24",0,0,0,0]}
  ]
}`

func TestScriptTable(t *testing.T) {
	s, err := ParseScript(strings.NewReader(ondineOpening))
	if err != nil {
		t.Fatalf("ParseScript: %v", err)
	}
	if s.Len() != 2 {
		t.Fatalf("len=%d", s.Len())
	}
	eng := NewEngine(s, false)
	hc := NewHarmonicContext(time.Second)

	// C#4 = 5/4 of A4 → 12平均律 +400c に対し -13.7c
	n := eng.Tune(event.Note(event.NoteOn, time.Second, 73, 100), hc)
	if n.Pitch.Monzo.RatioString() != "5/4" {
		t.Fatalf("C#4=%s", n.Pitch.Monzo.RatioString())
	}
	if math.Abs(n.CentsDeviation+13.686) > 0.01 {
		t.Fatalf("C# deviation=%.3f", n.CentsDeviation)
	}

	// A (C# から 8 半音上、A を跨ぐので 1 オクターブ下) = 13/8 * 5/4 / 2 = 65/64
	tab := s.Table(0)
	if tab[0].RatioString() != "65/64" {
		t.Fatalf("A=%s", tab[0].RatioString())
	}

	// 5 秒以降は D と G# だけ変わり、他は維持
	later := s.Table(6 * time.Second)
	if !later[4].Equal(tab[4]) {
		t.Fatalf("C# should be kept: %v vs %v", later[4], tab[4])
	}
	if later[5].RatioString() != "125/96" {
		t.Fatalf("D=%s", later[5].RatioString())
	}
}

func TestScriptRejectsKeepInFirstEntry(t *testing.T) {
	_, err := NewScript([]ScriptEntry{{Root: "A", Ratios: []string{"1", "0", "9/8", "6/5", "5/4", "4/3", "45/32", "3/2", "8/5", "5/3", "9/5", "15/8"}}})
	if err == nil {
		t.Fatal("keep in first entry accepted")
	}
	_, err = NewScript([]ScriptEntry{{Root: "H", Ratios: make([]string, 12)}})
	if err == nil {
		t.Fatal("bad root accepted")
	}
}
