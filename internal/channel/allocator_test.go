package channel

import (
	"math"
	"testing"
	"time"

	"github.com/pkg/errors"

	"jiperform/internal/tuning"
)

func note(pc int, key uint8, cents float64) tuning.TunedNote {
	return tuning.TunedNote{PitchClass: pc, Key: key, Time: time.Second, CentsDeviation: cents}
}

func TestBendValue(t *testing.T) {
	cases := []struct {
		cents float64
		rng   float64
		want  int16
	}{
		{0, 4, 0},
		{0, 0, 0},
		{400, 4, 8191},
		{-400, 4, -8192},
		{200, 4, 4096},
		{-13.686, 2, -561},
		{50, 1, 4096},
	}
	for _, c := range cases {
		got, err := BendValue(c.cents, c.rng)
		if err != nil {
			t.Fatalf("BendValue(%v,%v): %v", c.cents, c.rng, err)
		}
		if got != c.want {
			t.Fatalf("BendValue(%v,%v)=%d; want %d", c.cents, c.rng, got, c.want)
		}
	}
	if _, err := BendValue(400.1, 4); err == nil {
		t.Fatal("expected range error")
	}
	if _, err := BendValue(math.NaN(), 4); err == nil {
		t.Fatal("expected NaN error")
	}
	if c := Cents(4096, 4); c != 200 {
		t.Fatalf("Cents=%v", c)
	}
}

func TestChannelMappingIsBijection(t *testing.T) {
	seen := map[int]int{}
	for pc := 0; pc < Count; pc++ {
		ch := ChannelFor(pc)
		if ch < 1 || ch > Count {
			t.Fatalf("pc %d -> channel %d out of range", pc, ch)
		}
		if prev, dup := seen[ch]; dup {
			t.Fatalf("channel %d shared by pc %d and %d", ch, prev, pc)
		}
		seen[ch] = pc
	}
}

func TestAllocateConcurrentNotesUseDistinctChannels(t *testing.T) {
	a, err := New(DefaultBendRange, CCBroadcast)
	if err != nil {
		t.Fatal(err)
	}
	used := map[int]bool{}
	for pc := 0; pc < Count; pc++ {
		as, err := a.Allocate(note(pc, uint8(69+pc), float64(pc*3-15)))
		if err != nil {
			t.Fatalf("pc %d: %v", pc, err)
		}
		if used[as.Channel] {
			t.Fatalf("channel %d assigned twice", as.Channel)
		}
		used[as.Channel] = true
		if !as.BendChanged {
			t.Fatalf("first note on channel %d must send bend", as.Channel)
		}
	}
	if len(a.Sounding()) != Count {
		t.Fatalf("sounding=%v", a.Sounding())
	}
}

func TestAllocateZeroRangeFails(t *testing.T) {
	a, _ := New(0, CCBroadcast)
	_, err := a.Allocate(note(3, 60, -5.865))
	var re *RangeError
	if !errors.As(err, &re) {
		t.Fatalf("expected RangeError, got %v", err)
	}
	if re.PitchClass != 3 || re.Key != 60 || re.Time != time.Second {
		t.Fatalf("diagnostic fields: %+v", re)
	}
	if re.Error() == "" {
		t.Fatal("empty message")
	}
	// 状態は変わらない
	if st := a.States()[3]; st.Occupied() || st.BendKnown {
		t.Fatalf("state changed on error: %+v", st)
	}
	// 偏差 0 なら通る
	if _, err := a.Allocate(note(0, 69, 0)); err != nil {
		t.Fatalf("zero deviation with zero range: %v", err)
	}
}

func TestReleaseKeepsBend(t *testing.T) {
	a, _ := New(2, CCBroadcast)
	first, err := a.Allocate(note(5, 62, 3.9))
	if err != nil {
		t.Fatal(err)
	}
	a.Release(5)
	if st := a.States()[5]; st.Occupied() || st.Bend != first.Bend {
		t.Fatalf("after release: %+v", st)
	}
	again, err := a.Allocate(note(5, 74, 3.9))
	if err != nil {
		t.Fatal(err)
	}
	if again.BendChanged {
		t.Fatal("same bend must not be resent")
	}
	a.Release(5)
	moved, err := a.Allocate(note(5, 62, -17.6))
	if err != nil {
		t.Fatal(err)
	}
	if !moved.BendChanged || moved.Bend == first.Bend {
		t.Fatalf("retune after release: %+v", moved)
	}
}

func TestAllocateBusyChannelConflict(t *testing.T) {
	a, _ := New(2, CCBroadcast)
	if _, err := a.Allocate(note(7, 64, -13.7)); err != nil {
		t.Fatal(err)
	}
	_, err := a.Allocate(note(7, 76, 8.2))
	if !errors.Is(err, ErrChannelBusy) {
		t.Fatalf("expected ErrChannelBusy, got %v", err)
	}
	if st := a.States()[7]; st.Voices != 1 {
		t.Fatalf("voices=%d", st.Voices)
	}
}

func TestCenteredSuppressesZeroBend(t *testing.T) {
	a, _ := New(2, CCBroadcast)
	a.Centered()
	as, err := a.Allocate(note(0, 69, 0))
	if err != nil {
		t.Fatal(err)
	}
	if as.BendChanged {
		t.Fatal("centered channel must not resend zero bend")
	}
	if as.Wire() != 0 {
		t.Fatalf("wire channel=%d", as.Wire())
	}
}

func TestCCChannels(t *testing.T) {
	b, _ := New(2, CCBroadcast)
	if got := b.CCChannels(); len(got) != 12 || got[0] != 1 || got[11] != 12 {
		t.Fatalf("broadcast=%v", got)
	}
	s, _ := New(2, CCSingle)
	if got := s.CCChannels(); len(got) != 1 || got[0] != 1 {
		t.Fatalf("single=%v", got)
	}
	for in, want := range map[string]CCMode{"": CCBroadcast, "Single": CCSingle, "broadcast": CCBroadcast} {
		got, err := ParseCCMode(in)
		if err != nil || got != want {
			t.Fatalf("ParseCCMode(%q)=%v,%v", in, got, err)
		}
	}
	if _, err := ParseCCMode("mono"); err == nil {
		t.Fatal("unknown mode accepted")
	}
}
