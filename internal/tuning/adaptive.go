package tuning

import (
	"math"
	"sort"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"jiperform/internal/event"
)

const (
	DefaultPrimeLimit   = 7
	DefaultMaxDeviation = 40.0 // cents
	DefaultPerStep      = 4

	scoreEpsilon = 1e-9
)

// AdaptiveOptions は Adaptive の設定。
type AdaptiveOptions struct {
	PrimeLimit   int     // 使う最大の素数（3 以上）
	MaxDeviation float64 // 12平均律からの許容偏差（セント）
	PerStep      int     // 半音ステップごとに保持する音程候補の数
}

func (o AdaptiveOptions) withDefaults() AdaptiveOptions {
	if o.PrimeLimit == 0 {
		o.PrimeLimit = DefaultPrimeLimit
	}
	if o.MaxDeviation == 0 {
		o.MaxDeviation = DefaultMaxDeviation
	}
	if o.PerStep == 0 {
		o.PerStep = DefaultPerStep
	}
	return o
}

// Adaptive は直近の和声的文脈に対して最も単純な純正音程になる音高を選ぶ。
//
// 候補は「文脈中の各音 + 音程表の音程」と、そのピッチクラスの前回の音高。
// 文脈が空なら A = 1/1 を基準にする。
// 評価値は文脈の各音との音程のテニー高さ（オクターブ同値）の重み付き平均で、小さいほど良い。
// 偏差上限を超える候補は除外し、全て超える場合は最も 12平均律に近い候補を返す。
// 同点は |偏差| → 候補自身の複雑さ → モンゾの辞書順で決める。
type Adaptive struct {
	opts  AdaptiveOptions
	table [12][]Monzo
}

// NewAdaptive は音程表を作る。
func NewAdaptive(opts AdaptiveOptions) (*Adaptive, error) {
	opts = opts.withDefaults()
	limitIdx := -1
	for i, p := range Primes {
		if p == opts.PrimeLimit {
			limitIdx = i
		}
	}
	if limitIdx < 1 || opts.PrimeLimit > 31 {
		return nil, errors.Errorf("prime limit は 3〜31 の素数で指定してください: %d", opts.PrimeLimit)
	}
	if opts.MaxDeviation < 0 || opts.PerStep < 0 {
		return nil, errors.Errorf("不正な設定: %+v", opts)
	}
	return &Adaptive{opts: opts, table: intervalTable(limitIdx, opts.PerStep)}, nil
}

func (a *Adaptive) Name() string { return "adaptive" }

// Options は有効な設定値を返す。
func (a *Adaptive) Options() AdaptiveOptions { return a.opts }

// Intervals は半音ステップ step（0〜11）の音程候補。
func (a *Adaptive) Intervals(step int) []Monzo { return a.table[step] }

type candidate struct {
	pitch Monzo
	dev   float64
	score float64
	cx    float64
	key   string
}

type reference struct {
	pc     int
	pitch  Monzo
	weight float64
}

func (a *Adaptive) Choose(ev event.Event, hc *HarmonicContext) Monzo {
	pc := ev.PitchClass

	var refs []reference
	for q := 0; q < 12; q++ {
		if q == pc {
			continue
		}
		if w := hc.Weight(q, ev.Time); w > 0 {
			refs = append(refs, reference{pc: q, pitch: hc.slots[q].Pitch, weight: w})
		}
	}
	roots := refs
	if len(roots) == 0 {
		roots = []reference{{pc: 0, pitch: Monzo{}, weight: 1}}
	}

	seen := map[string]bool{}
	var cands []candidate
	add := func(m Monzo) {
		m = normalize(pc, m)
		k := m.key()
		if seen[k] {
			return
		}
		seen[k] = true
		cands = append(cands, candidate{
			pitch: m,
			dev:   deviation(pc, m),
			score: score(m, refs),
			cx:    m.Complexity(),
			key:   k,
		})
	}
	for _, r := range roots {
		for _, iv := range a.table[mod12(pc-r.pc)] {
			add(r.pitch.Add(iv))
		}
	}
	if own := hc.slots[pc]; own.Valid {
		add(own.Pitch)
	}

	within := lo.Filter(cands, func(c candidate, _ int) bool {
		return math.Abs(c.dev) <= a.opts.MaxDeviation
	})
	if len(within) == 0 {
		sort.Slice(cands, func(i, j int) bool { return closer(cands[i], cands[j]) })
		return cands[0].pitch
	}
	sort.Slice(within, func(i, j int) bool {
		if d := within[i].score - within[j].score; math.Abs(d) > scoreEpsilon {
			return d < 0
		}
		return closer(within[i], within[j])
	})
	return within[0].pitch
}

// closer は |偏差| → 複雑さ → 辞書順。
func closer(a, b candidate) bool {
	if d := math.Abs(a.dev) - math.Abs(b.dev); math.Abs(d) > scoreEpsilon {
		return d < 0
	}
	if d := a.cx - b.cx; math.Abs(d) > scoreEpsilon {
		return d < 0
	}
	return a.key < b.key
}

func score(m Monzo, refs []reference) float64 {
	if len(refs) == 0 {
		return 0
	}
	var sum, wsum float64
	for _, r := range refs {
		sum += r.weight * m.Sub(r.pitch).Complexity()
		wsum += r.weight
	}
	return sum / wsum
}

// intervalTable は奇素数 3..Primes[limitIdx] の組み合わせから、
// 12平均律の半音ステップごとに単純な順に perStep 個の音程を集める。
// 指数の上限は 3 が ±4、それ以外が ±2、指数の絶対値の合計が 4 まで。
// それで空になるステップ（3-limit の短2度・増4度・長7度）は 3 の冪で埋める。
func intervalTable(limitIdx, perStep int) [12][]Monzo {
	var table [12][]Monzo
	exps := make([]int, limitIdx+1)
	var walk func(i, budget int)
	walk = func(i, budget int) {
		if i > limitIdx {
			m := Monzo(append([]int(nil), exps...)).trim()
			table[stepOf(m)] = append(table[stepOf(m)], m)
			return
		}
		bound := 2
		if i == 1 {
			bound = 4
		}
		for e := -bound; e <= bound; e++ {
			if abs(e) > budget {
				continue
			}
			exps[i] = e
			walk(i+1, budget-abs(e))
		}
		exps[i] = 0
	}
	walk(1, 4)

	// 3 の冪は |k| <= 6 で 12 ステップすべてを覆う
	for k := 1; k <= 6; k++ {
		for _, e := range []int{k, -k} {
			m := Monzo{0, e}
			if step := stepOf(m); len(table[step]) == 0 {
				table[step] = []Monzo{m}
			}
		}
	}

	for step := range table {
		ivs := table[step]
		sort.Slice(ivs, func(i, j int) bool {
			ci, cj := ivs[i].Complexity(), ivs[j].Complexity()
			if math.Abs(ci-cj) > scoreEpsilon {
				return ci < cj
			}
			return ivs[i].key() < ivs[j].key()
		})
		if perStep > 0 && len(ivs) > perStep {
			ivs = ivs[:perStep]
		}
		table[step] = ivs
	}
	return table
}

// stepOf は m を 12平均律の半音ステップ（0〜11）に丸める。
func stepOf(m Monzo) int {
	c := math.Mod(m.Cents(), 1200)
	if c < 0 {
		c += 1200
	}
	return int(math.Round(c/100)) % 12
}

func mod12(n int) int {
	n %= 12
	if n < 0 {
		n += 12
	}
	return n
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
