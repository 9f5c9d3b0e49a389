package tuning

import (
	"math"
	"math/big"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Primes はモンゾの基底。Primes[i] がモンゾの i 番目の指数に対応する。
var Primes = sieve(128)

// primeOctaves[i] は floor(log2(Primes[i]))。オクターブ縮約モンゾで使う。
var primeOctaves = func() []int {
	out := make([]int, len(Primes))
	for i, p := range Primes {
		out[i] = int(math.Floor(math.Log2(float64(p))))
	}
	return out
}()

// ErrPrimeLimit は基底に無い素因数を含む比率。
var ErrPrimeLimit = errors.New("比率の素因数が対応範囲を超えています")

func sieve(n int) []int {
	composite := make([]bool, n+1)
	var out []int
	for i := 2; i <= n; i++ {
		if composite[i] {
			continue
		}
		out = append(out, i)
		for j := i * i; j <= n; j += i {
			composite[j] = true
		}
	}
	return out
}

// Monzo は素因数指数ベクトル。末尾の 0 は省略してよい。
type Monzo []int

// FromRatio は num/den をモンゾに分解する。
func FromRatio(num, den int64) (Monzo, error) {
	if num <= 0 || den <= 0 {
		return nil, errors.Errorf("比率は正の値である必要があります: %d/%d", num, den)
	}
	var m Monzo
	add := func(n int64, sign int) error {
		for i, p := range Primes {
			if n == 1 {
				return nil
			}
			for n%int64(p) == 0 {
				for len(m) <= i {
					m = append(m, 0)
				}
				m[i] += sign
				n /= int64(p)
			}
		}
		if n != 1 {
			return errors.Wrapf(ErrPrimeLimit, "残余因数 %d", n)
		}
		return nil
	}
	if err := add(num, 1); err != nil {
		return nil, err
	}
	if err := add(den, -1); err != nil {
		return nil, err
	}
	return m.trim(), nil
}

// ParseRatio は "5/4" や "3" のような表記を読む。
func ParseRatio(s string) (Monzo, error) {
	r, ok := new(big.Rat).SetString(strings.TrimSpace(s))
	if !ok {
		return nil, errors.Errorf("比率を解釈できません: %q", s)
	}
	if r.Sign() <= 0 {
		return nil, errors.Errorf("比率は正の値である必要があります: %q", s)
	}
	if !r.Num().IsInt64() || !r.Denom().IsInt64() {
		return nil, errors.Errorf("比率が大きすぎます: %q", s)
	}
	return FromRatio(r.Num().Int64(), r.Denom().Int64())
}

func (m Monzo) trim() Monzo {
	n := len(m)
	for n > 0 && m[n-1] == 0 {
		n--
	}
	return m[:n]
}

func (m Monzo) at(i int) int {
	if i < len(m) {
		return m[i]
	}
	return 0
}

// Clone はコピーを返す。
func (m Monzo) Clone() Monzo {
	return append(Monzo(nil), m...)
}

// Add は積（指数の和）。
func (m Monzo) Add(o Monzo) Monzo {
	n := max(len(m), len(o))
	out := make(Monzo, n)
	for i := range out {
		out[i] = m.at(i) + o.at(i)
	}
	return out.trim()
}

// Sub は商（指数の差）。
func (m Monzo) Sub(o Monzo) Monzo {
	n := max(len(m), len(o))
	out := make(Monzo, n)
	for i := range out {
		out[i] = m.at(i) - o.at(i)
	}
	return out.trim()
}

// ShiftOctaves は 2 の指数を k 増やす。
func (m Monzo) ShiftOctaves(k int) Monzo {
	out := m.Clone()
	if len(out) == 0 {
		out = Monzo{0}
	}
	out[0] += k
	return out.trim()
}

// Equal は末尾 0 を無視して比較する。
func (m Monzo) Equal(o Monzo) bool {
	n := max(len(m), len(o))
	for i := 0; i < n; i++ {
		if m.at(i) != o.at(i) {
			return false
		}
	}
	return true
}

// Cents は 1/1 からのセント値。
func (m Monzo) Cents() float64 {
	var c float64
	for i, e := range m {
		if e != 0 {
			c += float64(e) * 1200 * math.Log2(float64(Primes[i]))
		}
	}
	return c
}

// Complexity はオクターブ同値なテニー高さ（2 を除く素因数の log2 重み付き和）。
func (m Monzo) Complexity() float64 {
	var h float64
	for i := 1; i < len(m); i++ {
		if m[i] != 0 {
			h += math.Abs(float64(m[i])) * math.Log2(float64(Primes[i]))
		}
	}
	return h
}

// Limit は含まれる最大の素数（1/1 と 2 冪は 2）。
func (m Monzo) Limit() int {
	t := m.trim()
	for i := len(t) - 1; i >= 0; i-- {
		if t[i] != 0 {
			return Primes[i]
		}
	}
	return 2
}

// OctaveReduced は各奇素数 p を p/2^floor(log2 p) とみなした形に変換する。
// 例: 5/4 = [-2 0 1> → [0 0 1>
func (m Monzo) OctaveReduced() Monzo {
	out := m.Clone()
	if len(out) == 0 {
		return out
	}
	for i := 1; i < len(out); i++ {
		out[0] += primeOctaves[i] * out[i]
	}
	return out
}

// Ratio は分子・分母を返す。
func (m Monzo) Ratio() (num, den *big.Int) {
	num, den = big.NewInt(1), big.NewInt(1)
	for i, e := range m {
		p := big.NewInt(int64(Primes[i]))
		for ; e > 0; e-- {
			num.Mul(num, p)
		}
		for ; e < 0; e++ {
			den.Mul(den, p)
		}
	}
	return num, den
}

// RatioString は "num/den" 表記。
func (m Monzo) RatioString() string {
	num, den := m.Ratio()
	return num.String() + "/" + den.String()
}

// String は "[-2 0 1>" 形式。
func (m Monzo) String() string {
	t := m.trim()
	parts := make([]string, len(t))
	for i, e := range t {
		parts[i] = strconv.Itoa(e)
	}
	return "[" + strings.Join(parts, " ") + ">"
}

// key は決定的な並び替え用のキー。
func (m Monzo) key() string {
	return m.trim().String()
}
