package channel

import (
	"strings"

	"github.com/pkg/errors"
)

// CCMode はコントロールチェンジの送り方。
type CCMode int

const (
	// CCBroadcast は 12 チャンネル全てに同じ CC を送る。
	CCBroadcast CCMode = iota
	// CCSingle はチャンネル 1 だけに送る（全チャンネル共通の CC を受ける音源向け）。
	CCSingle
)

func (m CCMode) String() string {
	if m == CCSingle {
		return "single"
	}
	return "broadcast"
}

// ParseCCMode は "broadcast" / "single" を読む。空文字は broadcast。
func ParseCCMode(s string) (CCMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "broadcast", "all":
		return CCBroadcast, nil
	case "single", "one":
		return CCSingle, nil
	}
	return CCBroadcast, errors.Errorf("cc_mode は broadcast か single を指定してください: %q", s)
}
