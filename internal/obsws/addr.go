package obsws

import (
	"net"
	"strings"
)

// DefaultPort は obs-websocket 5.x の既定ポート。
const DefaultPort = "4455"

// NormalizeAddr は -obs-addr の値を goobs.New に渡せる host:port にする。
// ws:// / wss:// と末尾の "/" を落とし、ポートが無ければ DefaultPort を補う。
func NormalizeAddr(a string) string {
	a = strings.TrimSpace(a)
	for _, p := range []string{"ws://", "wss://"} {
		a = strings.TrimPrefix(a, p)
	}
	a = strings.TrimSuffix(a, "/")
	if a == "" {
		return ""
	}
	if _, _, err := net.SplitHostPort(a); err != nil {
		return net.JoinHostPort(strings.Trim(a, "[]"), DefaultPort)
	}
	return a
}
