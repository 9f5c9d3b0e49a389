package obsws

import "testing"

func TestNormalizeAddr(t *testing.T) {
	cases := map[string]string{
		"127.0.0.1:4455":          "127.0.0.1:4455",
		" ws://127.0.0.1:4455/ ":  "127.0.0.1:4455",
		"wss://studio.local:4460": "studio.local:4460",
		"localhost":               "localhost:4455",
		"ws://[::1]":              "[::1]:4455",
		"":                        "",
	}
	for in, want := range cases {
		if got := NormalizeAddr(in); got != want {
			t.Fatalf("NormalizeAddr(%q)=%q; want %q", in, got, want)
		}
	}
}
