package midi

import (
	"testing"

	"github.com/pkg/errors"
	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
)

func TestSelectPort(t *testing.T) {
	names := []string{"Midi Through:Midi Through Port-0 14:0", "FLUID Synth (1234):Synth input port 128:0", "FLUID"}
	cases := []struct {
		want string
		idx  int
	}{
		{"", 0},
		{"FLUID", 2},       // 完全一致を優先
		{"synth input", 1}, // 部分一致は大文字小文字を無視
		{"Midi Through", 0},
	}
	for _, c := range cases {
		got, err := SelectPort(names, c.want)
		if err != nil || got != c.idx {
			t.Fatalf("SelectPort(%q)=%d,%v; want %d", c.want, got, err, c.idx)
		}
	}
	if _, err := SelectPort(names, "Pianoteq"); !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("missing device: %v", err)
	}
	if _, err := SelectPort(nil, ""); !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("no devices: %v", err)
	}
}

func TestPortSendAndClose(t *testing.T) {
	var sent []gomidi.Message
	closed := 0
	p := &Port{
		name:  "fake",
		send:  func(m gomidi.Message) error { sent = append(sent, m); return nil },
		close: func() error { closed++; return nil },
	}
	if err := p.Send(gomidi.NoteOn(0, 60, 100)); err != nil {
		t.Fatal(err)
	}
	_ = p.Close()
	_ = p.Close()
	if len(sent) != 1 || closed != 1 || p.Name() != "fake" {
		t.Fatalf("sent=%d closed=%d", len(sent), closed)
	}

	bad := &Port{name: "gone", send: func(gomidi.Message) error { return errors.New("EPIPE") }}
	if err := bad.Send(gomidi.NoteOn(0, 60, 100)); err == nil {
		t.Fatal("send error swallowed")
	}
}

type fakeOut struct {
	name    string
	open    bool
	openErr error
	sent    int
}

func (o *fakeOut) Open() error {
	if o.openErr != nil {
		return o.openErr
	}
	o.open = true
	return nil
}
func (o *fakeOut) Close() error            { o.open = false; return nil }
func (o *fakeOut) IsOpen() bool            { return o.open }
func (o *fakeOut) Number() int             { return 0 }
func (o *fakeOut) String() string          { return o.name }
func (o *fakeOut) Underlying() interface{} { return nil }
func (o *fakeOut) Send([]byte) error       { o.sent++; return nil }

type fakeDriver struct {
	outs   []drivers.Out
	err    error
	closed int
}

func (d *fakeDriver) Outs() ([]drivers.Out, error) { return d.outs, d.err }
func (d *fakeDriver) Close() error                 { d.closed++; return nil }

func TestDriverClosedOnEveryFailure(t *testing.T) {
	cases := []struct {
		name string
		drv  *fakeDriver
		want string
	}{
		{"列挙失敗", &fakeDriver{err: errors.New("ALSA")}, ""},
		{"デバイスなし", &fakeDriver{}, ""},
		{"名前が一致しない", &fakeDriver{outs: []drivers.Out{&fakeOut{name: "FLUID"}}}, "Pianoteq"},
		{"オープン失敗", &fakeDriver{outs: []drivers.Out{&fakeOut{name: "FLUID", openErr: errors.New("busy")}}}, "FLUID"},
	}
	for _, c := range cases {
		if _, err := openFrom(c.drv, c.want); !errors.Is(err, ErrDeviceUnavailable) {
			t.Fatalf("%s: err=%v", c.name, err)
		}
		if c.drv.closed != 1 {
			t.Fatalf("%s: driver closed %d times", c.name, c.drv.closed)
		}
	}
}

func TestOpenFromKeepsDriverUntilPortClose(t *testing.T) {
	out := &fakeOut{name: "FLUID Synth"}
	drv := &fakeDriver{outs: []drivers.Out{&fakeOut{name: "Midi Through"}, out}}
	p, err := openFrom(drv, "fluid")
	if err != nil {
		t.Fatal(err)
	}
	if drv.closed != 0 || !out.open || p.Name() != "FLUID Synth" {
		t.Fatalf("closed=%d open=%v name=%q", drv.closed, out.open, p.Name())
	}
	if err := p.Send(gomidi.NoteOn(0, 60, 100)); err != nil || out.sent != 1 {
		t.Fatalf("send: %v sent=%d", err, out.sent)
	}
	_ = p.Close()
	if drv.closed != 1 || out.open {
		t.Fatalf("after close: closed=%d open=%v", drv.closed, out.open)
	}
}

func TestListFromClosesDriver(t *testing.T) {
	drv := &fakeDriver{outs: []drivers.Out{&fakeOut{name: "a"}, &fakeOut{name: "b"}}}
	names, err := listFrom(drv)
	if err != nil || len(names) != 2 || names[1] != "b" || drv.closed != 1 {
		t.Fatalf("names=%v err=%v closed=%d", names, err, drv.closed)
	}
	bad := &fakeDriver{err: errors.New("ALSA")}
	if _, err := listFrom(bad); !errors.Is(err, ErrDeviceUnavailable) || bad.closed != 1 {
		t.Fatalf("err=%v closed=%d", err, bad.closed)
	}
}
