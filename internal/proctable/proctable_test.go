package proctable

import (
	"context"
	"errors"
	"os"
	"runtime"
	"testing"
)

const busyboxPS = `  PID USER       VSZ STAT COMMAND
    1 root      1960 S    init [5]
  812 root      1880 S    svscan /service
  901 root      1712 S    supervise dbus-mqtt-devices
  902 root      1720 S    multilog t s25000 n4 /var/log/dbus-mqtt-devices
  903 root     28840 S    python3 /data/dbus-mqtt-devices/dbus-mqtt-devices.py
 1200 root      2780 R    ps
`

func TestParsePSBusybox(t *testing.T) {
	entries, err := ParsePS([]byte(busyboxPS))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(entries) != 6 {
		t.Fatalf("expected 6 entries, got %d", len(entries))
	}
	if entries[4].PID != 903 || entries[4].CommandLine != "python3 /data/dbus-mqtt-devices/dbus-mqtt-devices.py" {
		t.Fatalf("unexpected entry: %+v", entries[4])
	}
	if entries[0].CommandLine != "init [5]" {
		t.Fatalf("expected multi-word command, got %q", entries[0].CommandLine)
	}
}

func TestParsePSPidArgs(t *testing.T) {
	out := "    PID COMMAND\n     42 /usr/bin/python3 -u app.py\n garbage\n"
	entries, err := ParsePS([]byte(out))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(entries) != 1 || entries[0].PID != 42 || entries[0].CommandLine != "/usr/bin/python3 -u app.py" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestParsePSRejectsBadHeader(t *testing.T) {
	if _, err := ParsePS([]byte("foo bar\n1 x\n")); err == nil {
		t.Fatalf("expected header error")
	}
	if _, err := ParsePS(nil); err == nil {
		t.Fatalf("expected empty output error")
	}
}

func TestPSListUsesRunner(t *testing.T) {
	var gotName string
	var gotArgs []string
	p := PS{Args: []string{"-o", "pid,args"}, Run: func(_ context.Context, name string, args ...string) ([]byte, error) {
		gotName, gotArgs = name, args
		return []byte("PID ARGS\n7 sleep 100\n"), nil
	}}
	entries, err := p.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if gotName != "ps" || len(gotArgs) != 2 {
		t.Fatalf("unexpected invocation %q %v", gotName, gotArgs)
	}
	if len(entries) != 1 || entries[0].PID != 7 {
		t.Fatalf("unexpected entries: %+v", entries)
	}
	if p.Describe() != "ps:ps -o pid,args" {
		t.Fatalf("Describe mismatch: %q", p.Describe())
	}
}

func TestPSListRunnerError(t *testing.T) {
	boom := errors.New("boom")
	p := PS{Run: func(context.Context, string, ...string) ([]byte, error) { return nil, boom }}
	if _, err := p.List(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped boom, got %v", err)
	}
}

func TestMatchers(t *testing.T) {
	entries, _ := ParsePS([]byte(busyboxPS))
	svc := ServiceMatcher("python", "dbus-mqtt-devices")
	if n := Count(entries, svc); n != 1 {
		t.Fatalf("expected 1 service match, got %d", n)
	}
	e, ok := Find(entries, RotatorMatcher("multilog", "dbus-mqtt-devices"))
	if !ok || e.PID != 902 {
		t.Fatalf("expected rotator 902, got %+v ok=%v", e, ok)
	}
	if n := Count(entries, svc.Except(903)); n != 0 {
		t.Fatalf("Except should drop pid 903, got %d", n)
	}
	if n := Count(entries, ContainsAll("", "  ")); n != 0 {
		t.Fatalf("blank markers must match nothing, got %d", n)
	}
	if got := Filter(entries, ContainsAll("root")); got != nil {
		t.Fatalf("USER column is not part of the command line, got %+v", got)
	}
}

type staticTable []Entry

func (s staticTable) List(context.Context) ([]Entry, error) { return s, nil }
func (staticTable) Describe() string                        { return "static" }

func TestAlive(t *testing.T) {
	tbl := staticTable{{PID: 10, CommandLine: "a"}, {PID: 11, CommandLine: ""}}
	if ok, _ := Alive(context.Background(), tbl, 11); !ok {
		t.Fatalf("pid 11 should be alive")
	}
	if ok, _ := Alive(context.Background(), tbl, 12); ok {
		t.Fatalf("pid 12 should not be alive")
	}
}

func TestNewKinds(t *testing.T) {
	if tb, err := New("", PS{}); err != nil || tb.Describe() != "gopsutil" {
		t.Fatalf("default kind: %v %v", tb, err)
	}
	if tb, err := New(KindPS, PS{Command: "busybox"}); err != nil || tb.Describe() != "ps:busybox" {
		t.Fatalf("ps kind: %v %v", tb, err)
	}
	if _, err := New("procfs", PS{}); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}

func TestGopsutilListsSelf(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("requires /proc")
	}
	ok, err := Alive(context.Background(), Gopsutil{}, os.Getpid())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !ok {
		t.Fatalf("own pid %d not found in process table", os.Getpid())
	}
}
