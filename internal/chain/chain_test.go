package chain

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/bryanchriswhite/FrameFilter/internal/config"
	"github.com/bryanchriswhite/FrameFilter/internal/frame"
)

func TestPoolLeaseRelease(t *testing.T) {
	p, err := NewPool(2, 16)
	if err != nil {
		t.Fatal(err)
	}

	a, err := p.Lease()
	if err != nil {
		t.Fatal(err)
	}
	b, err := p.Lease()
	if err != nil {
		t.Fatal(err)
	}
	if a.ID() == b.ID() {
		t.Fatalf("two leases returned buffer %d", a.ID())
	}
	if a.Cap() != 16 {
		t.Errorf("Cap() = %d", a.Cap())
	}

	if _, err := p.Lease(); !errors.Is(err, ErrNoBuffer) {
		t.Fatalf("Lease() on exhausted pool = %v, want ErrNoBuffer", err)
	}
	if p.Leased() != 2 {
		t.Errorf("Leased() = %d", p.Leased())
	}

	if err := p.Release(a); err != nil {
		t.Fatal(err)
	}
	if err := p.Release(a); !errors.Is(err, ErrNotLeased) {
		t.Errorf("double release = %v, want ErrNotLeased", err)
	}
	if err := p.Release(frame.NewBuffer(b.ID(), make([]byte, 16))); !errors.Is(err, ErrNotLeased) {
		t.Errorf("foreign buffer release = %v, want ErrNotLeased", err)
	}
	if !p.Owns(b) || p.Owns(a) {
		t.Error("Owns() disagrees with lease state")
	}

	if _, err := p.Lease(); err != nil {
		t.Errorf("Lease() after release: %v", err)
	}
}

func TestNewPoolRejectsEmpty(t *testing.T) {
	if _, err := NewPool(0, 10); err == nil {
		t.Error("zero buffers accepted")
	}
	if _, err := NewPool(1, 0); err == nil {
		t.Error("zero size accepted")
	}
}

func TestCommandCodec(t *testing.T) {
	payload := EncodeCommand("exporter", CommandOn)
	if string(payload) != `{"exporter":{"command":"on"}}` {
		t.Errorf("EncodeCommand() = %s", payload)
	}

	cmds, err := ParseCommands(payload)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(map[string]string{"exporter": "on"}, cmds); diff != "" {
		t.Errorf("ParseCommands (-want +got):\n%s", diff)
	}

	for _, bad := range []string{`nope`, `{}`, `{"exporter":{}}`, `{"exporter":"on"}`} {
		if _, err := ParseCommands([]byte(bad)); err == nil {
			t.Errorf("ParseCommands(%s) succeeded", bad)
		}
	}
}

func TestApplyCommands(t *testing.T) {
	sw := &Switch{}
	res, err := ApplyCommands([]byte(`{"exporter":{"command":"on"},"ghost":{"command":"on"}}`),
		map[string]*Switch{"exporter": sw})
	if err != nil {
		t.Fatal(err)
	}
	if !sw.On() {
		t.Error("exporter not switched on")
	}

	var got map[string]map[string]string
	if err := json.Unmarshal([]byte(res), &got); err != nil {
		t.Fatalf("result %q: %v", res, err)
	}
	if got["exporter"]["status"] != "ok" {
		t.Errorf("exporter result = %v", got["exporter"])
	}
	if got["ghost"]["status"] != "error" || !strings.Contains(got["ghost"]["error"], "unknown element") {
		t.Errorf("ghost result = %v", got["ghost"])
	}

	if err := sw.Apply("sideways"); err == nil {
		t.Error("unknown command accepted")
	}
}

func TestSwitchDelivery(t *testing.T) {
	sw := &Switch{}
	var got []uint64
	sub, err := sw.Subscribe(func(_ []byte, m frame.Metadata) { got = append(got, m.Seq) })
	if err != nil {
		t.Fatal(err)
	}
	if _, err := sw.Subscribe(func([]byte, frame.Metadata) {}); !errors.Is(err, ErrSubscribed) {
		t.Errorf("second Subscribe() = %v, want ErrSubscribed", err)
	}

	if sw.Deliver(nil, frame.Metadata{Seq: 1}) {
		t.Error("delivered while off")
	}
	sw.SetOn(true)
	sw.Deliver(nil, frame.Metadata{Seq: 2})
	sub.Cancel()
	sub.Cancel()
	if sw.Deliver(nil, frame.Metadata{Seq: 3}) {
		t.Error("delivered after Cancel")
	}

	if diff := cmp.Diff([]uint64{2}, got); diff != "" {
		t.Errorf("delivered (-want +got):\n%s", diff)
	}
	if _, err := sw.Subscribe(func([]byte, frame.Metadata) {}); err != nil {
		t.Errorf("Subscribe() after Cancel: %v", err)
	}
}

func TestSwitchSubscribed(t *testing.T) {
	sw := &Switch{}
	if sw.Subscribed() {
		t.Error("new switch reports a subscriber")
	}
	sub, err := sw.Subscribe(func([]byte, frame.Metadata) {})
	if err != nil {
		t.Fatal(err)
	}
	if !sw.Subscribed() {
		t.Error("Subscribed() false after Subscribe")
	}
	sub.Cancel()
	if sw.Subscribed() {
		t.Error("Subscribed() true after Cancel")
	}
}

func TestPoolDimensions(t *testing.T) {
	p, err := NewPool(3, 64)
	if err != nil {
		t.Fatal(err)
	}
	if p.Count() != 3 || p.BufferSize() != 64 {
		t.Errorf("Count() = %d, BufferSize() = %d", p.Count(), p.BufferSize())
	}
	buf, _ := p.Lease()
	if buf.Cap() != p.BufferSize() {
		t.Errorf("buffer capacity %d, pool says %d", buf.Cap(), p.BufferSize())
	}
}

func TestSubscriptionCancelWaitsForDelivery(t *testing.T) {
	sw := &Switch{}
	sw.SetOn(true)

	entered := make(chan struct{})
	unblock := make(chan struct{})
	var mu sync.Mutex
	finished := false
	sub, _ := sw.Subscribe(func([]byte, frame.Metadata) {
		close(entered)
		<-unblock
		mu.Lock()
		finished = true
		mu.Unlock()
	})

	go sw.Deliver(nil, frame.Metadata{})
	<-entered

	cancelled := make(chan struct{})
	go func() {
		sub.Cancel()
		close(cancelled)
	}()

	select {
	case <-cancelled:
		t.Fatal("Cancel returned while the callback was running")
	case <-time.After(20 * time.Millisecond):
	}

	close(unblock)
	<-cancelled
	mu.Lock()
	defer mu.Unlock()
	if !finished {
		t.Error("Cancel returned before the callback finished")
	}
}

// fakeChain is a minimal Chain for registry and runtime tests
type fakeChain struct {
	id        string
	importers []string
	exporters []string
	closed    *[]string
}

func (c *fakeChain) ID() string          { return c.id }
func (c *fakeChain) Importers() []string { return c.importers }
func (c *fakeChain) Exporters() []string { return c.exporters }
func (c *fakeChain) LeaseBuffer(string) (*frame.Buffer, error) {
	return nil, ErrNoBuffer
}
func (c *fakeChain) ReleaseBuffer(string, *frame.Buffer) error { return nil }
func (c *fakeChain) PushBuffer(string, *frame.Buffer, frame.Metadata) error {
	return nil
}
func (c *fakeChain) SetExportCallback(string, ExportFunc) (Subscription, error) {
	return nil, nil
}
func (c *fakeChain) Execute([]byte, ResultFunc) error { return nil }
func (c *fakeChain) Close() error {
	if c.closed != nil {
		*c.closed = append(*c.closed, c.id)
	}
	return nil
}

func TestRegistry(t *testing.T) {
	var closed []string
	imp := &fakeChain{id: "import", importers: []string{"importer"}, closed: &closed}
	exp := &fakeChain{id: "export", exporters: []string{"exporter"}, closed: &closed}

	r, err := NewRegistry(imp, exp)
	if err != nil {
		t.Fatal(err)
	}

	in, err := r.ImportPort("import", "importer")
	if err != nil {
		t.Fatal(err)
	}
	if in.ChainID() != "import" || in.Element() != "importer" {
		t.Errorf("ImportPort = %s/%s", in.ChainID(), in.Element())
	}
	if _, err := in.Lease(); !errors.Is(err, ErrNoBuffer) {
		t.Errorf("Lease() through port = %v", err)
	}

	if _, err := r.ExportPort("export", "exporter"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.ImportPort("export", "importer"); !errors.Is(err, ErrUnknownElement) {
		t.Errorf("ImportPort on wrong chain = %v", err)
	}
	if _, err := r.ExportPort("missing", "exporter"); err == nil {
		t.Error("ExportPort on missing chain succeeded")
	}

	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"export", "import"}, closed); diff != "" {
		t.Errorf("close order (-want +got):\n%s", diff)
	}

	r.Clear()
	if r.Len() != 0 {
		t.Errorf("Len() after Clear = %d", r.Len())
	}

	if _, err := NewRegistry(imp, &fakeChain{id: "import"}); err == nil {
		t.Error("duplicate ids accepted")
	}
}

type fakeBackend struct {
	name    string
	inits   int
	deinits *[]string
	global  json.RawMessage
}

func (b *fakeBackend) Name() string { return b.name }
func (b *fakeBackend) Init(global json.RawMessage) error {
	b.inits++
	b.global = global
	return nil
}
func (b *fakeBackend) NewChain(def config.ChainConfig, _ ErrorFunc) (Chain, error) {
	return &fakeChain{id: def.ID}, nil
}
func (b *fakeBackend) Deinit() error {
	*b.deinits = append(*b.deinits, b.name)
	return nil
}

func TestRuntime(t *testing.T) {
	var deinits []string
	gst := &fakeBackend{name: "gstreamer", deinits: &deinits}
	syn := &fakeBackend{name: "synthetic", deinits: &deinits}
	x := &fakeBackend{name: "x11", deinits: &deinits}
	r := NewRuntime(gst, syn, x)

	if _, err := r.NewChain(config.ChainConfig{ID: "a"}, nil); err == nil {
		t.Fatal("NewChain before Initialize succeeded")
	}

	global := json.RawMessage(`{"default_kind": "synthetic"}`)
	if err := r.Initialize(global); err != nil {
		t.Fatal(err)
	}

	if _, err := r.NewChain(config.ChainConfig{ID: "a"}, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := r.NewChain(config.ChainConfig{ID: "b"}, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := r.NewChain(config.ChainConfig{ID: "c", Kind: "gstreamer"}, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := r.NewChain(config.ChainConfig{ID: "d", Kind: "nope"}, nil); err == nil {
		t.Error("unknown kind accepted")
	}

	if syn.inits != 1 || gst.inits != 1 || x.inits != 0 {
		t.Errorf("inits synthetic=%d gstreamer=%d x11=%d", syn.inits, gst.inits, x.inits)
	}
	if string(syn.global) != string(global) {
		t.Errorf("backend saw global %s", syn.global)
	}

	if err := r.Finalize(); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"gstreamer", "synthetic"}, deinits); diff != "" {
		t.Errorf("deinit order (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"gstreamer", "synthetic", "x11"}, r.Kinds()); diff != "" {
		t.Errorf("Kinds (-want +got):\n%s", diff)
	}
}
