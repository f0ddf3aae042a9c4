package godeye_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/journeyos/godeye/binder"
	"github.com/journeyos/godeye/godeye"
	"github.com/journeyos/godeye/parcel"
	"github.com/journeyos/godeye/servicemanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type event struct {
	factor uint64
	status int64
	pkg    string
}

type recorder struct {
	mu     sync.Mutex
	events []event
}

func (r *recorder) OnFactorChanged(factor uint64, status int64, packageName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event{factor, status, packageName})
}

func (r *recorder) got() []event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event(nil), r.events...)
}

func newManager(t *testing.T) *godeye.Manager {
	mgr := godeye.NewManager()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = mgr.Shutdown(ctx)
	})
	return mgr
}

func localMonitor(r *recorder) (*godeye.RemoteMonitor, *binder.Local) {
	b := binder.NewLocal(godeye.NewMonitorStub(r))
	return godeye.NewRemoteMonitor(b), b
}

func flush(t *testing.T, mgr *godeye.Manager) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, mgr.Sync(ctx))
}

func TestParseFactors(t *testing.T) {
	tests := []struct {
		in   string
		want uint64
	}{
		{"app", godeye.FactorApp},
		{"game|video", godeye.FactorGame | godeye.FactorVideo},
		{"Touch, screen", godeye.FactorTouch | godeye.FactorScreen},
		{"0x10", 0x10},
		{"3", 3},
		{"app|0x100", godeye.FactorApp | 0x100},
		{"all", godeye.FactorAll},
	}
	for _, tt := range tests {
		got, err := godeye.ParseFactors(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	for _, bad := range []string{"", "warp", "-1"} {
		_, err := godeye.ParseFactors(bad)
		assert.Error(t, err, bad)
	}
}

func TestFactorString(t *testing.T) {
	assert.Equal(t, "none", godeye.FactorString(0))
	assert.Equal(t, "app|game", godeye.FactorString(godeye.FactorApp|godeye.FactorGame))
	assert.Equal(t, "refresh_rate|0x100", godeye.FactorString(godeye.FactorRefreshRate|0x100))
	assert.Equal(t, uint64(0xff), godeye.FactorAll)
}

func TestManager_NotifyReachesInterestedMonitors(t *testing.T) {
	mgr := newManager(t)
	r1, r2 := &recorder{}, &recorder{}
	m1, _ := localMonitor(r1)
	m2, _ := localMonitor(r2)

	require.True(t, mgr.AddListener(10, m1))
	require.True(t, mgr.AddListener(20, m2))
	mgr.SetFactor(10, godeye.FactorApp)
	mgr.SetFactor(20, godeye.FactorGame)

	mgr.NotifyFactorChanged(godeye.FactorApp, 1, "com.example.app")
	flush(t, mgr)
	assert.Equal(t, []event{{godeye.FactorApp, 1, "com.example.app"}}, r1.got())
	assert.Empty(t, r2.got())

	mgr.UpdateFactor(20, godeye.FactorApp)
	mgr.NotifyFactorChanged(godeye.FactorApp, 0, "com.example.app")
	flush(t, mgr)
	assert.Len(t, r1.got(), 2)
	assert.Len(t, r2.got(), 1)

	assert.True(t, mgr.CheckFactor(godeye.FactorGame))
	mgr.RemoveFactor(20, godeye.FactorGame)
	assert.False(t, mgr.CheckFactor(godeye.FactorGame))
	factors, ok := mgr.Factors(20)
	require.True(t, ok)
	assert.Equal(t, godeye.FactorApp, factors)
}

func TestManager_DeadMonitor(t *testing.T) {
	mgr := newManager(t)
	r := &recorder{}
	m, b := localMonitor(r)

	require.True(t, mgr.AddListener(10, m))
	mgr.SetFactor(10, godeye.FactorTouch)
	b.Kill()

	assert.Equal(t, 0, mgr.Len())
	assert.False(t, mgr.CheckFactor(godeye.FactorTouch))
	assert.True(t, mgr.RemoveListener(m))
	assert.False(t, mgr.AddListener(10, m))
}

func TestManager_DeliveryFailureDoesNotRemove(t *testing.T) {
	mgr := newManager(t)
	broken := binder.NewLocal(binder.StubFunc(func(ctx context.Context, code uint32, data, reply *parcel.Parcel, flags uint32) error {
		return binder.ErrTransactionFailed
	}))
	r := &recorder{}
	good, _ := localMonitor(r)

	require.True(t, mgr.AddListener(10, godeye.NewRemoteMonitor(broken)))
	require.True(t, mgr.AddListener(20, good))
	mgr.SetFactor(10, godeye.FactorVideo)
	mgr.SetFactor(20, godeye.FactorVideo)

	mgr.NotifyFactorChanged(godeye.FactorVideo, 1, "")
	flush(t, mgr)
	assert.Len(t, r.got(), 1)
	assert.Equal(t, 2, mgr.Len())
}

func TestManager_Dump(t *testing.T) {
	mgr := newManager(t)
	m, b := localMonitor(&recorder{})
	require.True(t, mgr.AddListener(42, m))
	mgr.SetFactor(42, 0xab)

	assert.Equal(t, "1 listeners:\n[pid:42 listener:"+b.String()+" factors:ab]\n", mgr.Dump())
}

func TestStub_RejectsInProcessListener(t *testing.T) {
	mgr := newManager(t)
	svc := godeye.NewStub(mgr).Binder()

	data := parcel.Obtain()
	defer data.Recycle()
	reply := parcel.Obtain()
	defer reply.Recycle()
	data.WriteInterfaceToken(godeye.ServiceDescriptor)
	data.WriteObject("monitor-1")

	err := svc.Transact(context.Background(), godeye.TransactAddListener, data, reply, 0)
	assert.ErrorIs(t, err, godeye.ErrNotRemote)

	data.SetBytes(nil)
	data.WriteInterfaceToken("wrong")
	err = svc.Transact(context.Background(), godeye.TransactCheckFactor, data, reply, 0)
	assert.ErrorIs(t, err, parcel.ErrBadInterface)
}

// startDaemon publishes GodEye on a temp socket the way the start command
// does.
func startDaemon(t *testing.T) (*godeye.Manager, *binder.Server) {
	t.Helper()
	dir, err := os.MkdirTemp("", "gde")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	mgr := newManager(t)
	sm := servicemanager.New()
	require.NoError(t, sm.AddService(godeye.ServiceName, godeye.NewStub(mgr).Binder()))

	srv, err := binder.Listen(filepath.Join(dir, "godeye.sock"), sm.GetService)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return mgr, srv
}

func TestClient_EndToEnd(t *testing.T) {
	mgr, srv := startDaemon(t)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	client, err := godeye.Dial(ctx, srv.Path())
	require.NoError(t, err)

	events := make(chan event, 4)
	id, err := client.AddListener(ctx, godeye.MonitorFunc(func(factor uint64, status int64, pkg string) {
		events <- event{factor, status, pkg}
	}))
	require.NoError(t, err)
	assert.Equal(t, 1, mgr.Len())

	ok, err := client.SetFactor(ctx, godeye.FactorGame|godeye.FactorApp)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = client.RemoveFactor(ctx, godeye.FactorApp)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = client.UpdateFactor(ctx, godeye.FactorThermal)
	require.NoError(t, err)
	assert.True(t, ok)

	factors, found := mgr.Factors(os.Getpid())
	require.True(t, found)
	assert.Equal(t, godeye.FactorGame|godeye.FactorThermal, factors)

	ok, err = client.CheckFactor(ctx, godeye.FactorApp)
	require.NoError(t, err)
	assert.False(t, ok)

	mgr.NotifyFactorChanged(godeye.FactorApp, 1, "ignored")
	mgr.NotifyFactorChanged(godeye.FactorGame, 2, "com.example.game")
	select {
	case ev := <-events:
		assert.Equal(t, event{godeye.FactorGame, 2, "com.example.game"}, ev)
	case <-ctx.Done():
		t.Fatal("callback not delivered")
	}

	require.NoError(t, client.RemoveListener(ctx, id))
	assert.Equal(t, 0, mgr.Len())

	_, err = client.AddListener(ctx, godeye.MonitorFunc(func(uint64, int64, string) {}))
	require.NoError(t, err)
	assert.Equal(t, 1, mgr.Len())

	// The daemon drops the monitors of a process that goes away.
	require.NoError(t, client.Close())
	assert.Eventually(t, func() bool { return mgr.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestClient_StalledMonitorDoesNotStarveOthers(t *testing.T) {
	mgr, srv := startDaemon(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := godeye.Dial(ctx, srv.Path())
	require.NoError(t, err)
	defer client.Close() //nolint:errcheck

	release := make(chan struct{})
	defer close(release)
	_, err = client.AddListener(ctx, godeye.MonitorFunc(func(uint64, int64, string) {
		<-release
	}))
	require.NoError(t, err)
	_, err = client.SetFactor(ctx, godeye.FactorGame)
	require.NoError(t, err)

	const healthyPid = 424242
	r := &recorder{}
	m, _ := localMonitor(r)
	require.True(t, mgr.AddListener(healthyPid, m))
	require.True(t, mgr.SetFactor(healthyPid, godeye.FactorApp))

	for i := 0; i < 5000; i++ {
		mgr.NotifyFactorChanged(godeye.FactorGame, int64(i), "com.example.game")
	}
	mgr.NotifyFactorChanged(godeye.FactorApp, 1, "com.example.app")

	assert.Eventually(t, func() bool {
		return len(r.got()) == 1
	}, 5*time.Second, 10*time.Millisecond, "callback to a healthy listener was held up")
	assert.Equal(t, []event{{godeye.FactorApp, 1, "com.example.app"}}, r.got())
}

func TestClient_MonitorMayCallItsClient(t *testing.T) {
	mgr, srv := startDaemon(t)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	client, err := godeye.Dial(ctx, srv.Path())
	require.NoError(t, err)
	defer client.Close() //nolint:errcheck

	updated := make(chan error, 1)
	_, err = client.AddListener(ctx, godeye.MonitorFunc(func(factor uint64, status int64, pkg string) {
		_, err := client.UpdateFactor(ctx, godeye.FactorVideo)
		updated <- err
	}))
	require.NoError(t, err)
	_, err = client.SetFactor(ctx, godeye.FactorScreen)
	require.NoError(t, err)

	mgr.NotifyFactorChanged(godeye.FactorScreen, 1, "com.example.player")
	select {
	case err := <-updated:
		require.NoError(t, err)
	case <-ctx.Done():
		t.Fatal("callback never finished")
	}

	factors, found := mgr.Factors(os.Getpid())
	require.True(t, found)
	assert.Equal(t, godeye.FactorScreen|godeye.FactorVideo, factors)
}

func TestClient_RemoveListenerReleasesProxy(t *testing.T) {
	mgr, srv := startDaemon(t)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	client, err := godeye.Dial(ctx, srv.Path())
	require.NoError(t, err)
	defer client.Close() //nolint:errcheck

	for i := 0; i < 20; i++ {
		id, err := client.AddListener(ctx, godeye.MonitorFunc(func(uint64, int64, string) {}))
		require.NoError(t, err)
		require.NoError(t, client.RemoveListener(ctx, id))
	}
	kept, err := client.AddListener(ctx, godeye.MonitorFunc(func(uint64, int64, string) {}))
	require.NoError(t, err)
	assert.NotEmpty(t, kept)
	assert.Equal(t, 1, mgr.Len())

	peers := srv.Peers()
	require.Len(t, peers, 1)
	assert.Equal(t, 1, peers[0].Proxies())
}
