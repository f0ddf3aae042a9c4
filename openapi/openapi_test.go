package openapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/journeyos/godeye/binder"
	"github.com/journeyos/godeye/godeye"
	"github.com/journeyos/godeye/openapi"
	godeyeapi "github.com/journeyos/godeye/openapi/godeye"
	"github.com/journeyos/godeye/openapi/response"
	vrrapi "github.com/journeyos/godeye/openapi/vrr"
	"github.com/journeyos/godeye/vrr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type rateRecorder struct {
	mu    sync.Mutex
	rates []float32
}

func (r *rateRecorder) SetRefreshRate(ctx context.Context, rate float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rates = append(r.rates, rate)
}

func (r *rateRecorder) got() []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]float32(nil), r.rates...)
}

type fixture struct {
	mgr     *godeye.Manager
	rates   *rateRecorder
	handler http.Handler
}

func newFixture(t *testing.T) *fixture {
	mgr := godeye.NewManager()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = mgr.Shutdown(ctx)
	})
	rates := &rateRecorder{}
	srv := openapi.New(openapi.Options{
		Manager:  mgr,
		Setter:   rates,
		Window:   vrr.NewWindowState(rates),
		Services: func() []string { return []string{"SurfaceFlinger", "godeye"} },
	})
	return &fixture{mgr: mgr, rates: rates, handler: srv.Handler()}
}

func (f *fixture) request(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	var err error
	if body == "" {
		req, err = http.NewRequest(method, path, nil)
	} else {
		req, err = http.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	require.NoError(t, err)
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	w := f.request(t, http.MethodGet, "/v1/health", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp openapi.HealthResponse
	decode(t, w, &resp)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, []string{"SurfaceFlinger", "godeye"}, resp.Services)
}

func TestClientsAndCheck(t *testing.T) {
	f := newFixture(t)
	m := godeye.NewRemoteMonitor(binder.NewLocal(godeye.NewMonitorStub(godeye.MonitorFunc(func(uint64, int64, string) {}))))
	require.True(t, f.mgr.AddListener(7, m))
	f.mgr.SetFactor(7, godeye.FactorGame)

	w := f.request(t, http.MethodGet, "/v1/clients", "")
	require.Equal(t, http.StatusOK, w.Code)
	var clients godeyeapi.ClientsResponse
	decode(t, w, &clients)
	assert.Equal(t, 1, clients.Listeners)
	assert.Contains(t, clients.Dump, "[pid:7 ")
	assert.Contains(t, clients.Dump, "factors:2]")

	w = f.request(t, http.MethodGet, "/v1/clients/check?factors=game|app", "")
	require.Equal(t, http.StatusOK, w.Code)
	var check godeyeapi.CheckResponse
	decode(t, w, &check)
	assert.True(t, check.Listening)
	assert.Equal(t, godeye.FactorGame|godeye.FactorApp, check.Factors)

	w = f.request(t, http.MethodGet, "/v1/clients/check?factors=bogus", "")
	require.Equal(t, http.StatusBadRequest, w.Code)
	var errResp response.ErrorResponse
	decode(t, w, &errResp)
	assert.Equal(t, response.ErrInvalidRequest.Code, errResp.Code)
}

func TestNotify(t *testing.T) {
	f := newFixture(t)
	delivered := make(chan string, 1)
	m := godeye.NewRemoteMonitor(binder.NewLocal(godeye.NewMonitorStub(godeye.MonitorFunc(func(factor uint64, status int64, pkg string) {
		delivered <- pkg
	}))))
	require.True(t, f.mgr.AddListener(7, m))
	f.mgr.SetFactor(7, godeye.FactorVideo)

	w := f.request(t, http.MethodPost, "/v1/godeye/notify", `{"factors":"video","status":1,"package":"com.example.player"}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	var resp godeyeapi.NotifyResponse
	decode(t, w, &resp)
	assert.Equal(t, godeye.FactorVideo, resp.Factors)

	select {
	case pkg := <-delivered:
		assert.Equal(t, "com.example.player", pkg)
	case <-time.After(2 * time.Second):
		t.Fatal("notification not delivered")
	}

	w = f.request(t, http.MethodPost, "/v1/godeye/notify", `{"status":1}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRefreshRateAndWindow(t *testing.T) {
	f := newFixture(t)

	w := f.request(t, http.MethodPost, "/v1/vrr/refresh-rate", `{"rate":90}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	w = f.request(t, http.MethodPost, "/v1/vrr/refresh-rate", `{"rate":-1}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = f.request(t, http.MethodPost, "/v1/vrr/window", `{"pid":321,"rate":60}`)
	require.Equal(t, http.StatusOK, w.Code)
	var win vrrapi.WindowResponse
	decode(t, w, &win)
	assert.Equal(t, vrrapi.WindowResponse{Pid: 321, Rate: 60, Changed: true}, win)

	w = f.request(t, http.MethodPost, "/v1/vrr/window", `{"pid":321,"rate":60}`)
	decode(t, w, &win)
	assert.False(t, win.Changed)

	assert.Equal(t, []float32{90, 60}, f.rates.got())
}

func TestNotFound(t *testing.T) {
	f := newFixture(t)
	w := f.request(t, http.MethodGet, "/v1/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestClientOverUnixSocket(t *testing.T) {
	dir, err := os.MkdirTemp("", "adm")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "admin.sock")

	mgr := godeye.NewManager()
	defer mgr.Shutdown(context.Background()) //nolint:errcheck
	rates := &rateRecorder{}
	srv := openapi.New(openapi.Options{Manager: mgr, Setter: rates, Window: vrr.NewWindowState(rates)})

	ln, err := openapi.Listen(path)
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ln) }()
	defer func() {
		require.NoError(t, srv.Shutdown(context.Background()))
		require.NoError(t, <-done)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	client := openapi.NewClient(path)

	health, err := client.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ok", health.Status)

	clients, err := client.Clients(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, clients.Listeners)

	require.NoError(t, client.SetRefreshRate(ctx, 120))
	assert.Equal(t, []float32{120}, rates.got())

	_, err = client.Notify(ctx, godeyeapi.NotifyRequest{Factors: "nope"})
	var errResp *response.ErrorResponse
	require.ErrorAs(t, err, &errResp)
	assert.Equal(t, "invalid_request", errResp.Code)
}
