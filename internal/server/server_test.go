package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeongseonghan/bersim/internal/report"
	"github.com/jeongseonghan/bersim/internal/sim"
)

type testEnv struct {
	ts   *httptest.Server
	jobs *JobManager
	hub  *WSHub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := zerolog.Nop()
	metrics := NewMetrics()
	hub := NewWSHub(log, metrics)
	jobs := NewJobManager(2, Limits{MaxTrials: 50000, MaxPoints: 400, MaxTotalTrials: 10000000}, hub, metrics, log)
	handlers := NewHandlers(jobs, hub, report.Options{Bins: 20}, "test", log)
	srv := NewServer("127.0.0.1:0", handlers, metrics, log)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		jobs.Shutdown(ctx)
	})
	return &testEnv{ts: ts, jobs: jobs, hub: hub}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, rd)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func smallConfig() map[string]interface{} {
	return map[string]interface{}{
		"order":    4,
		"snrMinDb": -4,
		"snrMaxDb": 8,
		"points":   4,
		"trials":   300,
		"seed":     7,
		"variants": []string{"awgn", "rayleigh"},
	}
}

func submit(t *testing.T, e *testEnv, cfg interface{}) JobInfo {
	t.Helper()
	resp, data := e.do(t, http.MethodPost, "/api/sweeps", cfg)
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(data))

	var info JobInfo
	require.NoError(t, json.Unmarshal(data, &info))
	return info
}

func waitDone(t *testing.T, e *testEnv, id string) {
	t.Helper()
	job, err := e.jobs.Get(id)
	require.NoError(t, err)
	select {
	case <-job.Done():
	case <-time.After(30 * time.Second):
		t.Fatalf("sweep %s did not finish", id)
	}
}

func TestSubmitAndGet(t *testing.T) {
	e := newTestEnv(t)
	info := submit(t, e, smallConfig())
	assert.NotEmpty(t, info.ID)
	assert.Equal(t, 8, info.Total)

	waitDone(t, e, info.ID)

	resp, data := e.do(t, http.MethodGet, "/api/sweeps/"+info.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Status    string         `json:"status"`
		Completed int            `json:"completed"`
		Progress  float64        `json:"progress"`
		Report    *report.Report `json:"report"`
	}
	require.NoError(t, json.Unmarshal(data, &body))
	assert.Equal(t, "completed", body.Status)
	assert.Equal(t, 8, body.Completed)
	assert.Equal(t, 1.0, body.Progress)
	require.NotNil(t, body.Report)
	require.Len(t, body.Report.Result.Curves, 2)
	assert.Len(t, body.Report.Theory, 2)
	assert.NotNil(t, body.Report.GainFit)
}

func TestSubmit_Invalid(t *testing.T) {
	e := newTestEnv(t)

	cfg := smallConfig()
	cfg["order"] = 16
	resp, data := e.do(t, http.MethodPost, "/api/sweeps", cfg)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(data), "order")

	cfg = smallConfig()
	cfg["trials"] = 0
	resp, _ = e.do(t, http.MethodPost, "/api/sweeps", cfg)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	cfg = smallConfig()
	cfg["trials"] = 1000000
	resp, data = e.do(t, http.MethodPost, "/api/sweeps", cfg)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(data), "limit")

	resp, _ = e.do(t, http.MethodPost, "/api/sweeps", map[string]interface{}{"bogus": 1})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	cfg = smallConfig()
	cfg["variants"] = []string{"rician"}
	resp, _ = e.do(t, http.MethodPost, "/api/sweeps", cfg)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	assert.Empty(t, e.jobs.List())
}

func TestGetUnknown(t *testing.T) {
	e := newTestEnv(t)
	for _, path := range []string{"/api/sweeps/nope", "/api/sweeps/nope/gains", "/api/sweeps/nope/constellation"} {
		resp, _ := e.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
	}
	resp, _ := e.do(t, http.MethodDelete, "/api/sweeps/nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGainsAndConstellation(t *testing.T) {
	e := newTestEnv(t)
	cfg := smallConfig()
	cfg["gainSnapshotDb"] = 0
	cfg["constellationDbs"] = []float64{-4, 8}
	info := submit(t, e, cfg)
	waitDone(t, e, info.ID)

	resp, data := e.do(t, http.MethodGet, "/api/sweeps/"+info.ID+"/gains", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	var gains GainsResponse
	require.NoError(t, json.Unmarshal(data, &gains))
	assert.Len(t, gains.Magnitudes, 300)
	assert.Equal(t, 0.0, gains.SNRdB)
	require.NotNil(t, gains.Analysis)
	assert.Len(t, gains.Analysis.Density, 20)

	resp, data = e.do(t, http.MethodGet, "/api/sweeps/"+info.ID+"/constellation", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var snaps []sim.ConstellationSnapshot
	require.NoError(t, json.Unmarshal(data, &snaps))
	require.Len(t, snaps, 2)

	resp, data = e.do(t, http.MethodGet, "/api/sweeps/"+info.ID+"/constellation?snr=7", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var snap sim.ConstellationSnapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	assert.Equal(t, 8.0, snap.SNRdB)
	assert.Len(t, snap.Received, 300)

	resp, _ = e.do(t, http.MethodGet, "/api/sweeps/"+info.ID+"/constellation?snr=0", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = e.do(t, http.MethodGet, "/api/sweeps/"+info.ID+"/constellation?snr=abc", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Finished sweeps cannot be cancelled.
	resp, _ = e.do(t, http.MethodDelete, "/api/sweeps/"+info.ID, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestGains_NoneRetained(t *testing.T) {
	e := newTestEnv(t)
	cfg := smallConfig()
	cfg["variants"] = []string{"awgn"}
	info := submit(t, e, cfg)
	waitDone(t, e, info.ID)

	resp, _ := e.do(t, http.MethodGet, "/api/sweeps/"+info.ID+"/gains", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCancel(t *testing.T) {
	e := newTestEnv(t)
	cfg := smallConfig()
	cfg["trials"] = 50000
	cfg["points"] = 61
	cfg["workers"] = 1

	info := submit(t, e, cfg)
	resp, data := e.do(t, http.MethodDelete, "/api/sweeps/"+info.ID, nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(data))
	waitDone(t, e, info.ID)

	job, err := e.jobs.Get(info.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, job.Info().Status)
	assert.NotNil(t, job.Info().Finished)

	resp, _ = e.do(t, http.MethodGet, "/api/sweeps/"+info.ID+"/gains", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestList(t *testing.T) {
	e := newTestEnv(t)
	a := submit(t, e, smallConfig())
	b := submit(t, e, smallConfig())
	waitDone(t, e, a.ID)
	waitDone(t, e, b.ID)

	resp, data := e.do(t, http.MethodGet, "/api/sweeps", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var infos []JobInfo
	require.NoError(t, json.Unmarshal(data, &infos))
	require.Len(t, infos, 2)

	ids := []string{infos[0].ID, infos[1].ID}
	assert.ElementsMatch(t, []string{a.ID, b.ID}, ids)
}

func TestTheory(t *testing.T) {
	e := newTestEnv(t)
	resp, data := e.do(t, http.MethodGet, "/api/theory?modulation=bpsk&variant=awgn&min=0&max=10&points=11", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))

	var body TheoryResponse
	require.NoError(t, json.Unmarshal(data, &body))
	assert.Equal(t, "BPSK", body.Modulation)
	require.Len(t, body.BER, 11)
	assert.InEpsilon(t, 3.872e-6, body.BER[10], 1e-3)

	resp, data = e.do(t, http.MethodGet, "/api/theory", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(data, &body))
	assert.Equal(t, "4-QAM", body.Modulation)
	assert.Len(t, body.BER, 31)

	for _, q := range []string{"modulation=8psk", "variant=rician", "min=x", "points=0", "min=5&max=1", "points=5000000"} {
		resp, _ = e.do(t, http.MethodGet, "/api/theory?"+q, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, q)
	}
}

func TestStatusAndMetrics(t *testing.T) {
	e := newTestEnv(t)
	info := submit(t, e, smallConfig())
	waitDone(t, e, info.ID)

	resp, data := e.do(t, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var status struct {
		Status  string         `json:"status"`
		Version string         `json:"version"`
		Sweeps  map[string]int `json:"sweeps"`
	}
	require.NoError(t, json.Unmarshal(data, &status))
	assert.Equal(t, "ok", status.Status)
	assert.Equal(t, "test", status.Version)
	assert.Equal(t, 1, status.Sweeps["completed"])

	resp, data = e.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	text := string(data)
	assert.Contains(t, text, `bersim_sweeps_total{status="completed"} 1`)
	assert.Contains(t, text, `bersim_trials_total{variant="awgn"} 1200`)
	assert.Contains(t, text, `bersim_cells_total 8`)
}

func TestWebSocketProgress(t *testing.T) {
	e := newTestEnv(t)

	wsURL := "ws" + strings.TrimPrefix(e.ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return e.hub.Clients() == 1 }, 5*time.Second, 10*time.Millisecond)

	info := submit(t, e, smallConfig())

	var progress, completed int
	conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	for completed == 0 {
		var msg struct {
			Type    string          `json:"type"`
			Payload ProgressPayload `json:"payload"`
		}
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Payload.JobID != info.ID {
			continue
		}
		switch msg.Type {
		case "progress":
			progress++
			require.NotNil(t, msg.Payload.Point)
			assert.NotEmpty(t, msg.Payload.Variant)
		case "status":
			if msg.Payload.Status == StatusCompleted {
				completed++
			}
		}
	}
	assert.Equal(t, 8, progress)
}

func TestSubmit_TooLarge(t *testing.T) {
	e := newTestEnv(t)

	cfg := smallConfig()
	cfg["points"] = 5000000
	resp, data := e.do(t, http.MethodPost, "/api/sweeps", cfg)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(data), "points")

	// 2 variants x 400 points x 20000 trials is over the total limit.
	cfg = smallConfig()
	cfg["points"] = 400
	cfg["trials"] = 20000
	resp, data = e.do(t, http.MethodPost, "/api/sweeps", cfg)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(data), "total trials")
	assert.Empty(t, e.jobs.List())
}

func TestWSHub_DropsStalledClient(t *testing.T) {
	e := newTestEnv(t)

	wsURL := "ws" + strings.TrimPrefix(e.ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return e.hub.Clients() == 1 }, 5*time.Second, 10*time.Millisecond)

	// The client never reads. Enough data to fill the socket buffers and
	// the queue must not hold up the broadcaster.
	big := strings.Repeat("x", 64<<10)
	start := time.Now()
	for i := 0; i < 400+sendBuffer; i++ {
		e.hub.BroadcastLog("info", big)
	}
	assert.Less(t, time.Since(start), 3*time.Second)
	require.Eventually(t, func() bool { return e.hub.Clients() == 0 }, 10*time.Second, 10*time.Millisecond)
}

func TestSweep_StalledClientDoesNotBlock(t *testing.T) {
	e := newTestEnv(t)

	wsURL := "ws" + strings.TrimPrefix(e.ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return e.hub.Clients() == 1 }, 5*time.Second, 10*time.Millisecond)

	cfg := smallConfig()
	cfg["points"] = 400
	cfg["trials"] = 50
	info := submit(t, e, cfg)

	job, err := e.jobs.Get(info.ID)
	require.NoError(t, err)
	select {
	case <-job.Done():
	case <-time.After(writeWait):
		t.Fatal("sweep stalled behind a client that does not read")
	}
	assert.Equal(t, StatusCompleted, job.Info().Status)
}
