package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/jeongseonghan/bersim/internal/analysis"
	"github.com/jeongseonghan/bersim/internal/channel"
	"github.com/jeongseonghan/bersim/internal/logger"
	"github.com/jeongseonghan/bersim/internal/modem"
	"github.com/jeongseonghan/bersim/internal/report"
	"github.com/jeongseonghan/bersim/internal/sim"
)

// Handlers holds the HTTP API handlers.
type Handlers struct {
	jobs    *JobManager
	wsHub   *WSHub
	report  report.Options
	version string
	log     zerolog.Logger
}

// NewHandlers creates new API handlers.
func NewHandlers(jobs *JobManager, hub *WSHub, opts report.Options, version string, log zerolog.Logger) *Handlers {
	return &Handlers{
		jobs:    jobs,
		wsHub:   hub,
		report:  opts,
		version: version,
		log:     logger.Component(log, "api"),
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, sim.ErrInvalidConfig), errors.Is(err, ErrTooLarge):
		return http.StatusBadRequest
	case errors.Is(err, ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrJobFinished), errors.Is(err, ErrNotReady):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// HandleWebSocket handles WebSocket upgrade requests.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("WebSocket upgrade error")
		return
	}

	h.wsHub.AddClient(conn)

	// Read messages until the client goes away
	go func() {
		defer h.wsHub.RemoveClient(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

// HandleSubmit queues a new sweep. Fields missing from the body keep the
// default configuration.
func (h *Handlers) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	cfg := sim.DefaultConfig()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("parse request: %w", err))
		return
	}

	job, err := h.jobs.Submit(cfg)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, job.Info())
}

// HandleList returns every sweep.
func (h *Handlers) HandleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.jobs.List())
}

// SweepResponse is the body of GET /api/sweeps/{id}.
type SweepResponse struct {
	JobInfo
	Report *report.Report `json:"report,omitempty"`
}

// HandleGet returns one sweep, with its report once completed.
func (h *Handlers) HandleGet(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	resp := SweepResponse{JobInfo: job.Info()}
	if resp.Status == StatusCompleted {
		res, err := job.Result()
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		rep, err := report.Build(res, h.report)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		resp.Report = rep
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleCancel cancels a pending or running sweep.
func (h *Handlers) HandleCancel(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.Cancel(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	h.wsHub.BroadcastLog("info", fmt.Sprintf("Cancel requested for sweep %s", job.id))
	writeJSON(w, http.StatusAccepted, job.Info())
}

func (h *Handlers) completedResult(w http.ResponseWriter, r *http.Request) (*sim.Result, bool) {
	job, err := h.jobs.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return nil, false
	}
	res, err := job.Result()
	if err != nil {
		writeError(w, statusFor(err), err)
		return nil, false
	}
	return res, true
}

// GainsResponse is the body of GET /api/sweeps/{id}/gains.
type GainsResponse struct {
	SNRdB      float64              `json:"snrDb"`
	Magnitudes []float64            `json:"magnitudes"`
	Analysis   *analysis.GainReport `json:"analysis"`
}

// HandleGains returns the retained fading gain magnitudes and their fit.
func (h *Handlers) HandleGains(w http.ResponseWriter, r *http.Request) {
	res, ok := h.completedResult(w, r)
	if !ok {
		return
	}
	if res.Gains == nil {
		writeError(w, http.StatusNotFound, errors.New("sweep retained no fading gains"))
		return
	}

	opts := h.report
	if opts.Alpha <= 0 {
		opts.Alpha = analysis.DefaultAlpha
	}
	if opts.Bins <= 0 {
		opts.Bins = analysis.DefaultBins
	}
	fit, err := analysis.AnalyzeGains(res.Gains.SNRdB, res.Gains.Magnitudes, opts.Alpha, opts.Bins)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, GainsResponse{
		SNRdB:      res.Gains.SNRdB,
		Magnitudes: res.Gains.Magnitudes,
		Analysis:   fit,
	})
}

// HandleConstellation returns the retained AWGN symbol pairs. With ?snr= it
// returns the snapshot nearest to that setting.
func (h *Handlers) HandleConstellation(w http.ResponseWriter, r *http.Request) {
	res, ok := h.completedResult(w, r)
	if !ok {
		return
	}

	q := r.URL.Query().Get("snr")
	if q == "" {
		writeJSON(w, http.StatusOK, res.Constellations)
		return
	}
	db, err := strconv.ParseFloat(q, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("snr: %w", err))
		return
	}
	snap, ok := res.Constellation(db)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("no constellation snapshot near %g dB", db))
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// TheoryResponse is the body of GET /api/theory.
type TheoryResponse struct {
	Modulation string          `json:"modulation"`
	Variant    channel.Variant `json:"variant"`
	SNRdB      []float64       `json:"snrDb"`
	BER        []float64       `json:"ber"`
}

func queryFloat(r *http.Request, key string, def float64) (float64, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

// HandleTheory evaluates the closed-form BER over a sweep.
func (h *Handlers) HandleTheory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	def := sim.DefaultConfig()

	mod := modem.ModQPSK
	if s := q.Get("modulation"); s != "" {
		m, err := modem.ParseModulation(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		mod = m
	}

	v := channel.AWGN
	if s := q.Get("variant"); s != "" {
		parsed, err := channel.ParseVariant(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		v = parsed
	}

	minDB, err := queryFloat(r, "min", def.SNRMinDB)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	maxDB, err := queryFloat(r, "max", def.SNRMaxDB)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	points := def.Points
	if s := q.Get("points"); s != "" {
		if points, err = strconv.Atoi(s); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("points: %w", err))
			return
		}
	}

	if err := h.jobs.Limits().CheckPoints(points); err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	// Reuse the sweep validation of a real configuration.
	cfg := def
	cfg.Order, cfg.SNRMinDB, cfg.SNRMaxDB, cfg.Points = mod.Order(), minDB, maxDB, points
	if err := cfg.Validate(); err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	sweep := sim.NewSweep(minDB, maxDB, points)
	ber, err := analysis.TheoryCurve(mod, v, sweep)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, TheoryResponse{
		Modulation: mod.String(),
		Variant:    v,
		SNRdB:      sweep,
		BER:        ber,
	})
}

// HandleStatus returns service status.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"version": h.version,
		"sweeps":  h.jobs.Counts(),
		"clients": h.wsHub.Clients(),
	})
}
