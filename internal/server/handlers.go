package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/jeongseonghan/qpsk-receiver/internal/iq"
	"github.com/jeongseonghan/qpsk-receiver/internal/modem"
	"github.com/jeongseonghan/qpsk-receiver/internal/raster"
)

// MaxUploadBytes caps the size of an uploaded capture.
const MaxUploadBytes = 256 << 20

// stageOrder gives each receiver stage its share of the progress bar.
var stageOrder = map[modem.Stage]int{
	modem.StageRaw:           0,
	modem.StageMatchedFilter: 1,
	modem.StageCoarseSync:    2,
	modem.StageTiming:        3,
	modem.StageCarrier:       4,
}

// Handlers holds the HTTP API handlers.
type Handlers struct {
	params modem.Params
	jobs   *JobStore
	wsHub  *WSHub
	logger *log.Logger
	wg     sync.WaitGroup
}

// NewHandlers creates API handlers that decode with params.
func NewHandlers(params modem.Params, logger *log.Logger) (*Handlers, error) {
	if logger == nil {
		logger = log.Default()
	}
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("receiver parameters: %w", err)
	}
	return &Handlers{
		params: params,
		jobs:   NewJobStore(),
		wsHub:  NewWSHub(logger),
		logger: logger,
	}, nil
}

// Wait blocks until every started decode job has finished.
func (h *Handlers) Wait() {
	h.wg.Wait()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// HandleWebSocket handles WebSocket upgrade requests.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade", "err", err)
		return
	}

	h.wsHub.AddClient(conn)

	// Read messages (for potential commands from client)
	go func() {
		defer h.wsHub.RemoveClient(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

// HandleDecode accepts a capture upload and starts a decode job.
func (h *Handlers) HandleDecode(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("parse form: %v", err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("get file: %v", err))
		return
	}
	defer file.Close()

	var format iq.Format
	if f := r.FormValue("format"); f != "" {
		format, err = iq.ParseFormat(f)
	} else {
		format, err = iq.FormatFromPath(header.Filename)
	}
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	samples, err := iq.Read(file, format)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("read capture: %v", err))
		return
	}

	job := h.jobs.Create(header.Filename, len(samples))
	h.logger.Info("decode job queued", "job", job.ID, "file", header.Filename, "samples", len(samples), "format", format)
	h.wsHub.BroadcastLog("info", fmt.Sprintf("Capture uploaded: %s (%d samples)", header.Filename, len(samples)))

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.runJob(job.ID, samples)
	}()

	writeJSON(w, http.StatusAccepted, job.View())
}

// jobObserver forwards receiver stages to the job store and websocket clients.
type jobObserver struct {
	h     *Handlers
	jobID string
}

func (o jobObserver) OnSamples(stage modem.Stage, samples []complex128) {
	o.h.jobs.Update(o.jobID, func(j *Job) { j.Stage = stage })
	progress := float64(stageOrder[stage]+1) / float64(len(stageOrder)+1)
	o.h.wsHub.BroadcastProgress(o.jobID, string(stage), fmt.Sprintf("%d samples", len(samples)), progress)
}

func (o jobObserver) OnTrace(string, []float64) {}

func (h *Handlers) runJob(id string, samples []complex128) {
	h.jobs.Update(id, func(j *Job) { j.Status = JobRunning })
	h.wsHub.BroadcastStatus(id, string(JobRunning), "Decoding capture...")

	logger := h.logger.With("job", id)
	rx, err := modem.NewReceiver(h.params, modem.WithLogger(logger), modem.WithObserver(jobObserver{h: h, jobID: id}))
	if err != nil {
		h.failJob(id, err)
		return
	}

	res, err := rx.Receive(samples)
	if err != nil {
		h.failJob(id, err)
		return
	}

	img, err := raster.Pack(res.Payload, h.params.ImageWidth, h.params.ImageHeight, h.params.BitsPerPixel)
	if err != nil {
		h.failJob(id, err)
		return
	}

	h.jobs.Update(id, func(j *Job) {
		j.Status = JobDone
		j.DoneAt = time.Now()
		j.Estimate = res.Estimate
		j.Frame = res.Frame
		j.Symbols = decimateSymbols(res.Symbols)
		j.Image = img
	})
	logger.Info("decode job finished", "offset_hz", res.Estimate.OffsetHz, "payload_start", res.Frame.PayloadStart)
	h.wsHub.BroadcastStatus(id, string(JobDone), "Image decoded")
}

func (h *Handlers) failJob(id string, err error) {
	h.jobs.Update(id, func(j *Job) {
		j.Status = JobFailed
		j.Error = err.Error()
		j.DoneAt = time.Now()
	})

	level := log.ErrorLevel
	if errors.Is(err, modem.ErrSynchronization) || errors.Is(err, modem.ErrInsufficientSamples) {
		level = log.WarnLevel
	}
	h.logger.Log(level, "decode job failed", "job", id, "err", err)
	h.wsHub.BroadcastStatus(id, string(JobFailed), err.Error())
}

// HandleJob returns the state of one job.
func (h *Handlers) HandleJob(w http.ResponseWriter, r *http.Request) {
	job, ok := h.jobs.Get(r.PathValue("id"))
	if !ok {
		writeJSONError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job.View())
}

// HandleJobImage serves the decoded picture as PNG.
func (h *Handlers) HandleJobImage(w http.ResponseWriter, r *http.Request) {
	job, ok := h.jobs.Get(r.PathValue("id"))
	if !ok {
		writeJSONError(w, http.StatusNotFound, "job not found")
		return
	}
	if job.Image == nil {
		writeJSONError(w, http.StatusConflict, fmt.Sprintf("job is %s", job.Status))
		return
	}

	var buf bytes.Buffer
	if err := raster.EncodePNG(&buf, job.Image); err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", job.ID+".png"))
	_, _ = w.Write(buf.Bytes())
}

// HandleConstellation renders the carrier-corrected symbols as an HTML chart.
func (h *Handlers) HandleConstellation(w http.ResponseWriter, r *http.Request) {
	job, ok := h.jobs.Get(r.PathValue("id"))
	if !ok {
		writeJSONError(w, http.StatusNotFound, "job not found")
		return
	}
	if job.Status != JobDone {
		writeJSONError(w, http.StatusConflict, fmt.Sprintf("job is %s", job.Status))
		return
	}

	points := make([]opts.ScatterData, 0, len(job.Symbols))
	maxAbs := 0.0
	for _, s := range job.Symbols {
		maxAbs = math.Max(maxAbs, math.Max(math.Abs(real(s)), math.Abs(imag(s))))
		points = append(points, opts.ScatterData{Value: []interface{}{real(s), imag(s)}})
	}
	pad := maxAbs * 1.1
	if pad == 0 {
		pad = 1.0
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "QPSK constellation", Width: "700px", Height: "700px"}),
		charts.WithTitleOpts(opts.Title{Title: "Constellation after carrier tracking", Subtitle: fmt.Sprintf("job=%s symbols=%d offset=%.1f Hz", job.ID, len(points), job.Estimate.OffsetHz)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: -pad, Max: pad, Name: "I", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: -pad, Max: pad, Name: "Q", NameLocation: "middle", NameGap: 30}),
	)
	scatter.AddSeries("symbols", points, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 3}))

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render constellation: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// HandleStatus reports job counts and the active receiver configuration.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	counts := h.jobs.Counts()
	status := "idle"
	if counts[JobRunning]+counts[JobQueued] > 0 {
		status = "busy"
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      status,
		"jobs":        counts,
		"clients":     h.wsHub.Clients(),
		"sampleRate":  h.params.SampleRate,
		"payloadBits": h.params.PayloadBits(),
		"labeling":    h.params.Labeling.String(),
	})
}
