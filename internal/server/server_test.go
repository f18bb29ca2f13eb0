package server

import (
	"bytes"
	"encoding/json"
	"image/png"
	"io"
	"math/rand"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeongseonghan/qpsk-receiver/internal/iq"
	"github.com/jeongseonghan/qpsk-receiver/internal/modem"
	"github.com/jeongseonghan/qpsk-receiver/internal/raster"
)

func testParams() modem.Params {
	p := modem.DefaultParams()
	p.ImageWidth = 8
	p.ImageHeight = 8
	return p
}

func newTestServer(t *testing.T) (*httptest.Server, *Handlers) {
	t.Helper()
	h, err := NewHandlers(testParams(), log.NewWithOptions(io.Discard, log.Options{}))
	require.NoError(t, err)
	ts := httptest.NewServer(NewServer("", h, "", nil).Handler())
	t.Cleanup(ts.Close)
	return ts, h
}

// captureCF32 modulates payload into a clean capture encoded as cf32.
func captureCF32(t *testing.T, p modem.Params, payload []byte) []byte {
	t.Helper()
	mod, err := modem.NewModulator(p)
	require.NoError(t, err)
	tx, err := mod.GenerateFrame(payload, p.Preamble, modem.DefaultFrameOptions())
	require.NoError(t, err)
	rx := modem.ApplyImpairments(tx, p.SampleRate, modem.Impairments{Delay: mod.AlignmentDelay()})

	var buf bytes.Buffer
	require.NoError(t, iq.Write(&buf, rx, iq.FormatCF32))
	return buf.Bytes()
}

func postCapture(t *testing.T, url, filename, format string, data []byte) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	if format != "" {
		require.NoError(t, mw.WriteField("format", format))
	}
	require.NoError(t, mw.Close())

	resp, err := http.Post(url+"/api/decode", mw.FormDataContentType(), &body)
	require.NoError(t, err)
	return resp
}

func getJob(t *testing.T, url, id string) JobView {
	t.Helper()
	resp, err := http.Get(url + "/api/jobs/" + id)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var v JobView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestDecode_EndToEnd(t *testing.T) {
	ts, h := newTestServer(t)
	p := testParams()

	rng := rand.New(rand.NewSource(31))
	payload := make([]byte, p.PayloadBits())
	for i := range payload {
		payload[i] = byte(rng.Intn(2))
	}

	resp := postCapture(t, ts.URL, "capture.cf32", "", captureCF32(t, p, payload))
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var queued JobView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&queued))
	require.NotEmpty(t, queued.ID)
	assert.Equal(t, "capture.cf32", queued.Filename)

	h.Wait()

	job := getJob(t, ts.URL, queued.ID)
	require.Equal(t, JobDone, job.Status, "error: %s", job.Error)
	assert.True(t, job.HasImage)
	assert.False(t, job.Inverted)

	imgResp, err := http.Get(ts.URL + "/api/jobs/" + queued.ID + "/image")
	require.NoError(t, err)
	defer imgResp.Body.Close()
	require.Equal(t, http.StatusOK, imgResp.StatusCode)
	assert.Equal(t, "image/png", imgResp.Header.Get("Content-Type"))

	img, err := png.Decode(imgResp.Body)
	require.NoError(t, err)
	want, err := raster.Pack(payload, p.ImageWidth, p.ImageHeight, p.BitsPerPixel)
	require.NoError(t, err)
	assert.Equal(t, want.Bounds(), img.Bounds())
	assert.Equal(t, want.Pix, raster.ToGray(img).Pix)

	chartResp, err := http.Get(ts.URL + "/api/jobs/" + queued.ID + "/constellation")
	require.NoError(t, err)
	defer chartResp.Body.Close()
	require.Equal(t, http.StatusOK, chartResp.StatusCode)
	html, err := io.ReadAll(chartResp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(html), "echarts")
}

func TestDecode_FailedJob(t *testing.T) {
	ts, h := newTestServer(t)

	rng := rand.New(rand.NewSource(32))
	var lines []string
	for i := 0; i < 400; i++ {
		lines = append(lines, iq.FormatComplex(complex(rng.NormFloat64(), rng.NormFloat64())))
	}

	resp := postCapture(t, ts.URL, "noise.csv", "", []byte(strings.Join(lines, "\n")))
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var queued JobView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&queued))
	h.Wait()

	job := getJob(t, ts.URL, queued.ID)
	assert.Equal(t, JobFailed, job.Status)
	assert.Contains(t, job.Error, "synchronization")

	imgResp, err := http.Get(ts.URL + "/api/jobs/" + queued.ID + "/image")
	require.NoError(t, err)
	imgResp.Body.Close()
	assert.Equal(t, http.StatusConflict, imgResp.StatusCode)
}

func TestDecode_BadRequests(t *testing.T) {
	ts, _ := newTestServer(t)

	tests := []struct {
		name     string
		filename string
		format   string
		data     []byte
	}{
		{"unknown extension", "capture.wav", "", []byte{1, 2}},
		{"unknown format", "capture.bin", "flac", []byte{1, 2}},
		{"empty capture", "capture.cf32", "", nil},
		{"truncated cf32", "capture.cf32", "", []byte{1, 2, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postCapture(t, ts.URL, tt.filename, tt.format, tt.data)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}

	resp, err := http.Get(ts.URL + "/api/decode")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestJob_NotFound(t *testing.T) {
	ts, _ := newTestServer(t)

	for _, path := range []string{"/api/jobs/nope", "/api/jobs/nope/image", "/api/jobs/nope/constellation"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
	}
}

func TestStatus(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "idle", body["status"])
	assert.Equal(t, float64(testParams().PayloadBits()), body["payloadBits"])
	assert.Equal(t, "sign", body["labeling"])
}

func TestWebSocket_ReceivesProgress(t *testing.T) {
	ts, h := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return h.wsHub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	p := testParams()
	rng := rand.New(rand.NewSource(33))
	payload := make([]byte, p.PayloadBits())
	for i := range payload {
		payload[i] = byte(rng.Intn(2))
	}
	resp := postCapture(t, ts.URL, "capture.cf32", "", captureCF32(t, p, payload))
	resp.Body.Close()
	h.Wait()

	seen := map[string]bool{}
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for !seen["status:done"] {
		var msg struct {
			Type    string          `json:"type"`
			Payload json.RawMessage `json:"payload"`
		}
		require.NoError(t, conn.ReadJSON(&msg))
		key := msg.Type
		if msg.Type == "status" {
			var st map[string]string
			require.NoError(t, json.Unmarshal(msg.Payload, &st))
			key += ":" + st["status"]
		}
		seen[key] = true
	}
	assert.True(t, seen["log"])
	assert.True(t, seen["progress"])
	assert.True(t, seen["status:running"])
}
