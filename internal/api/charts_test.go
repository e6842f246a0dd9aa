package api

import (
	"bytes"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngMagic = []byte{0x89, 'P', 'N', 'G'}

func TestDetectionsChart(t *testing.T) {
	env := newTestEnv(t)
	env.addDetection(t, "a", "HEALTHY", 0.9, epoch)
	env.addDetection(t, "b", "DISEASED", 0.95, epoch)
	env.loop.stats.Idle()

	w := env.do(t, http.MethodGet, "/charts/detections", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/html; charset=utf-8", w.Header().Get("Content-Type"))

	body := w.Body.String()
	assert.Contains(t, body, echartsAssetsPrefix)
	assert.Contains(t, body, "Detections by label")
	assert.Contains(t, body, "total=2")
	assert.Contains(t, body, "Loop outcomes")
}

func TestConfidenceHistogram(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/charts/confidence.png", "")
	require.Equal(t, http.StatusOK, w.Code, "renders with no data")
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), pngMagic))

	env.addDetection(t, "a", "HEALTHY", 0.82, epoch)
	env.addDetection(t, "b", "HEALTHY", 0.91, epoch)
	env.addDetection(t, "c", "DISEASED", 0.99, epoch)

	for _, q := range []string{"", "?label=HEALTHY", "?label=DISEASED"} {
		w = env.do(t, http.MethodGet, "/charts/confidence.png"+q, "")
		require.Equal(t, http.StatusOK, w.Code, q)
		assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
		assert.True(t, bytes.HasPrefix(w.Body.Bytes(), pngMagic), q)
	}

	w = env.do(t, http.MethodGet, "/charts/confidence.png?label=PURPLE", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestConfidencePlot(t *testing.T) {
	p, err := confidencePlot([]float64{0.8, 0.85, 0.9}, "HEALTHY")
	require.NoError(t, err)
	assert.Equal(t, "Detection confidence (HEALTHY), n=3", p.Title.Text)
	assert.Equal(t, 0.0, p.X.Min)
	assert.Equal(t, 1.0, p.X.Max)
}
