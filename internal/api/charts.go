package api

import (
	"bytes"
	"fmt"
	"log"
	"net/http"
	"sort"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/leafpatrol/internal/httputil"
	"github.com/banshee-data/leafpatrol/internal/patrol"
)

// echartsAssetsPrefix is where rendered chart pages load echarts.min.js from.
const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// HistogramBins is the bin count of the confidence histogram.
const HistogramBins = 20

// detectionLabels orders the x axis; labels never stored still get a zero bar.
var detectionLabels = []string{string(patrol.LabelHealthy), string(patrol.LabelDiseased)}

// handleDetectionsChart renders detections per label and, when the loop is
// attached, the loop outcome counters.
func (s *Server) handleDetectionsChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	counts, err := s.db.DetectionCounts(r.Context())
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to count detections: %v", err))
		return
	}

	labels := append([]string(nil), detectionLabels...)
	for l := range counts {
		if l != string(patrol.LabelHealthy) && l != string(patrol.LabelDiseased) {
			labels = append(labels, l)
		}
	}
	sort.Strings(labels[len(detectionLabels):])

	y := make([]opts.BarData, 0, len(labels))
	total := 0
	for _, l := range labels {
		y = append(y, opts.BarData{Value: counts[l]})
		total += counts[l]
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Leaf detections", Width: "100%", Height: "480px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Detections by label", Subtitle: fmt.Sprintf("total=%d", total)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(labels).
		AddSeries("detections", y,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)

	page := components.NewPage()
	page.SetAssetsHost(echartsAssetsPrefix)
	page.AddCharts(bar)

	if s.loop != nil {
		snap := s.loop.Stats().Snapshot()
		outcomes := charts.NewBar()
		outcomes.SetGlobalOptions(
			charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "480px", AssetsHost: echartsAssetsPrefix}),
			charts.WithTitleOpts(opts.Title{Title: "Loop outcomes", Subtitle: fmt.Sprintf("cycles=%d", snap.Cycles)}),
			charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		)
		outcomes.SetXAxis([]string{"Idle", "Avoided", "No detection", "Capture failed", "Classify failed", "Sink failed"}).
			AddSeries("cycles", []opts.BarData{
				{Value: snap.Idle},
				{Value: snap.Avoidances},
				{Value: snap.NoDetections},
				{Value: snap.CaptureFailures},
				{Value: snap.ClassifyFailure},
				{Value: snap.SinkFailures},
			}, charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}))
		page.AddCharts(outcomes)
	}

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleConfidenceHistogram renders a PNG histogram of detection
// confidences. ?label= restricts it to one label.
func (s *Server) handleConfidenceHistogram(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	label := r.URL.Query().Get("label")
	if label != "" {
		if _, err := patrol.ParseLabel(label); err != nil {
			httputil.BadRequest(w, fmt.Sprintf("invalid 'label' parameter: %v", err))
			return
		}
	}

	values, err := s.db.Confidences(r.Context(), label)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to read confidences: %v", err))
		return
	}

	p, err := confidencePlot(values, label)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("plot error: %v", err))
		return
	}

	wt, err := p.WriterTo(8*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
		return
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	if _, err := w.Write(buf.Bytes()); err != nil {
		log.Printf("failed to write histogram: %v", err)
	}
}

func confidencePlot(values []float64, label string) (*plot.Plot, error) {
	p := plot.New()
	title := "Detection confidence"
	if label != "" {
		title += " (" + label + ")"
	}
	p.Title.Text = fmt.Sprintf("%s, n=%d", title, len(values))
	p.X.Label.Text = "confidence"
	p.Y.Label.Text = "detections"
	p.X.Min, p.X.Max = 0, 1

	if len(values) == 0 {
		p.Y.Min, p.Y.Max = 0, 1
		return p, nil
	}

	h, err := plotter.NewHist(plotter.Values(values), HistogramBins)
	if err != nil {
		return nil, err
	}
	h.LineStyle.Width = vg.Points(1)
	p.Add(h)
	return p, nil
}
