package api

import (
	"bytes"
	"embed"
	"errors"
	"html/template"
	"image"
	"image/color"
	"image/png"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/banshee-data/leafpatrol/internal/db"
	"github.com/banshee-data/leafpatrol/internal/httputil"
	"github.com/banshee-data/leafpatrol/internal/security"
	"github.com/banshee-data/leafpatrol/internal/units"
)

// DashboardDetections is how many recent detections the dashboard lists.
const DashboardDetections = 50

//go:embed templates/*
var templateFS embed.FS

var dashboardTemplate = template.Must(template.New("dashboard.html.tmpl").Funcs(template.FuncMap{
	"deref": func(f *float64) float64 { return *f },
}).ParseFS(templateFS, "templates/dashboard.html.tmpl"))

type dashboardData struct {
	StateResponse
	Detections []db.DetectionRecord
	loc        *time.Location
}

// Local formats t in the robot's configured zone.
func (d dashboardData) Local(t time.Time) string {
	return t.In(d.loc).Format("2006-01-02 15:04:05")
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	data := dashboardData{StateResponse: s.state(units.CM), loc: s.loc}
	detections, err := s.db.Detections(r.Context(), DashboardDetections)
	if err != nil {
		log.Printf("dashboard: failed to list detections: %v", err)
	}
	data.Detections = detections

	var buf bytes.Buffer
	if err := dashboardTemplate.Execute(&buf, data); err != nil {
		log.Printf("dashboard: render failed: %v", err)
		http.Error(w, "Failed to render dashboard", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(buf.Bytes())
}

// placeholderPNG is served for unknown or missing frames so dashboard
// thumbnails never break.
var placeholderPNG = func() []byte {
	img := image.NewGray(image.Rect(0, 0, 1, 1))
	img.SetGray(0, 0, color.Gray{Y: 0xcc})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}()

func servePlaceholder(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(placeholderPNG)
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		httputil.MethodNotAllowed(w)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/img/")
	if id == "" || strings.Contains(id, "/") {
		servePlaceholder(w)
		return
	}

	d, err := s.db.Detection(r.Context(), id)
	if err != nil {
		if !errors.Is(err, db.ErrNotFound) {
			log.Printf("image %s: %v", id, err)
		}
		servePlaceholder(w)
		return
	}

	path, err := security.ResolveWithin(s.logDir, d.ImagePath)
	if err != nil {
		log.Printf("image %s: refusing path %q: %v", id, d.ImagePath, err)
		servePlaceholder(w)
		return
	}
	f, err := os.Open(path)
	if err != nil {
		log.Printf("image %s: %v", id, err)
		servePlaceholder(w)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		servePlaceholder(w)
		return
	}

	if strings.EqualFold(filepath.Ext(path), ".png") {
		w.Header().Set("Content-Type", "image/png")
	} else {
		w.Header().Set("Content-Type", "image/jpeg")
	}
	w.Header().Set("Cache-Control", "max-age=86400")
	http.ServeContent(w, r, filepath.Base(path), info.ModTime(), f)
}
