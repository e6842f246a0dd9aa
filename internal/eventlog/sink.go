// Package eventlog persists detections: the frame goes to disk under the log
// directory and a row referencing it goes to the database.
package eventlog

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/leafpatrol/internal/db"
	"github.com/banshee-data/leafpatrol/internal/fsutil"
	"github.com/banshee-data/leafpatrol/internal/monitoring"
	"github.com/banshee-data/leafpatrol/internal/patrol"
	"github.com/banshee-data/leafpatrol/internal/security"
	"github.com/banshee-data/leafpatrol/internal/timeutil"
)

// ImagesDir is the frame directory relative to the log directory.
const ImagesDir = "images"

// FrameTimeLayout formats the timestamp part of a frame file name.
const FrameTimeLayout = "20060102-150405"

var (
	ErrNotDetection = errors.New("only HEALTHY and DISEASED verdicts are recorded")
	ErrNoFrame      = errors.New("detection has no frame data")
)

// Recorder stores detection rows. *db.DB implements it.
type Recorder interface {
	RecordDetection(ctx context.Context, d db.DetectionRecord) error
}

// Options tune the retry behaviour and file naming of a Sink.
type Options struct {
	// Retries is the number of extra insert attempts after the first fails.
	Retries int
	// RetryBackoff is the wait before the first retry; it doubles each time.
	RetryBackoff time.Duration
	// Location sets the zone used in frame file names. Nil means UTC.
	Location *time.Location
}

// DefaultOptions returns the options used when no robot config overrides them.
func DefaultOptions() Options {
	return Options{
		Retries:      3,
		RetryBackoff: 100 * time.Millisecond,
		Location:     time.UTC,
	}
}

// Sink is a patrol.EventSink backed by a directory and a Recorder.
type Sink struct {
	fs     fsutil.FileSystem
	logDir string
	store  Recorder
	opts   Options
	clock  timeutil.Clock

	// serialises name allocation so two records in the same second cannot
	// pick the same file
	mu sync.Mutex
}

var _ patrol.EventSink = (*Sink)(nil)

// NewSink creates the images directory under logDir.
func NewSink(fsys fsutil.FileSystem, logDir string, store Recorder, opts Options) (*Sink, error) {
	if store == nil {
		return nil, errors.New("eventlog: recorder is required")
	}
	if fsys == nil {
		fsys = fsutil.OSFileSystem{}
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if err := fsys.MkdirAll(filepath.Join(logDir, ImagesDir), 0o755); err != nil {
		return nil, fmt.Errorf("create images dir: %w", err)
	}
	return &Sink{
		fs:     fsys,
		logDir: logDir,
		store:  store,
		opts:   opts,
		clock:  timeutil.RealClock{},
	}, nil
}

// SetClock replaces the clock used for retry backoff.
func (s *Sink) SetClock(c timeutil.Clock) { s.clock = c }

// LogDir returns the directory frame paths are relative to.
func (s *Sink) LogDir() string { return s.logDir }

// Record writes the frame, then inserts the row. If the insert still fails
// after all retries the frame is removed again.
func (s *Sink) Record(ctx context.Context, d patrol.Detection) error {
	if !d.Label.IsDetection() {
		return fmt.Errorf("%w: got %s", ErrNotDetection, d.Label)
	}
	if len(d.Frame.Data) == 0 {
		return ErrNoFrame
	}

	id := uuid.NewString()
	rel, err := s.writeFrame(id, d)
	if err != nil {
		return err
	}

	rec := db.DetectionRecord{
		ID:         id,
		Timestamp:  d.Timestamp,
		Label:      string(d.Label),
		ClassIndex: d.Result.ClassIndex,
		Confidence: d.Result.Confidence,
		ImagePath:  rel,
	}
	if err := s.insert(ctx, rec); err != nil {
		if rmErr := s.fs.Remove(filepath.Join(s.logDir, rel)); rmErr != nil {
			monitoring.Warnf("eventlog: failed to remove orphaned frame %s: %v", rel, rmErr)
		}
		return err
	}
	monitoring.Logf("eventlog: recorded %s %s conf=%.3f -> %s", id, d.Label, d.Result.Confidence, rel)
	return nil
}

func (s *Sink) insert(ctx context.Context, rec db.DetectionRecord) error {
	backoff := s.opts.RetryBackoff
	var err error
	for attempt := 0; ; attempt++ {
		if err = s.store.RecordDetection(ctx, rec); err == nil {
			return nil
		}
		if attempt >= s.opts.Retries {
			break
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("record detection: %w", ctxErr)
		}
		monitoring.Warnf("eventlog: insert attempt %d failed: %v", attempt+1, err)
		s.clock.Sleep(backoff)
		backoff *= 2
	}
	return fmt.Errorf("record detection after %d attempts: %w", s.opts.Retries+1, err)
}

// FrameName returns the file name for a detection, e.g.
// 20250601-120000_HEALTHY.jpg.
func FrameName(ts time.Time, label patrol.SemanticLabel, contentType string, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	base := ts.In(loc).Format(FrameTimeLayout) + "_" + string(label)
	return security.SanitizeFilename(base) + extension(contentType)
}

func extension(contentType string) string {
	if contentType == "image/png" {
		return ".png"
	}
	return ".jpg"
}

// writeFrame stores the frame under images/ and returns its path relative to
// the log directory.
func (s *Sink) writeFrame(id string, d patrol.Detection) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := FrameName(d.Timestamp, d.Label, d.Frame.ContentType, s.opts.Location)
	rel := filepath.Join(ImagesDir, name)
	if s.fs.Exists(filepath.Join(s.logDir, rel)) {
		ext := filepath.Ext(name)
		rel = filepath.Join(ImagesDir, name[:len(name)-len(ext)]+"_"+id[:8]+ext)
	}

	full := filepath.Join(s.logDir, rel)
	if err := security.ValidatePathWithinDirectory(full, s.logDir); err != nil {
		return "", fmt.Errorf("frame path: %w", err)
	}

	tmp := full + ".tmp"
	if err := s.fs.WriteFile(tmp, d.Frame.Data, 0o644); err != nil {
		return "", fmt.Errorf("write frame: %w", err)
	}
	if err := s.fs.Rename(tmp, full); err != nil {
		s.fs.Remove(tmp)
		return "", fmt.Errorf("commit frame: %w", err)
	}
	return rel, nil
}
