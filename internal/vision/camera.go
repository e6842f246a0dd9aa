// Package vision provides the camera and classifier collaborators of the
// patrol loop.
package vision

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"sync"

	"github.com/banshee-data/leafpatrol/internal/fsutil"
	"github.com/banshee-data/leafpatrol/internal/httputil"
	"github.com/banshee-data/leafpatrol/internal/patrol"
	"github.com/banshee-data/leafpatrol/internal/timeutil"
)

// MaxFrameBytes caps a single snapshot.
const MaxFrameBytes = 8 << 20

var (
	// ErrEmptyFrame is returned when the camera produced no image data.
	ErrEmptyFrame = errors.New("empty frame")
	// ErrNoFrames is returned when a frame directory contains no images.
	ErrNoFrames = errors.New("no frames available")
)

// HTTPCamera fetches JPEG snapshots from a camera daemon such as
// mjpg-streamer's ?action=snapshot endpoint.
type HTTPCamera struct {
	url    string
	client httputil.HTTPClient
	clock  timeutil.Clock
}

// NewHTTPCamera returns a camera reading snapshots from url.
func NewHTTPCamera(url string, client httputil.HTTPClient) *HTTPCamera {
	if client == nil {
		client = httputil.NewStandardClient(nil)
	}
	return &HTTPCamera{url: url, client: client, clock: timeutil.RealClock{}}
}

// SetClock replaces the clock used to stamp frames.
func (c *HTTPCamera) SetClock(clock timeutil.Clock) {
	c.clock = clock
}

// Capture fetches one snapshot.
func (c *HTTPCamera) Capture(ctx context.Context) (patrol.Frame, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return patrol.Frame{}, fmt.Errorf("build snapshot request: %w", err)
	}
	req.Header.Set("Accept", "image/jpeg")

	resp, err := c.client.Do(req)
	if err != nil {
		return patrol.Frame{}, fmt.Errorf("fetch snapshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return patrol.Frame{}, fmt.Errorf("fetch snapshot: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxFrameBytes+1))
	if err != nil {
		return patrol.Frame{}, fmt.Errorf("read snapshot: %w", err)
	}
	if len(data) == 0 {
		return patrol.Frame{}, ErrEmptyFrame
	}
	if len(data) > MaxFrameBytes {
		return patrol.Frame{}, fmt.Errorf("snapshot exceeds %d bytes", MaxFrameBytes)
	}

	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = http.DetectContentType(data)
	}
	return patrol.Frame{Data: data, ContentType: ct, CapturedAt: c.clock.Now()}, nil
}

// DirCamera replays image files from a directory in name order, wrapping
// around at the end. It stands in for the camera in dev mode.
type DirCamera struct {
	fs    fsutil.FileSystem
	dir   string
	clock timeutil.Clock

	mu   sync.Mutex
	next int
}

// NewDirCamera returns a camera cycling through the images in dir.
func NewDirCamera(fs fsutil.FileSystem, dir string) *DirCamera {
	return &DirCamera{fs: fs, dir: dir, clock: timeutil.RealClock{}}
}

// SetClock replaces the clock used to stamp frames.
func (c *DirCamera) SetClock(clock timeutil.Clock) {
	c.clock = clock
}

func isImage(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png":
		return true
	}
	return false
}

// Capture returns the next image.
func (c *DirCamera) Capture(ctx context.Context) (patrol.Frame, error) {
	if err := ctx.Err(); err != nil {
		return patrol.Frame{}, err
	}
	names, err := c.fs.ListFiles(c.dir)
	if err != nil {
		return patrol.Frame{}, fmt.Errorf("list frames: %w", err)
	}
	var images []string
	for _, n := range names {
		if isImage(n) {
			images = append(images, n)
		}
	}
	if len(images) == 0 {
		return patrol.Frame{}, fmt.Errorf("%w in %s", ErrNoFrames, c.dir)
	}

	c.mu.Lock()
	name := images[c.next%len(images)]
	c.next++
	c.mu.Unlock()

	data, err := c.fs.ReadFile(filepath.Join(c.dir, name))
	if err != nil {
		return patrol.Frame{}, fmt.Errorf("read frame %s: %w", name, err)
	}
	if len(data) == 0 {
		return patrol.Frame{}, fmt.Errorf("%w: %s", ErrEmptyFrame, name)
	}
	return patrol.Frame{
		Data:        data,
		ContentType: http.DetectContentType(data),
		CapturedAt:  c.clock.Now(),
	}, nil
}
