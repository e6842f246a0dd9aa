package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"sync"

	"github.com/banshee-data/leafpatrol/internal/httputil"
	"github.com/banshee-data/leafpatrol/internal/patrol"
)

// ErrBadPrediction is returned when the inference service answer cannot be
// turned into a classification.
var ErrBadPrediction = errors.New("bad prediction")

// Prediction is the inference service's response body. Probabilities are
// indexed by class: 0 diseased, 1 healthy.
type Prediction struct {
	Probabilities []float64 `json:"probabilities"`
}

// Result picks the more probable of the two classes. Ties go to the lower
// index.
func (p Prediction) Result() (patrol.ClassificationResult, error) {
	if len(p.Probabilities) != 2 {
		return patrol.ClassificationResult{}, fmt.Errorf("%w: want 2 probabilities, got %d", ErrBadPrediction, len(p.Probabilities))
	}
	best := 0
	for i, v := range p.Probabilities {
		if math.IsNaN(v) {
			return patrol.ClassificationResult{}, fmt.Errorf("%w: NaN probability for class %d", ErrBadPrediction, i)
		}
		if v > p.Probabilities[best] {
			best = i
		}
	}
	return patrol.ClassificationResult{ClassIndex: best, Confidence: p.Probabilities[best]}, nil
}

// HTTPClassifier posts frames to an inference service.
type HTTPClassifier struct {
	url    string
	client httputil.HTTPClient
}

// NewHTTPClassifier returns a classifier posting to url.
func NewHTTPClassifier(url string, client httputil.HTTPClient) *HTTPClassifier {
	if client == nil {
		client = httputil.NewStandardClient(nil)
	}
	return &HTTPClassifier{url: url, client: client}
}

// Classify posts the encoded frame and parses the prediction.
func (c *HTTPClassifier) Classify(ctx context.Context, f patrol.Frame) (patrol.ClassificationResult, error) {
	if len(f.Data) == 0 {
		return patrol.ClassificationResult{}, ErrEmptyFrame
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(f.Data))
	if err != nil {
		return patrol.ClassificationResult{}, fmt.Errorf("build classify request: %w", err)
	}
	ct := f.ContentType
	if ct == "" {
		ct = "image/jpeg"
	}
	req.Header.Set("Content-Type", ct)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return patrol.ClassificationResult{}, fmt.Errorf("classify: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return patrol.ClassificationResult{}, fmt.Errorf("read prediction: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return patrol.ClassificationResult{}, fmt.Errorf("classify: status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var p Prediction
	if err := json.Unmarshal(body, &p); err != nil {
		return patrol.ClassificationResult{}, fmt.Errorf("%w: %v", ErrBadPrediction, err)
	}
	return p.Result()
}

// StaticClassifier answers with a fixed sequence of results, repeating the
// sequence once exhausted. It is used in dev mode and tests.
type StaticClassifier struct {
	mu      sync.Mutex
	results []patrol.ClassificationResult
	next    int
}

// NewStaticClassifier returns a classifier cycling through results. With no
// results it always answers a low-confidence verdict.
func NewStaticClassifier(results ...patrol.ClassificationResult) *StaticClassifier {
	if len(results) == 0 {
		results = []patrol.ClassificationResult{{ClassIndex: patrol.ClassHealthy, Confidence: 0.5}}
	}
	return &StaticClassifier{results: results}
}

// Classify returns the next result.
func (c *StaticClassifier) Classify(ctx context.Context, _ patrol.Frame) (patrol.ClassificationResult, error) {
	if err := ctx.Err(); err != nil {
		return patrol.ClassificationResult{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	r := c.results[c.next%len(c.results)]
	c.next++
	return r, nil
}
