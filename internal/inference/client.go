// Package inference talks to the churn-model backend over HTTP.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/and161185/churnguard/internal/model"
)

const (
	DefaultRequestTimeout = 30 * time.Second
	DefaultTrainTimeout   = 5 * time.Minute

	// maxResponseBytes caps how much of a backend reply is read.
	maxResponseBytes = 8 << 20
)

// BackendError describes a failed backend call: a transport error, a
// timeout, a non-2xx status or an unusable body.
type BackendError struct {
	Path       string
	StatusCode int
	Body       []byte
	Err        error
}

func (e *BackendError) Error() string {
	switch {
	case e.Err != nil && e.StatusCode != 0:
		return fmt.Sprintf("backend %s: status %d: %v", e.Path, e.StatusCode, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("backend %s: %v", e.Path, e.Err)
	default:
		return fmt.Sprintf("backend %s: status %d", e.Path, e.StatusCode)
	}
}

func (e *BackendError) Unwrap() error { return e.Err }

// Timeout reports whether the call ran out of time.
func (e *BackendError) Timeout() bool { return errors.Is(e.Err, context.DeadlineExceeded) }

// Config holds client settings; zero timeouts fall back to the defaults.
type Config struct {
	BaseURL        string
	RequestTimeout time.Duration
	TrainTimeout   time.Duration
	HTTPClient     *http.Client
}

// Client is safe for concurrent use.
type Client struct {
	base           string
	hc             *http.Client
	requestTimeout time.Duration
	trainTimeout   time.Duration
}

// New validates cfg and builds a client.
func New(cfg Config) (*Client, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		return nil, errors.New("inference: empty base url")
	}
	c := &Client{
		base:           base,
		hc:             cfg.HTTPClient,
		requestTimeout: cfg.RequestTimeout,
		trainTimeout:   cfg.TrainTimeout,
	}
	if c.hc == nil {
		c.hc = &http.Client{}
	}
	if c.requestTimeout <= 0 {
		c.requestTimeout = DefaultRequestTimeout
	}
	if c.trainTimeout <= 0 {
		c.trainTimeout = DefaultTrainTimeout
	}
	return c, nil
}

// Train uploads a dataset as multipart field "dataset" and returns the new model id.
// The call ignores ctx cancellation and is bounded only by TrainTimeout.
func (c *Client) Train(ctx context.Context, filename string, dataset []byte) (model.TrainResult, error) {
	const path = "/train"

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("dataset", filename)
	if err != nil {
		return model.TrainResult{}, &BackendError{Path: path, Err: err}
	}
	if _, err := fw.Write(dataset); err != nil {
		return model.TrainResult{}, &BackendError{Path: path, Err: err}
	}
	if err := mw.Close(); err != nil {
		return model.TrainResult{}, &BackendError{Path: path, Err: err}
	}

	raw, err := c.do(ctx, c.trainTimeout, path, mw.FormDataContentType(), &buf)
	if err != nil {
		return model.TrainResult{}, err
	}

	var res model.TrainResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return model.TrainResult{}, &BackendError{Path: path, StatusCode: http.StatusOK, Body: raw, Err: err}
	}
	if res.ModelID == "" {
		return model.TrainResult{}, &BackendError{Path: path, StatusCode: http.StatusOK, Body: raw, Err: errors.New("response has no model_id")}
	}
	return res, nil
}

// Post sends body as JSON to path and returns the reply, which must be a JSON object.
func (c *Client) Post(ctx context.Context, path string, body any) (json.RawMessage, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &BackendError{Path: path, Err: err}
	}
	return c.do(ctx, c.requestTimeout, path, "application/json", bytes.NewReader(payload))
}

func (c *Client) do(ctx context.Context, timeout time.Duration, path, contentType string, body io.Reader) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, body)
	if err != nil {
		return nil, &BackendError{Path: path, Err: err}
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			err = fmt.Errorf("%w: %v", ctx.Err(), err)
		}
		return nil, &BackendError{Path: path, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &BackendError{Path: path, StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &BackendError{Path: path, StatusCode: resp.StatusCode, Body: raw}
	}
	if !isJSONObject(raw) {
		return nil, &BackendError{Path: path, StatusCode: resp.StatusCode, Body: raw, Err: errors.New("response is not a JSON object")}
	}
	return json.RawMessage(raw), nil
}

func isJSONObject(b []byte) bool {
	b = bytes.TrimSpace(b)
	return len(b) > 0 && b[0] == '{' && json.Valid(b)
}
