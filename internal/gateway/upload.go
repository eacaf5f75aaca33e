package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
)

// File is a single file to upload. Open may be called more than once (a retry
// re-reads the file from the start).
type File struct {
	Name string
	Size int64
	Open func() (io.ReadCloser, error)
}

// UploadFile sends f as a single binary body and reports the fraction of bytes
// sent on progress. Sends are non-blocking: a slow reader misses intermediate
// values, never the outcome, which is the return value. Nothing is sent on
// progress after UploadFile returns, even if the transport is still reading
// the body.
func (c *HTTPClient) UploadFile(ctx context.Context, f File, progress chan<- float64) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", f.Name, err)
	}
	defer rc.Close()

	body := &progressReader{r: rc, total: f.Size, progress: progress}
	defer body.stop()

	u := fmt.Sprintf("%s/files/%s", c.baseURL, url.PathEscape(f.Name))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPut, u, body)
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	httpReq.ContentLength = f.Size
	httpReq.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.upload.Do(httpReq)
	if err != nil {
		return "", classifyError(err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return "", err
	}

	var out struct {
		FileID string `json:"file_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decoding upload response: %v", ErrGatewayError, err)
	}
	if out.FileID == "" {
		return "", fmt.Errorf("%w: upload response missing file_id", ErrGatewayError)
	}
	return out.FileID, nil
}

// progressReader counts bytes read by the transport. The transport may keep
// reading after Do returns (the gateway answered before taking the whole
// body), so reports are gated on stopped.
type progressReader struct {
	r     io.Reader
	total int64
	sent  int64

	mu       sync.Mutex
	stopped  bool
	progress chan<- float64
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 && p.total > 0 {
		p.report(n)
	}
	return n, err
}

func (p *progressReader) report(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped || p.progress == nil {
		return
	}
	p.sent += int64(n)
	select {
	case p.progress <- float64(p.sent) / float64(p.total):
	default:
	}
}

func (p *progressReader) stop() {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
}
