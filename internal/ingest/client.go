package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/AngelCh415/adreports/internal/errs"
)

type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

func NewHTTPClient(timeout time.Duration) HTTPClient {
	return &http.Client{Timeout: timeout}
}

// call sends one request and decodes a 200 JSON body into v. Any other
// status becomes an UpstreamError carrying a prefix of the body.
func call(ctx context.Context, c HTTPClient, service, method, url string, header http.Header, body, v any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", service, err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return fmt.Errorf("%s: %w", service, err)
	}
	for k, vals := range header {
		for _, val := range vals {
			req.Header.Add(k, val)
		}
	}
	resp, err := c.Do(req)
	if err != nil {
		return &errs.UpstreamError{Service: service, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &errs.UpstreamError{Service: service, Status: resp.StatusCode, Message: strings.TrimSpace(string(b))}
	}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return &errs.UpstreamError{Service: service, Status: resp.StatusCode, Message: "malformed response", Err: err}
	}
	return nil
}
