package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hamed0406/sitewatch/internal/domain"
)

const maxDrainBytes = 64 << 10

type HTTPChecker struct {
	Client    *http.Client
	NoFollow  *http.Client
	UserAgent string
}

// NewHTTPChecker builds a checker whose clients carry no timeout of their
// own: every attempt is bounded by the context the retry policy hands in.
func NewHTTPChecker() *HTTPChecker {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	return &HTTPChecker{
		Client: &http.Client{Transport: transport},
		NoFollow: &http.Client{
			Transport: transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		UserAgent: "sitewatch/1.0",
	}
}

func (h *HTTPChecker) Check(ctx context.Context, m domain.Monitor) domain.CheckResult {
	p := m.HTTP
	if p == nil {
		return fail("malformed target: missing http parameters", 0)
	}
	client := h.Client
	if !p.FollowRedirects && h.NoFollow != nil {
		client = h.NoFollow
	}
	method := p.Method
	if method == "" {
		method = http.MethodGet
	}

	start := time.Now()
	resp, err := h.do(ctx, client, method, p.URL)
	if err == nil && method == http.MethodHead && resp.StatusCode == http.StatusMethodNotAllowed {
		drain(resp)
		resp, err = h.do(ctx, client, http.MethodGet, p.URL)
	}
	latency := since(start)
	if err != nil {
		return fail(classify(err), latency)
	}
	defer drain(resp)

	res := domain.CheckResult{
		OK:         statusAccepted(resp.StatusCode, p.ExpectedStatus),
		StatusCode: resp.StatusCode,
		LatencyMS:  latency,
		Detail:     resp.Status,
	}
	if !res.OK {
		res.Detail = "unexpected status: " + resp.Status
	}
	return res
}

func (h *HTTPChecker) do(ctx context.Context, client *http.Client, method, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformed, err)
	}
	if h.UserAgent != "" {
		req.Header.Set("User-Agent", h.UserAgent)
	}
	return client.Do(req)
}

// statusAccepted treats any 2xx as success unless explicit codes are given.
func statusAccepted(code int, expected []int) bool {
	if len(expected) == 0 {
		return code >= 200 && code < 300
	}
	for _, c := range expected {
		if c == code {
			return true
		}
	}
	return false
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))
	_ = resp.Body.Close()
}
