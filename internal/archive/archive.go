// Package archive fetches waveform windows from FDSN web services.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/banshee-data/picktune/internal/httputil"
	"github.com/banshee-data/picktune/internal/monitoring"
	"github.com/banshee-data/picktune/internal/mseed"
)

var (
	// ErrNoData is returned when the archive holds nothing for the request.
	ErrNoData = errors.New("no waveform data")
	// ErrGateway covers transport failures and unexpected HTTP statuses.
	ErrGateway = errors.New("waveform archive unavailable")
)

// TimeLayout is the FDSN query time format.
const TimeLayout = "2006-01-02T15:04:05.000000"

// Request selects one channel family of one station over a time window.
// Channel may contain the FDSN wildcards * and ?.
type Request struct {
	Network  string
	Station  string
	Location string
	Channel  string
	Start    time.Time
	End      time.Time
}

func (r Request) String() string {
	return fmt.Sprintf("%s.%s.%s.%s %s-%s", r.Network, r.Station, r.Location, r.Channel,
		r.Start.UTC().Format(TimeLayout), r.End.UTC().Format(TimeLayout))
}

// Client fetches waveforms.
type Client interface {
	Fetch(ctx context.Context, req Request) (*mseed.Stream, error)
}

// FDSNClient queries an fdsnws-dataselect service.
type FDSNClient struct {
	BaseURL string
	HTTP    httputil.HTTPClient
}

// NewFDSNClient returns a client for the service rooted at baseURL, e.g.
// "http://archive:8080".
func NewFDSNClient(baseURL string, client httputil.HTTPClient) *FDSNClient {
	return &FDSNClient{BaseURL: strings.TrimRight(baseURL, "/"), HTTP: client}
}

// QueryURL builds the dataselect URL for req.
func (c *FDSNClient) QueryURL(req Request) string {
	loc := req.Location
	if loc == "" {
		loc = "--"
	}
	q := url.Values{}
	q.Set("net", req.Network)
	q.Set("sta", req.Station)
	q.Set("loc", loc)
	q.Set("cha", req.Channel)
	q.Set("start", req.Start.UTC().Format(TimeLayout))
	q.Set("end", req.End.UTC().Format(TimeLayout))
	return c.BaseURL + "/fdsnws/dataselect/1/query?" + q.Encode()
}

// Fetch downloads and decodes the requested window.
func (c *FDSNClient) Fetch(ctx context.Context, req Request) (*mseed.Stream, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.QueryURL(req), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrGateway, c.BaseURL, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNoContent, http.StatusNotFound:
		return nil, fmt.Errorf("%s: %w", req, ErrNoData)
	default:
		return nil, fmt.Errorf("%w: %s returned HTTP %d", ErrGateway, c.BaseURL, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrGateway, err)
	}
	st, err := mseed.Decode(body)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", req, err)
	}
	if st.Len() == 0 {
		return nil, fmt.Errorf("%s: %w", req, ErrNoData)
	}
	return st, nil
}

// Failover tries Primary and falls back to Secondary on any error.
type Failover struct {
	Primary   Client
	Secondary Client
}

// Fetch implements Client.
func (f Failover) Fetch(ctx context.Context, req Request) (*mseed.Stream, error) {
	st, err := f.Primary.Fetch(ctx, req)
	if err == nil || f.Secondary == nil || ctx.Err() != nil {
		return st, err
	}
	monitoring.Logf("[archive] primary failed for %s: %v; trying secondary", req, err)
	st, err2 := f.Secondary.Fetch(ctx, req)
	if err2 != nil {
		return nil, errors.Join(err, err2)
	}
	return st, nil
}
