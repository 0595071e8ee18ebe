package archive

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/picktune/internal/httputil"
	"github.com/banshee-data/picktune/internal/monitoring"
	"github.com/banshee-data/picktune/internal/mseed"
)

var (
	winStart = time.Date(2023, 2, 3, 4, 5, 6, 0, time.UTC)
	winEnd   = winStart.Add(6 * time.Minute)
)

func testRequest() Request {
	return Request{Network: "CM", Station: "BAR2", Location: "00", Channel: "HH*", Start: winStart, End: winEnd}
}

func miniseed(t *testing.T) []byte {
	t.Helper()
	st := &mseed.Stream{Traces: []*mseed.Trace{{
		Network: "CM", Station: "BAR2", Location: "00", Channel: "HHZ",
		Start: winStart, SampleRate: 100, Samples: []float64{1, 2, 3, 4},
	}}}
	var buf bytes.Buffer
	require.NoError(t, mseed.Write(&buf, st))
	return buf.Bytes()
}

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	m.Run()
}

func TestFDSNClient_QueryURL(t *testing.T) {
	c := NewFDSNClient("http://archive:8080/", nil)
	req := testRequest()
	req.Location = ""
	got := c.QueryURL(req)
	assert.Equal(t,
		"http://archive:8080/fdsnws/dataselect/1/query?cha=HH%2A&end=2023-02-03T04%3A11%3A06.000000&loc=--&net=CM&sta=BAR2&start=2023-02-03T04%3A05%3A06.000000",
		got)
}

func TestFDSNClient_Fetch(t *testing.T) {
	body := miniseed(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fdsnws/dataselect/1/query", r.URL.Path)
		assert.Equal(t, "BAR2", r.URL.Query().Get("sta"))
		w.Header().Set("Content-Type", "application/vnd.fdsn.mseed")
		w.Write(body)
	}))
	defer server.Close()

	c := NewFDSNClient(server.URL, httputil.NewStandardClient(10*time.Second))
	st, err := c.Fetch(context.Background(), testRequest())
	require.NoError(t, err)
	require.Equal(t, 1, st.Len())
	assert.Equal(t, []float64{1, 2, 3, 4}, st.Traces[0].Samples)
}

func TestFDSNClient_StatusMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    []byte
		wantErr error
	}{
		{"no content", http.StatusNoContent, nil, ErrNoData},
		{"not found", http.StatusNotFound, nil, ErrNoData},
		{"server error", http.StatusServiceUnavailable, nil, ErrGateway},
		{"bad request", http.StatusBadRequest, nil, ErrGateway},
		{"empty body", http.StatusOK, nil, ErrNoData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := httputil.NewMockHTTPClient().AddResponse(tt.status, tt.body)
			_, err := NewFDSNClient("http://archive", mock).Fetch(context.Background(), testRequest())
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestFDSNClient_TransportError(t *testing.T) {
	mock := httputil.NewMockHTTPClient().AddErrorResponse(errors.New("dial tcp: refused"))
	_, err := NewFDSNClient("http://archive", mock).Fetch(context.Background(), testRequest())
	assert.True(t, errors.Is(err, ErrGateway), "got %v", err)
}

func TestFailover(t *testing.T) {
	body := miniseed(t)

	primary := httputil.NewMockHTTPClient().AddResponse(http.StatusServiceUnavailable, nil)
	secondary := httputil.NewMockHTTPClient().AddResponse(http.StatusOK, body)
	f := Failover{
		Primary:   NewFDSNClient("http://primary", primary),
		Secondary: NewFDSNClient("http://secondary", secondary),
	}
	st, err := f.Fetch(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, 1, st.Len())
	assert.Equal(t, 1, primary.RequestCount())
	assert.Equal(t, 1, secondary.RequestCount())

	// Primary success never touches the secondary.
	primary = httputil.NewMockHTTPClient().AddResponse(http.StatusOK, body)
	secondary = httputil.NewMockHTTPClient()
	f = Failover{Primary: NewFDSNClient("http://primary", primary), Secondary: NewFDSNClient("http://secondary", secondary)}
	_, err = f.Fetch(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, 0, secondary.RequestCount())

	// Both failing reports both causes.
	f = Failover{
		Primary:   NewFDSNClient("http://primary", httputil.NewMockHTTPClient().AddResponse(http.StatusNoContent, nil)),
		Secondary: NewFDSNClient("http://secondary", httputil.NewMockHTTPClient().AddResponse(http.StatusBadGateway, nil)),
	}
	_, err = f.Fetch(context.Background(), testRequest())
	assert.True(t, errors.Is(err, ErrNoData))
	assert.True(t, errors.Is(err, ErrGateway))
}
