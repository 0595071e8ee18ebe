package httputil

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestMockHTTPClient_ReplaysInOrder(t *testing.T) {
	mock := NewMockHTTPClient()
	mock.AddResponse(http.StatusOK, []byte{0x00, 0x01, 0xff})
	mock.AddResponse(http.StatusNoContent, nil)

	req, _ := http.NewRequest(http.MethodGet, "http://archive.example/fdsnws/dataselect/1/query", nil)
	resp, err := mock.Do(req)
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "\x00\x01\xff" {
		t.Errorf("first response = %d %q", resp.StatusCode, body)
	}

	resp, _ = mock.Do(req)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("second status = %d, want 204", resp.StatusCode)
	}

	// Drained queue answers 404.
	resp, _ = mock.Do(req)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("drained status = %d, want 404", resp.StatusCode)
	}

	if mock.RequestCount() != 3 {
		t.Errorf("RequestCount = %d, want 3", mock.RequestCount())
	}
	if mock.Request(0) != req || mock.Request(3) != nil || mock.Request(-1) != nil {
		t.Error("Request returned unexpected values")
	}
}

func TestMockHTTPClient_ErrorAndDoFunc(t *testing.T) {
	wantErr := errors.New("connection refused")
	mock := NewMockHTTPClient().AddErrorResponse(wantErr)
	req, _ := http.NewRequest(http.MethodGet, "http://archive.example/", nil)
	if _, err := mock.Do(req); !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want %v", err, wantErr)
	}

	mock.DoFunc = func(r *http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusTeapot, Body: io.NopCloser(strings.NewReader("")), Request: r}, nil
	}
	resp, err := mock.Do(req)
	if err != nil || resp.StatusCode != http.StatusTeapot {
		t.Errorf("DoFunc not used: %v %v", resp, err)
	}
}

func TestStandardClient_SetsUserAgent(t *testing.T) {
	var gotUA string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewStandardClient(5 * time.Second)
	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	resp.Body.Close()
	if !strings.HasPrefix(gotUA, "picktune/") {
		t.Errorf("User-Agent = %q", gotUA)
	}
	if client.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v", client.Timeout)
	}
}
