package httpdebug

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func minimalSMF() []byte {
	return []byte{
		'M', 'T', 'h', 'd', 0, 0, 0, 6, 0, 0, 0, 1, 1, 0xE0,
		'M', 'T', 'r', 'k', 0, 0, 0, 4, 0, 0xFF, 0x2F, 0,
	}
}

func TestDescribeEndpoint(t *testing.T) {
	srv := NewServer(1 << 20)
	req := httptest.NewRequest(http.MethodPost, "/describe", bytes.NewReader(minimalSMF()))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatalf("expected X-Request-Id header")
	}

	var resp describeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad JSON response: %v", err)
	}
	if resp.Format != "smf" || resp.TrackCount != 1 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestValidateEndpointRejectsGarbage(t *testing.T) {
	srv := NewServer(1 << 20)
	req := httptest.NewRequest(http.MethodPost, "/validate", bytes.NewReader([]byte("not a midi file")))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp validateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad JSON response: %v", err)
	}
	if resp.Ok {
		t.Fatalf("expected invalid, got %+v", resp)
	}
}

func TestValidateEndpointAcceptsSMF(t *testing.T) {
	srv := NewServer(1 << 20)
	req := httptest.NewRequest(http.MethodPost, "/validate", bytes.NewReader(minimalSMF()))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	var resp validateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad JSON response: %v", err)
	}
	if !resp.Ok || resp.Format != "smf" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}
