package api

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func signedRequest(t *testing.T, method, path, apiKey, ts string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	req.Header.Set("X-Timestamp", ts)
	req.Header.Set("X-Signature", SignRequest(apiKey, method, path, ts))
	return req
}

func TestValidateRequestSignatureAccepts(t *testing.T) {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	req := signedRequest(t, http.MethodGet, "/files/notes/one.txt", "secret", ts)

	if err := ValidateRequestSignature(req, "secret"); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}
}

func TestValidateRequestSignatureRejectsWrongKey(t *testing.T) {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	req := signedRequest(t, http.MethodGet, "/files/notes/one.txt", "secret", ts)

	if err := ValidateRequestSignature(req, "other-secret"); err == nil {
		t.Fatal("expected signature mismatch error")
	}
}

func TestValidateRequestSignatureRejectsTamperedPath(t *testing.T) {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	req := signedRequest(t, http.MethodGet, "/files/notes/one.txt", "secret", ts)
	req.URL.Path = "/files/notes/two.txt"

	if err := ValidateRequestSignature(req, "secret"); err == nil {
		t.Fatal("expected signature mismatch after path tamper")
	}
}

func TestValidateRequestSignatureRejectsStaleTimestamp(t *testing.T) {
	old := strconv.FormatInt(time.Now().Add(-10*time.Minute).Unix(), 10)
	req := signedRequest(t, http.MethodGet, "/files/notes/one.txt", "secret", old)

	if err := ValidateRequestSignature(req, "secret"); err == nil {
		t.Fatal("expected stale timestamp to be rejected")
	}
}

func TestValidateRequestSignatureRejectsMissingHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/files/notes/one.txt", nil)
	if err := ValidateRequestSignature(req, "secret"); err == nil {
		t.Fatal("expected missing headers to be rejected")
	}
}
