package turnstile

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestClient_VerifySuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.PostForm.Get("secret") != "shh" {
			t.Errorf("wrong secret %q", r.PostForm.Get("secret"))
		}
		if r.PostForm.Get("response") != "tok-1" {
			t.Errorf("wrong token %q", r.PostForm.Get("response"))
		}
		_ = json.NewEncoder(w).Encode(verifyResponse{Success: true, Hostname: "example.com"})
	}))
	defer srv.Close()

	c := NewClient("shh")
	c.endpoint = srv.URL

	if err := c.Verify(context.Background(), "tok-1"); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestClient_VerifyRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(verifyResponse{Success: false, ErrorCodes: []string{"invalid-input-response"}})
	}))
	defer srv.Close()

	c := NewClient("shh")
	c.endpoint = srv.URL

	err := c.Verify(context.Background(), "bad-token")
	var verr *VerificationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected VerificationError, got %v", err)
	}
	if !strings.Contains(verr.Error(), "invalid-input-response") {
		t.Fatalf("error should carry downstream codes, got %q", verr.Error())
	}
}

func TestClient_MissingInputs(t *testing.T) {
	if err := NewClient("").Verify(context.Background(), "tok"); !errors.Is(err, ErrMissingSecret) {
		t.Fatalf("expected ErrMissingSecret, got %v", err)
	}
	if err := NewClient("shh").Verify(context.Background(), ""); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected ErrMissingToken, got %v", err)
	}
}
