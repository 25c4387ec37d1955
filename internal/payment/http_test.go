package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPClientCharge(t *testing.T) {
	var gotIdem string
	var status int
	var respBody chargeResp

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/charges" {
			t.Errorf("path = %s", r.URL.Path)
		}
		gotIdem = r.Header.Get("Idempotency-Key")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(respBody)
	}))
	defer ts.Close()

	client := NewHTTPClient(ts.URL, time.Second)

	t.Run("success", func(t *testing.T) {
		status = http.StatusCreated
		respBody = chargeResp{PaymentID: "pay-1"}
		id, err := client.Charge(context.Background(), "a1", 1999, "tok")
		if err != nil {
			t.Fatalf("charge: %v", err)
		}
		if id != "pay-1" {
			t.Fatalf("payment id = %q", id)
		}
		if gotIdem != "a1" {
			t.Fatalf("idempotency key = %q, want attempt id", gotIdem)
		}
	})

	t.Run("declined", func(t *testing.T) {
		status = http.StatusPaymentRequired
		respBody = chargeResp{Error: "insufficient funds"}
		_, err := client.Charge(context.Background(), "a2", 1999, "tok")
		if !errors.Is(err, ErrDeclined) {
			t.Fatalf("err = %v, want ErrDeclined", err)
		}
	})

	t.Run("gateway error", func(t *testing.T) {
		status = http.StatusBadGateway
		respBody = chargeResp{Error: "upstream timeout"}
		_, err := client.Charge(context.Background(), "a3", 1999, "tok")
		if !errors.Is(err, ErrUnavailable) {
			t.Fatalf("err = %v, want ErrUnavailable", err)
		}
	})
}

func TestHTTPClientRefund(t *testing.T) {
	status := http.StatusOK
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/refunds" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.WriteHeader(status)
	}))
	defer ts.Close()

	client := NewHTTPClient(ts.URL, time.Second)
	if err := client.Refund(context.Background(), "pay-1"); err != nil {
		t.Fatalf("refund: %v", err)
	}

	status = http.StatusInternalServerError
	if err := client.Refund(context.Background(), "pay-1"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestStubChargeIdempotent(t *testing.T) {
	s := NewStub()
	first, err := s.Charge(context.Background(), "a1", 100, "tok")
	if err != nil {
		t.Fatalf("charge: %v", err)
	}
	second, err := s.Charge(context.Background(), "a1", 100, "tok")
	if err != nil {
		t.Fatalf("repeat charge: %v", err)
	}
	if first != second {
		t.Fatalf("repeat charge minted a new payment: %s vs %s", first, second)
	}
	if s.ChargeCalls != 2 {
		t.Fatalf("charge calls = %d, want 2", s.ChargeCalls)
	}
}
