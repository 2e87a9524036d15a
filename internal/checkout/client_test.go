package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCreateSession(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"url":"https://pay.example/s/1"}`))
	}))
	defer srv.Close()

	url, err := New(srv.URL).CreateSession(context.Background(), Request{
		Amount: 2500, Currency: "USD", SuccessURL: "https://app/ok", CancelURL: "https://app/cancel", Reference: "sub-1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if url != "https://pay.example/s/1" {
		t.Fatalf("url = %q", url)
	}
	if got.Amount != 2500 || got.Reference != "sub-1" {
		t.Fatalf("request = %#v", got)
	}
}

func TestCreateSession_Errors(t *testing.T) {
	if _, err := New("").CreateSession(context.Background(), Request{Amount: 1}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("err = %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()
	if _, err := New(srv.URL).CreateSession(context.Background(), Request{Amount: 1}); err == nil {
		t.Fatal("ожидали ошибку для 502")
	}
	if _, err := New(srv.URL).CreateSession(context.Background(), Request{Amount: 0}); err == nil {
		t.Fatal("ожидали ошибку для нулевой суммы")
	}
}
