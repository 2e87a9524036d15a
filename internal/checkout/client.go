// Package checkout: клиент функции, создающей хостинговую страницу оплаты.
// Сам платёж здесь не авторизуется: клиент лишь получает URL для редиректа.
package checkout

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var ErrDisabled = errors.New("checkout gateway is not configured")

type Request struct {
	Amount     int64  `json:"amount"` // в минимальных единицах
	Currency   string `json:"currency"`
	SuccessURL string `json:"successUrl"`
	CancelURL  string `json:"cancelUrl"`
	Reference  string `json:"reference"` // id подписки
}

type response struct {
	URL string `json:"url"`
}

type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *Client) Enabled() bool { return c != nil && c.baseURL != "" }

// CreateSession возвращает URL страницы оплаты.
func (c *Client) CreateSession(ctx context.Context, r Request) (string, error) {
	if !c.Enabled() {
		return "", ErrDisabled
	}
	if r.Amount <= 0 {
		return "", fmt.Errorf("checkout: amount must be positive, got %d", r.Amount)
	}
	body, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("checkout: http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var out response
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("checkout: bad response: %w", err)
	}
	if out.URL == "" {
		return "", errors.New("checkout: empty redirect url")
	}
	return out.URL, nil
}
