package config

import (
	"errors"
	"testing"
	"time"
)

func TestLoad_DevFallbacks(t *testing.T) {
	t.Setenv("ENV", "dev")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("REDIS_ADDR", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if cfg.DatabaseURL == "" || cfg.JWTSecret == "" || cfg.RedisAddr == "" {
		t.Fatalf("ожидали dev-значения, получили %#v", cfg)
	}
	if len(cfg.UsingFallbacks()) != 3 {
		t.Fatalf("ожидали 3 ключа с fallback, получили %v", cfg.UsingFallbacks())
	}
	if cfg.DefaultMonthlyFee != 2500 {
		t.Fatalf("default fee = %d", cfg.DefaultMonthlyFee)
	}
}

func TestLoad_ProdRequiresKeys(t *testing.T) {
	t.Setenv("ENV", "prod")
	t.Setenv("DATABASE_URL", "postgres://x")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("REDIS_ADDR", "")

	_, err := Load()
	var me *MissingError
	if !errors.As(err, &me) {
		t.Fatalf("ожидали MissingError, получили %v", err)
	}
	if len(me.Keys) != 2 {
		t.Fatalf("ожидали 2 ключа, получили %v", me.Keys)
	}
}

func TestLoad_ParsesValues(t *testing.T) {
	t.Setenv("ENV", "prod")
	t.Setenv("DATABASE_URL", "postgres://x")
	t.Setenv("JWT_SECRET", "s")
	t.Setenv("REDIS_ADDR", "r:6379")
	t.Setenv("JWT_TTL", "1h")
	t.Setenv("STRICT_TRANSITIONS", "true")
	t.Setenv("DEFAULT_CURRENCY", "kes")
	t.Setenv("TZ", "Europe/Moscow")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.JWTTTL != time.Hour {
		t.Fatalf("JWTTTL = %v", cfg.JWTTTL)
	}
	if !cfg.StrictTransitions || !cfg.IsProd() {
		t.Fatalf("флаги не распарсились: %#v", cfg)
	}
	if cfg.DefaultCurrency != "KES" {
		t.Fatalf("currency = %q", cfg.DefaultCurrency)
	}
	if cfg.Location.String() != "Europe/Moscow" {
		t.Fatalf("location = %v", cfg.Location)
	}
}

func TestLoad_BadDuration(t *testing.T) {
	t.Setenv("JWT_TTL", "week")
	if _, err := Load(); err == nil {
		t.Fatal("ожидали ошибку для JWT_TTL")
	}
}
