package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_DefaultsAndEnv(t *testing.T) {
	t.Setenv("ESPELEO_AUTH_JWT_SECRET", "clave-de-pruebas-suficientemente-larga")
	t.Setenv("ESPELEO_SERVER_PORT", "9090")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("weather:\n  app_key: abc\n"), 0o600); err != nil {
		t.Fatalf("写入配置文件失败: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load 应成功: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("期望环境变量覆盖端口=9090，实际=%d", cfg.Server.Port)
	}
	if cfg.Weather.AppKey != "abc" {
		t.Errorf("期望 weather.app_key=abc，实际=%s", cfg.Weather.AppKey)
	}
	if cfg.Weather.CacheTTL != 10*time.Minute {
		t.Errorf("期望默认 cache_ttl=10m，实际=%v", cfg.Weather.CacheTTL)
	}
	if cfg.Loan.AnchorDefault != 10 {
		t.Errorf("期望默认 anchor_default=10，实际=%d", cfg.Loan.AnchorDefault)
	}
}

func TestValidate_ShortSecret(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{Port: 8080},
		Auth:   AuthConfig{JWTSecret: "corta"},
		Loan:   LoanConfig{DefaultDays: 7, AnchorDefault: 10},
	}
	if err := cfg.Validate(); err == nil {
		t.Error("期望短密钥校验失败")
	}
}

func TestValidate_BadPort(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{Port: 70000},
		Auth:   AuthConfig{JWTSecret: "clave-de-pruebas-suficientemente-larga"},
		Loan:   LoanConfig{DefaultDays: 7, AnchorDefault: 10},
	}
	if err := cfg.Validate(); err == nil {
		t.Error("期望端口校验失败")
	}
}
