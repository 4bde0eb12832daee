package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr bool
		check   func(*testing.T, *Config)
	}{
		{
			name: "default values",
			env:  map[string]string{},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Port != "8080" {
					t.Errorf("expected port 8080, got %s", cfg.Port)
				}
				if cfg.LogLevel != "info" {
					t.Errorf("expected log level info, got %s", cfg.LogLevel)
				}
				if cfg.WSReadTimeout != 60*time.Second {
					t.Errorf("expected WSReadTimeout 60s, got %v", cfg.WSReadTimeout)
				}
				if cfg.ResponderTimeout != 15*time.Second {
					t.Errorf("expected ResponderTimeout 15s, got %v", cfg.ResponderTimeout)
				}
				if cfg.SessionRetention != time.Hour {
					t.Errorf("expected SessionRetention 1h, got %v", cfg.SessionRetention)
				}
				if cfg.QueueStatusInterval != 10*time.Second {
					t.Errorf("expected QueueStatusInterval 10s, got %v", cfg.QueueStatusInterval)
				}
			},
		},
		{
			name: "custom values",
			env: map[string]string{
				"PORT":                  "9000",
				"LOG_LEVEL":             "debug",
				"WS_READ_TIMEOUT":       "30",
				"WS_WRITE_TIMEOUT":      "5",
				"RESPONDER_TIMEOUT":     "3",
				"SESSION_RETENTION":     "120",
				"QUEUE_STATUS_INTERVAL": "2",
				"MAX_WAIT_ALERT":        "60",
				"ALLOWED_ORIGINS":       "http://example.com,http://test.com",
			},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Port != "9000" {
					t.Errorf("expected port 9000, got %s", cfg.Port)
				}
				if cfg.WSReadTimeout != 30*time.Second {
					t.Errorf("expected WSReadTimeout 30s, got %v", cfg.WSReadTimeout)
				}
				if cfg.ResponderTimeout != 3*time.Second {
					t.Errorf("expected ResponderTimeout 3s, got %v", cfg.ResponderTimeout)
				}
				if cfg.SessionRetention != 2*time.Minute {
					t.Errorf("expected SessionRetention 2m, got %v", cfg.SessionRetention)
				}
				if cfg.MaxWaitAlert != time.Minute {
					t.Errorf("expected MaxWaitAlert 1m, got %v", cfg.MaxWaitAlert)
				}
				if len(cfg.AllowedOrigins) != 2 {
					t.Errorf("expected 2 allowed origins, got %d", len(cfg.AllowedOrigins))
				}
			},
		},
		{
			name: "invalid WS_READ_TIMEOUT",
			env: map[string]string{
				"WS_READ_TIMEOUT": "not-a-number",
			},
			wantErr: true,
		},
		{
			name: "invalid RESPONDER_TIMEOUT",
			env: map[string]string{
				"RESPONDER_TIMEOUT": "soon",
			},
			wantErr: true,
		},
		{
			name: "invalid SESSION_RETENTION",
			env: map[string]string{
				"SESSION_RETENTION": "forever",
			},
			wantErr: true,
		},
		{
			name: "ping period less than pong wait",
			env:  map[string]string{},
			check: func(t *testing.T, cfg *Config) {
				if cfg.PingPeriod >= cfg.PongWait {
					t.Errorf("ping period %v must be less than pong wait %v", cfg.PingPeriod, cfg.PongWait)
				}
			},
		},
		{
			name: "origins are trimmed",
			env: map[string]string{
				"ALLOWED_ORIGINS": " http://a.com , http://b.com ",
			},
			check: func(t *testing.T, cfg *Config) {
				if cfg.AllowedOrigins[0] != "http://a.com" {
					t.Errorf("expected trimmed origin, got %q", cfg.AllowedOrigins[0])
				}
				if cfg.AllowedOrigins[1] != "http://b.com" {
					t.Errorf("expected trimmed origin, got %q", cfg.AllowedOrigins[1])
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()
			for k, v := range tt.env {
				os.Setenv(k, v)
			}
			defer os.Clearenv()

			cfg, err := Load()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}
