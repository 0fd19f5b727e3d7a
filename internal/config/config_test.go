package config

import (
	"os"
	"path/filepath"
	"testing"

	"tintbook/internal/models"
	"tintbook/internal/slots"
)

func TestLoadConfig(t *testing.T) {
	// Create a temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	t.Setenv("TINTBOOK_DB", "test.db")

	yamlContent := `
database:
  path: "${TINTBOOK_DB}"
business_hours:
  open: "08:00"
  close: "17:00"
services:
  - id: "tint-full"
    name: "Full tint"
    duration_hours: 3
staff:
  - id: "A"
    name: "Alex"
    role: "staff"
    can_take_appointments: true
    is_active: true
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	// no .env in the working directory is fine
	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Database.Path != "test.db" {
		t.Errorf("expected expanded database path test.db, got %s", cfg.Database.Path)
	}
	if len(cfg.Services) != 1 || cfg.Services[0].DurationHours != 3 {
		t.Errorf("expected 1 service with duration 3")
	}
	if len(cfg.Staff) != 1 || !cfg.Staff[0].CanTakeAppointments {
		t.Errorf("expected 1 eligible staff member")
	}

	hours, err := cfg.BusinessHours.ToBusinessHours()
	if err != nil {
		t.Fatalf("business hours: %v", err)
	}
	if hours.Open != 8 || hours.Close != 17 {
		t.Errorf("expected 8-17, got %.2f-%.2f", hours.Open, hours.Close)
	}
	if hours.GranularityMinutes != slots.DefaultGranularityMinutes {
		t.Errorf("expected default granularity, got %d", hours.GranularityMinutes)
	}
}

func TestLoadConfig_WithEnvFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("database:\n  path: \"x.db\"\n"), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	// Mock .env file
	if err := os.WriteFile(".env", []byte(""), 0o644); err != nil {
		t.Fatalf("failed to write .env: %v", err)
	}
	defer os.Remove(".env")

	if _, err := Load(configPath); err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
}

func TestValidateConfig(t *testing.T) {
	valid := func() Config {
		c := Config{Database: DatabaseConfig{Path: "path"}}
		c.applyDefaults()
		return c
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid config", mutate: func(c *Config) {}, wantErr: false},
		{name: "missing database", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: true},
		{name: "open after close", mutate: func(c *Config) {
			c.BusinessHours.Open = "19:00"
		}, wantErr: true},
		{name: "bad granularity", mutate: func(c *Config) {
			c.BusinessHours.GranularityMinutes = 7
		}, wantErr: true},
		{name: "unparsable open", mutate: func(c *Config) {
			c.BusinessHours.Open = "nine"
		}, wantErr: true},
		{name: "interval mode", mutate: func(c *Config) {
			c.Allocation.OverlapMode = OverlapModeInterval
		}, wantErr: false},
		{name: "unknown mode", mutate: func(c *Config) {
			c.Allocation.OverlapMode = "fuzzy"
		}, wantErr: true},
		{name: "kafka without brokers", mutate: func(c *Config) {
			c.Kafka.Enabled = true
			c.Kafka.Topic = "appointments"
		}, wantErr: true},
		{name: "duplicate staff", mutate: func(c *Config) {
			c.Staff = []models.Staff{{ID: "A"}, {ID: "A"}}
		}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()

	if cfg.Allocation.OverlapMode != OverlapModePoint {
		t.Errorf("expected default overlap mode point, got %s", cfg.Allocation.OverlapMode)
	}
	if cfg.Allocation.MaxRetries != models.MaxAllocationRetries {
		t.Errorf("expected default max retries %d, got %d", models.MaxAllocationRetries, cfg.Allocation.MaxRetries)
	}
	if cfg.API.GRPC.Port != 8081 {
		t.Errorf("expected default gRPC port 8081, got %d", cfg.API.GRPC.Port)
	}
	if cfg.Notifications.ReminderLeadMinutes != models.ReminderLeadMinutes {
		t.Errorf("expected default reminder lead %d, got %d", models.ReminderLeadMinutes, cfg.Notifications.ReminderLeadMinutes)
	}
	if cfg.API.Auth.HeaderAPIKey != "x-api-key" {
		t.Errorf("expected default api key header, got %s", cfg.API.Auth.HeaderAPIKey)
	}
}

func TestValidateServices(t *testing.T) {
	tests := []struct {
		name     string
		services []models.Service
		wantErr  bool
	}{
		{
			name: "Valid services",
			services: []models.Service{
				{ID: "wash", Name: "Wash", DurationHours: 1},
				{ID: "tint", Name: "Tint", DurationHours: 2.5},
			},
			wantErr: false,
		},
		{
			name: "Duplicate ID",
			services: []models.Service{
				{ID: "wash", Name: "Wash", DurationHours: 1},
				{ID: "wash", Name: "Wash 2", DurationHours: 1},
			},
			wantErr: true,
		},
		{
			name:     "Empty ID",
			services: []models.Service{{Name: "Wash", DurationHours: 1}},
			wantErr:  true,
		},
		{
			name:     "Zero duration",
			services: []models.Service{{ID: "wash", Name: "Wash"}},
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateServices(tt.services)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateServices() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
