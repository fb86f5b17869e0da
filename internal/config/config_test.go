package config

import (
	"os"
	"testing"
	"time"
)

func TestGetenv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		expected     string
	}{
		{
			name:         "returns environment variable when set",
			key:          "TEST_KEY_1",
			defaultValue: "default",
			envValue:     "env_value",
			expected:     "env_value",
		},
		{
			name:         "returns default when environment variable is empty",
			key:          "TEST_KEY_2",
			defaultValue: "default",
			envValue:     "",
			expected:     "default",
		},
		{
			name:         "handles empty default value",
			key:          "TEST_KEY_3",
			defaultValue: "",
			envValue:     "env_value",
			expected:     "env_value",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv(tt.key, tt.envValue)
				defer os.Unsetenv(tt.key)
			}

			result := getenv(tt.key, tt.defaultValue)
			if result != tt.expected {
				t.Errorf("getenv(%q, %q) = %q, want %q", tt.key, tt.defaultValue, result, tt.expected)
			}
		})
	}
}

func TestGetenvInt(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		def      int
		envValue string
		expected int
	}{
		{name: "parses valid integer", key: "TEST_INT_1", def: 5, envValue: "12", expected: 12},
		{name: "falls back on invalid integer", key: "TEST_INT_2", def: 5, envValue: "abc", expected: 5},
		{name: "falls back when unset", key: "TEST_INT_3", def: 5, envValue: "", expected: 5},
		{name: "parses negative integer", key: "TEST_INT_4", def: 5, envValue: "-3", expected: -3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv(tt.key, tt.envValue)
				defer os.Unsetenv(tt.key)
			}

			result := getenvInt(tt.key, tt.def)
			if result != tt.expected {
				t.Errorf("getenvInt(%q, %d) = %d, want %d", tt.key, tt.def, result, tt.expected)
			}
		})
	}
}

func TestGetenvDuration(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		def      time.Duration
		envValue string
		expected time.Duration
	}{
		{name: "parses valid duration", key: "TEST_DUR_1", def: time.Second, envValue: "250ms", expected: 250 * time.Millisecond},
		{name: "falls back on invalid duration", key: "TEST_DUR_2", def: time.Second, envValue: "soon", expected: time.Second},
		{name: "falls back when unset", key: "TEST_DUR_3", def: 2 * time.Second, envValue: "", expected: 2 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv(tt.key, tt.envValue)
				defer os.Unsetenv(tt.key)
			}

			result := getenvDuration(tt.key, tt.def)
			if result != tt.expected {
				t.Errorf("getenvDuration(%q, %v) = %v, want %v", tt.key, tt.def, result, tt.expected)
			}
		})
	}
}

func TestParseBackoffSchedule(t *testing.T) {
	tests := []struct {
		name     string
		schedule string
		expected []time.Duration
	}{
		{
			name:     "empty string returns default schedule",
			schedule: "",
			expected: defaultBackoffSchedule(),
		},
		{
			name:     "parses comma separated durations",
			schedule: "1s,5s,30s",
			expected: []time.Duration{time.Second, 5 * time.Second, 30 * time.Second},
		},
		{
			name:     "skips invalid entries",
			schedule: "1s,bogus,2m",
			expected: []time.Duration{time.Second, 2 * time.Minute},
		},
		{
			name:     "all invalid entries returns default schedule",
			schedule: "nope,never",
			expected: defaultBackoffSchedule(),
		},
		{
			name:     "handles whitespace around entries",
			schedule: " 1s , 4s ",
			expected: []time.Duration{time.Second, 4 * time.Second},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := parseBackoffSchedule(tt.schedule)
			if len(result) != len(tt.expected) {
				t.Fatalf("parseBackoffSchedule(%q) returned %d durations, want %d", tt.schedule, len(result), len(tt.expected))
			}
			for i := range result {
				if result[i] != tt.expected[i] {
					t.Errorf("parseBackoffSchedule(%q)[%d] = %v, want %v", tt.schedule, i, result[i], tt.expected[i])
				}
			}
		})
	}
}

func TestFromEnvDefaults(t *testing.T) {
	cfg := FromEnv()

	if cfg.AppName != "inkwire" {
		t.Errorf("AppName = %q, want %q", cfg.AppName, "inkwire")
	}
	if cfg.HTTPPort != ":8080" {
		t.Errorf("HTTPPort = %q, want %q", cfg.HTTPPort, ":8080")
	}
	if cfg.Worker.Count != 4 {
		t.Errorf("Worker.Count = %d, want 4", cfg.Worker.Count)
	}
	if cfg.Worker.MaxAttempts != 10 {
		t.Errorf("Worker.MaxAttempts = %d, want 10", cfg.Worker.MaxAttempts)
	}
	if cfg.Worker.IdleInterval != time.Second {
		t.Errorf("Worker.IdleInterval = %v, want 1s", cfg.Worker.IdleInterval)
	}
	if cfg.Mail.SendTimeout != 10*time.Second {
		t.Errorf("Mail.SendTimeout = %v, want 10s", cfg.Mail.SendTimeout)
	}
	if len(cfg.Worker.BackoffSchedule) != 6 {
		t.Errorf("Worker.BackoffSchedule has %d entries, want 6", len(cfg.Worker.BackoffSchedule))
	}
}

func TestDSN(t *testing.T) {
	cfg := Config{
		DB: DB{User: "u", Pass: "p", Host: "h", Port: "5432", Name: "n"},
	}
	want := "postgres://u:p@h:5432/n?sslmode=disable"
	if got := cfg.DSN(); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}
