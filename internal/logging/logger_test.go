package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestSetAndGetLogger(t *testing.T) {
	original := Logger()
	defer SetLogger(original)

	var buf bytes.Buffer
	customLogger := slog.New(slog.NewJSONHandler(&buf, nil))

	SetLogger(customLogger)

	if got := Logger(); got != customLogger {
		t.Error("Logger() did not return the logger set by SetLogger()")
	}
}

func TestSetOutput(t *testing.T) {
	original := Logger()
	defer SetLogger(original)

	var buf bytes.Buffer
	SetOutput(&buf)

	Info("deployed proxy", "contract", "Mars")

	output := buf.String()
	if !strings.Contains(output, "deployed proxy") {
		t.Errorf("expected output to contain message, got: %s", output)
	}
	if !strings.Contains(output, `"contract":"Mars"`) {
		t.Errorf("expected output to contain contract attr, got: %s", output)
	}

	Debug("should not appear")
	if strings.Contains(buf.String(), "should not appear") {
		t.Error("debug messages should not appear at info level")
	}
}

func TestConfigure(t *testing.T) {
	original := Logger()
	defer SetLogger(original)

	tests := []struct {
		name    string
		level   string
		format  string
		wantErr bool
	}{
		{"text info", "info", "text", false},
		{"json debug", "debug", "json", false},
		{"default", "", "", false},
		{"bad level", "verbose", "text", true},
		{"bad format", "info", "xml", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			err := Configure(&buf, tt.level, tt.format)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Configure() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfigure_JSONDebug(t *testing.T) {
	original := Logger()
	defer SetLogger(original)

	var buf bytes.Buffer
	if err := Configure(&buf, "debug", "json"); err != nil {
		t.Fatal(err)
	}
	Debug("estimating gas", "method", "schedule")

	if !strings.Contains(buf.String(), `"method":"schedule"`) {
		t.Errorf("expected json debug output, got: %s", buf.String())
	}
}

func TestFieldHelpers(t *testing.T) {
	if a := Network("bsctestnet"); a.Key != "network" || a.Value.String() != "bsctestnet" {
		t.Errorf("Network attr = %v", a)
	}
	if a := Contract("StakeManager"); a.Key != "contract" {
		t.Errorf("Contract attr = %v", a)
	}
	if a := Err(nil); a.Value.String() != "" {
		t.Errorf("Err(nil) = %v", a)
	}
	if a := Err(errors.New("boom")); a.Value.String() != "boom" {
		t.Errorf("Err = %v", a)
	}
}

func TestAudit(t *testing.T) {
	original := Logger()
	defer SetLogger(original)

	var buf bytes.Buffer
	SetOutput(&buf)

	Audit(AuditEvent{
		Operation: "timelock_schedule",
		Network:   "hardhat",
		Actor:     "0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC",
		Target:    "0x7a2088a1bFc9d81c55368AE168C2C02570cB814F",
		Result:    "success",
	})

	output := buf.String()
	for _, want := range []string{`"audit":true`, `"operation":"timelock_schedule"`, `"result":"success"`} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %s in output, got: %s", want, output)
		}
	}
}
