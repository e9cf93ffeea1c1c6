package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const validYAML = `
bridges:
  - name: plc-1
    near:
      transport:
        type: serial
        address: /dev/ttyUSB0
        baudrate: 19200
      protocol: rtu
    far:
      transport:
        type: tcp
        address: 192.168.1.10:502
      protocol: tcp
    response_timeout: 2s
logging:
  level: debug
  format: json
metrics:
  enabled: true
  listen: ":9090"
`

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadValid(t *testing.T) {
	cfg, err := Load(writeTemp(t, validYAML))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(cfg.Bridges) != 1 {
		t.Fatalf("got %d bridges, want 1", len(cfg.Bridges))
	}
	b := cfg.Bridges[0]
	if b.Name != "plc-1" {
		t.Errorf("Name = %q, want %q", b.Name, "plc-1")
	}
	if b.Near.Protocol != "rtu" || b.Far.Protocol != "tcp" {
		t.Errorf("protocols = %q/%q, want rtu/tcp", b.Near.Protocol, b.Far.Protocol)
	}
	if b.Near.Transport.BaudRate != 19200 {
		t.Errorf("BaudRate = %d, want 19200", b.Near.Transport.BaudRate)
	}
	if time.Duration(b.ResponseTimeout) != 2*time.Second {
		t.Errorf("ResponseTimeout = %v, want 2s", time.Duration(b.ResponseTimeout))
	}
	if cfg.Logging.Level != "debug" || !cfg.Metrics.Enabled {
		t.Errorf("ambient config not loaded: %+v %+v", cfg.Logging, cfg.Metrics)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "malformed yaml",
			yaml: "bridges: [",
		},
		{
			name: "no bridges",
			yaml: "logging:\n  level: info\n",
		},
		{
			name: "bad protocol",
			yaml: `
bridges:
  - name: b
    near:
      transport: {type: tcp, address: "a:1"}
      protocol: dnp3
    far:
      transport: {type: tcp, address: "b:1"}
      protocol: tcp
`,
		},
		{
			name: "bad transport type",
			yaml: `
bridges:
  - name: b
    near:
      transport: {type: carrier-pigeon, address: "a:1"}
      protocol: rtu
    far:
      transport: {type: tcp, address: "b:1"}
      protocol: tcp
`,
		},
		{
			name: "missing name",
			yaml: `
bridges:
  - near:
      transport: {type: tcp, address: "a:1"}
      protocol: rtu
    far:
      transport: {type: tcp, address: "b:1"}
      protocol: tcp
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeTemp(t, tt.yaml)); err == nil {
				t.Error("Load succeeded, want error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Load succeeded for missing file, want error")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	cfg, err := Load(writeTemp(t, validYAML))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	path := filepath.Join(t.TempDir(), "saved", "config.yaml")
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	back, err := Load(path)
	if err != nil {
		t.Fatalf("Load of saved config failed: %v", err)
	}
	if back.Bridges[0].Name != cfg.Bridges[0].Name {
		t.Errorf("round trip changed name: %q != %q", back.Bridges[0].Name, cfg.Bridges[0].Name)
	}
	if back.Bridges[0].ResponseTimeout != cfg.Bridges[0].ResponseTimeout {
		t.Errorf("round trip changed timeout: %v != %v", back.Bridges[0].ResponseTimeout, cfg.Bridges[0].ResponseTimeout)
	}
}
