package config

import (
	"os"
	"path/filepath"
	"testing"

	apperrors "github.com/evidify/evidify-cli/pkg/errors"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const validJSON = `{
  "connectors": [
    {"type": "mock_email", "name": "sample", "enabled": true, "params": {"batch_size": 10}},
    {"type": "file_based_json", "name": "enron", "enabled": false, "params": {"directory": "/data/enron"}}
  ],
  "object_store": {"type": "local_fs", "params": {"base_path": "/tmp/evidence"}},
  "metadata_store": {"type": "postgres", "params": {}},
  "processing": {"enable_deduplication": true, "enable_ocr": true},
  "security": {"envelope_encryption": true}
}`

func TestLoadJSON(t *testing.T) {
	path := writeConfig(t, "config.json", validJSON)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if len(cfg.Connectors) != 2 {
		t.Fatalf("connectors = %d, want 2", len(cfg.Connectors))
	}
	if cfg.Connectors[0].Params.Int("batch_size", 0) != 10 {
		t.Errorf("batch_size = %d, want 10", cfg.Connectors[0].Params.Int("batch_size", 0))
	}
	if cfg.ObjectStore.Params.String("base_path") != "/tmp/evidence" {
		t.Errorf("base_path = %q", cfg.ObjectStore.Params.String("base_path"))
	}
	if !cfg.Processing.EnableDeduplication {
		t.Error("enable_deduplication should be true")
	}

	enabled := cfg.EnabledConnectors()
	if len(enabled) != 1 || enabled[0].Name != "sample" {
		t.Errorf("enabled connectors = %+v", enabled)
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
connectors:
  - type: mock_email
    name: sample
    enabled: true
    params:
      batch_size: 25
object_store:
  type: local_fs
  params:
    base_path: ./evidence
metadata_store:
  type: postgres
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Connectors[0].Params.Int("batch_size", 0) != 25 {
		t.Errorf("batch_size = %d, want 25", cfg.Connectors[0].Params.Int("batch_size", 0))
	}
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("EVIDENCE_BASE", "/mnt/case-42")
	path := writeConfig(t, "config.json", `{
  "connectors": [{"type": "mock_email", "name": "m", "enabled": true}],
  "object_store": {"type": "local_fs", "params": {"base_path": "${EVIDENCE_BASE}/store"}},
  "metadata_store": {"type": "postgres"}
}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := cfg.ObjectStore.Params.String("base_path"); got != "/mnt/case-42/store" {
		t.Errorf("base_path = %q, want /mnt/case-42/store", got)
	}
}

func TestLoadRejectsUnknownConnectorType(t *testing.T) {
	path := writeConfig(t, "config.json", `{
  "connectors": [{"type": "carrier_pigeon", "name": "p", "enabled": true}],
  "object_store": {"type": "local_fs"},
  "metadata_store": {"type": "postgres"}
}`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for unknown connector type")
	}
	if !apperrors.IsConfig(err) {
		t.Errorf("error should be a config error, got %v", err)
	}
}

func TestValidateRequiresStores(t *testing.T) {
	cfg := &AppConfig{
		Connectors: []ConnectorConfig{{Type: ConnectorMockEmail, Name: "m"}},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing object_store type")
	}

	cfg.ObjectStore.Type = ObjectStoreS3
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing metadata_store type")
	}

	cfg.MetadataStore.Type = MetadataStorePostgres
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestValidateRejectsDuplicateConnectorNames(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Connectors = append(cfg.Connectors, cfg.Connectors[0])
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for duplicate connector names")
	}
}

func TestValidateWorkerCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enrichment.MaxWorkers = 11
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for max_workers above the cap")
	}
	cfg.Enrichment.MaxWorkers = 10
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestDefaultConfigIsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("DefaultConfig().Validate() error = %v", err)
	}
}

func TestParamsAccessors(t *testing.T) {
	p := Params{
		"count":  float64(7),
		"flag":   true,
		"name":   "x",
		"list":   []interface{}{"a", "b"},
		"strint": "42",
	}
	if p.Int("count", 0) != 7 {
		t.Errorf("Int(count) = %d", p.Int("count", 0))
	}
	if p.Int("strint", 0) != 42 {
		t.Errorf("Int(strint) = %d", p.Int("strint", 0))
	}
	if p.Int("missing", 9) != 9 {
		t.Errorf("Int(missing) = %d", p.Int("missing", 9))
	}
	if !p.Bool("flag", false) {
		t.Error("Bool(flag) = false")
	}
	if p.String("name") != "x" {
		t.Errorf("String(name) = %q", p.String("name"))
	}
	if got := p.StringSlice("list"); len(got) != 2 || got[0] != "a" {
		t.Errorf("StringSlice(list) = %v", got)
	}
}
