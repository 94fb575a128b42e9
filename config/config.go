// Package config provides configuration management for the evidify pipeline.
// It supports loading configuration from JSON or YAML files with ${VAR}
// environment expansion applied before parsing, so secret material never
// lives in the config file itself.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	apperrors "github.com/evidify/evidify-cli/pkg/errors"
)

// Connector type values recognized by the factory.
const (
	ConnectorMockEmail     = "mock_email"
	ConnectorFileBasedJSON = "file_based_json"
	ConnectorMailAPI       = "mail_api"
	ConnectorWorkspaceAPI  = "workspace_api"
	ConnectorCloudStorage  = "cloud_storage"
)

// Object store type values.
const (
	ObjectStoreLocalFS = "local_fs"
	ObjectStoreS3      = "s3"
)

// Metadata store type values.
const (
	MetadataStorePostgres = "postgres"
)

var knownConnectorTypes = map[string]bool{
	ConnectorMockEmail:     true,
	ConnectorFileBasedJSON: true,
	ConnectorMailAPI:       true,
	ConnectorWorkspaceAPI:  true,
	ConnectorCloudStorage:  true,
}

// Params is a generic bag of connector or store parameters with typed
// accessors. Values come from JSON/YAML so numbers may arrive as float64,
// int, or string.
type Params map[string]interface{}

// String returns the string value for key, or empty when absent.
func (p Params) String(key string) string {
	if v, ok := p[key]; ok {
		switch s := v.(type) {
		case string:
			return s
		default:
			return fmt.Sprintf("%v", v)
		}
	}
	return ""
}

// Int returns the integer value for key, or def when absent or unparsable.
func (p Params) Int(key string, def int) int {
	v, ok := p[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		if parsed, err := strconv.Atoi(n); err == nil {
			return parsed
		}
	}
	return def
}

// Bool returns the boolean value for key, or def when absent.
func (p Params) Bool(key string, def bool) bool {
	v, ok := p[key]
	if !ok {
		return def
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return b == "true" || b == "1"
	}
	return def
}

// StringSlice returns the list value for key, or nil when absent.
func (p Params) StringSlice(key string) []string {
	v, ok := p[key]
	if !ok {
		return nil
	}
	switch list := v.(type) {
	case []string:
		return list
	case []interface{}:
		out := make([]string, 0, len(list))
		for _, item := range list {
			out = append(out, fmt.Sprintf("%v", item))
		}
		return out
	}
	return nil
}

// ConnectorConfig describes one configured evidence source.
type ConnectorConfig struct {
	// Type selects the connector implementation (mock_email, file_based_json,
	// mail_api, workspace_api, cloud_storage).
	Type string `json:"type" yaml:"type"`

	// Name is the connector instance name, recorded as document source.
	Name string `json:"name" yaml:"name"`

	// Enabled toggles the connector without removing its configuration.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Params holds connector-specific settings.
	Params Params `json:"params" yaml:"params"`
}

// ProcessingConfig toggles pipeline processing stages. Disabled stages are
// absent from the chain entirely, not bypassed at runtime.
type ProcessingConfig struct {
	EnableDeduplication      bool `json:"enable_deduplication" yaml:"enable_deduplication"`
	EnableOCR                bool `json:"enable_ocr" yaml:"enable_ocr"`
	EnableEntityExtraction   bool `json:"enable_entity_extraction" yaml:"enable_entity_extraction"`
	EnablePrivilegeDetection bool `json:"enable_privilege_detection" yaml:"enable_privilege_detection"`
}

// StorageTargetConfig selects a store implementation and its parameters.
type StorageTargetConfig struct {
	Type   string `json:"type" yaml:"type"`
	Params Params `json:"params" yaml:"params"`
}

// SecurityConfig holds security controls enforced across the pipeline.
type SecurityConfig struct {
	// EnvelopeEncryption enables server-side encryption on the object store.
	EnvelopeEncryption bool `json:"envelope_encryption" yaml:"envelope_encryption"`

	// KMSKeyID selects a customer-managed key; empty means provider-managed.
	KMSKeyID string `json:"kms_key_id,omitempty" yaml:"kms_key_id,omitempty"`

	// RBACPolicy names an access policy document (informational).
	RBACPolicy string `json:"rbac_policy,omitempty" yaml:"rbac_policy,omitempty"`

	// AuditLogDestination, when set to a redis:// URL, publishes custody
	// events to a Redis stream.
	AuditLogDestination string `json:"audit_log_destination,omitempty" yaml:"audit_log_destination,omitempty"`
}

// EnrichmentConfig holds LLM and embedding settings for the enrichment engine.
type EnrichmentConfig struct {
	// APIKeyEnv names the environment variable holding the LLM API key.
	APIKeyEnv string `json:"api_key_env,omitempty" yaml:"api_key_env,omitempty"`

	// BaseURL overrides the LLM endpoint for self-hosted gateways.
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`

	// Model is the chat model used for classification.
	Model string `json:"model,omitempty" yaml:"model,omitempty"`

	// EmbeddingModel is the model used for embedding generation.
	EmbeddingModel string `json:"embedding_model,omitempty" yaml:"embedding_model,omitempty"`

	// MaxWorkers bounds the enrichment pool (hard cap 10).
	MaxWorkers int `json:"max_workers,omitempty" yaml:"max_workers,omitempty"`
}

// AppConfig is the top-level configuration for the ingestion pipeline.
type AppConfig struct {
	Connectors    []ConnectorConfig   `json:"connectors" yaml:"connectors"`
	ObjectStore   StorageTargetConfig `json:"object_store" yaml:"object_store"`
	MetadataStore StorageTargetConfig `json:"metadata_store" yaml:"metadata_store"`
	Processing    ProcessingConfig    `json:"processing" yaml:"processing"`
	Security      SecurityConfig      `json:"security" yaml:"security"`
	Enrichment    EnrichmentConfig    `json:"enrichment" yaml:"enrichment"`
}

// DefaultConfig returns an AppConfig suitable for local development: one mock
// connector, filesystem object store, and Postgres settings from environment.
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Connectors: []ConnectorConfig{
			{
				Type:    ConnectorMockEmail,
				Name:    "sample_m365_mailbox",
				Enabled: true,
				Params:  Params{"batch_size": 50},
			},
		},
		ObjectStore: StorageTargetConfig{
			Type:   ObjectStoreLocalFS,
			Params: Params{"base_path": "./_evidence"},
		},
		MetadataStore: StorageTargetConfig{
			Type:   MetadataStorePostgres,
			Params: Params{},
		},
		Processing: ProcessingConfig{
			EnableDeduplication:    true,
			EnableOCR:              true,
			EnableEntityExtraction: true,
		},
		Security: SecurityConfig{
			EnvelopeEncryption: true,
		},
	}
}

// Load reads an AppConfig from a JSON or YAML file, chosen by extension.
// ${VAR} references are expanded from the environment before parsing;
// undefined variables expand to the empty string.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading config file: %v", apperrors.ErrConfig, err)
	}

	expanded := os.Expand(string(data), os.Getenv)

	cfg := &AppConfig{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("%w: parsing YAML config: %v", apperrors.ErrConfig, err)
		}
	default:
		if err := json.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("%w: parsing JSON config: %v", apperrors.ErrConfig, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks structural requirements and rejects unknown type values.
func (c *AppConfig) Validate() error {
	if len(c.Connectors) == 0 {
		return fmt.Errorf("%w: at least one connector is required", apperrors.ErrConfig)
	}

	seen := map[string]bool{}
	for i, conn := range c.Connectors {
		if conn.Type == "" {
			return fmt.Errorf("%w: connectors[%d]: type is required", apperrors.ErrConfig, i)
		}
		if !knownConnectorTypes[conn.Type] {
			return fmt.Errorf("%w: connectors[%d]: unknown connector type %q", apperrors.ErrConfig, i, conn.Type)
		}
		if conn.Name == "" {
			return fmt.Errorf("%w: connectors[%d]: name is required", apperrors.ErrConfig, i)
		}
		if seen[conn.Name] {
			return fmt.Errorf("%w: duplicate connector name %q", apperrors.ErrConfig, conn.Name)
		}
		seen[conn.Name] = true
	}

	switch c.ObjectStore.Type {
	case ObjectStoreLocalFS, ObjectStoreS3:
	case "":
		return fmt.Errorf("%w: object_store.type is required", apperrors.ErrConfig)
	default:
		return fmt.Errorf("%w: unknown object_store type %q", apperrors.ErrConfig, c.ObjectStore.Type)
	}

	switch c.MetadataStore.Type {
	case MetadataStorePostgres:
	case "":
		return fmt.Errorf("%w: metadata_store.type is required", apperrors.ErrConfig)
	default:
		return fmt.Errorf("%w: unknown metadata_store type %q", apperrors.ErrConfig, c.MetadataStore.Type)
	}

	if c.Enrichment.MaxWorkers < 0 || c.Enrichment.MaxWorkers > 10 {
		return fmt.Errorf("%w: enrichment.max_workers must be between 0 and 10", apperrors.ErrConfig)
	}

	return nil
}

// EnabledConnectors returns the connectors with Enabled set, in declared order.
func (c *AppConfig) EnabledConnectors() []ConnectorConfig {
	out := make([]ConnectorConfig, 0, len(c.Connectors))
	for _, conn := range c.Connectors {
		if conn.Enabled {
			out = append(out, conn)
		}
	}
	return out
}
