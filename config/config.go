// Package config loads the portage instance configuration from a YAML file
// with environment-variable overrides for the values that differ per
// deployment.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/haelix/portage/objstore"
)

// Config is the top-level instance configuration.
type Config struct {
	// InstanceID identifies this instance in control-plane signals.
	InstanceID string `yaml:"instance_id"`

	// DataDir is the root of the live storage layout
	// (lakehouse/, vectors/, lora/, metadata/).
	DataDir string `yaml:"data_dir"`

	// StagingRoot holds per-customer staged data awaiting export.
	StagingRoot string `yaml:"staging_root"`

	// ExportRoot receives export bundle directories and archives.
	ExportRoot string `yaml:"export_root"`

	// WorkDir holds import downloads and extraction scratch space. Partial
	// downloads persist here between attempts, which is what makes resume
	// work.
	WorkDir string `yaml:"work_dir"`

	// ListenAddr is the status service bind address.
	ListenAddr string `yaml:"listen_addr"`

	// ControlPlaneURL is the base URL for completion signals. Empty
	// disables signaling.
	ControlPlaneURL string `yaml:"control_plane_url"`

	// CreatedBy is stamped into exported manifests.
	CreatedBy string `yaml:"created_by"`

	ObjectStore objstore.Config `yaml:"object_store"`
}

// Load reads path (optional; empty path loads defaults), then applies env
// overrides.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyEnv() {
	setIfEnv(&c.InstanceID, "PORTAGE_INSTANCE_ID")
	setIfEnv(&c.DataDir, "PORTAGE_DATA_DIR")
	setIfEnv(&c.StagingRoot, "PORTAGE_STAGING_ROOT")
	setIfEnv(&c.ExportRoot, "PORTAGE_EXPORT_ROOT")
	setIfEnv(&c.WorkDir, "PORTAGE_WORK_DIR")
	setIfEnv(&c.ListenAddr, "PORTAGE_LISTEN_ADDR")
	setIfEnv(&c.ControlPlaneURL, "PORTAGE_CONTROL_PLANE_URL")
	setIfEnv(&c.ObjectStore.Endpoint, "MINIO_ENDPOINT")
	setIfEnv(&c.ObjectStore.AccessKey, "MINIO_ACCESS_KEY")
	setIfEnv(&c.ObjectStore.SecretKey, "MINIO_SECRET_KEY")
	setIfEnv(&c.ObjectStore.Bucket, "MINIO_BUCKET")
}

func (c *Config) applyDefaults() {
	if c.InstanceID == "" {
		host, _ := os.Hostname()
		c.InstanceID = host
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.StagingRoot == "" {
		c.StagingRoot = filepath.Join(c.DataDir, "staging")
	}
	if c.ExportRoot == "" {
		c.ExportRoot = filepath.Join(c.DataDir, "exports")
	}
	if c.WorkDir == "" {
		c.WorkDir = filepath.Join(c.DataDir, "work")
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":8462"
	}
	if c.CreatedBy == "" {
		c.CreatedBy = "portage"
	}
	if c.ObjectStore.Bucket == "" {
		c.ObjectStore.Bucket = "portage"
	}
}

// SystemDBPath is the SQLite database holding leases and pipeline events.
func (c *Config) SystemDBPath() string {
	return filepath.Join(c.DataDir, "portage.db")
}

func setIfEnv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
