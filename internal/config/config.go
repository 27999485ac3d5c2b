// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads and validates gantry daemon configuration.
package config

import (
	"os"
	"strconv"
	"time"

	gantryerrors "github.com/tombee/gantry/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config represents the complete gantry configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Artifacts ArtifactsConfig `yaml:"artifacts"`
	Engine    EngineConfig    `yaml:"engine"`
	Target    TargetConfig    `yaml:"target"`
	Runner    RunnerConfig    `yaml:"runner"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	// ListenAddr is the address the HTTP server binds to.
	// Environment: GANTRY_LISTEN_ADDR
	// Default: 127.0.0.1:8080
	ListenAddr string `yaml:"listen_addr,omitempty"`

	// ReadTimeout bounds request header/body reads.
	// Default: 30s
	ReadTimeout time.Duration `yaml:"read_timeout,omitempty"`

	// WriteTimeout bounds response writes.
	// Default: 60s
	WriteTimeout time.Duration `yaml:"write_timeout,omitempty"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	// Default: 15s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout,omitempty"`

	// DrainTimeout is the maximum duration to wait for in-flight jobs to
	// complete during shutdown. New submissions are rejected while draining.
	// Default: 60s
	DrainTimeout time.Duration `yaml:"drain_timeout,omitempty"`
}

// ArtifactsConfig configures the artifact object store.
type ArtifactsConfig struct {
	// Bucket is the S3 bucket holding playbooks, inventories, and keys.
	// Environment: GANTRY_S3_BUCKET
	Bucket string `yaml:"bucket"`

	// Prefix is an optional key prefix applied to all artifact lookups.
	// Empty means keys are used as-is.
	Prefix string `yaml:"prefix,omitempty"`

	// PlaybookPrefix is the key prefix under which playbooks live.
	// Default: ansible/playbooks
	PlaybookPrefix string `yaml:"playbook_prefix,omitempty"`

	// ExtraPrefix is the key prefix for auxiliary job artifacts (JCL
	// members, variable files).
	// Default: ansible/jcl
	ExtraPrefix string `yaml:"extra_prefix,omitempty"`

	// PrivateKeyKey is the object key of the SSH private key material.
	// Default: mainframe_key.pem
	PrivateKeyKey string `yaml:"private_key_key,omitempty"`

	// Region is the AWS region for the bucket. Falls back to the SDK's
	// default resolution (AWS_REGION, shared config) when empty.
	Region string `yaml:"region,omitempty"`
}

// EngineConfig configures the external automation engine invocation.
type EngineConfig struct {
	// Binary is the engine executable.
	// Default: ansible-playbook
	Binary string `yaml:"binary,omitempty"`

	// Timeout is the wall-clock limit for one playbook execution.
	// Default: 30m
	Timeout time.Duration `yaml:"timeout,omitempty"`

	// Forks is the engine fan-out limit written into the generated
	// engine configuration file.
	// Default: 5
	Forks int `yaml:"forks,omitempty"`

	// HostKeyChecking controls strict host key verification for the
	// engine's SSH connections.
	// Default: false
	HostKeyChecking bool `yaml:"host_key_checking"`

	// Pipelining enables SSH connection multiplexing in the engine.
	// Default: true
	Pipelining *bool `yaml:"pipelining,omitempty"`

	// ResultFile is the name of the structured result artifact a playbook
	// may leave in the workspace.
	// Default: jcl_result.json
	ResultFile string `yaml:"result_file,omitempty"`
}

// TargetConfig describes the default remote execution target.
type TargetConfig struct {
	// Host is the target address.
	Host string `yaml:"host"`

	// User is the login identity on the target.
	User string `yaml:"user"`

	// PythonInterpreter is the interpreter path on the target, required
	// for z/OS hosts where python lives in a product-specific location.
	PythonInterpreter string `yaml:"python_interpreter,omitempty"`

	// RemoteTmp is the engine's temp directory on the target.
	// Default: /tmp/gantry
	RemoteTmp string `yaml:"remote_tmp,omitempty"`
}

// RunnerConfig configures job execution and the in-memory ledger.
type RunnerConfig struct {
	// MaxConcurrentJobs bounds simultaneous running executions.
	// Default: 4
	MaxConcurrentJobs int `yaml:"max_concurrent_jobs,omitempty"`

	// MaxRetainedJobs bounds the number of terminal job records kept in
	// the ledger. Oldest terminal records are pruned past this cap.
	// Default: 1000
	MaxRetainedJobs int `yaml:"max_retained_jobs,omitempty"`
}

// LogConfig configures logging output.
type LogConfig struct {
	// Level sets the minimum log level (debug, info, warn, error).
	// Default: info
	Level string `yaml:"level,omitempty"`

	// Format sets the output format (json, text).
	// Default: json
	Format string `yaml:"format,omitempty"`
}

// Default returns a Config populated with defaults.
func Default() *Config {
	pipelining := true
	return &Config{
		Server: ServerConfig{
			ListenAddr:      "127.0.0.1:8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			DrainTimeout:    60 * time.Second,
		},
		Artifacts: ArtifactsConfig{
			PlaybookPrefix: "ansible/playbooks",
			ExtraPrefix:    "ansible/jcl",
			PrivateKeyKey:  "mainframe_key.pem",
		},
		Engine: EngineConfig{
			Binary:     "ansible-playbook",
			Timeout:    30 * time.Minute,
			Forks:      5,
			Pipelining: &pipelining,
			ResultFile: "jcl_result.json",
		},
		Target: TargetConfig{
			RemoteTmp: "/tmp/gantry",
		},
		Runner: RunnerConfig{
			MaxConcurrentJobs: 4,
			MaxRetainedJobs:   1000,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads configuration from the given path, applies defaults, env
// overrides, and validates the result. An empty path loads defaults plus
// env overrides only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("GANTRY_CONFIG")
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, &gantryerrors.ConfigError{
				Reason: "reading config file " + path,
				Cause:  err,
			}
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, &gantryerrors.ConfigError{
				Reason: "parsing config file " + path,
				Cause:  err,
			}
		}
		cfg.applyDefaults()
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults fills zero values left by a partial config file.
func (c *Config) applyDefaults() {
	defaults := Default()

	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = defaults.Server.ListenAddr
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = defaults.Server.ReadTimeout
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = defaults.Server.WriteTimeout
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = defaults.Server.ShutdownTimeout
	}
	if c.Server.DrainTimeout == 0 {
		c.Server.DrainTimeout = defaults.Server.DrainTimeout
	}
	if c.Artifacts.PlaybookPrefix == "" {
		c.Artifacts.PlaybookPrefix = defaults.Artifacts.PlaybookPrefix
	}
	if c.Artifacts.ExtraPrefix == "" {
		c.Artifacts.ExtraPrefix = defaults.Artifacts.ExtraPrefix
	}
	if c.Artifacts.PrivateKeyKey == "" {
		c.Artifacts.PrivateKeyKey = defaults.Artifacts.PrivateKeyKey
	}
	if c.Engine.Binary == "" {
		c.Engine.Binary = defaults.Engine.Binary
	}
	if c.Engine.Timeout == 0 {
		c.Engine.Timeout = defaults.Engine.Timeout
	}
	if c.Engine.Forks == 0 {
		c.Engine.Forks = defaults.Engine.Forks
	}
	if c.Engine.Pipelining == nil {
		c.Engine.Pipelining = defaults.Engine.Pipelining
	}
	if c.Engine.ResultFile == "" {
		c.Engine.ResultFile = defaults.Engine.ResultFile
	}
	if c.Target.RemoteTmp == "" {
		c.Target.RemoteTmp = defaults.Target.RemoteTmp
	}
	if c.Runner.MaxConcurrentJobs == 0 {
		c.Runner.MaxConcurrentJobs = defaults.Runner.MaxConcurrentJobs
	}
	if c.Runner.MaxRetainedJobs == 0 {
		c.Runner.MaxRetainedJobs = defaults.Runner.MaxRetainedJobs
	}
	if c.Log.Level == "" {
		c.Log.Level = defaults.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = defaults.Log.Format
	}
}

// applyEnvOverrides applies environment variable overrides. Env always wins
// over the config file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("GANTRY_LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	if v := os.Getenv("GANTRY_S3_BUCKET"); v != "" {
		c.Artifacts.Bucket = v
	}
	if v := os.Getenv("GANTRY_S3_PREFIX"); v != "" {
		c.Artifacts.Prefix = v
	}
	if v := os.Getenv("GANTRY_TARGET_HOST"); v != "" {
		c.Target.Host = v
	}
	if v := os.Getenv("GANTRY_TARGET_USER"); v != "" {
		c.Target.User = v
	}
	if v := os.Getenv("GANTRY_ENGINE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Engine.Timeout = d
		}
	}
	if v := os.Getenv("GANTRY_MAX_CONCURRENT_JOBS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Runner.MaxConcurrentJobs = n
		}
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Artifacts.Bucket == "" {
		return &gantryerrors.ConfigError{
			Key:    "artifacts.bucket",
			Reason: "bucket is required (set artifacts.bucket or GANTRY_S3_BUCKET)",
		}
	}
	if c.Engine.Timeout <= 0 {
		return &gantryerrors.ConfigError{
			Key:    "engine.timeout",
			Reason: "timeout must be positive",
		}
	}
	if c.Engine.Forks <= 0 {
		return &gantryerrors.ConfigError{
			Key:    "engine.forks",
			Reason: "forks must be positive",
		}
	}
	if c.Runner.MaxConcurrentJobs <= 0 {
		return &gantryerrors.ConfigError{
			Key:    "runner.max_concurrent_jobs",
			Reason: "max_concurrent_jobs must be positive",
		}
	}
	if c.Runner.MaxRetainedJobs <= 0 {
		return &gantryerrors.ConfigError{
			Key:    "runner.max_retained_jobs",
			Reason: "max_retained_jobs must be positive",
		}
	}
	return nil
}
