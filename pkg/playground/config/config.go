// Package config loads playground settings from HCL files.
//
// A configuration looks like:
//
//	fixtures_dir        = "__fixtures__"
//	fixture_file_suffix = "fixture"
//	log_level           = "info"
//
//	dev_server {
//	  url            = "ws://localhost:${env.PLAYGROUND_PORT}"
//	  enabled        = true
//	  dial_timeout   = "5s"
//	  reconnect_min  = 0.5
//	  reconnect_max  = "PT30S"
//	  write_queue_size = 200
//	}
//
// Expressions can read environment variables through env.NAME. Variables
// from env files given to WithEnvFiles take precedence over the process
// environment.
package config

import (
	"fmt"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/tsarna/playground/pkg/playground"
	"github.com/tsarna/playground/pkg/playground/socket"
	"github.com/zclconf/go-cty/cty"
	"go.uber.org/zap"
)

const (
	DefaultDevServerURL      = "ws://localhost:5000"
	DefaultFixturesDir       = "__fixtures__"
	DefaultFixtureFileSuffix = "fixture"
	DefaultLogLevel          = "info"
)

type ConfigBuilder struct {
	logger   *zap.Logger
	sources  []any
	envFiles []string
}

// Config is the evaluated configuration.
type Config struct {
	Logger            *zap.Logger
	FixturesDir       string
	FixtureFileSuffix string
	LogLevel          string
	DevServer         DevServerConfig

	Constants map[string]cty.Value
	evalCtx   *hcl.EvalContext
}

// DevServerConfig holds the settings of the dev server connection. Zero
// durations and sizes mean the socket package defaults.
type DevServerConfig struct {
	URL            string
	Enabled        bool
	DialTimeout    time.Duration
	ReconnectMin   time.Duration
	ReconnectMax   time.Duration
	PingInterval   time.Duration
	WriteQueueSize int
	Headers        map[string]string
}

type fileDefinition struct {
	FixturesDir       *string               `hcl:"fixtures_dir,optional"`
	FixtureFileSuffix *string               `hcl:"fixture_file_suffix,optional"`
	LogLevel          *string               `hcl:"log_level,optional"`
	DevServers        []devServerDefinition `hcl:"dev_server,block"`
}

type devServerDefinition struct {
	URL            *string           `hcl:"url,optional"`
	Enabled        *bool             `hcl:"enabled,optional"`
	DialTimeout    hcl.Expression    `hcl:"dial_timeout,optional"`
	ReconnectMin   hcl.Expression    `hcl:"reconnect_min,optional"`
	ReconnectMax   hcl.Expression    `hcl:"reconnect_max,optional"`
	PingInterval   hcl.Expression    `hcl:"ping_interval,optional"`
	WriteQueueSize *int              `hcl:"write_queue_size,optional"`
	Headers        map[string]string `hcl:"headers,optional"`
}

func NewConfig() *ConfigBuilder {
	return &ConfigBuilder{
		sources: make([]any, 0),
	}
}

func (cb *ConfigBuilder) WithLogger(logger *zap.Logger) *ConfigBuilder {
	cb.logger = logger
	return cb
}

// WithSources adds configuration sources: file or directory paths, raw
// HCL as []byte, or an embed.FS.
func (cb *ConfigBuilder) WithSources(sources ...any) *ConfigBuilder {
	cb.sources = append(cb.sources, sources...)
	return cb
}

// WithEnvFiles adds dotenv files whose variables are visible as env.NAME.
// Later files override earlier ones.
func (cb *ConfigBuilder) WithEnvFiles(files ...string) *ConfigBuilder {
	cb.envFiles = append(cb.envFiles, files...)
	return cb
}

func (cb *ConfigBuilder) Build() (*Config, hcl.Diagnostics) {
	logger := cb.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	config := &Config{
		Logger:            logger,
		FixturesDir:       DefaultFixturesDir,
		FixtureFileSuffix: DefaultFixtureFileSuffix,
		LogLevel:          DefaultLogLevel,
		DevServer: DevServerConfig{
			URL:     DefaultDevServerURL,
			Enabled: true,
		},
		Constants: make(map[string]cty.Value),
	}

	envObject, diags := GetEnvObject(cb.envFiles...)
	if diags.HasErrors() {
		return nil, diags
	}
	config.Constants["env"] = envObject
	config.evalCtx = &hcl.EvalContext{
		Variables: config.Constants,
	}

	bodies, addDiags := ParseConfigFiles(cb.sources...)
	diags = diags.Extend(addDiags)
	if diags.HasErrors() {
		return nil, diags
	}

	var def fileDefinition
	addDiags = gohcl.DecodeBody(hcl.MergeBodies(bodies), config.evalCtx, &def)
	diags = diags.Extend(addDiags)
	if diags.HasErrors() {
		return nil, diags
	}

	if def.FixturesDir != nil {
		config.FixturesDir = *def.FixturesDir
	}
	if def.FixtureFileSuffix != nil {
		config.FixtureFileSuffix = *def.FixtureFileSuffix
	}
	if def.LogLevel != nil {
		config.LogLevel = *def.LogLevel
	}

	if len(def.DevServers) > 1 {
		return nil, diags.Append(&hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Duplicate dev_server block",
			Detail:   fmt.Sprintf("Only one dev_server block is allowed, found %d", len(def.DevServers)),
		})
	}
	if len(def.DevServers) == 1 {
		diags = diags.Extend(config.processDevServer(def.DevServers[0]))
		if diags.HasErrors() {
			return nil, diags
		}
	}

	config.Logger.Info("Config built successfully",
		zap.String("dev_server_url", config.DevServer.URL),
		zap.Bool("dev_server_enabled", config.DevServer.Enabled),
	)

	return config, diags
}

func (c *Config) processDevServer(def devServerDefinition) hcl.Diagnostics {
	var diags hcl.Diagnostics

	if def.URL != nil {
		c.DevServer.URL = *def.URL
	}
	if def.Enabled != nil {
		c.DevServer.Enabled = *def.Enabled
	}
	if def.WriteQueueSize != nil {
		if *def.WriteQueueSize <= 0 {
			diags = diags.Append(&hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Invalid write_queue_size",
				Detail:   fmt.Sprintf("write_queue_size must be positive, got %d", *def.WriteQueueSize),
			})
		}
		c.DevServer.WriteQueueSize = *def.WriteQueueSize
	}
	c.DevServer.Headers = def.Headers

	durations := []struct {
		expr   hcl.Expression
		target *time.Duration
	}{
		{def.DialTimeout, &c.DevServer.DialTimeout},
		{def.ReconnectMin, &c.DevServer.ReconnectMin},
		{def.ReconnectMax, &c.DevServer.ReconnectMax},
		{def.PingInterval, &c.DevServer.PingInterval},
	}
	for _, d := range durations {
		if !IsExpressionProvided(d.expr) {
			continue
		}
		value, addDiags := c.ParseDuration(d.expr)
		diags = diags.Extend(addDiags)
		*d.target = value
	}

	return diags
}

// Core reports the configured dev server switch.
func (c *Config) Core() playground.Core {
	return playground.StaticCore(c.DevServer.Enabled)
}

// NewClient returns a dev server client builder preloaded with the
// dev_server settings. Unset values keep the socket defaults.
func (c *Config) NewClient() *socket.ClientBuilder {
	ds := c.DevServer
	builder := socket.NewClient().
		WithURL(ds.URL).
		WithLogger(c.Logger).
		WithDialTimeout(ds.DialTimeout).
		WithReconnect(ds.ReconnectMin, ds.ReconnectMax).
		WithPingInterval(ds.PingInterval).
		WithWriteQueueSize(ds.WriteQueueSize)

	for key, value := range ds.Headers {
		builder.WithHeader(key, value)
	}

	return builder
}
