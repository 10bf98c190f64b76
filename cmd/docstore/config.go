package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	docstore "github.com/goliatone/go-docstore"
)

// fileConfig is the on-disk CLI configuration, YAML or TOML by extension.
type fileConfig struct {
	Indent         *string `yaml:"indent" toml:"indent"`
	Engine         string  `yaml:"engine" toml:"engine"`
	SortExpr       string  `yaml:"sort_expr" toml:"sort_expr"`
	StrictRegistry bool    `yaml:"strict_registry" toml:"strict_registry"`
	LogLevel       string  `yaml:"log_level" toml:"log_level"`
	Output         string  `yaml:"output" toml:"output"`
}

type config struct {
	Indent         string
	Engine         string
	SortExpr       string
	StrictRegistry bool
	LogLevel       slog.Level
	Output         docstore.Format
}

func defaultConfig() config {
	return config{
		Indent:   docstore.DefaultIndent,
		Engine:   docstore.EngineExpr,
		LogLevel: slog.LevelWarn,
		Output:   docstore.FormatJSON,
	}
}

func loadConfig(path string) (config, error) {
	cfg := defaultConfig()
	path = strings.TrimSpace(path)
	if path == "" {
		return cfg, nil
	}

	var raw fileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		meta, err := toml.DecodeFile(path, &raw)
		if err != nil {
			return config{}, fmt.Errorf("load config %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return config{}, fmt.Errorf("load config %s: unknown key %q", path, undecoded[0].String())
		}
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return config{}, fmt.Errorf("load config %s: %w", path, err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
			return config{}, fmt.Errorf("load config %s: %w", path, err)
		}
	default:
		return config{}, fmt.Errorf("load config %s: unsupported extension (want .yaml, .yml or .toml)", path)
	}

	if raw.Indent != nil {
		cfg.Indent = *raw.Indent
	}
	if engine := strings.TrimSpace(raw.Engine); engine != "" {
		cfg.Engine = engine
	}
	cfg.SortExpr = strings.TrimSpace(raw.SortExpr)
	cfg.StrictRegistry = raw.StrictRegistry
	if level := strings.TrimSpace(raw.LogLevel); level != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(level)); err != nil {
			return config{}, fmt.Errorf("parse log_level: %w", err)
		}
	}
	if output := strings.TrimSpace(raw.Output); output != "" {
		format, err := docstore.ParseFormat(output)
		if err != nil {
			return config{}, fmt.Errorf("parse output: %w", err)
		}
		cfg.Output = format
	}
	return cfg, nil
}
