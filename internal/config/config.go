package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// DefaultServerURL points at a locally hosted WhatsThat API.
const DefaultServerURL = "http://localhost:3333/api/1.0.0"

// Config represents the global ~/.wtchat/config.toml.
type Config struct {
	ServerURL      string `toml:"server_url"`
	DefaultSession string `toml:"default_session"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Load reads config from the given path. Returns an error if the file is missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// Resolved returns cfg with defaults applied for unset fields.
func (c *Config) Resolved() Config {
	out := *c
	if out.ServerURL == "" {
		out.ServerURL = DefaultServerURL
	}
	if out.TimeoutSeconds <= 0 {
		out.TimeoutSeconds = 10
	}
	return out
}
