package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	KubeConfig  string
	KubeMaster  string
	KubeContext string

	LogLevel  string
	LogFormat string

	HTTPPort    string
	MetricsPort string

	ClusterName string
	AuthToken   string

	ResyncSchedule string
	ResyncTZ       string

	PingInterval    time.Duration
	PongTimeout     time.Duration
	MetricsInterval time.Duration
	BackoffInitial  time.Duration
	BackoffMax      time.Duration
	PingerInterval  time.Duration
}

// clusterFile is the optional YAML cluster identity file.
type clusterFile struct {
	Cluster struct {
		Name    string `yaml:"name"`
		Context string `yaml:"context"`
	} `yaml:"cluster"`
}

func Load() (*Config, error) {
	cfg := &Config{
		KubeConfig:     getEnvWithFallback(envKeyKubeConfig, envKeyKubeConfigFallback),
		KubeMaster:     getEnvWithFallback(envKeyKubeMaster, envKeyKubeMasterFallback),
		LogLevel:       getEnvOrDefault(envKeyLogLevel, "info"),
		LogFormat:      getEnvOrDefault(envKeyLogFormat, "json"),
		HTTPPort:       getEnvOrDefault(envKeyHTTPPort, "8080"),
		MetricsPort:    getEnvOrDefault(envKeyMetricsPort, "9090"),
		ClusterName:    getEnvOrDefault(envKeyClusterName, "default"),
		AuthToken:      os.Getenv(envKeyAuthToken),
		ResyncSchedule: os.Getenv(envKeyResyncSchedule),
		ResyncTZ:       os.Getenv(envKeyResyncTZ),
	}

	var err error

	cfg.PingInterval, err = getEnvDuration(envKeyPingInterval, 15*time.Second, envMinPingInterval)
	if err != nil {
		return nil, err
	}

	cfg.PongTimeout, err = getEnvDuration(envKeyPongTimeout, 30*time.Second, envMinPongTimeout)
	if err != nil {
		return nil, err
	}

	cfg.MetricsInterval, err = getEnvDuration(envKeyMetricsInterval, 10*time.Second, envMinMetricsInterval)
	if err != nil {
		return nil, err
	}

	cfg.BackoffInitial, err = getEnvDuration(envKeyBackoffInitial, time.Second, envMinBackoffInitial)
	if err != nil {
		return nil, err
	}

	cfg.BackoffMax, err = getEnvDuration(envKeyBackoffMax, 30*time.Second, envMinBackoffMax)
	if err != nil {
		return nil, err
	}

	cfg.PingerInterval, err = getEnvDuration(envKeyPingerInterval, 10*time.Second, envMinPingerInterval)
	if err != nil {
		return nil, err
	}

	if path := os.Getenv(envKeyClusterConfig); path != "" {
		if err := cfg.applyClusterFile(path); err != nil {
			return nil, fmt.Errorf("load cluster config: %w", err)
		}
	}

	return cfg, nil
}

// applyClusterFile overlays cluster identity from a YAML file. File
// values win over env values.
func (c *Config) applyClusterFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var file clusterFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	if file.Cluster.Name != "" {
		c.ClusterName = file.Cluster.Name
	}

	if file.Cluster.Context != "" {
		c.KubeContext = file.Cluster.Context
	}

	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	return value
}

func getEnvWithFallback(key, fallbackKey string) string {
	value := os.Getenv(key)
	if value == "" {
		value = os.Getenv(fallbackKey)
	}

	return value
}

func getEnvDuration(key string, defaultValue, minValue time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}

	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}

	if value < minValue {
		return 0, fmt.Errorf("parse %s: %v is below minimum %v", key, value, minValue)
	}

	return value, nil
}
