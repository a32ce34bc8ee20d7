package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server       ServerConfig       `koanf:"server"`
	Database     DatabaseConfig     `koanf:"database"`
	Engine       EngineConfig       `koanf:"engine"`
	Build        BuildConfig        `koanf:"build"`
	Kafka        KafkaConfig        `koanf:"kafka"`
	Deploy       DeployConfig       `koanf:"deploy"`
	Registration RegistrationConfig `koanf:"registration"`
}

type ServerConfig struct {
	Port int `koanf:"port"`
}

type DatabaseConfig struct {
	Path string `koanf:"path"`
}

// EngineConfig selects the workflow backend. Backend is one of
// "sync", "goworkflows" or "dbos".
type EngineConfig struct {
	Backend string `koanf:"backend"`
}

type BuildConfig struct {
	URL            string    `koanf:"url"`
	Application    JobConfig `koanf:"application"`
	Infrastructure JobConfig `koanf:"infrastructure"`
	Deployment     JobConfig `koanf:"deployment"`
}

type JobConfig struct {
	Project        string `koanf:"project"`
	Role           string `koanf:"role"`
	SourceType     string `koanf:"source_type"`
	SourceLocation string `koanf:"source_location"`
	ArtifactBucket string `koanf:"artifact_bucket"`
	ArtifactPath   string `koanf:"artifact_path"`
}

type KafkaConfig struct {
	Brokers string `koanf:"brokers"`
	Topic   string `koanf:"topic"`
}

type DeployConfig struct {
	Production  TargetConfig `koanf:"production"`
	Development TargetConfig `koanf:"development"`
}

type TargetConfig struct {
	Hostname  string `koanf:"hostname"`
	Cluster   string `koanf:"cluster"`
	Namespace string `koanf:"namespace"`
}

type RegistrationConfig struct {
	Owner      string   `koanf:"owner"`
	Repository string   `koanf:"repository"`
	Endpoint   string   `koanf:"endpoint"`
	Events     []string `koanf:"events"`
	Token      string   `koanf:"token"`
	APIURL     string   `koanf:"api_url"`
}

// Load builds the configuration from defaults, an optional YAML file
// named by path, and GITHUBFLOW_ prefixed environment variables.
// Later sources win.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]any{
		"server.port":      8080,
		"database.path":    "githubflow.db",
		"engine.backend":   "goworkflows",
		"kafka.topic":      "pipeline-notifications",
		"registration.api_url": "https://api.github.com",
	}
	for key, value := range defaults {
		if err := k.Set(key, value); err != nil {
			return nil, fmt.Errorf("set default %s: %w", key, err)
		}
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("load config file %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider("GITHUBFLOW_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "GITHUBFLOW_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}
