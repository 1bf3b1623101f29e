package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-yaml/yaml"
)

type Config struct {
	Storage     Storage     `yaml:"storage"`
	Cache       Cache       `yaml:"cache"`
	Events      Events      `yaml:"events"`
	Server      Server      `yaml:"server"`
	Log         Log         `yaml:"log"`
	Trace       Trace       `yaml:"trace"`
	EntityTypes EntityTypes `yaml:"entityTypes"`
}

type Storage struct {
	Driver        string `yaml:"driver"` // postgres, memory
	PostgresDsn   string `yaml:"postgresDsn"`
	VerifyOnWrite *bool  `yaml:"verifyOnWrite"`
}

type Cache struct {
	Driver        string        `yaml:"driver"` // local, memcached, none
	MemcachedAddr string        `yaml:"memcachedAddr"`
	TTL           time.Duration `yaml:"ttl"`
}

type Events struct {
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	RedisDB       int    `yaml:"redisDB"`
	Channel       string `yaml:"channel"`
}

type Server struct {
	Listen string `yaml:"listen"`
}

type Log struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

type Trace struct {
	Enable   bool   `yaml:"enable"`
	Endpoint string `yaml:"endpoint"`
}

// EntityTypes configures discriminator normalization.
type EntityTypes struct {
	// Namespaces are prefixes stripped from stored discriminators.
	Namespaces []string `yaml:"namespaces"`
	// Kinds maps stable kind identifiers to discriminators.
	Kinds map[string]string `yaml:"kinds"`
}

// Defaults fills unset fields.
func (c *Config) Defaults() {
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Storage.VerifyOnWrite == nil {
		verify := true
		c.Storage.VerifyOnWrite = &verify
	}
	if c.Cache.Driver == "" {
		c.Cache.Driver = "local"
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = 10 * time.Minute
	}
	if c.Events.Channel == "" {
		c.Events.Channel = "checkpoint:revisions"
	}
	if c.Server.Listen == "" {
		c.Server.Listen = ":8000"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate checks driver names and required addresses.
func (c Config) Validate() error {
	switch c.Storage.Driver {
	case "memory":
	case "postgres":
		if c.Storage.PostgresDsn == "" {
			return fmt.Errorf("storage.postgresDsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	switch c.Cache.Driver {
	case "local", "none":
	case "memcached":
		if c.Cache.MemcachedAddr == "" {
			return fmt.Errorf("cache.memcachedAddr is required for the memcached driver")
		}
	default:
		return fmt.Errorf("unknown cache driver %q", c.Cache.Driver)
	}

	if c.Trace.Enable && c.Trace.Endpoint == "" {
		return fmt.Errorf("trace.endpoint is required when tracing is enabled")
	}
	return nil
}

func Load(path string) (Config, error) {

	file, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer file.Close()

	var config Config
	err = yaml.NewDecoder(file).Decode(&config)
	if err != nil {
		return Config{}, err
	}

	config.Defaults()
	if err := config.Validate(); err != nil {
		return Config{}, err
	}

	return config, nil
}
