package client

import (
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// Config wraps the options for a run of the key refresher.
type Config struct {
	// Server is the base URL of the key-sharing service.
	Server string

	// AuthKey is the bearer token identifying this caller.
	AuthKey string

	// SecretKey is the base64-encoded pre-shared envelope key.
	SecretKey string

	// Period is the time waited between key refreshes.
	Period time.Duration
}

// rawConfig is the YAML shape of Config. Durations are strings on the wire
// ("30m") because yaml.v2 has no native time.Duration support.
type rawConfig struct {
	Server    string `yaml:"server"`
	AuthKey   string `yaml:"auth-key"`
	SecretKey string `yaml:"secret-key"`
	Period    string `yaml:"period,omitempty"`
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (c *Config) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw rawConfig
	if err := unmarshal(&raw); err != nil {
		return err
	}

	c.Server = raw.Server
	c.AuthKey = raw.AuthKey
	c.SecretKey = raw.SecretKey

	if raw.Period != "" {
		period, err := time.ParseDuration(raw.Period)
		if err != nil {
			return errors.Wrap(err, "failed to parse period")
		}
		c.Period = period
	}

	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (c Config) MarshalYAML() (interface{}, error) {
	raw := rawConfig{
		Server:    c.Server,
		AuthKey:   c.AuthKey,
		SecretKey: c.SecretKey,
	}
	if c.Period != 0 {
		raw.Period = c.Period.String()
	}
	return raw, nil
}

// Dump generates a YAML string of the Config object. The secret key is
// redacted.
func (c Config) Dump() (string, error) {
	c.SecretKey = "<redacted>"

	d, err := yaml.Marshal(&c)
	if err != nil {
		return "", errors.Wrap(err, "failed to generate YAML dump of config")
	}

	return string(d), nil
}

func (c *Config) validate() error {
	var result *multierror.Error

	if c.Server == "" {
		result = multierror.Append(result, fmt.Errorf("server is required"))
	}

	if c.AuthKey == "" {
		result = multierror.Append(result, fmt.Errorf("auth-key is required"))
	}

	if c.SecretKey == "" {
		result = multierror.Append(result, fmt.Errorf("secret-key is required"))
	}

	if c.Period < 0 {
		result = multierror.Append(result, fmt.Errorf("period cannot be negative"))
	}

	return result.ErrorOrNil()
}

// ParseConfig reads config into a struct used to configure the client and
// refresher.
func ParseConfig(data []byte) (Config, error) {
	var config Config

	err := yaml.Unmarshal(data, &config)
	if err != nil {
		return config, err
	}

	if config.Period == 0 {
		config.Period = defaultRefreshPeriod
	}

	if err = config.validate(); err != nil {
		return config, err
	}

	return config, nil
}

// LoadConfig reads and parses the config file at the supplied path.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "failed to load config file %q", path)
	}

	return ParseConfig(data)
}
