// Package config loads the harness configuration from a file and CALLGEN_*
// environment variables.
package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. CALLGEN_SIP_SERVER.
const EnvPrefix = "CALLGEN"

// Config is the complete harness configuration.
type Config struct {
	SIP       SIPConfig      `mapstructure:"sip"`
	CSTA      CSTAConfig     `mapstructure:"csta"`
	Users     []UserConfig   `mapstructure:"users"`
	Register  RegisterConfig `mapstructure:"register"`
	Load      LoadConfig     `mapstructure:"load"`
	Log       LogConfig      `mapstructure:"log"`
	Metrics   MetricsConfig  `mapstructure:"metrics"`
	Templates string         `mapstructure:"templates"`

	// WaitTimeout bounds every wait unless a flow overrides it.
	WaitTimeout time.Duration `mapstructure:"wait_timeout"`
}

type SIPConfig struct {
	Server    string `mapstructure:"server"`
	Local     string `mapstructure:"local"`
	Transport string `mapstructure:"transport"`
	MediaPort int    `mapstructure:"media_port"`
}

type CSTAConfig struct {
	Server string `mapstructure:"server"`
	Local  string `mapstructure:"local"`
}

// UserConfig is one phone. Keyset lists extra lines sharing its
// connection.
type UserConfig struct {
	Number   string   `mapstructure:"number"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	Keyset   []string `mapstructure:"keyset"`
}

// Credentials returns the digest credentials, defaulting to the number.
func (u UserConfig) Credentials() (string, string) {
	username, password := u.Username, u.Password
	if username == "" {
		username = u.Number
	}
	if password == "" {
		password = u.Number
	}
	return username, password
}

type RegisterConfig struct {
	Expires int           `mapstructure:"expires"`
	Refresh time.Duration `mapstructure:"refresh"`
}

// LoadConfig drives the load mode.
type LoadConfig struct {
	Calls       int           `mapstructure:"calls"`
	Concurrency int           `mapstructure:"concurrency"`
	Hold        time.Duration `mapstructure:"hold"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type MetricsConfig struct {
	Listen    string `mapstructure:"listen"`
	Namespace string `mapstructure:"namespace"`
}

// ValidationError lists every invalid field.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("sip.server", "127.0.0.1:5060")
	v.SetDefault("sip.transport", "tcp")
	v.SetDefault("sip.media_port", 4000)
	v.SetDefault("csta.server", "127.0.0.1:1040")
	v.SetDefault("register.expires", 3600)
	v.SetDefault("register.refresh", "0s")
	v.SetDefault("load.calls", 10)
	v.SetDefault("load.concurrency", 2)
	v.SetDefault("load.hold", "1s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("metrics.namespace", "callgen")
	v.SetDefault("wait_timeout", "5s")
}

// New returns a viper instance with defaults and environment overrides,
// reading path when it is not empty.
func New(path string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
	}
	return v, nil
}

// Load reads, decodes and validates the configuration.
func Load(path string) (*Config, error) {
	v, err := New(path)
	if err != nil {
		return nil, err
	}
	return FromViper(v)
}

// FromViper decodes and validates the configuration held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if !validAddr(c.SIP.Server) {
		add("sip.server %q is not host:port", c.SIP.Server)
	}
	if c.SIP.Local != "" && !validAddr(c.SIP.Local) {
		add("sip.local %q is not host:port", c.SIP.Local)
	}
	if !strings.EqualFold(c.SIP.Transport, "tcp") {
		add("sip.transport %q is not supported, only tcp", c.SIP.Transport)
	}
	if c.SIP.MediaPort <= 0 || c.SIP.MediaPort > 65535 {
		add("sip.media_port %d out of range", c.SIP.MediaPort)
	}
	if c.CSTA.Server != "" && !validAddr(c.CSTA.Server) {
		add("csta.server %q is not host:port", c.CSTA.Server)
	}

	seen := make(map[string]bool)
	for i, u := range c.Users {
		if u.Number == "" {
			add("users[%d] has no number", i)
			continue
		}
		for _, n := range append([]string{u.Number}, u.Keyset...) {
			if seen[n] {
				add("number %s configured twice", n)
			}
			seen[n] = true
		}
	}

	if c.Register.Expires < 0 {
		add("register.expires must not be negative")
	}
	if c.Register.Refresh < 0 {
		add("register.refresh must not be negative")
	}
	if c.Load.Calls < 0 {
		add("load.calls must not be negative")
	}
	if c.Load.Concurrency < 1 {
		add("load.concurrency must be at least 1")
	}
	if c.WaitTimeout <= 0 {
		add("wait_timeout must be positive")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		add("log.level %q (must be debug, info, warn or error)", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		add("log.format %q (must be text or json)", c.Log.Format)
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func validAddr(addr string) bool {
	host, port, err := net.SplitHostPort(addr)
	return err == nil && host != "" && port != ""
}

// Number returns the user configured for number, including keyset lines.
func (c *Config) Number(number string) (UserConfig, bool) {
	for _, u := range c.Users {
		if u.Number == number {
			return u, true
		}
		for _, k := range u.Keyset {
			if k == number {
				return UserConfig{Number: k, Username: u.Username, Password: u.Password}, true
			}
		}
	}
	return UserConfig{}, false
}
