package bridge

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/spf13/viper"

	"github.com/harunnryd/asrbridge/pkg/errorsx"
)

// Config is the process configuration used by the command line runner. The
// extension itself only sees Extension.
type Config struct {
	Environment    string        `mapstructure:"environment"`
	LogLevel       string        `mapstructure:"log_level"`
	LogFormat      string        `mapstructure:"log_format"`
	DrainTimeoutMS int           `mapstructure:"drain_timeout_ms"`
	Privacy        PrivacyConfig `mapstructure:"privacy"`
	Metrics        MetricsConfig `mapstructure:"metrics"`
	Input          InputConfig   `mapstructure:"input"`
	Sink           SinkConfig    `mapstructure:"sink"`
	Extension      Properties    `mapstructure:"extension"`
}

type PrivacyConfig struct {
	RedactPII bool `mapstructure:"redact_pii"`
}

type MetricsConfig struct {
	Addr          string  `mapstructure:"addr"`
	JSONLPath     string  `mapstructure:"jsonl_path"`
	SampleRate    float64 `mapstructure:"sample_rate"`
	Buffer        int     `mapstructure:"buffer"`
	LogEvents     bool    `mapstructure:"log_events"`
	TimelineDir   string  `mapstructure:"timeline_dir"`
	RetentionDays int     `mapstructure:"retention_days"`
}

// InputConfig describes the raw PCM16 source streamed into the extension.
type InputConfig struct {
	Path       string `mapstructure:"path"`
	SampleRate int    `mapstructure:"sample_rate"`
	Channels   int    `mapstructure:"channels"`
	FrameMS    int    `mapstructure:"frame_ms"`
	Realtime   bool   `mapstructure:"realtime"`
	TailMS     int    `mapstructure:"tail_ms"`
}

type SinkConfig struct {
	Provider string `mapstructure:"provider"`
	Path     string `mapstructure:"path"`
}

// LoadConfig reads path (any format viper understands). Every key can be
// overridden by an ASRBRIDGE_ environment variable, e.g.
// ASRBRIDGE_EXTENSION_API_KEY.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	if strings.TrimSpace(path) != "" {
		v.SetConfigFile(path)
	}
	v.SetEnvPrefix("ASRBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("drain_timeout_ms", 10000)
	v.SetDefault("privacy.redact_pii", true)
	v.SetDefault("metrics.addr", "")
	v.SetDefault("metrics.jsonl_path", "")
	v.SetDefault("metrics.sample_rate", 1.0)
	v.SetDefault("metrics.buffer", 1024)
	v.SetDefault("metrics.log_events", false)
	v.SetDefault("metrics.timeline_dir", "")
	v.SetDefault("metrics.retention_days", 0)
	v.SetDefault("input.path", "-")
	v.SetDefault("input.sample_rate", 16000)
	v.SetDefault("input.channels", 1)
	v.SetDefault("input.frame_ms", 20)
	v.SetDefault("input.realtime", true)
	v.SetDefault("input.tail_ms", 2000)
	v.SetDefault("sink.provider", "stdout")
	v.SetDefault("sink.path", "")
	v.SetDefault("extension.api_key", "")

	if strings.TrimSpace(path) != "" {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}

	expandEnvStrings(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Sink.Provider)) {
	case "stdout":
	case "file":
		if strings.TrimSpace(c.Sink.Path) == "" {
			return errorsx.Wrapf(errorsx.ReasonConfigInvalid, "sink.path is required for the file sink")
		}
	default:
		return errorsx.Wrapf(errorsx.ReasonConfigInvalid, "sink.provider %q is not supported", c.Sink.Provider)
	}
	if c.Input.FrameMS <= 0 || c.Input.SampleRate <= 0 || c.Input.Channels <= 0 {
		return errorsx.Wrapf(errorsx.ReasonConfigInvalid, "input frame_ms, sample_rate and channels must be positive")
	}
	if _, err := DecodeProperties(c.Extension); err != nil {
		return err
	}
	return nil
}

func expandEnvStrings(cfg *Config) {
	expandValue(reflect.ValueOf(cfg))
	for k, v := range cfg.Extension {
		cfg.Extension[k] = expandAny(v)
	}
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	default:
		return v
	}
}

func expandValue(v reflect.Value) {
	if !v.IsValid() {
		return
	}
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return
		}
		expandValue(v.Elem())
		return
	}
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			expandValue(v.Field(i))
		}
	case reflect.String:
		if v.CanSet() {
			v.SetString(os.ExpandEnv(v.String()))
		}
	}
}
