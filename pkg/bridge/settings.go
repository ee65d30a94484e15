package bridge

import (
	"fmt"

	"github.com/harunnryd/asrbridge/pkg/configutil"
	"github.com/harunnryd/asrbridge/pkg/errorsx"
	"github.com/harunnryd/asrbridge/pkg/providers/deepgram"
	"github.com/harunnryd/asrbridge/pkg/routing"
)

// Properties is the free-form bag the host hands over at start.
type Properties map[string]any

// Settings is the typed view of Properties. Pointer fields are optional; nil
// means "use the default".
type Settings struct {
	APIKey     string  `mapstructure:"api_key"`
	BaseURL    *string `mapstructure:"base_url"`
	SampleRate *int    `mapstructure:"sample_rate"`
	Language   *string `mapstructure:"language"`
	Model      *string `mapstructure:"model"`

	UserAudioSampleRate *int `mapstructure:"user_audio_sample_rate"`
	UserAudioChannels   *int `mapstructure:"user_audio_channels"`
	UserStreamID        *int `mapstructure:"user_stream_id"`

	Endpointing          *bool `mapstructure:"endpointing"`
	EndpointingSilenceMS *int  `mapstructure:"endpointing_silence_ms"`
	FinalizeDelayMS      *int  `mapstructure:"finalize_delay_ms"`

	IdleTimeoutMS    *int `mapstructure:"idle_timeout_ms"`
	EnqueueTimeoutMS *int `mapstructure:"enqueue_timeout_ms"`
	QueueCapacity    *int `mapstructure:"queue_capacity"`

	ReconnectFailureThreshold *int `mapstructure:"reconnect_failure_threshold"`
	ReconnectCooldownMS       *int `mapstructure:"reconnect_cooldown_ms"`
}

var propertySchema = configutil.Schema{
	Required:     []string{"api_key"},
	AllowUnknown: true,
}

// DecodeProperties validates and decodes the host bag. A missing api key is a
// config_invalid error.
func DecodeProperties(props Properties) (Settings, error) {
	var s Settings
	if err := configutil.ValidateSettings(props, propertySchema); err != nil {
		return s, errorsx.Wrap(fmt.Errorf("extension properties: %w", err), errorsx.ReasonConfigInvalid)
	}
	if err := configutil.DecodeSettings(props, &s); err != nil {
		return s, errorsx.Wrap(fmt.Errorf("decode extension properties: %w", err), errorsx.ReasonConfigInvalid)
	}
	return s, nil
}

// Resolve applies defaults once and splits the settings into the provider
// config and the routing rule.
func (s Settings) Resolve() (deepgram.Config, routing.Classifier) {
	cfg := deepgram.Config{
		BaseURL:    configutil.StringValue(s.BaseURL, deepgram.DefaultBaseURL),
		APIKey:     s.APIKey,
		SampleRate: configutil.IntValue(s.SampleRate, deepgram.DefaultSampleRate),
		Language:   configutil.StringValue(s.Language, deepgram.DefaultLanguage),
		Model:      configutil.StringValue(s.Model, deepgram.DefaultModel),
		Endpointing: deepgram.EndpointingConfig{
			Enabled:         configutil.BoolValue(s.Endpointing, false),
			SilenceMS:       configutil.IntValue(s.EndpointingSilenceMS, deepgram.DefaultSilenceMS),
			FinalizeDelayMS: configutil.IntValue(s.FinalizeDelayMS, deepgram.DefaultFinalizeMS),
		},
		IdleTimeout:    configutil.DurationMS(s.IdleTimeoutMS, deepgram.DefaultIdleTimeout),
		EnqueueTimeout: configutil.DurationMS(s.EnqueueTimeoutMS, deepgram.DefaultEnqueueTimeout),
		QueueCapacity:  configutil.IntValue(s.QueueCapacity, 0),
		Reconnect: deepgram.ReconnectConfig{
			FailureThreshold: configutil.IntValue(s.ReconnectFailureThreshold, 0),
			Cooldown:         configutil.DurationMS(s.ReconnectCooldownMS, 0),
		},
	}
	cls := routing.Classifier{
		UserSampleRate: s.UserAudioSampleRate,
		UserChannels:   s.UserAudioChannels,
		UserStreamID:   int64(configutil.IntValue(s.UserStreamID, 0)),
	}
	return cfg.WithDefaults(), cls
}
