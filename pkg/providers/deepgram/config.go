package deepgram

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/harunnryd/asrbridge/pkg/configutil"
	"github.com/harunnryd/asrbridge/pkg/errorsx"
	"github.com/harunnryd/asrbridge/pkg/relay"
)

const (
	DefaultBaseURL        = "wss://api.deepgram.com/v1/listen"
	DefaultSampleRate     = 16000
	DefaultLanguage       = "en-US"
	DefaultModel          = "general"
	DefaultIdleTimeout    = 10 * time.Second
	DefaultEnqueueTimeout = 100 * time.Millisecond
	DefaultWriteTimeout   = 5 * time.Second
	DefaultSilenceMS      = 500
	DefaultFinalizeMS     = 500
)

// EndpointingConfig controls provider-side end-of-speech detection. When
// disabled the parameters are kept but not sent.
type EndpointingConfig struct {
	Enabled         bool
	SilenceMS       int
	FinalizeDelayMS int
}

// ReconnectConfig bounds handshake attempts. FailureThreshold zero keeps the
// unbounded reconnect-on-next-frame behavior.
type ReconnectConfig struct {
	FailureThreshold int
	Cooldown         time.Duration
}

type Config struct {
	BaseURL        string
	APIKey         string
	SampleRate     int
	Language       string
	Model          string
	Endpointing    EndpointingConfig
	IdleTimeout    time.Duration
	EnqueueTimeout time.Duration
	WriteTimeout   time.Duration
	QueueCapacity  int
	Reconnect      ReconnectConfig
}

func (c Config) WithDefaults() Config {
	if strings.TrimSpace(c.BaseURL) == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.SampleRate <= 0 {
		c.SampleRate = DefaultSampleRate
	}
	if strings.TrimSpace(c.Language) == "" {
		c.Language = DefaultLanguage
	}
	if strings.TrimSpace(c.Model) == "" {
		c.Model = DefaultModel
	}
	if c.Endpointing.SilenceMS <= 0 {
		c.Endpointing.SilenceMS = DefaultSilenceMS
	}
	if c.Endpointing.FinalizeDelayMS <= 0 {
		c.Endpointing.FinalizeDelayMS = DefaultFinalizeMS
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.EnqueueTimeout <= 0 {
		c.EnqueueTimeout = DefaultEnqueueTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = relay.DefaultCapacity
	}
	if c.Reconnect.Cooldown <= 0 {
		c.Reconnect.Cooldown = 30 * time.Second
	}
	return c
}

func (c Config) Validate() error {
	if err := configutil.RequireString(c.APIKey, "deepgram.api_key"); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonConfigInvalid)
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return errorsx.Wrap(fmt.Errorf("deepgram.base_url: %w", err), errorsx.ReasonConfigInvalid)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return errorsx.Wrapf(errorsx.ReasonConfigInvalid, "deepgram.base_url: unsupported scheme %q", u.Scheme)
	}
	return nil
}

// ListenURL builds the streaming endpoint with the audio format in the query.
func (c Config) ListenURL() (string, error) {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(c.SampleRate))
	q.Set("channels", "1")
	q.Set("language", c.Language)
	q.Set("model", c.Model)
	q.Set("punctuate", "true")
	q.Set("interim_results", "true")
	if c.Endpointing.Enabled {
		q.Set("endpointing", strconv.Itoa(c.Endpointing.SilenceMS))
		q.Set("utterance_end_ms", strconv.Itoa(c.Endpointing.FinalizeDelayMS))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c Config) authHeader() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Token "+c.APIKey)
	return h
}
