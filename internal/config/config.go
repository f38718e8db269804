// Package config assembles daemon settings from defaults, an optional YAML
// file, a .env file, the environment and command line flags, in that order
// of increasing precedence.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	cli "github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"callvox/internal/call"
	cs "callvox/internal/callstate"
	"callvox/internal/fsm"
	"callvox/internal/speech"
	"callvox/internal/synth"
	"callvox/internal/transfer"
	"callvox/internal/tts"
)

const DefaultSocket = "/tmp/callvox.sock"

var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	Listen   string `yaml:"listen"`
	LogLevel string `yaml:"log_level"`
	// Socket is the unix socket of the control channel.
	Socket string `yaml:"socket"`
	// Proxy is an optional SOCKS5 address for collaborator HTTP traffic.
	Proxy    string `yaml:"proxy"`
	Timezone string `yaml:"timezone"`

	Call    call.Config           `yaml:"call"`
	Dialog  fsm.Config            `yaml:"dialog"`
	Keypad  Keypad                `yaml:"keypad"`
	Speech  speech.Config         `yaml:"speech"`
	Redis   cs.RedisConfig        `yaml:"redis"`
	OpenAI  OpenAI                `yaml:"openai"`
	Records Records               `yaml:"records"`
	Twilio  transfer.TwilioConfig `yaml:"twilio"`
	Notify  Notify                `yaml:"notify"`
	// Espeak is the offline voice tried when the API fails.
	Espeak tts.EspeakConfig `yaml:"espeak"`

	Tone synth.ToneConfig `yaml:"tone"`
	Hold synth.HoldConfig `yaml:"hold"`
	// HoldFile replaces the synthetic hold chord with a wav/mp3/ogg asset.
	HoldFile string `yaml:"hold_file"`

	Location *time.Location `yaml:"-"`
}

type OpenAI struct {
	APIKey   string        `yaml:"-"`
	Timeout  time.Duration `yaml:"timeout"`
	TTS      tts.Config    `yaml:"tts"`
	STTModel string        `yaml:"stt_model"`
	NLUModel string        `yaml:"nlu_model"`
	// WhisperModel, when set, transcribes locally instead of through the API.
	WhisperModel string `yaml:"whisper_model"`
}

// Records selects the record store: an HTTP service when URL is set,
// otherwise a YAML directory file.
type Records struct {
	URL       string `yaml:"url"`
	Token     string `yaml:"-"`
	Directory string `yaml:"directory"`
}

type Notify struct {
	URL    string `yaml:"url"`
	Secret string `yaml:"-"`
}

// Keypad holds the special keys as strings so they read naturally in YAML.
type Keypad struct {
	Terminator string `yaml:"terminator"`
	Clear      string `yaml:"clear"`
	StopDigit  string `yaml:"stop_digit"`
	MaxDigits  int    `yaml:"max_digits"`
}

func Default() Config {
	return Config{
		Listen:   ":8080",
		LogLevel: "info",
		Socket:   DefaultSocket,
		Timezone: "UTC",
		Call:     call.DefaultConfig(),
		Dialog:   fsm.DefaultConfig(),
		Keypad:   Keypad{Terminator: "#", Clear: "*", StopDigit: "#", MaxDigits: 12},
		Speech:   speech.DefaultConfig(),
		Redis:    cs.RedisConfig{TTL: 2 * time.Hour, Prefix: cs.DefaultKeyPrefix},
		OpenAI: OpenAI{
			Timeout: 30 * time.Second,
			TTS:     tts.DefaultConfig(),
		},
		Twilio: transfer.TwilioConfig{Queue: "representatives"},
		Espeak: tts.EspeakConfig{Voice: "en-us"},
		Tone:   synth.DefaultTone(),
		Hold:   synth.DefaultHold(),
	}
}

// Load builds the configuration for the daemon from its arguments.
func Load(args []string) (Config, error) {
	flags := cli.NewFlagSet("callvox", cli.ContinueOnError)
	file := flags.StringP("config", "c", "", "YAML config file")
	envFile := flags.StringP("env", "e", ".env", "Env file path")
	listen := flags.String("listen", "", "HTTP listen address")
	logLevel := flags.StringP("log", "l", "", "Log level")
	socket := flags.String("socket", "", "Control socket path")
	proxyAddr := flags.StringP("proxy", "p", "", "Socks Proxy Address")
	whisperModel := flags.String("whisper-model", "", "Local whisper model path")
	if err := flags.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := Default()
	if *file != "" {
		data, err := os.ReadFile(*file)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := cfg.Decode(data); err != nil {
			return Config{}, fmt.Errorf("%s: %w", *file, err)
		}
	}

	if err := godotenv.Load(*envFile); err != nil {
		if !errors.Is(err, fs.ErrNotExist) || flags.Changed("env") {
			return Config{}, fmt.Errorf("load env file: %w", err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}

	set := func(name string, dst *string, v string) {
		if flags.Changed(name) {
			*dst = v
		}
	}
	set("listen", &cfg.Listen, *listen)
	set("log", &cfg.LogLevel, *logLevel)
	set("socket", &cfg.Socket, *socket)
	set("proxy", &cfg.Proxy, *proxyAddr)
	set("whisper-model", &cfg.OpenAI.WhisperModel, *whisperModel)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Decode overlays YAML onto cfg. Unknown keys are an error.
func (c *Config) Decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

// ApplyEnv overlays secrets and deployment settings from the environment.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("OPENAI_API_KEY", &c.OpenAI.APIKey)
	str("REDIS_ADDR", &c.Redis.Addr)
	str("REDIS_PASSWORD", &c.Redis.Password)
	str("TWILIO_ACCOUNT_SID", &c.Twilio.AccountSID)
	str("TWILIO_AUTH_TOKEN", &c.Twilio.AuthToken)
	str("TWILIO_CALLER_ID", &c.Twilio.CallerID)
	str("RECORDS_URL", &c.Records.URL)
	str("RECORDS_TOKEN", &c.Records.Token)
	str("NOTIFY_URL", &c.Notify.URL)
	str("NOTIFY_SECRET", &c.Notify.Secret)
	str("REPRESENTATIVE_NUMBER", &c.Dialog.Representative)
	str("CALLVOX_TIMEZONE", &c.Timezone)
	str("CALLVOX_LISTEN", &c.Listen)
	str("SOCKS_PROXY", &c.Proxy)

	if v, ok := lookup("REDIS_DB"); ok && v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("REDIS_DB: %w", err)
		}
		c.Redis.DB = db
	}
	return nil
}

// Validate checks the settings and resolves the timezone into every
// component that reads local dates.
func (c *Config) Validate() error {
	if c.OpenAI.APIKey == "" {
		return fmt.Errorf("%w: OPENAI_API_KEY not set", ErrInvalid)
	}
	if c.Records.URL == "" && c.Records.Directory == "" {
		return fmt.Errorf("%w: no record store (records.url or records.directory)", ErrInvalid)
	}
	if c.Dialog.MaxAttempts < 1 {
		return fmt.Errorf("%w: dialog.max_attempts must be at least 1", ErrInvalid)
	}
	if c.Dialog.Representative == "" {
		return fmt.Errorf("%w: no representative number", ErrInvalid)
	}
	if c.Call.VAD.MaxDuration <= 0 || c.Call.VAD.SilenceDuration <= 0 {
		return fmt.Errorf("%w: recording durations must be positive", ErrInvalid)
	}
	if _, err := c.Keypad.Router(); err != nil {
		return err
	}

	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return fmt.Errorf("%w: timezone %q: %v", ErrInvalid, c.Timezone, err)
	}
	c.Location = loc
	c.Dialog.Location = loc
	c.Speech.Location = loc
	return nil
}

// Router converts the keypad settings for the input router.
func (k Keypad) Router() (fsm.KeypadConfig, error) {
	out := fsm.KeypadConfig{MaxDigits: k.MaxDigits}
	for _, f := range []struct {
		name string
		in   string
		out  *byte
	}{
		{"terminator", k.Terminator, &out.Terminator},
		{"clear", k.Clear, &out.Clear},
		{"stop_digit", k.StopDigit, &out.StopDigit},
	} {
		if len(f.in) != 1 || !isKey(f.in[0]) {
			return fsm.KeypadConfig{}, fmt.Errorf("%w: keypad.%s must be one keypad key, got %q", ErrInvalid, f.name, f.in)
		}
		*f.out = f.in[0]
	}
	if out.Terminator == out.Clear {
		return fsm.KeypadConfig{}, fmt.Errorf("%w: keypad terminator and clear keys are the same", ErrInvalid)
	}
	return out, nil
}

func isKey(b byte) bool {
	return (b >= '0' && b <= '9') || b == '*' || b == '#'
}
