// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config is the full runtime configuration, loaded from environment
// variables (and an optional config file) via viper. Validation failures
// list every offending key at once so a misconfigured deployment fails
// with a single readable error.
type Config struct {
	// Listener
	AudioSocketHost    string `mapstructure:"audiosocket_host" validate:"required"`
	AudioSocketPort    int    `mapstructure:"audiosocket_port" validate:"required,min=1,max=65535"`
	MaxConcurrentCalls int    `mapstructure:"max_concurrent_calls" validate:"required,min=1"`

	// Monitoring
	PrometheusPort int `mapstructure:"prometheus_port" validate:"min=0,max=65535"`

	// Timeouts (seconds)
	SilenceWarningTimeout int `mapstructure:"silence_warning_timeout" validate:"min=1"`
	SilenceHangupTimeout  int `mapstructure:"silence_hangup_timeout" validate:"min=1"`
	MaxCallDuration       int `mapstructure:"max_call_duration" validate:"min=1"`

	// Resampler pool
	ProcessPoolWorkers int `mapstructure:"process_pool_workers" validate:"min=1"`

	// Paths
	BaseDir      string `mapstructure:"base_dir"`
	CacheDir     string `mapstructure:"cache_dir"`
	LogsDir      string `mapstructure:"logs_dir"`
	PromptsPath  string `mapstructure:"prompts_path"`
	KeywordsPath string `mapstructure:"stt_keywords_path"`

	// Databases
	DBClientsDSN string `mapstructure:"db_clients_dsn" validate:"required"`
	DBTicketsDSN string `mapstructure:"db_tickets_dsn" validate:"required"`

	// Asterisk AMI
	AMIHost     string `mapstructure:"ami_host"`
	AMIPort     int    `mapstructure:"ami_port"`
	AMIUsername string `mapstructure:"ami_username"`
	AMISecret   string `mapstructure:"ami_secret"`

	// Deepgram
	DeepgramAPIKey          string `mapstructure:"deepgram_api_key" validate:"required"`
	DeepgramModel           string `mapstructure:"deepgram_model"`
	DeepgramLanguage        string `mapstructure:"deepgram_language"`
	DeepgramEncoding        string `mapstructure:"deepgram_encoding"`
	DeepgramSampleRate      int    `mapstructure:"deepgram_sample_rate"`
	STTEndpointingDefaultMs int    `mapstructure:"stt_endpointing_default"`
	STTEndpointingShortMs   int    `mapstructure:"stt_endpointing_short"`

	// Groq
	GroqAPIKey             string  `mapstructure:"groq_api_key" validate:"required"`
	GroqBaseURL            string  `mapstructure:"groq_base_url"`
	GroqModel              string  `mapstructure:"groq_model"`
	GroqTemperature        float64 `mapstructure:"groq_temperature"`
	GroqMaxTokens          int     `mapstructure:"groq_max_tokens"`
	IntentAnalysisModel    string  `mapstructure:"intent_analysis_model"`
	IntentTemperature      float64 `mapstructure:"intent_analysis_temperature"`
	IntentMaxTokens        int     `mapstructure:"intent_analysis_max_tokens"`
	APITimeoutSeconds      int     `mapstructure:"api_timeout"`

	// ElevenLabs
	ElevenLabsAPIKey        string  `mapstructure:"elevenlabs_api_key" validate:"required"`
	ElevenLabsBaseURL       string  `mapstructure:"elevenlabs_base_url"`
	ElevenLabsVoiceID       string  `mapstructure:"elevenlabs_voice_id"`
	ElevenLabsModel         string  `mapstructure:"elevenlabs_model"`
	ElevenLabsStability     float64 `mapstructure:"elevenlabs_stability"`
	ElevenLabsSimilarity    float64 `mapstructure:"elevenlabs_similarity_boost"`
	ElevenLabsStyle         float64 `mapstructure:"elevenlabs_style"`
	ElevenLabsSpeakerBoost  bool    `mapstructure:"elevenlabs_use_speaker_boost"`

	// Dialog guards
	SentimentAngerThreshold  int `mapstructure:"sentiment_anger_threshold" validate:"min=1"`
	ClarificationAttemptsMax int `mapstructure:"state_clarification_attempts_max" validate:"min=1"`
	ConfirmationAttemptsMax  int `mapstructure:"state_confirmation_attempts_max" validate:"min=1"`

	// Dynamic phrase cache
	DynamicCacheMaxSize int `mapstructure:"dynamic_cache_max_size" validate:"min=1"`

	// Technician load shedding
	TechnicianMaxActiveTransfers int `mapstructure:"technician_max_active_transfers" validate:"min=1"`
	TechnicianLoadWindowMin      int `mapstructure:"technician_load_window_min" validate:"min=1"`

	// BusinessScheduleJSON overrides the built-in opening hours; a JSON map
	// of weekday (0=Monday .. 4=Friday) to [start,end) hour pairs, e.g.
	// {"0": [[9,12],[14,18]]}.
	BusinessScheduleJSON string `mapstructure:"business_schedule"`

	// Logging
	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`
	LogJSON  bool   `mapstructure:"log_format_json"`

	schedule BusinessSchedule
}

// Load reads configuration from the environment (every key above, upper
// cased) plus an optional voicebot.yaml in the working directory.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("voicebot")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	// AutomaticEnv alone does not surface env-only keys through Unmarshal;
	// bind each known key explicitly.
	for _, key := range v.AllKeys() {
		_ = v.BindEnv(key)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("audiosocket_host", "0.0.0.0")
	v.SetDefault("audiosocket_port", 9090)
	v.SetDefault("max_concurrent_calls", 20)
	v.SetDefault("prometheus_port", 9091)

	v.SetDefault("silence_warning_timeout", 15)
	v.SetDefault("silence_hangup_timeout", 30)
	v.SetDefault("max_call_duration", 600)
	v.SetDefault("process_pool_workers", 3)

	v.SetDefault("base_dir", ".")
	v.SetDefault("cache_dir", "assets/cache")
	v.SetDefault("logs_dir", "logs/calls")
	v.SetDefault("prompts_path", "prompts.yaml")
	v.SetDefault("stt_keywords_path", "stt_keywords.yaml")

	v.SetDefault("db_clients_dsn", "")
	v.SetDefault("db_tickets_dsn", "")

	v.SetDefault("ami_host", "localhost")
	v.SetDefault("ami_port", 5038)
	v.SetDefault("ami_username", "admin")
	v.SetDefault("ami_secret", "admin")

	v.SetDefault("deepgram_api_key", "")
	v.SetDefault("deepgram_model", "nova-2")
	v.SetDefault("deepgram_language", "fr")
	v.SetDefault("deepgram_encoding", "linear16")
	v.SetDefault("deepgram_sample_rate", 8000)
	v.SetDefault("stt_endpointing_default", 1200)
	v.SetDefault("stt_endpointing_short", 500)

	v.SetDefault("groq_api_key", "")
	v.SetDefault("groq_base_url", "https://api.groq.com/openai/v1")
	v.SetDefault("groq_model", "llama-3.3-70b-versatile")
	v.SetDefault("groq_temperature", 0.7)
	v.SetDefault("groq_max_tokens", 150)
	v.SetDefault("intent_analysis_model", "")
	v.SetDefault("intent_analysis_temperature", 0.1)
	v.SetDefault("intent_analysis_max_tokens", 100)
	v.SetDefault("api_timeout", 10)

	v.SetDefault("elevenlabs_api_key", "")
	v.SetDefault("elevenlabs_base_url", "https://api.elevenlabs.io")
	v.SetDefault("elevenlabs_voice_id", "N2lVS1w4EtoT3dr4eOWO")
	v.SetDefault("elevenlabs_model", "eleven_multilingual_v2")
	v.SetDefault("elevenlabs_stability", 0.5)
	v.SetDefault("elevenlabs_similarity_boost", 0.75)
	v.SetDefault("elevenlabs_style", 0.0)
	v.SetDefault("elevenlabs_use_speaker_boost", true)

	v.SetDefault("sentiment_anger_threshold", 3)
	v.SetDefault("state_clarification_attempts_max", 2)
	v.SetDefault("state_confirmation_attempts_max", 3)
	v.SetDefault("dynamic_cache_max_size", 50)

	v.SetDefault("technician_max_active_transfers", 5)
	v.SetDefault("technician_load_window_min", 10)

	v.SetDefault("business_schedule", "")

	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")
	v.SetDefault("log_format_json", false)
}

// Validate checks struct tags and cross-field constraints, collecting all
// failures into a single error.
func (c *Config) Validate() error {
	var missing []string

	val := validator.New()
	if err := val.Struct(c); err != nil {
		verrs, ok := err.(validator.ValidationErrors)
		if !ok {
			return fmt.Errorf("config: %w", err)
		}
		for _, fe := range verrs {
			missing = append(missing, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
		}
	}

	if c.SilenceHangupTimeout <= c.SilenceWarningTimeout {
		missing = append(missing, "SilenceHangupTimeout (must exceed SilenceWarningTimeout)")
	}

	schedule, err := parseSchedule(c.BusinessScheduleJSON)
	if err != nil {
		missing = append(missing, fmt.Sprintf("BusinessSchedule (%v)", err))
	} else {
		c.schedule = schedule
	}

	if len(missing) > 0 {
		return fmt.Errorf("config: invalid or missing settings:\n  - %s", strings.Join(missing, "\n  - "))
	}
	return nil
}

// Schedule returns the parsed business schedule.
func (c *Config) Schedule() BusinessSchedule {
	if c.schedule == nil {
		c.schedule = DefaultBusinessSchedule()
	}
	return c.schedule
}

// IntentModel returns the model used for JSON intent analysis, defaulting
// to the main chat model.
func (c *Config) IntentModel() string {
	if c.IntentAnalysisModel != "" {
		return c.IntentAnalysisModel
	}
	return c.GroqModel
}

// APITimeout returns the hard deadline applied to each LLM and TTS request.
func (c *Config) APITimeout() time.Duration {
	return time.Duration(c.APITimeoutSeconds) * time.Second
}

func parseSchedule(raw string) (BusinessSchedule, error) {
	if strings.TrimSpace(raw) == "" {
		return DefaultBusinessSchedule(), nil
	}
	var decoded map[string][][2]int
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, fmt.Errorf("bad JSON: %w", err)
	}
	schedule := BusinessSchedule{}
	for day, ranges := range decoded {
		var weekday int
		if _, err := fmt.Sscanf(day, "%d", &weekday); err != nil || weekday < 0 || weekday > 6 {
			return nil, fmt.Errorf("bad weekday %q", day)
		}
		for _, r := range ranges {
			if r[0] < 0 || r[1] > 24 || r[0] >= r[1] {
				return nil, fmt.Errorf("bad hour range %v for day %s", r, day)
			}
		}
		schedule[weekday] = ranges
	}
	return schedule, nil
}
