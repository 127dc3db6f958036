package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"cartoonize/domain"

	"github.com/joho/godotenv"
)

// Remote image-to-image providers.
const (
	RemoteReplicate        = "replicate"
	RemoteCloudflareWorker = "cloudflare-worker"
)

const defaultSessionSecret = "a_very_long_and_random_secret_string"

// DefaultNegativePrompt lists the visual artifacts excluded from every
// image-to-image generation.
const DefaultNegativePrompt = "deformed, distorted, disfigured, poorly drawn, bad anatomy, wrong anatomy, " +
	"extra limb, missing limb, floating limbs, mutated hands and fingers, disconnected limbs, " +
	"mutation, ugly, blurry, watermark, text, signature"

// APIKeys holds the API keys for the generation and language-model providers.
type APIKeys struct {
	OpenAI    string `json:"OPENAI_API_KEY"`
	Replicate string `json:"REPLICATE_API_TOKEN"`
}

// CloudflareCredentials holds the credentials for Cloudflare Images and the
// cartoonize worker.
type CloudflareCredentials struct {
	AccountID string `json:"CLOUDFLARE_ACCOUNT_ID"`
	APIToken  string `json:"CLOUDFLARE_API_TOKEN"`
	APIURL    string `json:"CLOUDFLARE_API_URL"`
	WorkerURL string `json:"CLOUDFLARE_WORKER_URL"`
}

// Models holds the model identifiers per provider.
type Models struct {
	OpenAIImage  string `json:"OPENAI_IMAGE_MODEL"`
	OpenAIChat   string `json:"OPENAI_GPT_MODEL"`
	Replicate    string `json:"REPLICATE_MODEL"`
	LocalBase    string `json:"LOCAL_BASE_MODEL"`
	LocalControl string `json:"LOCAL_CONTROL_MODEL"`
}

// Endpoints overrides provider base URLs.
type Endpoints struct {
	OpenAI         string `json:"OPENAI_BASE_URL"`
	Replicate      string `json:"REPLICATE_BASE_URL"`
	LocalDiffusion string `json:"LOCAL_DIFFUSION_URL"`
}

// Generation holds the numeric defaults of the generation request.
type Generation struct {
	RemoteProvider  string  `json:"REMOTE_PROVIDER"`
	DefaultStrength float64 `json:"DEFAULT_STRENGTH"`
	DefaultGuidance float64 `json:"DEFAULT_GUIDANCE"`
	PromptStrength  float64 `json:"PROMPT_STRENGTH"`
	InferenceSteps  int     `json:"INFERENCE_STEPS"`
	OutputQuality   int     `json:"OUTPUT_QUALITY"`
	NegativePrompt  string  `json:"NEGATIVE_PROMPT"`
	StylesFile      string  `json:"STYLES_FILE"`
}

// Settings holds optional application settings.
type Settings struct {
	AppEnv                 string `json:"APP_ENV"`
	ListenAddr             string `json:"LISTEN_ADDR"`
	Language               string `json:"CUSTOM_LANGUAGE"`
	MaxUploadBytes         int64  `json:"MAX_UPLOAD_BYTES"`
	ReencodeThresholdBytes int64  `json:"REENCODE_THRESHOLD_BYTES"`
	MaxDimension           int    `json:"MAX_DIMENSION"`
	RequestTimeoutSeconds  int    `json:"REQUEST_TIMEOUT_SECONDS"`
	VerifyStorageToken     bool   `json:"VERIFY_STORAGE_TOKEN"`
	DescribeResults        bool   `json:"DESCRIBE_RESULTS"`
	WebPassword            string `json:"WEB_PASSWORD"`
	SessionSecret          string `json:"SESSION_SECRET"`
	SessionIdleMinutes     int    `json:"SESSION_IDLE_MINUTES"`
}

// Config holds the entire application configuration.
type Config struct {
	APIKeys               APIKeys               `json:"API_KEYS"`
	CloudflareCredentials CloudflareCredentials `json:"CLOUDFLARE_CREDENTIALS"`
	Models                Models                `json:"MODELS"`
	Endpoints             Endpoints             `json:"ENDPOINTS"`
	Generation            Generation            `json:"GENERATION"`
	Settings              Settings              `json:"SETTINGS"`
}

// Default returns the configuration used when nothing else is supplied.
func Default() *Config {
	return &Config{
		CloudflareCredentials: CloudflareCredentials{
			APIURL: "https://api.cloudflare.com/client/v4",
		},
		Models: Models{
			OpenAIImage:  "dall-e-3",
			OpenAIChat:   "gpt-4o-mini",
			Replicate:    "stability-ai/stable-diffusion-img2img",
			LocalBase:    "runwayml/stable-diffusion-v1-5",
			LocalControl: "control_v11f1e_sd15_tile",
		},
		Endpoints: Endpoints{
			OpenAI:         "https://api.openai.com/v1",
			Replicate:      "https://api.replicate.com",
			LocalDiffusion: "http://127.0.0.1:7860",
		},
		Generation: Generation{
			RemoteProvider:  RemoteReplicate,
			DefaultStrength: 0.75,
			DefaultGuidance: 7.5,
			PromptStrength:  0.8,
			InferenceSteps:  30,
			OutputQuality:   90,
			NegativePrompt:  DefaultNegativePrompt,
		},
		Settings: Settings{
			AppEnv:                 "production",
			ListenAddr:             ":8080",
			Language:               "Korean",
			MaxUploadBytes:         3 << 20,
			ReencodeThresholdBytes: 2 << 20,
			MaxDimension:           1920,
			RequestTimeoutSeconds:  60,
			VerifyStorageToken:     true,
			DescribeResults:        true,
			SessionSecret:          defaultSessionSecret,
			SessionIdleMinutes:     30,
		},
	}
}

// LoadConfig loads the configuration from defaults, the JSON file at path,
// .env and environment variables, each layer overriding the previous one.
// A missing file is not an error; a malformed one is.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		file, err := os.Open(path)
		if err == nil {
			defer file.Close()
			if err := json.NewDecoder(file).Decode(cfg); err != nil {
				return nil, fmt.Errorf("config: could not decode %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: could not open %s: %w", path, err)
		}
	}

	// .env does not override variables already present in the environment.
	_ = godotenv.Load()

	if err := cfg.loadFromEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFromEnv overrides the configuration with environment variables.
func (c *Config) loadFromEnv() error {
	setString(&c.APIKeys.OpenAI, "OPENAI_API_KEY")
	setString(&c.APIKeys.Replicate, "REPLICATE_API_TOKEN")

	setString(&c.CloudflareCredentials.AccountID, "CLOUDFLARE_ACCOUNT_ID")
	setString(&c.CloudflareCredentials.APIToken, "CLOUDFLARE_API_TOKEN")
	setString(&c.CloudflareCredentials.APIURL, "CLOUDFLARE_API_URL")
	setString(&c.CloudflareCredentials.WorkerURL, "CLOUDFLARE_WORKER_URL")

	setString(&c.Models.OpenAIImage, "OPENAI_IMAGE_MODEL")
	setString(&c.Models.OpenAIChat, "OPENAI_GPT_MODEL")
	setString(&c.Models.Replicate, "REPLICATE_MODEL")
	setString(&c.Models.LocalBase, "LOCAL_BASE_MODEL")
	setString(&c.Models.LocalControl, "LOCAL_CONTROL_MODEL")

	setString(&c.Endpoints.OpenAI, "OPENAI_BASE_URL")
	setString(&c.Endpoints.Replicate, "REPLICATE_BASE_URL")
	setString(&c.Endpoints.LocalDiffusion, "LOCAL_DIFFUSION_URL")

	setString(&c.Generation.RemoteProvider, "REMOTE_PROVIDER")
	setString(&c.Generation.NegativePrompt, "NEGATIVE_PROMPT")
	setString(&c.Generation.StylesFile, "STYLES_FILE")

	setString(&c.Settings.AppEnv, "APP_ENV")
	setString(&c.Settings.ListenAddr, "LISTEN_ADDR")
	setString(&c.Settings.Language, "CUSTOM_LANGUAGE")
	setString(&c.Settings.WebPassword, "WEB_PASSWORD")
	setString(&c.Settings.SessionSecret, "SESSION_SECRET")

	for _, set := range []error{
		setFloat(&c.Generation.DefaultStrength, "DEFAULT_STRENGTH"),
		setFloat(&c.Generation.DefaultGuidance, "DEFAULT_GUIDANCE"),
		setFloat(&c.Generation.PromptStrength, "PROMPT_STRENGTH"),
		setInt(&c.Generation.InferenceSteps, "INFERENCE_STEPS"),
		setInt(&c.Generation.OutputQuality, "OUTPUT_QUALITY"),
		setInt64(&c.Settings.MaxUploadBytes, "MAX_UPLOAD_BYTES"),
		setInt64(&c.Settings.ReencodeThresholdBytes, "REENCODE_THRESHOLD_BYTES"),
		setInt(&c.Settings.MaxDimension, "MAX_DIMENSION"),
		setInt(&c.Settings.RequestTimeoutSeconds, "REQUEST_TIMEOUT_SECONDS"),
		setInt(&c.Settings.SessionIdleMinutes, "SESSION_IDLE_MINUTES"),
		setBool(&c.Settings.VerifyStorageToken, "VERIFY_STORAGE_TOKEN"),
		setBool(&c.Settings.DescribeResults, "DESCRIBE_RESULTS"),
	} {
		if set != nil {
			return set
		}
	}
	return nil
}

// Validate rejects configurations no action could run with.
func (c *Config) Validate() error {
	switch c.Generation.RemoteProvider {
	case RemoteReplicate, RemoteCloudflareWorker:
	default:
		return fmt.Errorf("config: REMOTE_PROVIDER must be %q or %q, got %q", RemoteReplicate, RemoteCloudflareWorker, c.Generation.RemoteProvider)
	}
	g := c.Generation
	if g.DefaultStrength < domain.MinStrength || g.DefaultStrength > domain.MaxStrength {
		return fmt.Errorf("config: DEFAULT_STRENGTH %.2f out of range [%.1f, %.1f]", g.DefaultStrength, domain.MinStrength, domain.MaxStrength)
	}
	if g.DefaultGuidance < domain.MinGuidance || g.DefaultGuidance > domain.MaxGuidance {
		return fmt.Errorf("config: DEFAULT_GUIDANCE %.2f out of range [%.0f, %.0f]", g.DefaultGuidance, domain.MinGuidance, domain.MaxGuidance)
	}
	if c.Settings.MaxUploadBytes <= 0 {
		return fmt.Errorf("config: MAX_UPLOAD_BYTES must be positive")
	}
	if c.Settings.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("config: REQUEST_TIMEOUT_SECONDS must be positive")
	}
	if c.Settings.SessionIdleMinutes < 0 {
		return fmt.Errorf("config: SESSION_IDLE_MINUTES must not be negative")
	}
	return nil
}

// RequestTimeout bounds every external call.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Settings.RequestTimeoutSeconds) * time.Second
}

// SessionIdleTimeout is how long a session may go unused before it is
// discarded. Zero means never.
func (c *Config) SessionIdleTimeout() time.Duration {
	return time.Duration(c.Settings.SessionIdleMinutes) * time.Minute
}

// InsecureSessionSecret reports whether the session secret was left at its default.
func (c *Config) InsecureSessionSecret() bool {
	return c.Settings.SessionSecret == defaultSessionSecret
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = b
	return nil
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = i
	return nil
}

func setInt64(dst *int64, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = i
	return nil
}

func setFloat(dst *float64, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = f
	return nil
}
