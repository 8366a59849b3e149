package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v2"
)

// SamplerConfig holds settings for the device-side sampler.
type SamplerConfig struct {
	ServerURL   string
	Token       string
	ActorID     string
	Interval    time.Duration
	StateDir    string
	GeocoderURL string
	LogLevel    string

	// Consent granted by the device owner.
	ForegroundConsent bool
	BackgroundConsent bool

	// Position source: a CSV track to replay, or a fixed coordinate.
	ReplayFile string
	StaticLat  *float64
	StaticLon  *float64
}

// SamplerProfile is the optional YAML file a device can ship with.
type SamplerProfile struct {
	ServerURL   string `yaml:"server_url"`
	Token       string `yaml:"token"`
	ActorID     string `yaml:"actor_id"`
	Interval    string `yaml:"interval"`
	StateDir    string `yaml:"state_dir"`
	GeocoderURL string `yaml:"geocoder_url"`
	LogLevel    string `yaml:"log_level"`
	Consent     struct {
		Foreground *bool `yaml:"foreground"`
		Background *bool `yaml:"background"`
	} `yaml:"consent"`
	Position struct {
		ReplayFile string   `yaml:"replay_file"`
		Latitude   *float64 `yaml:"latitude"`
		Longitude  *float64 `yaml:"longitude"`
	} `yaml:"position"`
}

const (
	defaultServerURL      = "http://127.0.0.1:7080"
	defaultSampleInterval = 30 * time.Second
	minSampleInterval     = time.Second
)

// LoadSampler builds the sampler configuration.
// Priority: Environment variables > .env file > YAML profile > defaults.
// Command-line flags are applied on top by the caller.
func LoadSampler(profilePath string) (*SamplerConfig, error) {
	loadDotEnv()

	cfg := &SamplerConfig{
		ServerURL:         defaultServerURL,
		Interval:          defaultSampleInterval,
		LogLevel:          defaultLogLevel,
		ForegroundConsent: true,
	}
	if profilePath == "" {
		profilePath = getEnvString("FIELDTRACK_SAMPLER_PROFILE", "")
	}
	if profilePath != "" {
		profile, err := ReadSamplerProfile(profilePath)
		if err != nil {
			return nil, err
		}
		if err := profile.apply(cfg); err != nil {
			return nil, err
		}
	}

	cfg.ServerURL = getEnvString("FIELDTRACK_SAMPLER_SERVER_URL", cfg.ServerURL)
	cfg.Token = getEnvString("FIELDTRACK_SAMPLER_TOKEN", cfg.Token)
	cfg.ActorID = getEnvString("FIELDTRACK_SAMPLER_ACTOR_ID", cfg.ActorID)
	cfg.Interval = getEnvDuration("FIELDTRACK_SAMPLER_INTERVAL", cfg.Interval)
	cfg.StateDir = getEnvString("FIELDTRACK_SAMPLER_STATE_DIR", cfg.StateDir)
	cfg.GeocoderURL = getEnvString("FIELDTRACK_SAMPLER_GEOCODER_URL", cfg.GeocoderURL)
	cfg.LogLevel = getEnvString("FIELDTRACK_SAMPLER_LOG_LEVEL", cfg.LogLevel)
	cfg.ForegroundConsent = getEnvBool("FIELDTRACK_SAMPLER_FOREGROUND_CONSENT", cfg.ForegroundConsent)
	cfg.BackgroundConsent = getEnvBool("FIELDTRACK_SAMPLER_BACKGROUND_CONSENT", cfg.BackgroundConsent)
	cfg.ReplayFile = getEnvString("FIELDTRACK_SAMPLER_REPLAY_FILE", cfg.ReplayFile)
	if lat := getEnvFloat("FIELDTRACK_SAMPLER_LATITUDE"); lat != nil {
		cfg.StaticLat = lat
	}
	if lon := getEnvFloat("FIELDTRACK_SAMPLER_LONGITUDE"); lon != nil {
		cfg.StaticLon = lon
	}

	if cfg.StateDir == "" {
		dir, err := defaultStateDir()
		if err != nil {
			return nil, fmt.Errorf("resolve default state dir: %w", err)
		}
		cfg.StateDir = filepath.Join(dir, "sampler")
	}
	return cfg, nil
}

// Validate checks the settings needed to run a sampling session.
func (c *SamplerConfig) Validate() error {
	if c.ServerURL == "" {
		return errors.New("server url is required")
	}
	if c.ActorID == "" {
		return errors.New("actor id is required")
	}
	if c.Interval < minSampleInterval {
		return fmt.Errorf("interval must be at least %s", minSampleInterval)
	}
	if c.ReplayFile == "" && (c.StaticLat == nil || c.StaticLon == nil) {
		return errors.New("a replay file or a static latitude/longitude is required")
	}
	return nil
}

// ReadSamplerProfile parses a YAML sampler profile.
func ReadSamplerProfile(path string) (*SamplerProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sampler profile: %w", err)
	}
	var profile SamplerProfile
	if err := yaml.UnmarshalStrict(data, &profile); err != nil {
		return nil, fmt.Errorf("parse sampler profile %s: %w", path, err)
	}
	return &profile, nil
}

func (p *SamplerProfile) apply(cfg *SamplerConfig) error {
	if p.ServerURL != "" {
		cfg.ServerURL = p.ServerURL
	}
	if p.Token != "" {
		cfg.Token = p.Token
	}
	if p.ActorID != "" {
		cfg.ActorID = p.ActorID
	}
	if p.Interval != "" {
		d, err := time.ParseDuration(p.Interval)
		if err != nil {
			return fmt.Errorf("profile interval: %w", err)
		}
		cfg.Interval = d
	}
	if p.StateDir != "" {
		cfg.StateDir = p.StateDir
	}
	if p.GeocoderURL != "" {
		cfg.GeocoderURL = p.GeocoderURL
	}
	if p.LogLevel != "" {
		cfg.LogLevel = p.LogLevel
	}
	if p.Consent.Foreground != nil {
		cfg.ForegroundConsent = *p.Consent.Foreground
	}
	if p.Consent.Background != nil {
		cfg.BackgroundConsent = *p.Consent.Background
	}
	if p.Position.ReplayFile != "" {
		cfg.ReplayFile = p.Position.ReplayFile
	}
	if p.Position.Latitude != nil {
		cfg.StaticLat = p.Position.Latitude
	}
	if p.Position.Longitude != nil {
		cfg.StaticLon = p.Position.Longitude
	}
	return nil
}
