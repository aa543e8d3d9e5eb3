package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/segment-replay/internal/cvservice"
	"github.com/danielpatrickdp/segment-replay/internal/plan"
)

// #region types
// Config is everything the replay binaries read from the environment.
type Config struct {
	DBPath        string        `yaml:"db"`
	PlanPath      string        `yaml:"plan"`
	CheckpointDir string        `yaml:"checkpointDir"`
	ImageDir      string        `yaml:"imageDir"`
	ImageCache    int           `yaml:"imageCache"`
	TickInterval  time.Duration `yaml:"tickInterval"`
	ScreenWidth   int           `yaml:"screenWidth"`
	ScreenHeight  int           `yaml:"screenHeight"`

	// RestartCommand and QuitCommand drive the application under test for the
	// RestartGame and QuitGame actions. Arguments are split on whitespace.
	RestartCommand string `yaml:"restartCommand"`
	QuitCommand    string `yaml:"quitCommand"`

	Loop         bool `yaml:"loop"`
	PauseOnStall bool `yaml:"pauseOnStall"`
	HaltOnFatal  bool `yaml:"haltOnFatal"`
	Explore      bool `yaml:"explore"`
	Watch        bool `yaml:"watch"`

	StatusAddr string `yaml:"statusAddr"`
	HealthAddr string `yaml:"healthAddr"`
	Verbose    bool   `yaml:"verbose"`

	CV          CVConfig          `yaml:"cv"`
	ObjectStore ObjectStoreConfig `yaml:"objectStore"`
}

type CVConfig struct {
	URL               string        `yaml:"url"`
	Token             string        `yaml:"token"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requestsPerSecond"`
	Burst             int           `yaml:"burst"`
}

type ObjectStoreConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	UseSSL    bool   `yaml:"useSSL"`
}
// #endregion types

// #region defaults
// DefaultConfig returns defaults with environment overrides applied.
// Reads REPLAY_DB, REPLAY_PLAN, REPLAY_CHECKPOINT_DIR, REPLAY_IMAGE_DIR, REPLAY_TICK_INTERVAL,
// REPLAY_SCREEN_WIDTH, REPLAY_SCREEN_HEIGHT, REPLAY_RESTART_CMD, REPLAY_QUIT_CMD, REPLAY_LOOP, REPLAY_PAUSE_ON_STALL, REPLAY_HALT_ON_FATAL, REPLAY_EXPLORE, REPLAY_WATCH,
// REPLAY_STATUS_ADDR, REPLAY_HEALTH_ADDR, REPLAY_VERBOSE, CV_SERVICE_URL, CV_SERVICE_TOKEN,
// CV_REQUEST_TIMEOUT, CV_REQUESTS_PER_SECOND and REPLAY_OBJECT_STORE_*.
func DefaultConfig() Config {
	cfg := defaults()
	applyEnv(&cfg)
	return cfg
}

func defaults() Config {
	cv := cvservice.DefaultConfig()
	return Config{
		DBPath:        "replay_history.db",
		CheckpointDir: filepath.Join(os.TempDir(), "segment-replay"),
		ImageCache:    64,
		TickInterval:  100 * time.Millisecond,
		ScreenWidth:   1920,
		ScreenHeight:  1080,
		StatusAddr:    "localhost:8089",
		HealthAddr:    "localhost:50061",
		CV: CVConfig{
			URL:     cv.BaseURL,
			Timeout: cv.Timeout,
			Burst:   cv.Burst,
		},
		ObjectStore: ObjectStoreConfig{Region: "us-east-1", UseSSL: true},
	}
}
// #endregion defaults

// #region load
// Load layers the configuration: defaults, then the YAML file named by REPLAY_CONFIG,
// then the environment. envFile is loaded into the environment first when it exists;
// variables already set win over it.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	cfg := defaults()
	if path := os.Getenv("REPLAY_CONFIG"); path != "" {
		if err := LoadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

// LoadFile overlays the YAML file at path onto cfg. Keys absent from the file keep their value.
func LoadFile(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}
// #endregion load

// #region env
func applyEnv(cfg *Config) {
	setString(&cfg.DBPath, "REPLAY_DB")
	setString(&cfg.PlanPath, "REPLAY_PLAN")
	setString(&cfg.CheckpointDir, "REPLAY_CHECKPOINT_DIR")
	setString(&cfg.ImageDir, "REPLAY_IMAGE_DIR")
	setDuration(&cfg.TickInterval, "REPLAY_TICK_INTERVAL")
	setInt(&cfg.ScreenWidth, "REPLAY_SCREEN_WIDTH")
	setInt(&cfg.ScreenHeight, "REPLAY_SCREEN_HEIGHT")
	setString(&cfg.RestartCommand, "REPLAY_RESTART_CMD")
	setString(&cfg.QuitCommand, "REPLAY_QUIT_CMD")
	setBool(&cfg.Loop, "REPLAY_LOOP")
	setBool(&cfg.PauseOnStall, "REPLAY_PAUSE_ON_STALL")
	setBool(&cfg.HaltOnFatal, "REPLAY_HALT_ON_FATAL")
	setBool(&cfg.Explore, "REPLAY_EXPLORE")
	setBool(&cfg.Watch, "REPLAY_WATCH")
	setString(&cfg.StatusAddr, "REPLAY_STATUS_ADDR")
	setString(&cfg.HealthAddr, "REPLAY_HEALTH_ADDR")
	setBool(&cfg.Verbose, "REPLAY_VERBOSE")

	setString(&cfg.CV.URL, "CV_SERVICE_URL")
	setString(&cfg.CV.Token, "CV_SERVICE_TOKEN")
	setDuration(&cfg.CV.Timeout, "CV_REQUEST_TIMEOUT")
	if v := os.Getenv("CV_REQUESTS_PER_SECOND"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			cfg.CV.RequestsPerSecond = f
		}
	}

	setString(&cfg.ObjectStore.Endpoint, "REPLAY_OBJECT_STORE_ENDPOINT")
	setString(&cfg.ObjectStore.Region, "REPLAY_OBJECT_STORE_REGION")
	setString(&cfg.ObjectStore.AccessKey, "REPLAY_OBJECT_STORE_ACCESS_KEY")
	setString(&cfg.ObjectStore.SecretKey, "REPLAY_OBJECT_STORE_SECRET_KEY")
	setBool(&cfg.ObjectStore.UseSSL, "REPLAY_OBJECT_STORE_USE_SSL")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v == "true" || v == "1"
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = n
		}
	}
}

// setDuration accepts a Go duration ("1.5s") or whole seconds ("30").
func setDuration(dst *time.Duration, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		*dst = d
		return
	}
	if sec, err := strconv.Atoi(v); err == nil && sec > 0 {
		*dst = time.Duration(sec) * time.Second
	}
}
// #endregion env

// #region conversions
func (c Config) CVService() cvservice.Config {
	return cvservice.Config{
		BaseURL:           c.CV.URL,
		Token:             c.CV.Token,
		Timeout:           c.CV.Timeout,
		RequestsPerSecond: c.CV.RequestsPerSecond,
		Burst:             c.CV.Burst,
		Verbose:           c.Verbose,
	}
}

// ObjectStoreSource connects to the configured bucket store, or returns nil when none is configured.
func (c Config) ObjectStoreSource() (*plan.ObjectStoreSource, error) {
	if c.ObjectStore.Endpoint == "" {
		return nil, nil
	}
	return plan.NewObjectStoreSource(plan.ObjectStoreConfig{
		Endpoint:  c.ObjectStore.Endpoint,
		Region:    c.ObjectStore.Region,
		AccessKey: c.ObjectStore.AccessKey,
		SecretKey: c.ObjectStore.SecretKey,
		UseSSL:    c.ObjectStore.UseSSL,
	})
}
// #endregion conversions
