package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pdai-labs/pdai/internal/templates"
	"github.com/pdai-labs/pdai/internal/utils/pathutil"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const pdaiPrefix = "PDAI"

type Config struct {
	Environment     string         `mapstructure:"environment"`
	PdaiHome        string         `mapstructure:"pdai_home"`
	DataDir         string         `mapstructure:"data_dir"`
	ModelDir        string         `mapstructure:"model_dir"`
	ModelName       string         `mapstructure:"model_name"`
	ModelFormat     string         `mapstructure:"model_format"`
	ModelExtensions []string       `mapstructure:"model_extensions"`
	DatasetPath     string         `mapstructure:"dataset_path"`
	ModelInfoPath   string         `mapstructure:"model_info_path"`
	ModelInfoMaxAge time.Duration  `mapstructure:"model_info_max_age"`
	LogDir          string         `mapstructure:"log_dir"`
	TempDir         string         `mapstructure:"temp_dir"`
	HistoryDB       string         `mapstructure:"history_db"`
	Feed            *FeedConfig    `mapstructure:"feed"`
	Predict         *PredictConfig `mapstructure:"predict"`
	Train           *TrainConfig   `mapstructure:"train"`
	GUI             *GUIConfig     `mapstructure:"gui"`
	CLI             *CLIConfig     `mapstructure:"cli"`
}

type FeedConfig struct {
	URL             string        `mapstructure:"url"`
	ModelAsset      string        `mapstructure:"model_asset"`
	LightModelAsset string        `mapstructure:"light_model_asset"`
	ModelInfoAsset  string        `mapstructure:"model_info_asset"`
	ChunkSize       int           `mapstructure:"chunk_size"`
	CatalogTTL      time.Duration `mapstructure:"catalog_ttl"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

type PredictConfig struct {
	LowConfidence float64 `mapstructure:"low_confidence"`
	Sensitivity   float64 `mapstructure:"sensitivity"`
	TargetLayer   string  `mapstructure:"target_layer"`
	SecondLayer   string  `mapstructure:"second_layer"`
}

type TrainConfig struct {
	DefaultEpochs int `mapstructure:"default_epochs"`
	MinSamples    int `mapstructure:"min_samples"`
	// WarnOnInvalidEpochs reports malformed -e values before falling back
	// to DefaultEpochs.
	WarnOnInvalidEpochs bool `mapstructure:"warn_on_invalid_epochs"`
}

type GUIConfig struct {
	Tick             time.Duration `mapstructure:"tick"`
	ModelInfoRefresh time.Duration `mapstructure:"model_info_refresh"`
	QueueCapacity    int           `mapstructure:"queue_capacity"`
}

type CLIConfig struct {
	QueueCapacity int `mapstructure:"queue_capacity"`
	HistoryLimit  int `mapstructure:"history_limit"`
}

var config *Config

// InitConfig resolves the pdai home directory, writes the default config and
// env files on first run and loads them into the global viper instance.
func InitConfig() error {
	pdaiHome, err := getPdaiHome()
	if err != nil {
		return err
	}

	if err := createPdaiHomeDirs(pdaiHome); err != nil {
		return err
	}

	viper.Set("pdai_home", pdaiHome)
	for key, sub := range map[string]string{
		"data_dir":  "data",
		"model_dir": "models",
		"log_dir":   "logs",
		"temp_dir":  "temp",
	} {
		dir, err := resolveDir(pdaiHome, key, sub)
		if err != nil {
			return err
		}
		viper.Set(key, dir)
	}

	envFile := viper.GetString("env_file")
	if envFile == "" {
		envFile = filepath.Join(pdaiHome, ".env")
	}
	configFile := viper.GetString("config_file")
	if configFile == "" {
		configFile = filepath.Join(pdaiHome, "config.yaml")
	}

	if _, err := os.Stat(envFile); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to stat .env file: %w", err)
		}
		if err := templates.WriteEnv(envFile); err != nil {
			return fmt.Errorf("failed to create .env file: %w", err)
		}
	}

	if _, err := os.Stat(configFile); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to stat config.yaml file: %w", err)
		}
		if err := templates.WriteConfig(configFile); err != nil {
			return fmt.Errorf("failed to create config.yaml file: %w", err)
		}
	}

	if err := godotenv.Load(envFile); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}

	viper.SetEnvPrefix(pdaiPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(`.`, `_`, `-`, `_`))
	viper.AutomaticEnv()
	viper.SetConfigFile(configFile)

	if err := viper.ReadInConfig(); err != nil {
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return fmt.Errorf("error reading config: %w", err)
		}
		fmt.Println("No config file found. Using default config.")
	}

	cfg, err := Load(viper.GetViper())
	if err != nil {
		return err
	}

	config = cfg
	return nil
}

// Load applies defaults to v, unmarshals it and fills in derived paths.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	if cfg.DatasetPath == "" {
		cfg.DatasetPath = filepath.Join(cfg.DataDir, "dataset.msgpack")
	}
	if cfg.ModelInfoPath == "" {
		cfg.ModelInfoPath = filepath.Join(cfg.DataDir, DefaultModelInfoAsset)
	}
	if cfg.HistoryDB == "" {
		cfg.HistoryDB = filepath.Join(cfg.DataDir, "history.db")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault("environment", "dev")
	v.SetDefault("data_dir", "data")
	v.SetDefault("model_dir", "models")
	v.SetDefault("log_dir", "logs")
	v.SetDefault("temp_dir", os.TempDir())
	v.SetDefault("model_name", DefaultModelName)
	v.SetDefault("model_format", ModelFormatH5)
	v.SetDefault("model_extensions", []string{DefaultModelExtension})
	v.SetDefault("model_info_max_age", DefaultModelInfoAge)

	v.SetDefault("feed.url", DefaultFeedURL)
	v.SetDefault("feed.model_asset", DefaultModelAsset)
	v.SetDefault("feed.light_model_asset", DefaultLightModelAsset)
	v.SetDefault("feed.model_info_asset", DefaultModelInfoAsset)
	v.SetDefault("feed.chunk_size", DefaultChunkSize)
	v.SetDefault("feed.catalog_ttl", DefaultCatalogTTL)
	v.SetDefault("feed.timeout", DefaultFeedTimeout)

	v.SetDefault("predict.low_confidence", DefaultLowConfidence)
	v.SetDefault("predict.sensitivity", DefaultSensitivity)
	v.SetDefault("predict.target_layer", DefaultTargetLayer)
	v.SetDefault("predict.second_layer", DefaultSecondLayer)

	v.SetDefault("train.default_epochs", DefaultEpochs)
	v.SetDefault("train.min_samples", DefaultMinSamples)
	v.SetDefault("train.warn_on_invalid_epochs", true)

	v.SetDefault("gui.tick", DefaultGUITick)
	v.SetDefault("gui.model_info_refresh", DefaultInfoRefresh)
	v.SetDefault("gui.queue_capacity", DefaultQueueCapacity)

	v.SetDefault("cli.queue_capacity", DefaultQueueCapacity)
	v.SetDefault("cli.history_limit", DefaultHistoryLimit)
}

func (c *Config) Validate() error {
	switch c.ModelFormat {
	case ModelFormatH5, ModelFormatDir:
	default:
		return fmt.Errorf("%w: %q (expected %s or %s)", ErrInvalidModelFormat, c.ModelFormat, ModelFormatH5, ModelFormatDir)
	}

	if c.Feed == nil || c.Feed.URL == "" {
		return errors.New("feed.url must be set")
	}
	if c.Feed.ChunkSize <= 0 {
		return fmt.Errorf("feed.chunk_size must be positive, got %d", c.Feed.ChunkSize)
	}
	if c.Predict.LowConfidence < 0 || c.Predict.LowConfidence > 1 {
		return fmt.Errorf("predict.low_confidence must be within [0, 1], got %v", c.Predict.LowConfidence)
	}
	if c.Train.DefaultEpochs <= 0 {
		return fmt.Errorf("train.default_epochs must be positive, got %d", c.Train.DefaultEpochs)
	}
	if c.GUI.QueueCapacity <= 0 || c.CLI.QueueCapacity <= 0 {
		return errors.New("queue capacity must be positive")
	}

	return nil
}

// ModelPath returns the on-disk location of the model artifact for the
// configured storage format.
func (c *Config) ModelPath() string {
	path := filepath.Join(c.ModelDir, c.ModelName)
	if c.ModelFormat == ModelFormatH5 {
		return path + ".h5"
	}
	return path
}

func GetConfig() *Config {
	if config == nil {
		panic(ErrConfigNotLoaded)
	}

	return config
}

// Returns the pdai home directory path.
// It attempts to retrieve the pdai home directory from the following sources in order:
// 1. The `pdai_home` flag from viper.
// 2. The `PDAI_HOME` environment variable.
// 3. The default pdai home directory.
func getPdaiHome() (string, error) {
	pdaiHome := viper.GetString("pdai_home")
	if pdaiHome == "" {
		pdaiHome = os.Getenv("PDAI_HOME")
		if pdaiHome == "" {
			pdaiHome = DefaultPdaiHome
		}
	}

	pdaiHome, err := pathutil.ExpandPath(pdaiHome)
	if err != nil {
		return "", fmt.Errorf("failed to expand pdai home path: %w", err)
	}

	return pdaiHome, nil
}

func resolveDir(pdaiHome, key, sub string) (string, error) {
	if pdaiHome == "" {
		return "", ErrPdaiHomeNotSet
	}

	dir := viper.GetString(key)
	if dir == "" {
		dir = filepath.Join(pdaiHome, sub)
	}

	dir, err := pathutil.ExpandPath(dir)
	if err != nil {
		return "", ErrPdaiHomeExpandFailed
	}

	return dir, nil
}

func createPdaiHomeDirs(pdaiHome string) error {
	subdirs := []string{"data", "models", "logs", "temp"}
	if err := os.MkdirAll(pdaiHome, os.ModePerm); err != nil {
		return fmt.Errorf("failed to create pdai home directory: %w", err)
	}

	for _, subdir := range subdirs {
		dir := filepath.Join(pdaiHome, subdir)
		if err := os.MkdirAll(dir, os.ModePerm); err != nil {
			return fmt.Errorf("failed to create %s directory: %w", subdir, err)
		}
	}

	return nil
}
