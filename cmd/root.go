package cmd

import (
	"errors"
	"io/fs"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	app       = "hirebot"
	envPrefix = "HIREBOT"
)

type Config struct {
	Server    *ServerConfig    `mapstructure:"server"`
	Screening *ScreeningConfig `mapstructure:"screening"`
	Uploads   *UploadsConfig   `mapstructure:"uploads"`
	Storage   *StorageConfig   `mapstructure:"storage"`
	Extractor *ExtractorConfig `mapstructure:"extractor"`
	AI        *AIConfig        `mapstructure:"ai"`
}

type ServerConfig struct {
	Address         string        `mapstructure:"address"`
	ReadTimeout     time.Duration `mapstructure:"read-timeout"`
	WriteTimeout    time.Duration `mapstructure:"write-timeout"`
	MaxUploadBytes  int64         `mapstructure:"max-upload-bytes"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown-timeout"`
}

type ScreeningConfig struct {
	QuestionCount  int           `mapstructure:"question-count"`
	AgentName      string        `mapstructure:"agent-name"`
	HRManagerName  string        `mapstructure:"hr-manager-name"`
	ModelTimeout   time.Duration `mapstructure:"model-timeout"`
	ExtractTimeout time.Duration `mapstructure:"extract-timeout"`
	MaxConcurrency int           `mapstructure:"max-concurrency"`
	MaxQueue       int           `mapstructure:"max-queue"`
	IdleTimeout    time.Duration `mapstructure:"idle-timeout"`
	SweepInterval  time.Duration `mapstructure:"sweep-interval"`
}

type UploadsConfig struct {
	Dir string `mapstructure:"dir"`
}

type StorageConfig struct {
	Backend  string          `mapstructure:"backend"`
	SQLite   *SQLiteConfig   `mapstructure:"sqlite"`
	Postgres *PostgresConfig `mapstructure:"postgres"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max-conns"`
}

type ExtractorConfig struct {
	Binary   string `mapstructure:"binary"`
	MaxPages int    `mapstructure:"max-pages"`
}

type AIConfig struct {
	Provider     string        `mapstructure:"provider"`
	MaxRetries   int           `mapstructure:"max-retries"`
	MaxLogLength int           `mapstructure:"max-log-length"`
	Temperature  float64       `mapstructure:"temperature"`
	Gemini       *GeminiConfig `mapstructure:"gemini"`
	OpenAI       *OpenAIConfig `mapstructure:"openai"`
}

type GeminiConfig struct {
	APIKey     string `mapstructure:"api-key"`
	APIKeyFile string `mapstructure:"api-key-file"`
	Model      string `mapstructure:"model"`
	Backend    string `mapstructure:"backend"`
	Project    string `mapstructure:"project"`
	Location   string `mapstructure:"location"`
}

type OpenAIConfig struct {
	APIKey     string `mapstructure:"api-key"`
	APIKeyFile string `mapstructure:"api-key-file"`
	Model      string `mapstructure:"model"`
	BaseURL    string `mapstructure:"base-url"`
}

var defaults = map[string]any{
	"server.address":          ":8000",
	"server.read-timeout":     "30s",
	"server.write-timeout":    "5m",
	"server.max-upload-bytes": 10 << 20,
	"server.shutdown-timeout": "15s",

	"screening.question-count":  3,
	"screening.agent-name":      "Janus",
	"screening.hr-manager-name": "Radhika",
	"screening.model-timeout":   "2m",
	"screening.extract-timeout": "30s",
	"screening.max-concurrency": 8,
	"screening.max-queue":       32,
	"screening.idle-timeout":    "24h",
	"screening.sweep-interval":  "10m",

	"uploads.dir": "uploads",

	"storage.backend":            "memory",
	"storage.sqlite.path":        "hirebot.db",
	"storage.postgres.dsn":       "",
	"storage.postgres.max-conns": 4,

	"extractor.binary":    "pdftotext",
	"extractor.max-pages": 0,

	"ai.provider":       "gemini",
	"ai.max-retries":    3,
	"ai.max-log-length": 200,
	"ai.temperature":    0.2,

	"ai.gemini.api-key":      "",
	"ai.gemini.api-key-file": "",
	"ai.gemini.model":        "gemini-2.5-flash",
	"ai.gemini.backend":      "gemini-api",
	"ai.gemini.project":      "",
	"ai.gemini.location":     "",

	"ai.openai.api-key":      "",
	"ai.openai.api-key-file": "",
	"ai.openai.model":        "llama-3.3-70b-versatile",
	"ai.openai.base-url":     "https://api.groq.com/openai/v1",
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "hirebot screens candidates: greeting, resume parsing, technical questions and an evaluation",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is hirebot.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func initConfig() {
	// A missing .env is fine, a broken one is not.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("loading .env file: %v", err)
	}

	for key, value := range defaults {
		viper.SetDefault(key, value)
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app)
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		// Without an explicit --config the defaults and the environment are enough.
		if cfgFile == "" && errors.As(err, &notFound) {
			return
		}
		// We can't proceed if the config file parsed with error.
		log.Fatal(err)
	}
}

func getConfig() (*Config, error) {
	var config *Config
	err := viper.Unmarshal(&config)
	if err != nil {
		return config, err
	}

	return config, nil
}
