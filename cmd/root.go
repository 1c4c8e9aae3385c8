package cmd

import (
	"errors"
	"log"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/spigell/hh-analyzer/internal/filtering"
	"github.com/spigell/hh-analyzer/internal/headhunter"
	"github.com/spigell/hh-analyzer/internal/llm"
	"github.com/spigell/hh-analyzer/internal/queue"
	"github.com/spigell/hh-analyzer/internal/repository"
	"github.com/spigell/hh-analyzer/internal/scheduler"
)

const (
	app       = "hh-analyzer"
	envPrefix = "HH_ANALYZER"
)

type Config struct {
	Database   repository.Config        `mapstructure:"database"`
	Redis      queue.RedisConfig        `mapstructure:"redis"`
	Listings   ListingsConfig           `mapstructure:"listings"`
	Search     *headhunter.SearchParams `mapstructure:"search"`
	Filters    filtering.Config         `mapstructure:"filters"`
	Sync       SyncConfig               `mapstructure:"sync"`
	Models     []llm.ModelSpec          `mapstructure:"models"`
	ChainsFile string                   `mapstructure:"chains-file"`
	Worker     WorkerConfig             `mapstructure:"worker"`
	Schedule   scheduler.Config         `mapstructure:"schedule"`
	Admin      AdminConfig              `mapstructure:"admin"`
}

type ListingsConfig struct {
	BaseURL        string `mapstructure:"base-url"`
	UserAgent      string `mapstructure:"user-agent"`
	Token          string `mapstructure:"token"`
	TokenFile      string `mapstructure:"token-file"`
	TimeoutSeconds int    `mapstructure:"timeout-seconds"`
}

type SyncConfig struct {
	MaxPages int      `mapstructure:"max-pages"`
	Kinds    []string `mapstructure:"kinds"`
	Priority int      `mapstructure:"priority"`
	// Details fetches every found vacancy by id before storing it.
	Details bool `mapstructure:"details"`
}

type WorkerConfig struct {
	Kinds         []string `mapstructure:"kinds"`
	IdleSeconds   int      `mapstructure:"idle-seconds"`
	StaleMinutes  int      `mapstructure:"stale-minutes"`
	GuardTTL      int      `mapstructure:"guard-ttl-seconds"`
	RequeueStale  string   `mapstructure:"requeue-stale"`
	DisableLoops  bool     `mapstructure:"disable-loops"`
	ShutdownGrace int      `mapstructure:"shutdown-grace-seconds"`
}

type AdminConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:          app,
		Short:        "hh-analyzer pulls vacancies from hh.ru and scores them with a chain of LLM checks",
		SilenceUsage: true,
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	if err := viper.BindEnv("listings.token-file", "HH_TOKEN_FILE"); err != nil {
		log.Fatalf("binding HH_TOKEN_FILE environment variable: %v", err)
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is hh-analyzer.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))

	setDefaults()
}

func setDefaults() {
	viper.SetDefault("database.driver", repository.DriverMySQL)
	viper.SetDefault("listings.timeout-seconds", 10)
	viper.SetDefault("sync.max-pages", 20)
	viper.SetDefault("sync.kinds", []string{string(queue.KindAnalysisFirst)})
	viper.SetDefault("sync.details", true)
	viper.SetDefault("worker.kinds", []string{
		string(queue.KindUpdate),
		string(queue.KindAnalysisFirst),
		string(queue.KindAnalysisFull),
	})
	viper.SetDefault("worker.idle-seconds", 10)
	viper.SetDefault("worker.stale-minutes", 30)
	viper.SetDefault("worker.guard-ttl-seconds", 30)
	viper.SetDefault("worker.requeue-stale", "0 */15 * * * *")
	viper.SetDefault("worker.shutdown-grace-seconds", 10)

	schedule := scheduler.DefaultConfig()
	viper.SetDefault("schedule.sync", schedule.Sync)
	viper.SetDefault("schedule.drain", schedule.Drain)
	viper.SetDefault("schedule.drain-limit", schedule.DrainLimit)

	viper.SetDefault("admin.enabled", true)
	viper.SetDefault("admin.listen", ":8080")
}

func initConfig() {
	// .env is optional
	_ = godotenv.Load()

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
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
		// Without an explicit file the environment alone may be enough.
		if cfgFile != "" || !errors.As(err, &notFound) {
			log.Fatal(err)
		}
	}
}

func getConfig() (*Config, error) {
	var config *Config
	err := viper.Unmarshal(&config)
	if err != nil {
		return config, err
	}

	if config == nil {
		return nil, errors.New("config is empty")
	}

	return config, nil
}
