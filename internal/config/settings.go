package config

import (
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"copytable/internal/logutil"
)

const defaultEnvFile = ".env"

// Settings are the values that may come from the environment or a defaults
// file. Command line flags take them as their defaults.
type Settings struct {
	Log             logutil.LogConfig
	ThreadCount     int
	BulkInsertBatch int
	SourceTimeout   time.Duration
	TargetTimeout   time.Duration
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.max-size", 100)
	v.SetDefault("log.max-days", 7)
	v.SetDefault("log.max-backups", 5)
	v.SetDefault("thread-count", 1)
	v.SetDefault("bulk-insert-batch-size", 100)
	v.SetDefault("source-timeout", 60)
	v.SetDefault("target-timeout", 60)

	v.SetEnvPrefix("COPYTABLE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	// WB_LOG_LEVEL sets the level as well
	_ = v.BindEnv("log.level", "WB_LOG_LEVEL")
	return v
}

// LoadSettings reads envFile into the environment, then the optional
// defaults file, then the environment. An empty envFile loads ./.env when it
// exists; a missing defaultsFile is not an error.
func LoadSettings(defaultsFile, envFile string) (*Settings, error) {
	if envFile == "" {
		if _, err := os.Stat(defaultEnvFile); err == nil {
			envFile = defaultEnvFile
		}
	}
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, errors.Wrapf(err, "loading environment file %s", envFile)
		}
	}

	v := newViper()
	if defaultsFile != "" {
		if _, err := os.Stat(defaultsFile); err == nil {
			v.SetConfigFile(defaultsFile)
			if readErr := v.ReadInConfig(); readErr != nil {
				return nil, errors.Wrapf(readErr, "reading defaults file %s", defaultsFile)
			}
		}
	}

	s := &Settings{
		ThreadCount:     v.GetInt("thread-count"),
		BulkInsertBatch: v.GetInt("bulk-insert-batch-size"),
		SourceTimeout:   time.Duration(v.GetInt("source-timeout")) * time.Second,
		TargetTimeout:   time.Duration(v.GetInt("target-timeout")) * time.Second,
	}
	// merged per key across defaults, file and environment
	var nested struct {
		Log logutil.LogConfig `mapstructure:"log"`
	}
	if err := v.Unmarshal(&nested); err != nil {
		return nil, errors.Wrap(err, "decoding log settings")
	}
	s.Log = nested.Log
	return s, nil
}

// FlagValue finds the value of --name=value or --name value in args, before
// flag parsing.
func FlagValue(args []string, name string) string {
	for i, a := range args {
		if a == "--"+name || a == "-"+name {
			if i+1 < len(args) {
				return args[i+1]
			}
			return ""
		}
		for _, p := range []string{"--" + name + "=", "-" + name + "="} {
			if v, ok := strings.CutPrefix(a, p); ok {
				return v
			}
		}
	}
	return ""
}
