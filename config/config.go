// Package config loads application configuration from environment variables
// and an optional .env file, with defaults declared on the struct tags.
package config

import (
	"reflect"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/rrgmc/syncdata/store/gormstore"
)

// Lock holds the run mutual-exclusion settings.
type Lock struct {
	// Dir is where the lock marker lives.
	Dir string `mapstructure:"dir" default:"."`
	// Name is the lock marker file name.
	Name string `mapstructure:"name" default:".syncdata.lock"`
	// StalenessMinutes is how long a marker excludes other runs.
	StalenessMinutes int `mapstructure:"staleness_minutes" default:"60"`
}

// Download holds the remote resource fetch settings.
type Download struct {
	// Workers is the concurrent download pool size.
	Workers int `mapstructure:"workers" default:"5"`
	// Tries is the per-file attempt budget.
	Tries int `mapstructure:"tries" default:"5"`
	// TimeoutSeconds bounds one attempt.
	TimeoutSeconds int `mapstructure:"timeout_seconds" default:"300"`
	// BackoffSeconds is the pause after a throttled response.
	BackoffSeconds int `mapstructure:"backoff_seconds" default:"1"`
}

// Config holds all configuration for the importer command.
type Config struct {
	// DataDir is the root of the staged data files.
	DataDir string `mapstructure:"data_dir" default:"./data"`
	// Lock holds the run mutual-exclusion settings.
	Lock Lock `mapstructure:"lock"`
	// Download holds the remote resource fetch settings.
	Download Download `mapstructure:"download"`
	// Database holds the database connection settings.
	Database gormstore.Config `mapstructure:"database"`
}

// Load reads configuration from path/.env and the environment. Nested keys
// map to underscore environment variables (lock.dir -> LOCK_DIR).
func Load(path string) (*Config, error) {
	envPath := path + "/.env"
	if path == "." || path == "" {
		envPath = ".env"
	}

	// missing .env is fine, production configures through the environment.
	_ = godotenv.Overload(envPath)

	v := viper.New()
	bindValues(v, Config{}, "")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

// bindValues walks the struct tags and registers every key's default in
// viper, so AutomaticEnv picks the key up even without an explicit value.
func bindValues(v *viper.Viper, iface any, prefix string) {
	t := reflect.TypeOf(iface)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("mapstructure")
		if tag == "" {
			continue
		}

		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}

		if field.Type.Kind() == reflect.Struct {
			bindValues(v, reflect.New(field.Type).Elem().Interface(), key)
			continue
		}

		v.SetDefault(key, field.Tag.Get("default"))
	}
}
