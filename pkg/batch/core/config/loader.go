package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"gopkg.in/yaml.v3"

	"github.com/tigerroll/batchimport/pkg/batch/support/util/exception"
	"github.com/tigerroll/batchimport/pkg/batch/support/util/logger"
	"github.com/tigerroll/batchimport/pkg/batch/support/util/serialization"
)

const moduleName = "config"

// EnvPrefix prefixes the environment variables that override configuration keys,
// e.g. BATCH_IMPORT_CHUNK_SIZE or BATCH_DATABASE_TYPE.
const EnvPrefix = "BATCH_"

// ConfigParams defines the dependencies of NewConfigProvider.
type ConfigParams struct {
	fx.In
	EmbeddedConfig EmbeddedConfig
	EnvFilePath    string              `name:"envFilePath" optional:"true"`
	Expander       EnvironmentExpander `optional:"true"`
}

// LoadConfig builds the configuration: defaults, then the embedded YAML (after
// environment expansion), then BATCH_* environment overrides. A .env file is
// loaded first when present.
func LoadConfig(envFilePath string, embedded EmbeddedConfig, expander EnvironmentExpander) (*Config, error) {
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			logger.Warnf(".env file (%s) not found or could not be loaded: %v", envFilePath, err)
		}
	} else if err := godotenv.Load(); err != nil {
		logger.Debugf(".env file not found or could not be loaded: %v", err)
	}

	if expander == nil {
		expander = NewOsEnvironmentExpander()
	}

	cfg := NewConfig()
	if len(embedded) > 0 {
		expanded, err := expander.Expand(embedded)
		if err != nil {
			return nil, exception.NewBatchError(moduleName, "failed to expand environment placeholders", err, false, false)
		}
		// Keys absent from the YAML keep their defaults.
		if err := yaml.Unmarshal(expanded, cfg); err != nil {
			return nil, exception.NewBatchError(moduleName, "failed to unmarshal embedded config", err, false, false)
		}
	}

	if err := loadStructFromEnv(reflect.ValueOf(cfg).Elem(), EnvPrefix); err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to load config from environment variables", err, false, false)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// NewConfigProvider is the fx provider of *Config. It also applies the log level
// and the masked parameter keys.
func NewConfigProvider(params ConfigParams) (*Config, error) {
	cfg, err := LoadConfig(params.EnvFilePath, params.EmbeddedConfig, params.Expander)
	if err != nil {
		return nil, err
	}
	logger.SetLogLevel(cfg.Logging.Level)
	serialization.SetMaskedParameterKeys(cfg.Security.MaskedParameterKeys)
	logger.Debugf("Configuration loaded: job=%s chunk_size=%d database=%s", cfg.Import.JobName, cfg.Import.ChunkSize, cfg.Database.Type)
	return cfg, nil
}

// Validate checks values that cannot be defaulted.
func Validate(cfg *Config) error {
	if cfg.Import.ChunkSize <= 0 {
		return exception.NewBatchErrorf(moduleName, "import.chunk_size must be positive, got %d", cfg.Import.ChunkSize)
	}
	if cfg.Import.SkipLimit < 0 {
		return exception.NewBatchErrorf(moduleName, "import.skip_limit must not be negative, got %d", cfg.Import.SkipLimit)
	}
	if cfg.Import.JobName == "" {
		return exception.NewBatchErrorf(moduleName, "import.job_name must not be empty")
	}
	if err := checkErrorNames(cfg.Import.SkippableErrors, "import.skippable_errors"); err != nil {
		return err
	}
	return checkErrorNames(cfg.Import.ChunkRetry.RetryableErrors, "import.chunk_retry.retryable_errors")
}

func checkErrorNames(names []string, key string) error {
	for _, name := range names {
		if !exception.IsErrorTypeRegistered(name) {
			return exception.NewBatchErrorf(moduleName, "%s references unknown error type '%s'", key, name)
		}
	}
	return nil
}

// loadStructFromEnv overrides struct fields from environment variables named after
// their yaml tags, e.g. BATCH_IMPORT_CHUNK_SIZE for Import.ChunkSize.
func loadStructFromEnv(val reflect.Value, prefix string) error {
	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)
		yamlTag := strings.Split(fieldType.Tag.Get("yaml"), ",")[0]
		if yamlTag == "" || yamlTag == "-" {
			continue
		}
		envVarName := strings.ToUpper(prefix + yamlTag)

		if field.Kind() == reflect.Struct {
			if err := loadStructFromEnv(field, envVarName+"_"); err != nil {
				return err
			}
			continue
		}

		envValue, exists := os.LookupEnv(envVarName)
		if !exists {
			continue
		}
		if err := setField(field, envValue); err != nil {
			return fmt.Errorf("failed to set field '%s' from env var '%s': %w", fieldType.Name, envVarName, err)
		}
	}
	return nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// setField converts value to the kind of field. Slices of strings are comma separated.
func setField(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}
	if field.Type() == durationType {
		d, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		field.SetInt(int64(d))
		return nil
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		intValue, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(intValue)
	case reflect.Float64, reflect.Float32:
		floatValue, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(floatValue)
	case reflect.Bool:
		boolValue, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(boolValue)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type %s", field.Type())
		}
		parts := strings.Split(value, ",")
		out := reflect.MakeSlice(field.Type(), 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = reflect.Append(out, reflect.ValueOf(p))
			}
		}
		field.Set(out)
	}
	return nil
}
