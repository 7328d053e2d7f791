package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/osakka/agentorch/pkg/logging"
)

// DefaultEnvPrefix is prepended to every environment override
const DefaultEnvPrefix = "AGENTORCH"

// Loader handles configuration loading from various sources
type Loader struct {
	logger logging.Logger
	lookup func(string) (string, bool)
}

// NewLoader creates a new configuration loader
func NewLoader(logger logging.Logger) *Loader {
	return &Loader{
		logger: logger.WithComponent("config"),
		lookup: os.LookupEnv,
	}
}

// LoadOptions configures how configuration is loaded
type LoadOptions struct {
	// Environment prefix for environment variable overrides
	EnvPrefix string

	// Whether to allow environment variable overrides
	AllowEnvOverrides bool

	// Whether to validate the configuration after loading
	Validate bool
}

// DefaultLoadOptions enables overrides and validation.
func DefaultLoadOptions() *LoadOptions {
	return &LoadOptions{
		EnvPrefix:         DefaultEnvPrefix,
		AllowEnvOverrides: true,
		Validate:          true,
	}
}

// Validator interface for configuration validation
type Validator interface {
	Validate() error
}

// LoadFromFile loads configuration from a YAML file over whatever config
// already holds, then applies environment overrides. An empty filePath
// skips the file.
func (l *Loader) LoadFromFile(filePath string, config interface{}, opts *LoadOptions) error {
	if opts == nil {
		opts = DefaultLoadOptions()
	}

	l.logger.Info("config_loading_started",
		"file_path", filePath,
		"env_prefix", opts.EnvPrefix,
		"allow_env_overrides", opts.AllowEnvOverrides)

	if filePath != "" {
		data, err := os.ReadFile(filePath)
		if err != nil {
			l.logger.Error("config_file_read_failed",
				"file_path", filePath,
				"error", err)
			return fmt.Errorf("failed to read configuration file %s: %w", filePath, err)
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			l.logger.Error("config_yaml_parse_failed",
				"file_path", filePath,
				"error", err)
			return fmt.Errorf("failed to parse YAML configuration: %w", err)
		}

		l.logger.Info("config_file_loaded",
			"file_path", filePath,
			"size_bytes", len(data))
	}

	if opts.AllowEnvOverrides {
		if err := l.applyEnvironmentOverrides(config, opts.EnvPrefix); err != nil {
			l.logger.Error("config_env_overrides_failed",
				"env_prefix", opts.EnvPrefix,
				"error", err)
			return fmt.Errorf("failed to apply environment overrides: %w", err)
		}
	}

	if opts.Validate {
		if validator, ok := config.(Validator); ok {
			if err := validator.Validate(); err != nil {
				l.logger.Error("config_validation_failed",
					"error", err)
				return fmt.Errorf("configuration validation failed: %w", err)
			}
		}
	}

	l.logger.Info("config_loading_completed",
		"file_path", filePath)

	return nil
}

// applyEnvironmentOverrides sets every scalar field whose variable
// PREFIX_SECTION_FIELD is present. Names come from yaml tags, upper-cased.
// Slices take comma-separated values.
func (l *Loader) applyEnvironmentOverrides(config interface{}, envPrefix string) error {
	rv := reflect.ValueOf(config)
	if rv.Kind() != reflect.Ptr || rv.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("config must be a pointer to a struct, got %T", config)
	}

	overrideCount := 0
	err := walkFields(rv.Elem(), envPrefix, func(name string, field reflect.Value) error {
		raw, ok := l.lookup(name)
		if !ok {
			return nil
		}
		if err := setFromString(field, raw); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		overrideCount++
		l.logger.Debug("config_env_override_applied", "env_var", name)
		return nil
	})
	if err != nil {
		return err
	}

	if overrideCount > 0 {
		l.logger.Info("config_env_overrides_applied",
			"overrides_count", overrideCount,
			"env_prefix", envPrefix)
	}
	return nil
}

var durationType = reflect.TypeOf(time.Duration(0))

func walkFields(v reflect.Value, prefix string, visit func(string, reflect.Value) error) error {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		tag := strings.Split(sf.Tag.Get("yaml"), ",")[0]
		if tag == "-" {
			continue
		}
		if tag == "" {
			tag = strings.ToLower(sf.Name)
		}
		name := prefix + "_" + strings.ToUpper(tag)
		field := v.Field(i)

		if field.Kind() == reflect.Struct && field.Type() != durationType {
			if err := walkFields(field, name, visit); err != nil {
				return err
			}
			continue
		}
		if err := visit(name, field); err != nil {
			return err
		}
	}
	return nil
}

func setFromString(field reflect.Value, raw string) error {
	if field.Type() == durationType {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type %s", field.Type())
		}
		var items []string
		for _, item := range strings.Split(raw, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		field.Set(reflect.ValueOf(items))
	default:
		return fmt.Errorf("unsupported field type %s", field.Type())
	}
	return nil
}

// SaveToFile saves configuration to a YAML file
func (l *Loader) SaveToFile(filePath string, config interface{}) error {
	l.logger.Info("config_saving_started",
		"file_path", filePath)

	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		l.logger.Error("config_yaml_marshal_failed",
			"error", err)
		return fmt.Errorf("failed to marshal configuration to YAML: %w", err)
	}

	if err := os.WriteFile(filePath, data, 0644); err != nil {
		l.logger.Error("config_file_write_failed",
			"file_path", filePath,
			"error", err)
		return fmt.Errorf("failed to write configuration file %s: %w", filePath, err)
	}

	l.logger.Info("config_saving_completed",
		"file_path", filePath,
		"size_bytes", len(data))

	return nil
}
