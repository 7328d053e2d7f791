package paths

import (
	"os"
	"path/filepath"
)

const (
	// HomeEnv overrides the base directory
	HomeEnv = "AGENTORCH_HOME"
	// ConfigEnv names an explicit configuration file
	ConfigEnv = "AGENTORCH_CONFIG"

	configFileName   = "agentorch.yaml"
	databaseFileName = "agentorch.db"
	logFileName      = "agentorch.log"
	pidFileName      = "agentorch.pid"
)

// PathConfig centralizes all file system path configuration
type PathConfig struct {
	BaseDir   string `yaml:"base_dir"`
	DataDir   string `yaml:"data_dir"`
	LogsDir   string `yaml:"logs_dir"`
	ConfigDir string `yaml:"config_dir"`

	DatabaseFile string `yaml:"database_file"`
	LogFile      string `yaml:"log_file"`
	PIDFile      string `yaml:"pid_file"`
}

// DefaultPaths resolves the base directory from AGENTORCH_HOME, then
// ~/.agentorch, then ./build when no home directory is known.
func DefaultPaths() *PathConfig {
	base := os.Getenv(HomeEnv)
	if base == "" {
		if home, err := os.UserHomeDir(); err == nil && home != "" {
			base = filepath.Join(home, ".agentorch")
		} else {
			base = "build"
		}
	}
	return ForBase(base)
}

// ForBase lays the standard directories out under base.
func ForBase(base string) *PathConfig {
	return &PathConfig{
		BaseDir:      base,
		DataDir:      filepath.Join(base, "data"),
		LogsDir:      filepath.Join(base, "logs"),
		ConfigDir:    base,
		DatabaseFile: filepath.Join(base, "data", databaseFileName),
		LogFile:      filepath.Join(base, "logs", logFileName),
		PIDFile:      filepath.Join(base, pidFileName),
	}
}

// EnsureDirectories creates all required directories
func (p *PathConfig) EnsureDirectories() error {
	for _, dir := range []string{p.DataDir, p.LogsDir, p.ConfigDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

// ConfigFile returns the configuration file to load, or "" when none
// exists and built-in defaults apply.
func (p *PathConfig) ConfigFile() string {
	if path := os.Getenv(ConfigEnv); path != "" {
		return path
	}
	candidate := filepath.Join(p.ConfigDir, configFileName)
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}
	return ""
}
