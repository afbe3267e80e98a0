package file

import "os"

// Config defines the config for file queue.
type Config struct {
	// Workspace is the directory holding one queue file per topic.
	Workspace string
	// MaxHistory is how many corrupted generations are kept for inspection.
	MaxHistory int
	FileMode   os.FileMode
}

// ConfigDefault is the default config
var ConfigDefault = Config{
	Workspace:  os.TempDir(),
	MaxHistory: 3,
	FileMode:   0o600,
}

// Helper function to set default values
func configDefault(config ...Config) Config {
	if len(config) < 1 {
		return ConfigDefault
	}

	cfg := config[0]

	if cfg.Workspace == "" {
		cfg.Workspace = ConfigDefault.Workspace
	}

	if cfg.MaxHistory == 0 {
		cfg.MaxHistory = ConfigDefault.MaxHistory
	}

	if cfg.FileMode == 0 {
		cfg.FileMode = ConfigDefault.FileMode
	}

	return cfg
}
