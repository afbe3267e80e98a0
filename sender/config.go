package sender

import (
	"os"
	"path/filepath"
	"time"

	"github.com/farwydi/bookaware"
)

// Config defines the config for the sender.
type Config struct {
	Logger               bookaware.Logger
	Stats                Stats
	SendInterval         time.Duration
	SendLimit            int
	UseMemoryFallback    bool
	FileWorkspace        string
	FileMaxCorruptedFile int
	ShowSuccessfulInfo   bool
}

// ConfigDefault is the default config
var ConfigDefault = Config{
	SendInterval:         time.Second,
	SendLimit:            100,
	UseMemoryFallback:    true,
	FileWorkspace:        filepath.Join(os.TempDir(), "bookaware"),
	FileMaxCorruptedFile: 1,
	ShowSuccessfulInfo:   false,
}

// Helper function to set default values
func configDefault(config ...Config) Config {
	if len(config) < 1 {
		return ConfigDefault
	}

	cfg := config[0]

	if cfg.FileWorkspace == "" {
		cfg.FileWorkspace = ConfigDefault.FileWorkspace
	}

	if cfg.FileMaxCorruptedFile == 0 {
		cfg.FileMaxCorruptedFile = ConfigDefault.FileMaxCorruptedFile
	}

	if cfg.SendLimit == 0 {
		cfg.SendLimit = ConfigDefault.SendLimit
	}

	if cfg.SendInterval < 100*time.Millisecond {
		cfg.SendInterval = 100 * time.Millisecond
	}

	return cfg
}
