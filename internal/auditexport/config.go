package auditexport

import (
	"fmt"
	"strings"

	"github.com/metadeploy/metadeploy-go/internal/platform/env"
)

const (
	DestinationNone   = "none"
	DestinationStdout = "stdout"
	DestinationFile   = "file"
)

// Config controls audit export format and destination.
type Config struct {
	Format      string
	Destination string
	Path        string
	// ActionPrefixes limits export to matching actions, e.g. "job." or
	// "auth.". Empty exports everything.
	ActionPrefixes []string
}

func ConfigFromEnv() (Config, error) {
	cfg := Config{
		Format:      env.String("AUDIT_EXPORT_FORMAT", "ndjson"),
		Destination: env.String("AUDIT_EXPORT_DESTINATION", DestinationNone),
		Path:        env.String("AUDIT_EXPORT_PATH", ""),

		ActionPrefixes: env.CSV("AUDIT_EXPORT_ACTIONS", ""),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	format := strings.ToLower(strings.TrimSpace(c.Format))
	if format == "" {
		format = "ndjson"
	}
	if format != "ndjson" {
		return fmt.Errorf("unsupported audit export format: %s", format)
	}
	switch c.destination() {
	case DestinationNone, DestinationStdout:
	case DestinationFile:
		if strings.TrimSpace(c.Path) == "" {
			return fmt.Errorf("AUDIT_EXPORT_PATH is required for file destination")
		}
	default:
		return fmt.Errorf("unsupported audit export destination: %s", c.Destination)
	}
	for _, p := range c.ActionPrefixes {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("AUDIT_EXPORT_ACTIONS contains an empty entry")
		}
	}
	return nil
}

func (c Config) destination() string {
	d := strings.ToLower(strings.TrimSpace(c.Destination))
	if d == "" {
		return DestinationNone
	}
	return d
}
