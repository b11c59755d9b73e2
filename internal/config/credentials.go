// internal/config/credentials.go
package config

import (
	"fmt"
	"os"
	"sort"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// ResolveCredentials loads the optional env file into the process
// environment and looks up every reference. Variables already set in the
// environment win over the file. A missing reference is a configuration
// error; secret values are never logged.
func ResolveCredentials(cfg CredentialsConfig, refs []string) (map[string]string, error) {
	if cfg.EnvFile != "" {
		if _, err := os.Stat(cfg.EnvFile); err == nil {
			if err := godotenv.Load(cfg.EnvFile); err != nil {
				return nil, fmt.Errorf("failed to load env file %s: %w", cfg.EnvFile, err)
			}
			logrus.WithField("file", cfg.EnvFile).Debug("Loaded credentials env file")
		}
	}

	wanted := map[string]bool{}
	if cfg.DefaultRef != "" {
		wanted[cfg.DefaultRef] = true
	}
	for _, ref := range refs {
		if ref != "" {
			wanted[ref] = true
		}
	}

	secrets := make(map[string]string, len(wanted))
	var missing []string
	for ref := range wanted {
		v, ok := os.LookupEnv(ref)
		if !ok || v == "" {
			missing = append(missing, ref)
			continue
		}
		secrets[ref] = v
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("credentials not set in environment: %v", missing)
	}

	logrus.WithField("refs", len(secrets)).Info("Resolved sensor credentials")
	return secrets, nil
}
