// Config resolution for checklist-syncd: flags override environment
// variables, which override the config file, which overrides the
// built-in defaults.
package main

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/c0deZ3R0/checklist-sync/config"
)

const envPrefix = "CHECKLIST"

func loadDaemonConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configFile != "" {
		cfg, err = config.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	} else {
		cfg = config.Default()
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	if userID == "" {
		userID = v.GetString("USER_ID")
	}
	if userEmail == "" {
		userEmail = v.GetString("USER_EMAIL")
	}
	if remoteDSN == "" {
		remoteDSN = v.GetString("REMOTE_DSN")
	}
	if localDSN == "" {
		localDSN = v.GetString("LOCAL_DSN")
	}

	if remoteDSN != "" {
		cfg.Remote.DSN = remoteDSN
	}
	if localDSN != "" {
		cfg.Local.DSN = localDSN
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
