// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package utils

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/LeeDigitalWorks/s3clone/pkg/logger"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read through viper.
const EnvPrefix = "S3CLONE"

var (
	ConfigurationFileDirectory string
)

// LoadConfiguration merges <configFileName>.{yaml,json,toml,...} into the
// global viper instance, searching ConfigurationFileDirectory, the working
// directory, $HOME/.s3clone and /etc/s3clone in that order. Environment
// variables S3CLONE_<FLAG> (dashes become underscores) are bound as well.
// It reports whether a file was loaded; a missing file is only an error when
// required.
func LoadConfiguration(configFileName string, required bool) (bool, error) {
	viper.SetConfigName(configFileName)
	if ConfigurationFileDirectory != "" {
		viper.AddConfigPath(ResolvePath(ConfigurationFileDirectory))
	}
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.s3clone")
	viper.AddConfigPath("/etc/s3clone/")
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	if err := viper.MergeInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			if required {
				return false, err
			}
			logger.Debug().Msgf("Config file not found: %s", configFileName)
			return false, nil
		}
		return false, err
	}
	logger.Info().Msgf("Loaded config file: %s", viper.ConfigFileUsed())

	return true, nil
}

// ResolvePath expands a leading ~ and makes the path absolute.
func ResolvePath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}
