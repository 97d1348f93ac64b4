// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package env resolves the deployment environment reported with error events.
package env

import (
	"strings"
	"sync"

	"github.com/LeeDigitalWorks/s3clone/pkg/utils"

	"github.com/spf13/viper"
)

const (
	Local      = "local"
	Production = "production"
	Testing    = "testing"
)

var (
	current string
	once    sync.Once
)

// Resolve reads S3CLONE_ENV. Unset or blank values resolve to Local.
func Resolve() string {
	v := viper.New()
	v.SetEnvPrefix(utils.EnvPrefix)
	if err := v.BindEnv("env"); err != nil {
		return Local
	}
	name := strings.ToLower(strings.TrimSpace(v.GetString("env")))
	if name == "" {
		return Local
	}
	return name
}

// Current returns the environment resolved on first use.
func Current() string {
	once.Do(func() { current = Resolve() })
	return current
}
