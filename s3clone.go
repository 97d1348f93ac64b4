// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/LeeDigitalWorks/s3clone/cmd"
	"github.com/LeeDigitalWorks/s3clone/pkg/env"

	"github.com/getsentry/sentry-go"
)

func main() {
	// The DSN comes from SENTRY_DSN; without it the client is a no-op.
	err := sentry.Init(sentry.ClientOptions{
		Release:          "s3clone@" + cmd.Version,
		Environment:      env.Current(),
		SampleRate:       1.0,
		EnableTracing:    false,
		AttachStacktrace: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "sentry.Init: %v\n", err)
	}

	code := cmd.Execute()

	// Flush buffered events before the program terminates.
	sentry.Flush(2 * time.Second)
	os.Exit(code)
}
