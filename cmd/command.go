// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/LeeDigitalWorks/s3clone/pkg/utils"

	"github.com/spf13/cobra"
)

// Exit codes.
const (
	ExitOK = 0
	// ExitFatal: bad options, inaccessible bucket or unusable KMS key.
	ExitFatal = 1
	// ExitFailures: the run finished but --strict was set and something failed.
	ExitFailures = 2
)

// ExitError carries the process exit code for an error returned by a command.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// ExitCode maps a command error to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ExitFatal
}

var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "s3clone --src BUCKET --dst BUCKET",
		Short: "s3clone - copy the full version history of an S3 bucket",
		Long: `s3clone copies every version of every object from a source bucket into a
destination bucket, together with its tags and ACL. Older versions of a key
are copied before its latest version, so the destination ends up with the
same current version as the source.

Options can also be set in s3clone.yaml (see --config-dir) or through
S3CLONE_<FLAG> environment variables, e.g. S3CLONE_SSE_KMS_KEY_ID.`,
		Args:          noPositionalArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runClone,
	}

	root.PersistentFlags().StringVar(&utils.ConfigurationFileDirectory, "config-dir", "", "Directory searched first for s3clone.yaml")
	addCloneFlags(root)

	root.AddCommand(newVersionCmd())
	root.Version = Version
	root.SetVersionTemplate("s3clone {{.Version}}\n")

	return root
}

// noPositionalArgs rejects positional arguments. A stray boolean, as in
// "--dry-run true", gets a hint on the accepted form.
func noPositionalArgs(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return nil
	}
	if _, err := strconv.ParseBool(args[0]); err == nil {
		return fmt.Errorf("unexpected argument %q: boolean flags take their value after '=', e.g. --dry-run=%s", args[0], strings.ToLower(args[0]))
	}
	return cobra.NoArgs(cmd, args)
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return ExitCode(err)
}
