// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package logger

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		want zerolog.Level
	}{
		{"CRITICAL", zerolog.FatalLevel},
		{"ERROR", zerolog.ErrorLevel},
		{"WARNING", zerolog.WarnLevel},
		{"INFO", zerolog.InfoLevel},
		{"DEBUG", zerolog.DebugLevel},
		{"NOTSET", zerolog.TraceLevel},
		{"info", zerolog.InfoLevel},
		{" Warning ", zerolog.WarnLevel},
		{"panic", zerolog.PanicLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseLevel(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseLevel_Invalid(t *testing.T) {
	t.Parallel()

	_, err := ParseLevel("LOUD")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CRITICAL")

	_, err = ParseLevel("")
	require.Error(t, err)
}

func TestCtx(t *testing.T) {
	t.Parallel()

	assert.Same(t, Global(), Ctx(nil)) //nolint:staticcheck
	assert.Same(t, Global(), Ctx(context.Background()))

	l := zerolog.Nop()
	ctx := WithLogger(context.Background(), &l)
	assert.Same(t, &l, Ctx(ctx))
}
