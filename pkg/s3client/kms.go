// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package s3client

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"
)

// KeyDescriber is the subset of the KMS API needed to validate a key.
type KeyDescriber interface {
	DescribeKey(ctx context.Context, params *kms.DescribeKeyInput, optFns ...func(*kms.Options)) (*kms.DescribeKeyOutput, error)
}

// ErrKMSKeyUnusable is returned when the key exists but cannot encrypt.
var ErrKMSKeyUnusable = errors.New("kms key is not usable for encryption")

// VerifyKMSKey checks that keyID refers to an enabled symmetric
// ENCRYPT_DECRYPT key before any copy is attempted with it.
func VerifyKMSKey(ctx context.Context, api KeyDescriber, keyID string) error {
	out, err := api.DescribeKey(ctx, &kms.DescribeKeyInput{KeyId: aws.String(keyID)})
	if err != nil {
		return fmt.Errorf("describe kms key %s: %w", keyID, err)
	}
	md := out.KeyMetadata
	if md == nil {
		return fmt.Errorf("describe kms key %s: empty key metadata", keyID)
	}
	if !md.Enabled || md.KeyState != kmstypes.KeyStateEnabled {
		return fmt.Errorf("%w: %s is in state %s", ErrKMSKeyUnusable, keyID, md.KeyState)
	}
	if md.KeyUsage != "" && md.KeyUsage != kmstypes.KeyUsageTypeEncryptDecrypt {
		return fmt.Errorf("%w: %s has usage %s", ErrKMSKeyUnusable, keyID, md.KeyUsage)
	}
	return nil
}
