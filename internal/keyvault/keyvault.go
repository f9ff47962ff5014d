// Package keyvault decrypts KMS-wrapped signing keys so deployments never
// ship a raw private key in their environment.
package keyvault

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/kms"
)

// Client unwraps ciphertext signing keys through AWS KMS.
type Client struct {
	kms *kms.Client
}

// New builds a KMS-backed client for the given region. A non-empty endpoint
// points it at a local emulator (LocalStack) with throwaway static
// credentials; left empty, the AWS default credential chain applies.
func New(ctx context.Context, region, endpoint string) (*Client, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if endpoint != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider("test", "test", "test")))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("keyvault: load aws config: %w", err)
	}

	var svcOpts []func(*kms.Options)
	if endpoint != "" {
		svcOpts = append(svcOpts, func(o *kms.Options) { o.BaseEndpoint = aws.String(endpoint) })
	}
	return &Client{kms: kms.NewFromConfig(cfg, svcOpts...)}, nil
}

// DecryptKey decrypts a base64-encoded KMS ciphertext blob and returns the
// contained signing key as a hex string. The caller seals the result into
// locked memory and must not let it escape elsewhere.
func (c *Client) DecryptKey(ctx context.Context, ciphertextB64 string) (string, error) {
	blob, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return "", fmt.Errorf("keyvault: decode ciphertext: %w", err)
	}

	out, err := c.kms.Decrypt(ctx, &kms.DecryptInput{CiphertextBlob: blob})
	if err != nil {
		return "", fmt.Errorf("keyvault: decrypt: %w", err)
	}

	// The plaintext may already be hex, or raw key bytes.
	if _, err := hex.DecodeString(string(out.Plaintext)); err == nil {
		return string(out.Plaintext), nil
	}
	return hex.EncodeToString(out.Plaintext), nil
}
