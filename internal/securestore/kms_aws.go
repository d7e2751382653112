package securestore

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"
)

// EncryptionContextKey carries the store key in every KMS request, so KMS
// refuses to unwrap a data key for a value moved to another key.
const EncryptionContextKey = "capsula:store-key"

// kmsAPI is the part of *kms.Client the provider calls.
type kmsAPI interface {
	GenerateDataKey(ctx context.Context, in *kms.GenerateDataKeyInput, optFns ...func(*kms.Options)) (*kms.GenerateDataKeyOutput, error)
	Decrypt(ctx context.Context, in *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// AWSKMSProvider envelope-encrypts each value: KMS issues a fresh AES-256
// data key, the value is sealed locally with it, and only the wrapped data
// key is kept next to the ciphertext.
//
// Layout: uint16 wrapped-key length | wrapped key | nonce | ciphertext.
type AWSKMSProvider struct {
	keyID string
	api   kmsAPI
}

// NewAWSKMSProvider uses the default AWS credential chain for region.
func NewAWSKMSProvider(ctx context.Context, keyID, region string) (*AWSKMSProvider, error) {
	if keyID == "" {
		return nil, fmt.Errorf("AWS KMS key ID is required")
	}
	if region == "" {
		return nil, fmt.Errorf("AWS region is required")
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return newAWSKMSProvider(keyID, kms.NewFromConfig(cfg)), nil
}

func newAWSKMSProvider(keyID string, api kmsAPI) *AWSKMSProvider {
	return &AWSKMSProvider{keyID: keyID, api: api}
}

// Seal implements KMSProvider
func (p *AWSKMSProvider) Seal(ctx context.Context, binding string, plaintext []byte) ([]byte, error) {
	out, err := p.api.GenerateDataKey(ctx, &kms.GenerateDataKeyInput{
		KeyId:             aws.String(p.keyID),
		KeySpec:           kmstypes.DataKeySpecAes256,
		EncryptionContext: encryptionContext(binding),
	})
	if err != nil {
		return nil, fmt.Errorf("AWS KMS generate data key failed: %w", err)
	}
	defer clear(out.Plaintext)

	wrapped := out.CiphertextBlob
	if len(wrapped) == 0 || len(wrapped) > 0xFFFF {
		return nil, fmt.Errorf("AWS KMS returned a wrapped key of %d bytes", len(wrapped))
	}

	sealed, err := sealGCM(out.Plaintext, plaintext, []byte(binding))
	if err != nil {
		return nil, err
	}

	buf := make([]byte, 2, 2+len(wrapped)+len(sealed))
	binary.BigEndian.PutUint16(buf, uint16(len(wrapped)))
	buf = append(buf, wrapped...)
	return append(buf, sealed...), nil
}

// Open implements KMSProvider
func (p *AWSKMSProvider) Open(ctx context.Context, binding string, sealed []byte) ([]byte, error) {
	if len(sealed) < 2 {
		return nil, fmt.Errorf("ciphertext too short")
	}
	n := int(binary.BigEndian.Uint16(sealed))
	if len(sealed) < 2+n {
		return nil, fmt.Errorf("ciphertext too short")
	}
	wrapped, body := sealed[2:2+n], sealed[2+n:]

	out, err := p.api.Decrypt(ctx, &kms.DecryptInput{
		KeyId:             aws.String(p.keyID),
		CiphertextBlob:    wrapped,
		EncryptionContext: encryptionContext(binding),
	})
	if err != nil {
		return nil, fmt.Errorf("AWS KMS decrypt failed: %w", err)
	}
	defer clear(out.Plaintext)

	return openGCM(out.Plaintext, body, []byte(binding))
}

// Provider implements KMSProvider
func (p *AWSKMSProvider) Provider() string {
	return string(KMSProviderAWSKMS)
}

func encryptionContext(binding string) map[string]string {
	return map[string]string{EncryptionContextKey: binding}
}
