package keys

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/x509"
	"encoding/asn1"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"

	kms "cloud.google.com/go/kms/apiv1"
	"cloud.google.com/go/kms/apiv1/kmspb"

	"github.com/qws941/safewallet/webpush/vapid"
)

// KMSSigner implements vapid.Signer using a Google Cloud KMS key version with
// the EC_SIGN_P256_SHA256 algorithm. The private key never leaves KMS.
type KMSSigner struct {
	client    *kms.KeyManagementClient
	keyName   string
	publicKey []byte // uncompressed format
}

// NewKMSSigner creates a new KMS-backed signer.
// keyName should be in the format:
// projects/{project}/locations/{location}/keyRings/{keyRing}/cryptoKeys/{key}/cryptoKeyVersions/{version}
func NewKMSSigner(ctx context.Context, keyName string) (*KMSSigner, error) {
	client, err := kms.NewKeyManagementClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating KMS client: %w", err)
	}

	pubKey, err := fetchPublicKey(ctx, client, keyName)
	if err != nil {
		client.Close()
		return nil, err
	}

	return &KMSSigner{
		client:    client,
		keyName:   keyName,
		publicKey: pubKey,
	}, nil
}

func fetchPublicKey(ctx context.Context, client *kms.KeyManagementClient, keyName string) ([]byte, error) {
	resp, err := client.GetPublicKey(ctx, &kmspb.GetPublicKeyRequest{
		Name: keyName,
	})
	if err != nil {
		return nil, fmt.Errorf("getting public key for %s: %w", keyName, err)
	}
	if resp.Algorithm != kmspb.CryptoKeyVersion_EC_SIGN_P256_SHA256 {
		return nil, fmt.Errorf("key %s has algorithm %s, want EC_SIGN_P256_SHA256", keyName, resp.Algorithm)
	}

	block, _ := pem.Decode([]byte(resp.Pem))
	if block == nil {
		return nil, fmt.Errorf("failed to parse public key PEM for %s", keyName)
	}

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing public key for %s: %w", keyName, err)
	}
	ecdsaPubKey, ok := pub.(*ecdsa.PublicKey)
	if !ok || ecdsaPubKey.Curve != elliptic.P256() {
		return nil, fmt.Errorf("key %s is not a P-256 ECDSA key", keyName)
	}

	return vapid.PublicKeyBytes(ecdsaPubKey)
}

// Sign signs the given digest using KMS and returns the signature in IEEE P1363 format.
func (s *KMSSigner) Sign(ctx context.Context, digest []byte) ([]byte, error) {
	resp, err := s.client.AsymmetricSign(ctx, &kmspb.AsymmetricSignRequest{
		Name: s.keyName,
		Digest: &kmspb.Digest{
			Digest: &kmspb.Digest_Sha256{
				Sha256: digest,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("signing with KMS: %w", err)
	}

	// KMS returns DER-encoded signatures.
	return derToP1363(resp.Signature)
}

// PublicKey returns the ECDSA public key in uncompressed format.
func (s *KMSSigner) PublicKey() []byte {
	return s.publicKey
}

// Close closes the underlying KMS client.
func (s *KMSSigner) Close() error {
	return s.client.Close()
}

// derToP1363 converts a DER-encoded ECDSA signature to IEEE P1363 format.
func derToP1363(der []byte) ([]byte, error) {
	var sig struct {
		R, S *big.Int
	}
	rest, err := asn1.Unmarshal(der, &sig)
	if err != nil {
		return nil, fmt.Errorf("parsing DER signature: %w", err)
	}
	if len(rest) != 0 {
		return nil, errors.New("trailing data after DER signature")
	}
	if sig.R.Sign() <= 0 || sig.S.Sign() <= 0 || sig.R.BitLen() > 256 || sig.S.BitLen() > 256 {
		return nil, errors.New("signature values out of range for P-256")
	}

	result := make([]byte, 64)
	sig.R.FillBytes(result[:32])
	sig.S.FillBytes(result[32:])
	return result, nil
}
