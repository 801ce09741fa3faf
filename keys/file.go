// Package keys provides VAPID signer implementations.
package keys

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"github.com/qws941/safewallet/webpush/b64url"
	"github.com/qws941/safewallet/webpush/vapid"
)

// RawSigner signs with a raw base64url private scalar, as VAPID keys are
// usually distributed. Only the encoded scalar is retained; the ECDSA key is
// re-derived on every Sign call, so a RawSigner is safe for concurrent use.
type RawSigner struct {
	privateKey string
	publicKey  []byte // uncompressed format
}

// NewRawSigner creates a signer from a base64url private scalar. When
// publicKeyB64 is non-empty it must match the key derived from the scalar.
func NewRawSigner(privateKeyB64, publicKeyB64 string) (*RawSigner, error) {
	priv, err := vapid.ParsePrivateKey(privateKeyB64)
	if err != nil {
		return nil, err
	}
	derived, err := vapid.PublicKeyBytes(&priv.PublicKey)
	if err != nil {
		return nil, err
	}

	if publicKeyB64 != "" {
		configured, err := vapid.DecodeApplicationServerKey(publicKeyB64)
		if err != nil {
			return nil, fmt.Errorf("decoding public key: %w", err)
		}
		if string(configured) != string(derived) {
			return nil, errors.New("public key does not match private key")
		}
	}

	return &RawSigner{
		privateKey: privateKeyB64,
		publicKey:  derived,
	}, nil
}

// NewRawSignerFromKeys creates a signer from a configured key pair.
func NewRawSignerFromKeys(k vapid.Keys) (*RawSigner, error) {
	return NewRawSigner(k.PrivateKey, k.PublicKey)
}

// Sign signs the given digest and returns the signature in IEEE P1363 format.
func (s *RawSigner) Sign(_ context.Context, digest []byte) ([]byte, error) {
	priv, err := vapid.ParsePrivateKey(s.privateKey)
	if err != nil {
		return nil, err
	}
	return vapid.SignDigest(priv, digest)
}

// PublicKey returns the ECDSA public key in uncompressed format.
func (s *RawSigner) PublicKey() []byte {
	return s.publicKey
}

// PublicKeyBase64 returns the public key as a base64 URL-encoded string.
func (s *RawSigner) PublicKeyBase64() string {
	return b64url.Encode(s.publicKey)
}

// FileSigner implements vapid.Signer using a key stored on disk.
type FileSigner struct {
	privateKey *ecdsa.PrivateKey
	publicKey  []byte
}

// NewFileSigner loads a VAPID key from a PEM file holding either an
// "EC PRIVATE KEY" or a PKCS#8 "PRIVATE KEY" block.
func NewFileSigner(privateKeyPath string) (*FileSigner, error) {
	data, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading private key file: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("failed to parse PEM block")
	}

	privKey, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		key, err8 := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err8 != nil {
			return nil, fmt.Errorf("parsing EC private key: %w", err)
		}
		var ok bool
		if privKey, ok = key.(*ecdsa.PrivateKey); !ok {
			return nil, errors.New("key is not ECDSA")
		}
	}

	return newFileSigner(privKey)
}

func newFileSigner(privKey *ecdsa.PrivateKey) (*FileSigner, error) {
	if privKey.Curve != elliptic.P256() {
		return nil, errors.New("key must be P-256 curve")
	}
	pubKey, err := vapid.PublicKeyBytes(&privKey.PublicKey)
	if err != nil {
		return nil, err
	}
	return &FileSigner{
		privateKey: privKey,
		publicKey:  pubKey,
	}, nil
}

// Sign signs the given digest and returns the signature in IEEE P1363 format.
func (s *FileSigner) Sign(_ context.Context, digest []byte) ([]byte, error) {
	return vapid.SignDigest(s.privateKey, digest)
}

// PublicKey returns the ECDSA public key in uncompressed format.
func (s *FileSigner) PublicKey() []byte {
	return s.publicKey
}

// PublicKeyBase64 returns the public key as a base64 URL-encoded string.
func (s *FileSigner) PublicKeyBase64() string {
	return b64url.Encode(s.publicKey)
}

// GenerateKey generates a new ECDSA P-256 key pair and saves it to a PEM file.
func GenerateKey(path string) (*FileSigner, error) {
	privKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating key: %w", err)
	}

	der, err := x509.MarshalECPrivateKey(privKey)
	if err != nil {
		return nil, fmt.Errorf("marshaling private key: %w", err)
	}
	block := &pem.Block{Type: "EC PRIVATE KEY", Bytes: der}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0600); err != nil {
		return nil, fmt.Errorf("writing private key: %w", err)
	}

	return newFileSigner(privKey)
}

// GenerateKeyPair generates a new key pair and returns both keys in the raw
// base64url form used by VAPID_PRIVATE_KEY / VAPID_PUBLIC_KEY.
func GenerateKeyPair() (vapid.Keys, error) {
	privKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return vapid.Keys{}, fmt.Errorf("generating key: %w", err)
	}

	// Private key as 32-byte big-endian integer
	scalar := make([]byte, 32)
	privKey.D.FillBytes(scalar)

	pubKey, err := vapid.PublicKeyBytes(&privKey.PublicKey)
	if err != nil {
		return vapid.Keys{}, err
	}

	return vapid.Keys{
		PublicKey:  b64url.Encode(pubKey),
		PrivateKey: b64url.Encode(scalar),
	}, nil
}
