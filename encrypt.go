package webpush

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/qws941/safewallet/webpush/b64url"
)

const (
	// RecordSize is the rs header field. It names the maximum record size;
	// a message is always a single record no matter how short it is.
	RecordSize = 4096

	saltLen   = 16
	keyLen    = 65 // uncompressed P-256 point
	authLen   = 16
	headerLen = saltLen + 4 + 1 + keyLen

	// recordDelimiter marks the last (and only) record, RFC 8188 §2.
	recordDelimiter = 0x02

	// MaxPlaintextSize is the largest payload that fits in one record
	// together with the delimiter and the 16-byte GCM tag.
	MaxPlaintextSize = RecordSize - 1 - 16
)

var (
	infoPrefix = []byte("WebPush: info\x00")
	cekInfo    = []byte("Content-Encoding: aes128gcm\x00")
	nonceInfo  = []byte("Content-Encoding: nonce\x00")
)

// Encrypt encrypts plaintext for a subscriber using the RFC 8291 "aes128gcm"
// content encoding. It returns the complete message body (header and
// ciphertext) and the ephemeral server public key embedded in the header.
// Every call uses a fresh ephemeral key pair and salt.
func Encrypt(plaintext []byte, clientPublicKeyB64, authSecretB64 string) (record, serverPublicKey []byte, err error) {
	if len(plaintext) > MaxPlaintextSize {
		return nil, nil, fmt.Errorf("payload is %d bytes, limit is %d", len(plaintext), MaxPlaintextSize)
	}
	clientKeyBytes, err := b64url.Decode(clientPublicKeyB64)
	if err != nil {
		return nil, nil, fmt.Errorf("decoding p256dh: %w", err)
	}
	if len(clientKeyBytes) != keyLen {
		return nil, nil, fmt.Errorf("p256dh must be %d bytes, got %d", keyLen, len(clientKeyBytes))
	}
	authSecret, err := b64url.Decode(authSecretB64)
	if err != nil {
		return nil, nil, fmt.Errorf("decoding auth: %w", err)
	}
	if len(authSecret) != authLen {
		return nil, nil, fmt.Errorf("auth secret must be %d bytes, got %d", authLen, len(authSecret))
	}

	clientPubKey, err := ecdh.P256().NewPublicKey(clientKeyBytes)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing client public key: %w", err)
	}

	serverPrivKey, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generating server key: %w", err)
	}
	serverPublicKey = serverPrivKey.PublicKey().Bytes()

	sharedSecret, err := serverPrivKey.ECDH(clientPubKey)
	if err != nil {
		return nil, nil, fmt.Errorf("computing shared secret: %w", err)
	}

	// IKM = HKDF(auth_secret, ecdh_secret, "WebPush: info" || 0x00 || ua_public || as_public)
	info := make([]byte, 0, len(infoPrefix)+2*keyLen)
	info = append(info, infoPrefix...)
	info = append(info, clientKeyBytes...)
	info = append(info, serverPublicKey...)
	ikm, err := deriveKey(sharedSecret, authSecret, info, 32)
	if err != nil {
		return nil, nil, fmt.Errorf("deriving IKM: %w", err)
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, nil, fmt.Errorf("generating salt: %w", err)
	}

	cek, err := deriveKey(ikm, salt, cekInfo, 16)
	if err != nil {
		return nil, nil, fmt.Errorf("deriving CEK: %w", err)
	}
	nonce, err := deriveKey(ikm, salt, nonceInfo, 12)
	if err != nil {
		return nil, nil, fmt.Errorf("deriving nonce: %w", err)
	}

	block, err := aes.NewCipher(cek)
	if err != nil {
		return nil, nil, fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, fmt.Errorf("creating GCM: %w", err)
	}

	padded := make([]byte, 0, len(plaintext)+1)
	padded = append(padded, plaintext...)
	padded = append(padded, recordDelimiter)

	// salt (16) || rs (4) || idlen (1) || keyid (65) || ciphertext
	record = make([]byte, 0, headerLen+len(padded)+gcm.Overhead())
	record = append(record, salt...)
	record = binary.BigEndian.AppendUint32(record, RecordSize)
	record = append(record, byte(len(serverPublicKey)))
	record = append(record, serverPublicKey...)
	record = gcm.Seal(record, nonce, padded, nil)

	return record, serverPublicKey, nil
}

func deriveKey(secret, salt, info []byte, n int) ([]byte, error) {
	out := make([]byte, n)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, info), out); err != nil {
		return nil, err
	}
	return out, nil
}
