package keys

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"math/big"
	"testing"
)

func TestDerToP1363(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	digest := sha256.Sum256([]byte("kms"))

	der, err := ecdsa.SignASN1(rand.Reader, priv, digest[:])
	if err != nil {
		t.Fatalf("SignASN1() error = %v", err)
	}

	sig, err := derToP1363(der)
	if err != nil {
		t.Fatalf("derToP1363() error = %v", err)
	}
	if len(sig) != 64 {
		t.Fatalf("derToP1363() length = %d, want 64", len(sig))
	}

	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:])
	if !ecdsa.Verify(&priv.PublicKey, digest[:], r, s) {
		t.Error("converted signature does not verify")
	}
}

func TestDerToP1363_ShortValuesArePadded(t *testing.T) {
	// SEQUENCE { INTEGER 1, INTEGER 2 }
	der := []byte{0x30, 0x06, 0x02, 0x01, 0x01, 0x02, 0x01, 0x02}
	sig, err := derToP1363(der)
	if err != nil {
		t.Fatalf("derToP1363() error = %v", err)
	}
	want := make([]byte, 64)
	want[31] = 1
	want[63] = 2
	if !bytes.Equal(sig, want) {
		t.Errorf("derToP1363() = %x, want %x", sig, want)
	}
}

func TestDerToP1363_Invalid(t *testing.T) {
	for _, der := range [][]byte{
		nil,
		{0x30, 0x00},
		{0x30, 0x06, 0x02, 0x01, 0x01, 0x02, 0x01, 0x02, 0xff},
	} {
		if _, err := derToP1363(der); err == nil {
			t.Errorf("derToP1363(%x) expected error", der)
		}
	}
}
