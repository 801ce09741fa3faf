// Command vapidkeys generates a VAPID key pair.
//
// By default it prints the pair as environment assignments ready for a .env
// file. With -pem it writes the private key to a PEM file instead and prints
// a VAPID_KEY_FILE assignment, with the public key in a comment.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/chainguard-dev/clog"

	"github.com/qws941/safewallet/webpush/keys"
	"github.com/qws941/safewallet/webpush/vapid"
)

func main() {
	var (
		asJSON  = flag.Bool("json", false, "print the key pair as JSON")
		pemPath = flag.String("pem", "", "instead write a new private key to this PEM file and print its public key")
	)
	flag.Parse()

	ctx := context.Background()
	if err := run(os.Stdout, *asJSON, *pemPath); err != nil {
		clog.FromContext(ctx).Errorf("vapidkeys: %v", err)
		os.Exit(1)
	}
}

func run(w io.Writer, asJSON bool, pemPath string) error {
	if pemPath != "" {
		signer, err := keys.GenerateKey(pemPath)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "# public key: %s\nVAPID_KEY_FILE=%s\n", signer.PublicKeyBase64(), pemPath)
		return err
	}

	pair, err := keys.GenerateKeyPair()
	if err != nil {
		return err
	}
	return write(w, pair, asJSON)
}

func write(w io.Writer, pair vapid.Keys, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(pair)
	}
	_, err := fmt.Fprintf(w, "VAPID_PUBLIC_KEY=%s\nVAPID_PRIVATE_KEY=%s\n", pair.PublicKey, pair.PrivateKey)
	return err
}
