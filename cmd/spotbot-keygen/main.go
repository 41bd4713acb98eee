// Command spotbot-keygen encrypts a Binance API secret with a password so it
// can be referenced from exchange.encrypted_secret_path instead of being
// stored in plain text.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/alanyoungcy/spotbot/internal/crypto"
)

func main() {
	out := flag.String("out", "binance_secret.json", "path of the encrypted secret file")
	flag.Parse()

	secret := os.Getenv("SPOTBOT_EXCHANGE_API_SECRET")
	password := os.Getenv("SPOTBOT_EXCHANGE_SECRET_PASSWORD")

	in := bufio.NewReader(os.Stdin)
	var err error
	if secret == "" {
		if secret, err = prompt(in, "API secret: "); err != nil {
			fail(err)
		}
	}
	if password == "" {
		if password, err = prompt(in, "Password: "); err != nil {
			fail(err)
		}
	}

	blob, err := crypto.EncryptSecret(secret, password)
	if err != nil {
		fail(err)
	}
	if err := os.WriteFile(*out, blob, 0o600); err != nil {
		fail(fmt.Errorf("write %s: %w", *out, err))
	}
	fmt.Printf("encrypted secret written to %s\n", *out)
}

func prompt(r *bufio.Reader, label string) (string, error) {
	fmt.Fprint(os.Stderr, label)
	line, err := r.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read %s: %w", strings.TrimSuffix(label, ": "), err)
	}
	return strings.TrimSpace(line), nil
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "spotbot-keygen: %v\n", err)
	os.Exit(1)
}
