// Command keygen generates a random API key and its bcrypt hash. The hash
// goes into RELAY_AUTH_API_KEY_HASH on the server; the key is handed to the
// client.
package main

import (
	"crypto/rand"
	"encoding/base64"
	"flag"
	"fmt"
	"os"

	"golang.org/x/crypto/bcrypt"
)

func main() {
	key := flag.String("key", "", "hash this key instead of generating a new one")
	cost := flag.Int("cost", bcrypt.DefaultCost, "bcrypt cost factor")
	flag.Parse()

	apiKey := *key
	if apiKey == "" {
		raw := make([]byte, 32)
		if _, err := rand.Read(raw); err != nil {
			fmt.Fprintf(os.Stderr, "Error generating key: %v\n", err)
			os.Exit(1)
		}
		apiKey = base64.RawURLEncoding.EncodeToString(raw)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(apiKey), *cost)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating hash: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("API key:  %s\n", apiKey)
	fmt.Printf("Hash:     %s\n", string(hash))
}
