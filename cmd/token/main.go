// Command token mints a bearer token for the gateway using the configured
// secret. Intended for operators and local testing.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"passkeygate.org/internal/account"
	"passkeygate.org/internal/auth"
	"passkeygate.org/internal/config"
	"passkeygate.org/internal/passkey"
)

func main() {
	log.SetFlags(0)
	var (
		configPath = flag.String("config", os.Getenv("PASSKEYGATE_CONFIG"), "Path to YAML config")
		caller     = flag.String("caller", "", "Calling account")
		signer     = flag.String("signer", "", "Signing account (defaults to caller)")
		key        = flag.String("key", "", "Signer passkey, curve:base64")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *signer == "" {
		*signer = *caller
	}
	id := auth.Identity{}
	if id.Caller, err = account.Parse(*caller); err != nil {
		log.Fatalf("caller: %v", err)
	}
	if id.Signer, err = account.Parse(*signer); err != nil {
		log.Fatalf("signer: %v", err)
	}
	if *key != "" {
		if id.SignerKey, err = passkey.ParsePublicKey(*key); err != nil {
			log.Fatalf("key: %v", err)
		}
	}

	tokens, err := auth.NewTokens(cfg.Auth.Secret, auth.WithIssuer(cfg.Auth.Issuer), auth.WithTTL(cfg.Auth.TokenTTL))
	if err != nil {
		log.Fatalf("auth: %v", err)
	}
	token, expires, err := tokens.Issue(id)
	if err != nil {
		log.Fatalf("issue: %v", err)
	}
	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "expires %s\n", expires.Format(time.RFC3339))
}
