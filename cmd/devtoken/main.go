// Command devtoken prints a signed gateway token for local testing.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/work-manager-team/Work-Management-sub001/internal/auth"
	"github.com/work-manager-team/Work-Management-sub001/internal/config"
)

func main() {
	cfg := config.FromEnv()

	userID := flag.Int64("user", 1, "user ID to issue the token for")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	secret := flag.String("secret", cfg.JWTSecret, "HMAC secret (defaults to JWT_SECRET)")
	flag.Parse()

	if *userID <= 0 {
		fmt.Fprintln(os.Stderr, "user must be positive")
		os.Exit(2)
	}

	token, err := auth.Signer{
		Secret:   []byte(*secret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
	}.Sign(*userID, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sign token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
