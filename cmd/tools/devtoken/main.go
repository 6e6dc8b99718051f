// Command devtoken prints a signed access token for local testing.
//
//	go run ./cmd/tools/devtoken -user 7b1c... -role admin
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/noah-isme/backend-laundry/internal/auth"
	"github.com/noah-isme/backend-laundry/internal/config"
)

func main() {
	userID := flag.String("user", "", "user id placed in the sub claim")
	role := flag.String("role", auth.RoleCustomer, "role claim (customer or admin)")
	ttl := flag.Duration("ttl", 0, "token lifetime; defaults to ACCESS_TOKEN_TTL")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}
	lifetime := cfg.AccessTokenTTL
	if *ttl > 0 {
		lifetime = *ttl
	}
	svc, err := auth.NewService(auth.Config{
		Secret:         cfg.JWTSecret,
		AccessTokenTTL: lifetime,
		Issuer:         cfg.JWTIssuer,
		Audience:       cfg.JWTAudience,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "auth:", err)
		os.Exit(1)
	}
	token, expires, err := svc.Issue(*userID, *role)
	if err != nil {
		fmt.Fprintln(os.Stderr, "issue token:", err)
		os.Exit(1)
	}
	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "expires %s\n", expires.Format(time.RFC3339))
}
