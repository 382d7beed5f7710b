// Command issue-token signs a bearer token for local development. Identity
// is owned by an upstream provider in production; this tool only exists so
// a developer can call the API with the same JWT_SECRET the service uses.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"go-fulfillment/pkg/config"
	"go-fulfillment/pkg/middleware"
)

func main() {
	cfg := config.Load()

	var (
		subject = flag.String("sub", "", "subject (user id) to put in the token")
		role    = flag.String("role", "buyer", "buyer or admin")
		ttl     = flag.Duration("ttl", time.Hour, "token lifetime")
		secret  = flag.String("secret", cfg.JWTSecret, "HMAC secret, defaults to JWT_SECRET")
	)
	flag.Parse()

	if *subject == "" || *secret == "" {
		fmt.Fprintln(os.Stderr, "usage: issue-token -sub <user id> [-role buyer|admin] [-ttl 1h]; JWT_SECRET must be set")
		os.Exit(1)
	}
	if *role != "buyer" && *role != middleware.RoleAdmin {
		fmt.Fprintf(os.Stderr, "unknown role %q\n", *role)
		os.Exit(1)
	}

	token, err := middleware.IssueToken(*secret, *subject, *role, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to sign token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
