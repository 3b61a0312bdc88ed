// Command tokenctl issues bearer tokens for API clients.
//
//	JWT_SECRET=... tokenctl -client crm -role dispatcher -ttl 720h
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"voicecall-platform/internal/auth"
	"voicecall-platform/internal/config"
	"voicecall-platform/internal/rbac"
)

func main() {
	client := flag.String("client", "", "client id embedded in the token")
	role := flag.String("role", rbac.RoleDispatcher, "dispatcher, viewer or admin")
	ttl := flag.Duration("ttl", 0, "token lifetime (default JWT_TOKEN_TTL or 24h)")
	flag.Parse()

	if err := run(*client, *role, *ttl); err != nil {
		fmt.Fprintln(os.Stderr, "tokenctl:", err)
		os.Exit(1)
	}
}

func run(client, role string, ttl time.Duration) error {
	if client == "" {
		return fmt.Errorf("-client is required")
	}
	if !rbac.Valid(role) {
		return fmt.Errorf("unknown role %q", role)
	}

	cfg := config.AuthConfig{
		JWTSecret:   os.Getenv("JWT_SECRET"),
		JWTIssuer:   os.Getenv("JWT_ISSUER"),
		JWTAudience: os.Getenv("JWT_AUDIENCE"),
	}
	if v := os.Getenv("JWT_TOKEN_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("JWT_TOKEN_TTL: %w", err)
		}
		cfg.TokenTTL = d
	}

	m, err := auth.NewManager(cfg)
	if err != nil {
		return err
	}
	tok, err := m.Issue(time.Now(), client, role, ttl)
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}
