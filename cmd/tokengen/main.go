// Package main provides a CLI tool for minting session tokens for local
// testing of the bookmarks API. Tokens are signed with the dev key unless
// another key is given, and will NOT work against production.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"bookmarks/internal/admission/principal"
	id "bookmarks/pkg/domain"
)

const (
	// Matches config.Default when JWT_SIGNING_KEY is not set.
	devSigningKey = "dev-secret-key-change-in-production"

	defaultIssuer   = "bookmarks"
	defaultTokenTTL = 15 * time.Minute
)

type tokenOutput struct {
	Token     string            `json:"token"`
	Type      string            `json:"type"`
	ExpiresIn string            `json:"expires_in"`
	Claims    map[string]any    `json:"claims,omitempty"`
	Usage     map[string]string `json:"usage"`
}

func main() {
	flags := pflag.NewFlagSet("tokengen", pflag.ContinueOnError)
	flags.Usage = func() { printUsage(flags) }

	subject := flags.String("subject", "", "Identity-provider subject. Generated if empty.")
	email := flags.String("email", "", "Email claim (optional)")
	ttl := flags.Duration("ttl", defaultTokenTTL, "Token time-to-live")
	signingKey := flags.String("signing-key", envOr("JWT_SIGNING_KEY", devSigningKey), "HMAC signing key")
	issuer := flags.String("issuer", envOr("JWT_ISSUER", defaultIssuer), "Issuer claim")
	audience := flags.String("audience", os.Getenv("JWT_AUDIENCE"), "Audience claim (optional)")
	jsonOutput := flags.Bool("json", false, "Output as JSON")

	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		os.Exit(2)
	}

	sub := *subject
	if sub == "" {
		sub = "dev|" + uuid.NewString()
	}
	subjectID, err := id.ParseSubjectID(sub)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid subject: %v\n", err)
		os.Exit(1)
	}

	cfg := principal.Config{SigningKey: *signingKey, Issuer: *issuer, Audience: *audience}
	token, err := principal.IssueSession(cfg, subjectID, *email, time.Now(), *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating token: %v\n", err)
		os.Exit(1)
	}

	keyType := "custom"
	if *signingKey == devSigningKey {
		keyType = "dev"
	}

	if *jsonOutput {
		claims := map[string]any{
			"sub": subjectID.String(),
			"iss": *issuer,
		}
		if *email != "" {
			claims["email"] = *email
		}
		if *audience != "" {
			claims["aud"] = *audience
		}
		printJSON(tokenOutput{
			Token:     token,
			Type:      "session",
			ExpiresIn: ttl.String(),
			Claims:    claims,
			Usage: map[string]string{
				"header":      "Authorization: Bearer <token>",
				"signing_key": keyType,
			},
		})
		return
	}

	fmt.Println("Session Token (JWT)")
	fmt.Println("===================")
	fmt.Printf("Signing Key: %s\n", keyType)
	fmt.Printf("Expires In:  %s\n", *ttl)
	fmt.Printf("Subject:     %s\n", subjectID)
	if *email != "" {
		fmt.Printf("Email:       %s\n", *email)
	}
	fmt.Printf("Issuer:      %s\n", *issuer)
	if *audience != "" {
		fmt.Printf("Audience:    %s\n", *audience)
	}
	fmt.Println()
	fmt.Println("Token:")
	fmt.Println(token)
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  curl -H \"Authorization: Bearer <token>\" http://localhost:8080/me")
}

func printUsage(flags *pflag.FlagSet) {
	fmt.Fprintln(os.Stderr, `tokengen - Generate session tokens for the bookmarks API

WARNING: Tokens use the dev signing key by default and will NOT work in
         production. Only use for local development and testing.

Usage:
  tokengen [flags]

Examples:
  # Session for a generated subject
  tokengen

  # Session with an email claim and a longer TTL
  tokengen --subject "auth0|alice" --email alice@example.com --ttl 1h

  # Output as JSON
  tokengen --json

Flags:`)
	flags.PrintDefaults()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
		os.Exit(1)
	}
}
