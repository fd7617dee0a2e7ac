// Command token prints a signed bearer token for a user id, for poking at
// the API and websocket endpoint during development.
package main

import (
	"context"
	"fmt"
	"os"

	"quickchat/internal/auth"
	"quickchat/internal/config"
)

// noCredentials satisfies auth.CredentialStore without a database, so the
// command works while the server holds the bbolt lock.
type noCredentials struct{}

func (noCredentials) CreateCredentials(auth.UserCredentials) error { return nil }
func (noCredentials) UpdateCredentials(auth.UserCredentials) error { return nil }
func (noCredentials) ListCredentials() ([]auth.UserCredentials, error) {
	return nil, nil
}

func main() {
	if len(os.Args) != 2 {
		fmt.Println("Usage: token <user-id>")
		os.Exit(1)
	}

	cfg, err := config.Load(false)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	as, err := auth.NewAuthService(context.Background(), auth.Config{
		Secret:      cfg.AuthSecret,
		TokenExpiry: cfg.TokenExpiry,
	}, noCredentials{})
	if err != nil {
		fmt.Printf("Error creating auth service: %v\n", err)
		os.Exit(1)
	}

	token, _, err := as.IssueToken(os.Args[1])
	if err != nil {
		fmt.Printf("Error issuing token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
