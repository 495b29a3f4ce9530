// Package identity resolves who the local data belongs to. Without a
// principal the application runs local-only.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"dayroll/internal/config"
	"dayroll/internal/models"
)

// Provider reports the current principal, if any.
type Provider interface {
	Current(ctx context.Context) (models.Principal, bool)
}

// None never has a principal.
type None struct{}

func (None) Current(context.Context) (models.Principal, bool) { return models.Principal{}, false }

// Static returns a fixed principal.
type Static struct {
	Principal models.Principal
}

func (s Static) Current(context.Context) (models.Principal, bool) {
	return s.Principal, s.Principal.ID != ""
}

// FromServiceAccount reads client_email from a Google credentials file and
// uses it as both id and email.
func FromServiceAccount(credentialsFile string) (Static, error) {
	file, err := os.ReadFile(credentialsFile)
	if err != nil {
		return Static{}, fmt.Errorf("read credentials: %w", err)
	}

	var creds struct {
		ClientEmail string `json:"client_email"`
	}
	if err := json.Unmarshal(file, &creds); err != nil {
		return Static{}, fmt.Errorf("parse credentials: %w", err)
	}
	if creds.ClientEmail == "" {
		return Static{}, errors.New("credentials have no client_email")
	}
	return Static{Principal: models.Principal{ID: creds.ClientEmail, Email: creds.ClientEmail}}, nil
}

// New builds the provider configured by identity.mode.
func New(cfg *config.Config) (Provider, error) {
	switch cfg.Identity.Mode {
	case "", "none":
		return None{}, nil
	case "static":
		return Static{Principal: models.Principal{ID: cfg.Identity.UserID, Email: cfg.Identity.Email}}, nil
	case "google":
		return FromServiceAccount(cfg.Google.CredentialsFile)
	default:
		return nil, fmt.Errorf("unknown identity mode %q", cfg.Identity.Mode)
	}
}
