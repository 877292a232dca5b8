package model

import (
	"errors"
	"strings"
	"time"
)

// Store is a connected shop on the commerce platform.
type Store struct {
	Domain           string    `json:"domain"            db:"domain"`
	AccessToken      string    `json:"-"                 db:"access_token"`
	Installed        bool      `json:"installed"         db:"installed"`
	MarkupPercentage float64   `json:"markup_percentage" db:"markup_percentage"`
	CreatedAt        time.Time `json:"created_at"        db:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"        db:"updated_at"`
}

// UpsertStoreRequest records a (re)install of a store.
type UpsertStoreRequest struct {
	Domain           string   `json:"domain"`
	AccessToken      string   `json:"access_token"`
	MarkupPercentage *float64 `json:"markup_percentage,omitempty"`
}

// Validate validates the UpsertStoreRequest fields.
func (r *UpsertStoreRequest) Validate() error {
	if NormalizeDomain(r.Domain) == "" {
		return errors.New("domain is required")
	}
	if strings.TrimSpace(r.AccessToken) == "" {
		return errors.New("access token is required")
	}
	if r.MarkupPercentage != nil && *r.MarkupPercentage < -100 {
		return errors.New("markup percentage must be >= -100")
	}
	return nil
}

// NormalizeDomain lowercases a shop domain and strips any scheme or trailing slash.
func NormalizeDomain(domain string) string {
	d := strings.ToLower(strings.TrimSpace(domain))
	d = strings.TrimPrefix(d, "https://")
	d = strings.TrimPrefix(d, "http://")
	return strings.TrimRight(d, "/")
}

// Credentials identify and authenticate calls to one store's API.
type Credentials struct {
	Domain      string
	AccessToken string
}

// Credentials returns the store's current API credentials.
func (s *Store) Credentials() Credentials {
	return Credentials{Domain: s.Domain, AccessToken: s.AccessToken}
}

// String redacts the token so credentials are safe to log.
func (c Credentials) String() string {
	return c.Domain
}
