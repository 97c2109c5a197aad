package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// Capability is a policy-derived permission of a principal.
type Capability string

const (
	CapabilityRider         Capability = "rider"
	CapabilityAdministrator Capability = "administrator"
)

// JWTClaims represents the JWT payload for access tokens.
type JWTClaims struct {
	UserID int64    `json:"user_id"`
	Role   UserRole `json:"role"`
	Email  string   `json:"email"`
	Name   string   `json:"name"`
	jwt.RegisteredClaims
}

// Principal is the authenticated caller with resolved capabilities.
type Principal struct {
	UserID       int64        `json:"userId"`
	Role         UserRole     `json:"role"`
	Email        string       `json:"email"`
	Name         string       `json:"name"`
	Capabilities []Capability `json:"capabilities"`
}

// Has reports whether the principal holds the capability.
func (p *Principal) Has(c Capability) bool {
	if p == nil {
		return false
	}
	for _, held := range p.Capabilities {
		if held == c {
			return true
		}
	}
	return false
}

// Owns reports whether the booking belongs to the principal.
func (p *Principal) Owns(b *Booking) bool {
	return p != nil && b != nil && b.UserID == p.UserID
}

// IssueTokenRequest asks for a signed access token for an existing identity.
type IssueTokenRequest struct {
	UserID int64    `json:"userId" validate:"required,gt=0"`
	Role   UserRole `json:"role,omitempty"`
}

// TokenResponse is a signed access token.
type TokenResponse struct {
	AccessToken string `json:"accessToken"`
	ExpiresIn   int64  `json:"expiresIn"`
}
