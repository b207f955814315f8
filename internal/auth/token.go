package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/hackgods/session-scheduling/internal/appointment"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims is the bearer token payload. Subject carries the user id.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type Tokens struct {
	secret []byte
	issuer string
}

func NewTokens(secret, issuer string) *Tokens {
	return &Tokens{secret: []byte(secret), issuer: issuer}
}

// Issue signs an HS256 token for actor valid for ttl.
func (t *Tokens) Issue(actor appointment.Actor, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: string(actor.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID.String(),
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Parse verifies raw and returns the actor it names.
func (t *Tokens) Parse(raw string) (appointment.Actor, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return appointment.Actor{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return appointment.Actor{}, fmt.Errorf("%w: subject is not a uuid", ErrInvalidToken)
	}

	role, err := parseRole(claims.Role)
	if err != nil {
		return appointment.Actor{}, err
	}

	return appointment.Actor{ID: id, Role: role}, nil
}

func parseRole(s string) (appointment.ActorRole, error) {
	switch s {
	case "patient", "paciente":
		return appointment.ActorPatient, nil
	case "professional", "profesional":
		return appointment.ActorProfessional, nil
	case "organization", "organizacion":
		return appointment.ActorOrganization, nil
	case "admin":
		return appointment.ActorAdmin, nil
	}
	return "", fmt.Errorf("%w: unknown role %q", ErrInvalidToken, s)
}
