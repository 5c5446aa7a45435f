// Package jwt verifies agent identity tokens issued by the external login
// system. Token issuance and session management live outside this service;
// CreateToken exists for tooling and tests.
package jwt

import (
	"errors"
	"fmt"
	"time"

	"support-inbox-backend/internal/env"

	"github.com/golang-jwt/jwt"
)

type Role string

const RoleAgent Role = "agent"

type Agent struct {
	ID    string
	Email string
	Name  string
}

func secretFor(role Role) (string, error) {
	switch role {
	case RoleAgent:
		secret := env.Get(env.AgentSecretKey)
		if secret == "" {
			return "", errors.New("jwt: agent secret not configured")
		}
		return secret, nil
	}
	return "", fmt.Errorf("jwt: unknown role %q", role)
}

func CreateToken(agent Agent, role Role, validUntil int64) (string, error) {
	secret, err := secretFor(role)
	if err != nil {
		return "", err
	}

	if validUntil == 0 {
		validUntil = time.Now().Add(15 * time.Minute).Unix()
	}

	claims := jwt.MapClaims{
		"id":    agent.ID,
		"email": agent.Email,
		"name":  agent.Name,
		"role":  string(role),
		"exp":   validUntil,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func ParseToken(tokenString string, role Role) (jwt.MapClaims, error) {
	secret, err := secretFor(role)
	if err != nil {
		return nil, err
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, errors.New("jwt: invalid token")
	}

	if claimedRole, _ := claims["role"].(string); claimedRole != string(role) {
		return nil, fmt.Errorf("jwt: token role mismatch")
	}

	return claims, nil
}
