package auth

import (
	"errors"
	"testing"
	"time"
)

func TestJWTRoundTrip(t *testing.T) {
	j := NewJWT("test-secret-at-least-16", time.Hour)

	token, err := j.Generate("u1", "u1@example.com")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	claims, err := j.Validate(token)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if claims.UserID != "u1" || claims.Email != "u1@example.com" {
		t.Errorf("claims = %+v", claims)
	}
}

func TestJWTValidateRejects(t *testing.T) {
	j := NewJWT("test-secret-at-least-16", time.Hour)
	other := NewJWT("another-secret-entirely", time.Hour)
	expired := NewJWT("test-secret-at-least-16", -time.Minute)

	otherToken, _ := other.Generate("u1", "e")
	expiredToken, _ := expired.Generate("u1", "e")

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not.a.token"},
		{"empty", ""},
		{"wrong secret", otherToken},
		{"expired", expiredToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := j.Validate(tt.token); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Validate(%s) error = %v, want ErrInvalidToken", tt.name, err)
			}
		})
	}
}
