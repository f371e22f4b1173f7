package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var jwtSecret = []byte("jwt-test-secret")

func TestIssueAndParseRoundTrip(t *testing.T) {
	token, err := Issue(jwtSecret, Claims{ListenerID: "l1", DisplayName: "Alex"}, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	claims, err := Parse(jwtSecret, token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.ListenerID != "l1" || claims.DisplayName != "Alex" {
		t.Errorf("claims did not round trip: %+v", claims)
	}
	if claims.Subject != "l1" {
		t.Errorf("subject = %q, want the listener id", claims.Subject)
	}
	if claims.ExpiresAt == nil || time.Until(claims.ExpiresAt.Time) <= 0 {
		t.Errorf("token expiry not set in the future: %v", claims.ExpiresAt)
	}
}

func TestParseRejectsBadTokens(t *testing.T) {
	expired, err := Issue(jwtSecret, Claims{ListenerID: "l1"}, -time.Minute)
	if err != nil {
		t.Fatalf("issue expired token: %v", err)
	}

	// Same secret, wrong algorithm. Parse pins HS256.
	hs384 := jwt.NewWithClaims(jwt.SigningMethodHS384, Claims{
		ListenerID: "l1",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "l1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	wrongAlg, err := hs384.SignedString(jwtSecret)
	if err != nil {
		t.Fatalf("sign hs384 token: %v", err)
	}

	good, err := Issue(jwtSecret, Claims{ListenerID: "l1"}, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	for name, token := range map[string]string{
		"expired":         expired,
		"wrong algorithm": wrongAlg,
		"garbage":         "not.a.token",
	} {
		if _, err := Parse(jwtSecret, token); err == nil {
			t.Errorf("%s token parsed without error", name)
		}
	}

	if _, err := Parse([]byte("some-other-secret"), good); err == nil {
		t.Error("token verified under the wrong secret")
	}
}
