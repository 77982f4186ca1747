package auth

import "testing"

func TestLegacyTokenRoundTrip(t *testing.T) {
	token, err := SignLegacyToken("user-1", "0xAbC", "secret")
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}

	claims, err := ValidateLegacyToken(token, "secret")
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if claims.Account() != "0xAbC" {
		t.Errorf("expected wallet as account, got %q", claims.Account())
	}

	if _, err := ValidateLegacyToken(token, "other"); err == nil {
		t.Error("expected signature error with wrong secret")
	}
}

func TestAccountFallsBackToSubject(t *testing.T) {
	legacy := &LegacyClaims{UserID: "user-1"}
	if legacy.Account() != "user-1" {
		t.Errorf("legacy account = %q", legacy.Account())
	}
	oidc := &Claims{UserID: "sub-1"}
	if oidc.Account() != "sub-1" {
		t.Errorf("oidc account = %q", oidc.Account())
	}
}
