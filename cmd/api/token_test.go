package main

import (
	"testing"
	"time"

	"libprep/api/internal/auth"
)

func TestIssueTokenRoundTrip(t *testing.T) {
	token, err := issue("secret", tokenFlags{subject: "u1", hospital: "Apollo", role: "supervisor", ttl: time.Hour})
	if err != nil {
		t.Fatalf("issue() error = %v", err)
	}
	claims, err := auth.ParseToken([]byte("secret"), token)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Sub != "u1" || claims.Name != "u1" || claims.Hospital != "Apollo" || claims.Role != "supervisor" {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestIssueTokenValidatesFlags(t *testing.T) {
	if _, err := issue("secret", tokenFlags{subject: "u1", role: "technician", ttl: time.Hour}); err == nil {
		t.Fatal("expected an error without hospital")
	}
	if _, err := issue("secret", tokenFlags{subject: "u1", hospital: "Apollo", role: "owner", ttl: time.Hour}); err == nil {
		t.Fatal("expected an error for an unknown role")
	}
}

func TestRootRegistersCommands(t *testing.T) {
	for _, name := range []string{"serve", "migrate", "token"} {
		if cmd, _, err := rootCmd.Find([]string{name}); err != nil || cmd.Name() != name {
			t.Fatalf("expected %s command, got %v (%v)", name, cmd, err)
		}
	}
}
