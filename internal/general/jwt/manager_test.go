package jwt

import (
	"errors"
	"testing"
	"time"

	"cabtrack/internal/general/contracts"
)

func TestIssueAndVerifyRegister(t *testing.T) {
	m := NewManager("test-secret", time.Hour)

	token, _, err := m.IssueClientToken("driver-42", contracts.RoleDriver)
	if err != nil {
		t.Fatalf("IssueClientToken: %v", err)
	}

	claims, err := m.VerifyRegister(token, "driver-42", contracts.RoleDriver)
	if err != nil {
		t.Fatalf("VerifyRegister: %v", err)
	}
	if claims.Subject != "driver-42" || claims.Role != contracts.RoleDriver {
		t.Errorf("claims = %+v", claims)
	}
}

func TestVerifyRegisterRejections(t *testing.T) {
	m := NewManager("test-secret", time.Hour)
	token, _, err := m.IssueClientToken("driver-42", contracts.RoleDriver)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		token    string
		clientID string
		role     string
		want     error
	}{
		{"empty token", "", "driver-42", contracts.RoleDriver, ErrEmptyToken},
		{"wrong subject", token, "driver-99", contracts.RoleDriver, ErrSubjectMismatch},
		{"wrong role", token, "driver-42", contracts.RoleViewer, ErrRoleForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.VerifyRegister(tt.token, tt.clientID, tt.role)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestVerifyRegisterWrongSecret(t *testing.T) {
	token, _, err := NewManager("secret-a", time.Hour).IssueClientToken("d1", contracts.RoleDriver)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewManager("secret-b", time.Hour).VerifyRegister(token, "d1", contracts.RoleDriver); err == nil {
		t.Error("token signed with a different secret must not verify")
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	m := NewManager("test-secret", -time.Minute)
	token, _, err := m.IssueClientToken("d1", contracts.RoleDriver)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.VerifyRegister(token, "d1", contracts.RoleDriver); err == nil {
		t.Error("expired token must not verify")
	}
}
