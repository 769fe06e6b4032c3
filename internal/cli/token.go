package cli

import (
	"fmt"
	"strings"
	"time"

	"cabtrack/internal/general/contracts"
	"cabtrack/internal/general/jwt"
)

// GenerateClientToken mints a short-lived JWT for a driver or viewer client,
// for relays that run with register auth enabled. Dev/ops tooling only.
func GenerateClientToken(secret, clientID, roleStr string) (string, jwt.Claims, error) {
	role := strings.ToLower(strings.TrimSpace(roleStr))
	if role != contracts.RoleDriver && role != contracts.RoleViewer {
		return "", jwt.Claims{}, fmt.Errorf("invalid role %q: want driver or viewer", roleStr)
	}

	mgr := jwt.NewManager(secret, 2*time.Hour)

	token, claims, err := mgr.IssueClientToken(clientID, role)
	if err != nil {
		return "", jwt.Claims{}, fmt.Errorf("issue token: %w", err)
	}

	return token, *claims, nil
}
