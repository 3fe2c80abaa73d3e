package app

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/crypto/bcrypt"
)

// persistAdminTokenHash bcrypt-hashes token and writes the hash to a file
// next to the state database, so the credentials directory never holds the
// literal ADMIN_TOKEN value at rest. The live comparison against the
// x-router-admin-token header (internal/httpapi/admin_token.go) still
// happens against the value held in process memory via
// crypto/subtle.ConstantTimeCompare; this hash is an at-rest artifact only,
// not consulted on the request path.
func persistAdminTokenHash(token, stateDBPath string, logger *slog.Logger) {
	if token == "" {
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		logger.Warn("admin token hash: bcrypt failed", slog.String("error", err.Error()))
		return
	}
	path := adminTokenHashPath(stateDBPath)
	if err := os.WriteFile(path, hash, 0o600); err != nil {
		logger.Warn("admin token hash: write failed", slog.String("path", path), slog.String("error", err.Error()))
		return
	}
	logger.Info("admin token hash persisted", slog.String("path", path))
}

func adminTokenHashPath(stateDBPath string) string {
	dir := filepath.Dir(stateDBPath)
	return filepath.Join(dir, fmt.Sprintf("%s.admin-token.hash", filepath.Base(stateDBPath)))
}
