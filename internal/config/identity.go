package config

import (
	"os"
	"strings"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"

	"github.com/keenhq/keen/pkg/models"
)

// UserSource represents where a user ID was resolved from.
type UserSource string

const (
	UserSourceConfig    UserSource = "config"
	UserSourceRepo      UserSource = "repository"
	UserSourceGitGlobal UserSource = "git_global"
	UserSourceEnv       UserSource = "environment"
	UserSourceNone      UserSource = "none"
)

// UserContext returns the identity sessions are mirrored under. A
// configured tenant.user_id wins; otherwise DefaultUserID(repoPath).
func UserContext(cfg *Config, repoPath string) models.UserContext {
	user := models.UserContext{}
	if cfg != nil {
		user.UserID = cfg.Tenant.UserID
		user.TenantID = cfg.Tenant.TenantID
	}
	if user.UserID == "" {
		user.UserID = DefaultUserID(repoPath)
	}
	return user
}

// DefaultUserID derives a user ID for mirrored sessions.
// Priority: repository user.name → global git user.name → $USER → "local".
func DefaultUserID(repoPath string) string {
	id, _ := resolveUserID(repoPath)
	return id
}

// GetUserSource reports where UserContext would take the user ID from.
func GetUserSource(cfg *Config, repoPath string) UserSource {
	if cfg != nil && cfg.Tenant.UserID != "" {
		return UserSourceConfig
	}
	_, src := resolveUserID(repoPath)
	return src
}

func resolveUserID(repoPath string) (string, UserSource) {
	if repoPath != "" {
		if name := repoUserName(repoPath); name != "" {
			return sanitizeIdentifier(name), UserSourceRepo
		}
	}

	cfg, err := gitconfig.LoadConfig(gitconfig.GlobalScope)
	if err == nil && cfg.User.Name != "" {
		return sanitizeIdentifier(cfg.User.Name), UserSourceGitGlobal
	}

	if user := os.Getenv("USER"); user != "" {
		return sanitizeIdentifier(user), UserSourceEnv
	}

	return "local", UserSourceNone
}

// repoUserName reads user.name from the repository's local config.
func repoUserName(repoPath string) string {
	repo, err := git.PlainOpenWithOptions(repoPath, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return ""
	}
	cfg, err := repo.Config()
	if err != nil {
		return ""
	}
	return cfg.User.Name
}

// sanitizeIdentifier lowercases s, turns spaces into underscores and keeps
// only alphanumerics, '_', '-' and '.'.
func sanitizeIdentifier(s string) string {
	s = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "_")
	var result strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' || r == '.' {
			result.WriteRune(r)
		}
	}
	if result.Len() == 0 {
		return "local"
	}
	return result.String()
}
