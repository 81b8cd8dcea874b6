package session

import (
	"fmt"
	"regexp"

	"github.com/matheus3301/matchchat/internal/config"
)

// DefaultName is used when neither a flag nor the config picks a session.
const DefaultName = "main"

// Names start with a letter or digit so they never read as a flag.
var nameRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// ValidateName checks that name is usable as a directory and socket name.
func ValidateName(name string) error {
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("invalid session name %q: use up to 64 of a-z, 0-9, '_' and '-', starting with a letter or digit", name)
	}
	return nil
}

// Resolve picks the active session name. The flag wins, then
// default_session from the config (which MATCHCHAT_SESSION
// overrides), then DefaultName.
func Resolve(flagOverride string) string {
	if flagOverride != "" {
		return flagOverride
	}
	if cfg, err := config.Resolve(ConfigPath()); err == nil && cfg.DefaultSession != "" {
		return cfg.DefaultSession
	}
	return DefaultName
}
