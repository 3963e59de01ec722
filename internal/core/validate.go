package core

import (
	"fmt"
	"regexp"

	"github.com/joshp123/thermosync/internal/oauth"
)

var pluginIDPattern = regexp.MustCompile(`^[a-z][a-z0-9_]+$`)

// ValidatePlugins enforces basic plugin contract invariants at startup.
func ValidatePlugins(plugins []Plugin) error {
	seen := make(map[string]bool)
	for _, plugin := range plugins {
		id := plugin.ID()
		manifest := plugin.Manifest()
		if id == "" {
			return fmt.Errorf("plugin id is empty")
		}
		if !pluginIDPattern.MatchString(id) {
			return fmt.Errorf("plugin id %q does not match %s", id, pluginIDPattern.String())
		}
		if manifest.PluginID != id {
			return fmt.Errorf("plugin id mismatch: id=%q manifest=%q", id, manifest.PluginID)
		}
		if seen[id] {
			return fmt.Errorf("duplicate plugin id: %s", id)
		}
		seen[id] = true
		if err := validateDeclaration(id, plugin.OAuthDeclaration()); err != nil {
			return err
		}
	}
	return nil
}

// validateDeclaration accepts an empty declaration (no OAuth) or a complete
// auth-code one.
func validateDeclaration(id string, decl oauth.Declaration) error {
	if decl.Provider == "" {
		return nil
	}
	if decl.Flow != oauth.FlowAuthCode {
		return fmt.Errorf("plugin %s: unsupported oauth flow %q", id, decl.Flow)
	}
	if decl.AuthorizeURL == "" || decl.TokenURL == "" {
		return fmt.Errorf("plugin %s: oauth authorize and token URLs are required", id)
	}
	return nil
}
