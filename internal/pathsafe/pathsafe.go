// Package pathsafe guards every caller-supplied path against escaping the
// configured roots, and gates features that need network access behind the
// process-wide offline mode.
package pathsafe

import (
	"os"
	"path/filepath"
	"strings"

	"rexlit/internal/rexerr"
)

// ResolveUnderRoots resolves path with symlinks followed and verifies the
// result is contained in at least one allowed root. Roots themselves are
// resolved before comparison. Missing containment is a PathTraversal error.
func ResolveUnderRoots(path string, roots []string) (string, error) {
	resolved, err := resolve(path)
	if err != nil {
		return "", err
	}

	for _, root := range roots {
		resolvedRoot, err := resolve(root)
		if err != nil {
			continue
		}
		if contains(resolvedRoot, resolved) {
			return resolved, nil
		}
	}
	return "", rexerr.New(rexerr.PathTraversal, path, "path resolves outside allowed roots")
}

// Contained reports whether path (resolved) sits under root (resolved)
// without returning an error. Discovery uses this to silently drop symlinked
// entries whose target escapes the walk root.
func Contained(path, root string) bool {
	resolved, err := resolve(path)
	if err != nil {
		return false
	}
	resolvedRoot, err := resolve(root)
	if err != nil {
		return false
	}
	return contains(resolvedRoot, resolved)
}

// resolve follows symlinks on the longest existing prefix so paths that do
// not exist yet (plan outputs) still normalize deterministically.
func resolve(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}

	if evaled, err := filepath.EvalSymlinks(abs); err == nil {
		return evaled, nil
	} else if !os.IsNotExist(err) {
		return "", err
	}

	// Walk up to an existing ancestor, resolve it, and re-append the rest.
	dir, base := filepath.Split(abs)
	dir = filepath.Clean(dir)
	resolvedDir, err := resolve(dir)
	if err != nil {
		return "", err
	}
	return filepath.Join(resolvedDir, base), nil
}

func contains(root, path string) bool {
	if root == path {
		return true
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// =============================================================================
// OFFLINE GATE
// =============================================================================

// OfflineGate is the single predicate consulted before any feature that
// declares requires_online. Adapters do not probe network state themselves.
type OfflineGate struct {
	online bool
}

// NewOfflineGate constructs a gate with the configured online mode.
func NewOfflineGate(online bool) OfflineGate {
	return OfflineGate{online: online}
}

// Online reports whether online features may run.
func (g OfflineGate) Online() bool { return g.online }

// Require proceeds when online, or fails with OfflineFeatureRequired naming
// the feature that needs network access.
func (g OfflineGate) Require(feature string) error {
	if g.online {
		return nil
	}
	return rexerr.New(rexerr.OfflineFeatureRequired, feature,
		"feature requires online mode; re-run with --online")
}

// EnsureSupported guards an adapter that may or may not need the network.
func (g OfflineGate) EnsureSupported(feature string, requiresOnline bool) error {
	if !requiresOnline {
		return nil
	}
	return g.Require(feature)
}
