package gamestate

import (
	"path/filepath"
	"strings"
)

// Portable map path prefixes. Portable paths use backslashes on every
// platform and are always lower case.
const (
	portableSave     = `save\`
	portableMaps     = `maps\`
	portableUserMaps = `userdata\maps\`
)

// RealMapPathToPortableMapPath converts a local map path into the form
// stored in saves and sent to peers. Paths outside the save and map
// directories are returned lower-cased and otherwise unchanged.
func (g *GameState) RealMapPathToPortableMapPath(path string) string {
	cfg := g.opts.Save
	switch {
	case hasDirPrefix(path, cfg.SaveDir):
		return strings.ToLower(portableSave + MapLeafName(path))
	case hasDirPrefix(path, cfg.MapDir):
		return strings.ToLower(portableMaps + mapLeafAndDirName(path))
	case hasDirPrefix(path, cfg.UserMapDir):
		return strings.ToLower(portableUserMaps + mapLeafAndDirName(path))
	default:
		return strings.ToLower(path)
	}
}

// PortableMapPathToRealMapPath converts a portable map path back into a
// local one. Only the part below the local directory is lower-cased.
func (g *GameState) PortableMapPathToRealMapPath(path string) string {
	cfg := g.opts.Save
	lower := strings.ToLower(path)
	switch {
	case strings.HasPrefix(lower, portableSave):
		return filepath.Join(cfg.SaveDir, strings.ToLower(MapLeafName(path)))
	case strings.HasPrefix(lower, portableMaps):
		return filepath.Join(cfg.MapDir, localRel(mapLeafAndDirName(path)))
	case strings.HasPrefix(lower, portableUserMaps):
		return filepath.Join(cfg.UserMapDir, localRel(mapLeafAndDirName(path)))
	default:
		return lower
	}
}

// MapLeafName returns the last component of a map path in either slash
// style.
func MapLeafName(path string) string {
	parts := splitMapPath(path)
	if len(parts) == 0 {
		return ""
	}
	return parts[len(parts)-1]
}

// mapLeafAndDirName returns the last two components joined with a
// backslash, or the whole path when it has fewer.
func mapLeafAndDirName(path string) string {
	parts := splitMapPath(path)
	if len(parts) > 2 {
		parts = parts[len(parts)-2:]
	}
	return strings.Join(parts, `\`)
}

func splitMapPath(path string) []string {
	return strings.FieldsFunc(path, func(r rune) bool { return r == '/' || r == '\\' })
}

func localRel(portable string) string {
	return filepath.FromSlash(strings.ToLower(strings.ReplaceAll(portable, `\`, "/")))
}

func hasDirPrefix(path, dir string) bool {
	if dir == "" {
		return false
	}
	p := strings.ToLower(filepath.ToSlash(filepath.Clean(path)))
	d := strings.ToLower(filepath.ToSlash(filepath.Clean(dir)))
	return p == d || strings.HasPrefix(p, d+"/")
}
