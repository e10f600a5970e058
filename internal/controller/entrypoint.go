package controller

import (
	"regexp"
	"strconv"

	"cortex.dev/cortex/internal/registry"
)

// defaultEntryPoints is the in-container command chosen per engine kind
// when the image tag carries no parseable version, or when no version-
// specific branch matches.
var defaultEntryPoints = map[registry.EngineKind]string{
	registry.EngineTransformersServer: "python3 -m transformers_server.entrypoints.openai",
	registry.EngineGGUFServer:         "/usr/local/bin/gguf-server",
}

var tagVersionPattern = regexp.MustCompile(`v?(\d+)\.(\d+)(?:\.(\d+))?`)

// tagVersion is a parsed semantic version extracted from an engine image tag.
type tagVersion struct {
	major, minor, patch int
}

func parseTagVersion(imageTag string) (tagVersion, bool) {
	m := tagVersionPattern.FindStringSubmatch(imageTag)
	if m == nil {
		return tagVersion{}, false
	}
	major, _ := strconv.Atoi(m[1])
	minor, _ := strconv.Atoi(m[2])
	patch := 0
	if m[3] != "" {
		patch, _ = strconv.Atoi(m[3])
	}
	return tagVersion{major: major, minor: minor, patch: patch}, true
}

// ResolveEntryPoint chooses the in-container command to launch, honoring
// an explicit override field before attempting to parse a semantic version
// out of the image tag. Unparseable or unrecognized versions fall back to
// the documented default for the engine kind (§4.2: "unknown/unparseable
// versions pick a documented default").
func ResolveEntryPoint(m *registry.Model) string {
	if m.Config.EntryPointOverride != "" {
		return m.Config.EntryPointOverride
	}

	v, ok := parseTagVersion(m.EngineImage)
	if !ok {
		return defaultEntryPoints[m.EngineKind]
	}

	switch m.EngineKind {
	case registry.EngineTransformersServer:
		if v.major >= 1 {
			return "python3 -m transformers_server.entrypoints.openai"
		}
		// pre-1.0 images shipped the legacy module path
		return "python3 -m transformers_server.entrypoints.api_server"
	case registry.EngineGGUFServer:
		if v.major == 0 && v.minor < 3 {
			// versions before 0.3 name the binary without the gguf- prefix
			return "/usr/local/bin/server"
		}
		return "/usr/local/bin/gguf-server"
	default:
		return defaultEntryPoints[m.EngineKind]
	}
}
