package ir

import "runtime/debug"

// Version constants for the trace format and module generator.
const (
	// TraceVersion is the trace record schema version.
	TraceVersion = "1"

	// GeneratorVersion tags every seed suite. Bump it whenever the module
	// builder or memory catalogue changes, since old coordinates would no
	// longer reproduce.
	GeneratorVersion = "wasmgen/v1"
)

// BuildRevision returns the VCS revision the binary was built from, or
// "devel" when unavailable.
func BuildRevision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "devel"
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && s.Value != "" {
			if len(s.Value) > 12 {
				return s.Value[:12]
			}
			return s.Value
		}
	}
	return "devel"
}
