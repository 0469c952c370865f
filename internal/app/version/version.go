package version

// Default values are overridden at build time via -ldflags. Keep these
// lower-case so ldflags can set them without exporting internals.
var (
	buildVersion = "dev"
	builtAt      = ""
)

// Info represents the running build metadata, embedded in every report run.
type Info struct {
	Version string `json:"version"`
	BuiltAt string `json:"built_at,omitempty"`
}

func BuildVersion() string {
	return buildVersion
}

func Get() Info {
	return Info{
		Version: buildVersion,
		BuiltAt: builtAt,
	}
}
