package casky

// version and buildTime are overridable at link time with -ldflags, e.g.:
//
//	go build -ldflags "-X github.com/thesp0nge/casky.version=1.2.3"
var (
	version   = "dev"
	buildTime = "unknown"
)

// Version returns the engine's version string, as reported by the daemon's
// VER command and startup banner.
func Version() string {
	return version
}

// BuildTime returns the build timestamp baked in at link time, or
// "unknown" for a development build.
func BuildTime() string {
	return buildTime
}
