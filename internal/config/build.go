package config

import "fmt"

// Set at link time:
//
//	go build -ldflags "-X smsdispatch/internal/config.version=1.4.0 \
//	    -X smsdispatch/internal/config.commit=$(git rev-parse --short HEAD) \
//	    -X smsdispatch/internal/config.buildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// BuildInfo holds build-time metadata. It is never read from the environment.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// NewBuildInfo returns the linker-injected build metadata.
func NewBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
	}
}

// UserAgent formats a User-Agent product token for outbound gateway calls.
func (b BuildInfo) UserAgent(product string) string {
	return fmt.Sprintf("%s/%s (+%s)", product, b.Version, b.Commit)
}
