package version

import "fmt"

// ビルド時に -ldflags "-X github.com/ichi0g0y/giveaway-engine/internal/version.Version=..." で上書きされる
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// String returns the version shown in logs and /healthz.
func String() string {
	if Commit == "unknown" {
		return "v" + Version
	}
	return fmt.Sprintf("v%s (commit: %s, built: %s)", Version, Commit, BuildTime)
}
