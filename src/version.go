package wlantx

import (
	"fmt"
	"io"
	"runtime/debug"
	"strconv"
)

// Set at build time via `-ldflags "-X 'github.com/doismellburning/wlantx/src.WLANTX_VERSION=X'"`
var WLANTX_VERSION string

func getBuildSettingOrDefault(bi *debug.BuildInfo, key string, defaultValue string) string {
	if bi == nil {
		return defaultValue
	}
	for _, bs := range bi.Settings {
		if bs.Key == key {
			return bs.Value
		}
	}

	return defaultValue
}

// VersionString is the one-line version banner.
func VersionString() string {
	var buildInfo, _ = debug.ReadBuildInfo()

	var buildTimeStr = getBuildSettingOrDefault(buildInfo, "vcs.time", "UNKNOWN")

	var (
		buildCommit               = getBuildSettingOrDefault(buildInfo, "vcs.revision", "UNKNOWN")
		buildDirtyStr             = getBuildSettingOrDefault(buildInfo, "vcs.modified", "INVALID")
		buildDirty, buildDirtyErr = strconv.ParseBool(buildDirtyStr)
	)

	if buildDirty {
		buildCommit += "-DIRTY"
	} else if buildDirtyErr != nil {
		buildCommit += "-UNKNOWNDIRTY"
	}

	var version = WLANTX_VERSION
	if version == "" {
		version = "!UNKNOWN!"
	}

	return fmt.Sprintf("wlantx - Version %s (revision %s, built at %s)", version, buildCommit, buildTimeStr)
}

func PrintVersion(w io.Writer, verbose bool) {
	fmt.Fprintln(w, VersionString())

	if verbose {
		var buildInfo, _ = debug.ReadBuildInfo()
		fmt.Fprintf(w, "\nBuildInfo: %+v\n", buildInfo)
	}
}
