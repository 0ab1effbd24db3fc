package version

import (
	"encoding/json"
	"os"
)

type Info struct {
	Version string `json:"version"`
}

// Version is the running build's version string, refreshed from Load at
// startup. Used for log fields and the outbound User-Agent.
var Version = "0.0.0"

// Load reads version.json from the working directory. Missing or malformed
// files fall back to 0.0.0 so a bad deploy never blocks startup.
func Load() Info {
	data, err := os.ReadFile("version.json")
	if err != nil {
		return Info{Version: "0.0.0"}
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return Info{Version: "0.0.0"}
	}
	return info
}
