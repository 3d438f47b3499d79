package buildinfo

// These are typically injected at build time via -ldflags. Example:
//
//	-X github.com/tivotools/tivofetch/internal/buildinfo.Version=v0.0.0
//	-X github.com/tivotools/tivofetch/internal/buildinfo.Commit=abcdef
//	-X github.com/tivotools/tivofetch/internal/buildinfo.Date=2026-08-28
var (
	Version = "dev"
	Commit  = ""
	Date    = ""
)

type Info struct {
	Version string `json:"version"`
	Commit  string `json:"commit,omitempty"`
	Date    string `json:"date,omitempty"`
}

func Current() Info {
	return Info{Version: Version, Commit: Commit, Date: Date}
}
