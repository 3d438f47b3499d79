package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// TVDB holds the catalog-service credentials. Enrichment is attempted only
// when all three are present.
type TVDB struct {
	APIKey        string `toml:"api_key"`
	UserKey       string `toml:"user_key"`
	Username      string `toml:"username"`
	IgnoreFailure bool   `toml:"ignore_failure"`
}

type Config struct {
	Hostname    string `toml:"hostname"`
	MAK         string `toml:"mak"`
	DestDir     string `toml:"dest_dir"`
	SkipDir     string `toml:"skip_dir"`
	DecoderPath string `toml:"decoder_path"`
	TVDB        TVDB   `toml:"tvdb"`
}

func Default() Config {
	return Config{
		Hostname:    os.Getenv("TIVOFETCH_HOSTNAME"),
		MAK:         os.Getenv("TIVOFETCH_MAK"),
		DestDir:     os.Getenv("TIVOFETCH_DEST_DIR"),
		SkipDir:     os.Getenv("TIVOFETCH_SKIP_DIR"),
		DecoderPath: envOr("TIVOFETCH_DECODER_PATH", "/opt/tivo/TivoDecoder.jar"),
		TVDB: TVDB{
			APIKey:   os.Getenv("TIVOFETCH_TVDB_API_KEY"),
			UserKey:  os.Getenv("TIVOFETCH_TVDB_USER_KEY"),
			Username: os.Getenv("TIVOFETCH_TVDB_USERNAME"),
		},
	}
}

// Load merges a TOML file over the environment defaults. Flags parsed by
// the caller take precedence over both.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %q: %w", path, err)
	}
	if err := toml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %q: %w", path, err)
	}
	return cfg, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
