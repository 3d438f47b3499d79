package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/tivotools/tivofetch/internal/app"
	"github.com/tivotools/tivofetch/internal/buildinfo"
	"github.com/tivotools/tivofetch/internal/config"
	"github.com/tivotools/tivofetch/internal/domain"
	"github.com/tivotools/tivofetch/internal/ports"
)

func main() {
	def := config.Default()
	cfgPath := flag.String("config", os.Getenv("TIVOFETCH_CONFIG"), "Path to a TOML config file")
	hostname := flag.String("hostname", def.Hostname, "IP address or hostname of the Tivo device")
	mak := flag.String("mak", def.MAK, "Media access key of the Tivo device")
	title := flag.String("title", "", "Title of the recording to download (series, movie, ...)")
	episode := flag.String("episode", "", "Episode name; empty downloads every episode of the title")
	destDir := flag.String("dest-dir", def.DestDir, "Directory to download into (must exist)")
	skipDir := flag.String("skip-dir", def.SkipDir, "Directory checked for already-processed recordings")
	tvdbAPIKey := flag.String("tvdb-api-key", def.TVDB.APIKey, "The TVDB API key")
	tvdbUserKey := flag.String("tvdb-user-key", def.TVDB.UserKey, "The TVDB user key")
	tvdbUsername := flag.String("tvdb-username", def.TVDB.Username, "The TVDB username")
	tvdbIgnoreFailure := flag.Bool("tvdb-ignore-failure", def.TVDB.IgnoreFailure, "Keep going when The TVDB cannot resolve an episode")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	version := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *version {
		fmt.Println(buildinfo.Current().Version)
		return
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		exitFailure(err.Error())
	}
	// Explicit flags win over the config file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "hostname":
			cfg.Hostname = *hostname
		case "mak":
			cfg.MAK = *mak
		case "dest-dir":
			cfg.DestDir = *destDir
		case "skip-dir":
			cfg.SkipDir = *skipDir
		case "tvdb-api-key":
			cfg.TVDB.APIKey = *tvdbAPIKey
		case "tvdb-user-key":
			cfg.TVDB.UserKey = *tvdbUserKey
		case "tvdb-username":
			cfg.TVDB.Username = *tvdbUsername
		case "tvdb-ignore-failure":
			cfg.TVDB.IgnoreFailure = *tvdbIgnoreFailure
		}
	})

	if cfg.Hostname == "" || cfg.MAK == "" || *title == "" || cfg.DestDir == "" {
		exitFailure("hostname, mak, title and dest-dir are required")
	}
	if info, err := os.Stat(cfg.DestDir); err != nil || !info.IsDir() {
		exitFailure(fmt.Sprintf("The directory %q does not exist", cfg.DestDir))
	}

	level := zerolog.InfoLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	// Stdout carries the JSON result for the invoking runtime; logs go to stderr.
	logger := zerolog.New(os.Stderr).Level(level).With().Timestamp().Str("app", "tivofetch").Logger()
	logger.Info().Interface("build", buildinfo.Current()).Str("hostname", cfg.Hostname).Msg("starting")

	gateway := app.NewGateway(logger)
	index := app.NewTivoIndex(logger.With().Str("component", "tivo").Logger(), gateway, cfg.Hostname, cfg.MAK)

	creds := app.TVDBCredentials{
		APIKey:   cfg.TVDB.APIKey,
		UserKey:  cfg.TVDB.UserKey,
		Username: cfg.TVDB.Username,
	}
	var resolver ports.EpisodeResolver
	if creds.Complete() {
		resolver = app.NewTVDBClient(logger.With().Str("component", "tvdb").Logger(), gateway, creds, !cfg.TVDB.IgnoreFailure)
	}

	transfer := app.NewTransfer(logger.With().Str("component", "transfer").Logger(), gateway, cfg.MAK)
	orch := app.NewOrchestrator(logger, index, resolver, transfer)

	res, err := orch.Run(context.Background(), app.FetchRequest{
		Title:   *title,
		Episode: *episode,
		DestDir: cfg.DestDir,
		SkipDir: cfg.SkipDir,
	})
	if err != nil {
		exitFailure(err.Error())
	}
	emit(res)
}

func emit(res domain.Result) {
	_ = json.NewEncoder(os.Stdout).Encode(res)
}

func exitFailure(msg string) {
	emit(domain.Result{Msg: msg, Failed: true})
	os.Exit(1)
}
