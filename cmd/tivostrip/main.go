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
)

func main() {
	def := config.Default()
	cfgPath := flag.String("config", os.Getenv("TIVOFETCH_CONFIG"), "Path to a TOML config file")
	mak := flag.String("mak", def.MAK, "Media access key of the Tivo device")
	decoderPath := flag.String("decoder", def.DecoderPath, "Path to TivoDecoder.jar")
	source := flag.String("source", "", "A .TiVo recording or a directory of them")
	destination := flag.String("destination", "", "Destination file or directory for the stripped output")
	replace := flag.Bool("replace", false, "Delete each source .TiVo file after stripping")
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
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "mak":
			cfg.MAK = *mak
		case "decoder":
			cfg.DecoderPath = *decoderPath
		}
	})

	if cfg.MAK == "" || *source == "" {
		exitFailure("mak and source are required")
	}

	level := zerolog.InfoLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(os.Stderr).Level(level).With().Timestamp().Str("app", "tivostrip").Logger()

	stripper := app.NewStripper(logger, cfg.MAK, cfg.DecoderPath)
	res, err := stripper.Run(context.Background(), app.StripRequest{
		Source:      *source,
		Destination: *destination,
		Replace:     *replace,
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
