package main

import (
	"context"
	"flag"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ericselin/tableserve/config"
	"github.com/ericselin/tableserve/server"
)

var (
	// CLI flags
	configFlag         string
	envFileFlag        string
	portFlag           int
	dbFlag             string
	rootFlag           string
	verbosityTraceFlag bool
	logFilenameFlag    string

	// this is set by goreleaser
	version string
)

func init() {
	flag.StringVar(&configFlag, "config", "", "Config file (YAML)")
	flag.StringVar(&envFileFlag, "env-file", ".env", "Env file to load before reading the environment")
	flag.IntVar(&portFlag, "port", 0, "Port to listen on (overrides config)")
	flag.StringVar(&dbFlag, "db", "", "Routing table DSN: database file or connection string (overrides config)")
	flag.StringVar(&rootFlag, "root", "", "Web root of externally stored files (overrides config)")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
	flag.StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stdout)")

	if version == "" {
		version = "DEV"
	}
}

func main() {
	flag.Parse()

	if err := config.LoadEnvFiles(envFileFlag); err != nil {
		log.Fatal().Err(err).Msg("Cannot load env file")
	}
	cfg, err := config.Load(configFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("Cannot load config")
	}
	if portFlag != 0 {
		cfg.Server.Port = portFlag
	}
	if dbFlag != "" {
		cfg.Routes.DSN = dbFlag
	}
	if rootFlag != "" {
		cfg.Blobs.Root = rootFlag
	}
	if logFilenameFlag != "" {
		cfg.Log.File = logFilenameFlag
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid config")
	}

	// set log level
	logLevel, _ := cfg.Log.ZerologLevel()
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}

	// set up log output to stdout
	// also output to logfile if specified
	logOutputs := []io.Writer{zerolog.ConsoleWriter{Out: os.Stdout}}
	if cfg.Log.File != "" {
		if logFileOutput, err := os.OpenFile(cfg.Log.File, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644); err != nil {
			log.Fatal().Err(err).Msg("Cannot open log file")
		} else {
			defer logFileOutput.Close()
			logOutputs = append(logOutputs, logFileOutput)
		}
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().Str("version", version).Logger()

	app, err := server.NewApp(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Cannot start")
	}
	log.Info().Msgf("Serving %s routes on port %d", cfg.Routes.Provider, cfg.Server.Port)
	if err := app.Run(context.Background()); err != nil {
		log.Error().Err(err).Msg("Server stopped")
		os.Exit(1)
	}
}
