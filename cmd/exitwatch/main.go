package main

import (
	"context"
	"flag"
	"os"

	"go.uber.org/zap"

	"exitwatch/internal/app"
	"exitwatch/internal/logger"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to configuration file")
	debug := flag.Bool("debug", false, "enable debug logging")
	logFile := flag.String("log-file", "", "optional JSON log file")
	flag.Parse()

	log := logger.New(*debug)
	if *logFile != "" {
		fileLog, err := logger.NewWithFile(*debug, *logFile)
		if err != nil {
			log.Error("Failed to open log file", zap.Error(err))
			os.Exit(1)
		}
		log = fileLog
	}
	defer log.Sync()
	log.Info("Starting exit monitor")

	runner := app.NewRunner(log)
	if err := runner.Initialize(*configPath); err != nil {
		log.Error("Failed to initialize", zap.Error(err))
		os.Exit(1)
	}

	if err := runner.Run(context.Background()); err != nil {
		log.Error("Shutdown finished with errors", zap.Error(err))
		os.Exit(1)
	}
}
