// Command ofborg-logapi serves the grouping read API over a log
// collector's bundle directory.
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/ofborg-go/ofborg/internal/config"
	"github.com/ofborg-go/ofborg/internal/diskstatus"
	"github.com/ofborg-go/ofborg/internal/logapi"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <config.json>\n", os.Args[0])
		os.Exit(2)
	}

	logger := config.NewLogger("logapi")

	cfg, err := config.Load(os.Args[1])
	if err != nil {
		logger.Fatalf("loading config: %v", err)
	}
	if cfg.LogAPIConfig == nil {
		logger.Fatalf("config is missing log_api_config section")
	}
	section := cfg.LogAPIConfig

	server := &logapi.Server{
		LogsPath:  section.LogsPathOrDefault(),
		ServeRoot: section.ServeRootOrDefault(),
		Logger:    logger,
	}

	mux := http.NewServeMux()
	mux.Handle("/logs/", server)
	mux.HandleFunc("/status", statusHandler(server.LogsPath, logger))

	logger.Printf("listening on %s, serving %s", section.Listen, server.LogsPath)
	if err := http.ListenAndServe(section.Listen, mux); err != nil {
		logger.Fatalf("http server: %v", err)
	}
}

// statusHandler reports remaining disk space on the log volume.
func statusHandler(logsPath string, logger interface{ Printf(string, ...any) }) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		available, err := diskstatus.AvailableBytes(logsPath)
		if err != nil {
			logger.Printf("ERROR statfs %s: %v", logsPath, err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprintf(w, `{"available_bytes":%d}`, available)
	}
}
