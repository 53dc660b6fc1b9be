// Package util provides logging and host helpers shared by the connector's packages.
package util

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// AppName tags every log line and names the log files.
const AppName = "smo-connector"

// LogConfig holds configuration for the logging system.
type LogConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxBackups int    `json:"max_backups"`
	Console    bool   `json:"console"`
	// ConsoleOut overrides stdout for the console writer.
	ConsoleOut io.Writer `json:"-"`
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:      "info",
		Directory:  "logs",
		MaxBackups: 5,
		Console:    true,
	}
}

// InitLogger points the global zerolog logger at a dated JSON file in
// cfg.Directory and, optionally, a human-readable console writer.
func InitLogger(cfg LogConfig) error {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	var writers []io.Writer
	logFilePath := ""

	if cfg.Directory != "" {
		if err := os.MkdirAll(cfg.Directory, 0755); err != nil {
			return fmt.Errorf("failed to create log directory %s: %w", cfg.Directory, err)
		}
		logFilePath = filepath.Join(cfg.Directory, fmt.Sprintf("%s_%s.log", AppName, time.Now().Format("2006-01-02")))
		logFile, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file %s: %w", logFilePath, err)
		}
		writers = append(writers, logFile)
	}

	if cfg.Console {
		out := cfg.ConsoleOut
		if out == nil {
			out = os.Stdout
		}
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: "15:04:05",
		})
	}

	if len(writers) == 0 {
		writers = append(writers, io.Discard)
	}

	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		With().
		Timestamp().
		Str("app", AppName).
		Logger()

	log.Info().
		Str("level", level.String()).
		Str("log_file", logFilePath).
		Msg("logger initialized")

	if cfg.Directory != "" && cfg.MaxBackups > 0 {
		go cleanOldLogs(cfg.Directory, cfg.MaxBackups)
	}
	return nil
}

// cleanOldLogs keeps the newest maxBackups log files and removes the rest.
func cleanOldLogs(directory string, maxBackups int) {
	entries, err := os.ReadDir(directory)
	if err != nil {
		return
	}

	type logFile struct {
		path string
		mod  time.Time
	}
	var files []logFile
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".log" || !strings.HasPrefix(entry.Name(), AppName) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, logFile{path: filepath.Join(directory, entry.Name()), mod: info.ModTime()})
	}
	if len(files) <= maxBackups {
		return
	}

	sort.Slice(files, func(i, j int) bool { return files[i].mod.Before(files[j].mod) })
	for _, f := range files[:len(files)-maxBackups] {
		if err := os.Remove(f.path); err == nil {
			log.Debug().Str("file", f.path).Msg("removed old log file")
		}
	}
}

// ComponentLogger creates a logger with a component name field.
func ComponentLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}
