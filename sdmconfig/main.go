package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
)

const configFileName = "config.yaml"

func main() {
	verbose := flag.Bool("v", false, "enable debug logging")
	logFormat := flag.String("log-format", "text", "log format: text or json")
	configFlag := flag.String("config", "", "path to config.yaml (default: next to the executable, then the working directory)")
	inspect := flag.Bool("inspect", false, "print version, files and SDM offsets of the tag and exit")
	diagAuth := flag.Bool("diag-auth", false, "diagnose EV2 authentication across key slots and exit")
	rotate := flag.Bool("rotate", false, "rotate the configured key slot to the per-tag dynamic key and exit")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	handler, err := newLogHandler(os.Stderr, *logFormat, level)
	if err != nil {
		log.Fatal(err)
	}
	slog.SetDefault(slog.New(handler))

	configPath := *configFlag
	if configPath == "" {
		configPath, err = defaultConfigPath()
		if err != nil {
			log.Fatalf("resolve config path failed: %v", err)
		}
	}
	fmt.Printf("Using config: %s\n", configPath)

	switch {
	case *inspect:
		runInspect(configPath)
	case *diagAuth:
		runAuthDiagnostics(configPath)
	case *rotate:
		runRotate(configPath)
	default:
		runConfigure(configPath)
	}
}

func defaultConfigPath() (string, error) {
	exePath, err := os.Executable()
	if err != nil {
		return "", err
	}
	exeConfigPath := filepath.Join(filepath.Dir(exePath), configFileName)
	if fileExists(exeConfigPath) {
		return exeConfigPath, nil
	}

	// Fallback for `go run`, where the executable is placed in a temp directory.
	cwd, err := os.Getwd()
	if err != nil {
		return exeConfigPath, nil
	}
	cwdConfigPath := filepath.Join(cwd, configFileName)
	if fileExists(cwdConfigPath) {
		return cwdConfigPath, nil
	}
	return exeConfigPath, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
