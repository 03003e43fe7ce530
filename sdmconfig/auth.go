package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/barnettlynn/sdmkit/pkg/ntag424"
	"github.com/barnettlynn/sdmkit/sdmconfig/internal/config"
)

// authenticateWithFallback tries the application key first and the factory
// default key when the tag answers with an authentication error. Any other
// failure is returned as is. usedDefault reports which key opened the session.
func authenticateWithFallback(card ntag424.Card, appKey []byte, keyNo byte, opts ...ntag424.AuthOption) (sess *ntag424.Session, usedDefault bool, err error) {
	sess, err = ntag424.AuthenticateEV2First(card, appKey, keyNo, opts...)
	if err == nil {
		return sess, false, nil
	}
	if !ntag424.IsAuthError(err) {
		return nil, false, err
	}
	slog.Warn("application key rejected, trying factory default key", "slot", keyNo, "error", err)

	sess, defErr := ntag424.AuthenticateEV2First(card, ntag424.DefaultKey(), keyNo, opts...)
	if defErr != nil {
		return nil, false, fmt.Errorf("slot %d: application key: %v; factory key: %w", keyNo, err, defErr)
	}
	return sess, true, nil
}

// loadMasterKey reads the master key from its .hex file or, when configured,
// from the terminal without echo.
func loadMasterKey(cfg *config.Config) ([]byte, error) {
	if strings.TrimSpace(cfg.Auth.MasterKeyHexFile) != "" {
		return ntag424.LoadKeyHexFile(cfg.Auth.MasterKeyHexFile)
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, fmt.Errorf("prompt_master_key needs an interactive terminal")
	}
	fmt.Fprint(os.Stderr, "Master key (32 hex chars): ")
	line, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("read master key: %w", err)
	}
	return ntag424.ParseKeyHex(string(line))
}
