package main

import (
	"context"
	"fmt"
	"time"

	"github.com/barnettlynn/sdmkit/pkg/ntag424"
	"github.com/barnettlynn/sdmkit/sdmconfig/internal/config"
)

const tagWaitTimeout = 30 * time.Second

type tagCard interface {
	ntag424.Card
	Close() error
}

// openCard connects to the configured transport and returns the card with a
// description for the console.
func openCard(cfg *config.Config) (tagCard, string, error) {
	switch cfg.Transport.Kind {
	case config.TransportPN532:
		ctx, cancel := context.WithTimeout(context.Background(), tagWaitTimeout)
		defer cancel()
		card, err := ntag424.ConnectPN532(ctx, cfg.Transport.Device)
		if err != nil {
			return nil, "", err
		}
		return card, fmt.Sprintf("PN532 %s", card.Path), nil
	default:
		conn, err := ntag424.Connect(*cfg.Transport.ReaderIndex)
		if err != nil {
			return nil, "", err
		}
		return conn, fmt.Sprintf("reader [%d]: %s", conn.ReaderIdx, conn.Reader), nil
	}
}
