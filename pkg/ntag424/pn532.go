package ntag424

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	pn532 "github.com/ZaparooProject/go-pn532"
	"github.com/ZaparooProject/go-pn532/transport/uart"
)

const (
	pn532ConnectTimeout  = 5 * time.Second
	pn532ExchangeTimeout = 2 * time.Second
)

// PN532Card is a Card backed by a PN532 board on a serial port. Frames are
// carried by InDataExchange to the ISO 14443-4 target found at connect time.
type PN532Card struct {
	device *pn532.Device
	uid    []byte
	Path   string
}

// ConnectPN532 opens the PN532 at path (for example /dev/ttyUSB0) and waits
// until a tag is in the field or ctx is done.
func ConnectPN532(ctx context.Context, path string) (*PN532Card, error) {
	device, err := pn532.ConnectDevice(path,
		pn532.WithTransportFactory(func(p string) (pn532.Transport, error) {
			transport, err := uart.New(p)
			if err != nil {
				return nil, fmt.Errorf("failed to create UART transport for %s: %w", p, err)
			}
			return transport, nil
		}),
		pn532.WithConnectTimeout(pn532ConnectTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("connect PN532 %s: %w", path, err)
	}

	tag, err := device.DetectTagContext(ctx)
	if err != nil {
		_ = device.Close()
		return nil, fmt.Errorf("detect tag on %s: %w", path, err)
	}
	slog.Debug("pn532 tag detected", "path", path, "uid", fmt.Sprintf("%X", tag.UIDBytes))

	return &PN532Card{
		device: device,
		uid:    append([]byte(nil), tag.UIDBytes...),
		Path:   path,
	}, nil
}

// UID returns the UID reported during anticollision. GetUID prefers it,
// since the PN532 does not answer the PC/SC GET DATA pseudo-APDU.
func (c *PN532Card) UID() []byte {
	return c.uid
}

// Transmit implements Card.
func (c *PN532Card) Transmit(apdu []byte) ([]byte, error) {
	if c == nil || c.device == nil {
		return nil, errNotConnected
	}
	ctx, cancel := context.WithTimeout(context.Background(), pn532ExchangeTimeout)
	defer cancel()
	resp, err := c.device.SendDataExchangeContext(ctx, apdu)
	if err != nil {
		return nil, err
	}
	if len(resp) < 2 {
		return nil, errors.New("pn532: response without status word")
	}
	return resp, nil
}

// Close releases the serial port.
func (c *PN532Card) Close() error {
	if c == nil || c.device == nil {
		return nil
	}
	err := c.device.Close()
	c.device = nil
	return err
}
