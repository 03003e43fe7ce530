package ntag424

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/ebfe/scard"
)

var errNotConnected = errors.New("connection not established")

// Connection is a Card backed by a PC/SC reader.
type Connection struct {
	ctx       *scard.Context
	card      *scard.Card
	Reader    string
	ReaderIdx int
}

// ListReaders returns the names of the PC/SC readers currently attached.
func ListReaders() ([]string, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("EstablishContext failed: %w", err)
	}
	defer func() { _ = ctx.Release() }()
	return ctx.ListReaders()
}

// Connect opens the tag presented to the reader at readerIndex (0-based).
func Connect(readerIndex int) (*Connection, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("EstablishContext failed: %w", err)
	}

	readers, err := ctx.ListReaders()
	if err != nil || len(readers) == 0 {
		_ = ctx.Release()
		return nil, fmt.Errorf("no readers found: %v", err)
	}
	if readerIndex < 0 || readerIndex >= len(readers) {
		_ = ctx.Release()
		return nil, fmt.Errorf("reader index %d out of range (0..%d)", readerIndex, len(readers)-1)
	}

	reader := readers[readerIndex]
	card, err := ctx.Connect(reader, scard.ShareShared, scard.ProtocolAny)
	if err != nil {
		_ = ctx.Release()
		return nil, fmt.Errorf("connect %q failed: %w", reader, err)
	}
	slog.Debug("pcsc connected", "reader", reader, "index", readerIndex)

	return &Connection{
		ctx:       ctx,
		card:      card,
		Reader:    reader,
		ReaderIdx: readerIndex,
	}, nil
}

// Close disconnects the card and releases the PC/SC context.
func (c *Connection) Close() error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.card != nil {
		errs = append(errs, c.card.Disconnect(scard.LeaveCard))
		c.card = nil
	}
	if c.ctx != nil {
		errs = append(errs, c.ctx.Release())
		c.ctx = nil
	}
	return errors.Join(errs...)
}

// Transmit implements Card.
func (c *Connection) Transmit(apdu []byte) ([]byte, error) {
	if c == nil || c.card == nil {
		return nil, errNotConnected
	}
	return c.card.Transmit(apdu)
}
