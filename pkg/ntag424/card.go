package ntag424

import (
	"errors"
	"fmt"
	"log/slog"
)

// Card is the byte pipe to a tag: one command frame in, response data plus
// the two trailing status bytes out. PC/SC readers, PN532 boards and test
// doubles all satisfy it.
type Card interface {
	Transmit(apdu []byte) ([]byte, error)
}

var errShortResponse = errors.New("response shorter than a status word")

// Transmit sends an APDU to the card and extracts the status word.
// Returns (response_data, status_word, error).
// The response data does NOT include the trailing SW bytes.
// Any failure to complete the exchange is reported as *TransportError.
func Transmit(card Card, apdu []byte) ([]byte, uint16, error) {
	var ins byte
	if len(apdu) > 1 {
		ins = apdu[1]
	}
	slog.Debug("apdu tx", "ins", fmt.Sprintf("%02X", ins), "len", len(apdu))
	resp, err := card.Transmit(apdu)
	if err != nil {
		return nil, 0, &TransportError{Cmd: ins, Cause: err}
	}
	if len(resp) < 2 {
		return nil, 0, &TransportError{Cmd: ins, Cause: fmt.Errorf("%w: %d bytes", errShortResponse, len(resp))}
	}
	sw := uint16(resp[len(resp)-2])<<8 | uint16(resp[len(resp)-1])
	slog.Debug("apdu rx", "ins", fmt.Sprintf("%02X", ins), "sw", fmt.Sprintf("%04X", sw), "len", len(resp)-2)
	return resp[:len(resp)-2], sw, nil
}

// nativeFrame wraps a native command in the ISO 7816 envelope used by the
// tag: 90 cmd 00 00 Lc data 00. Commands without data omit Lc.
func nativeFrame(cmd byte, data []byte) ([]byte, error) {
	if len(data) > 0xFF {
		return nil, fmt.Errorf("command 0x%02X: %w: Lc=%d", cmd, ErrInvalidLength, len(data))
	}
	if len(data) == 0 {
		return []byte{0x90, cmd, 0x00, 0x00, 0x00}, nil
	}
	apdu := make([]byte, 0, 6+len(data))
	apdu = append(apdu, 0x90, cmd, 0x00, 0x00, byte(len(data)))
	apdu = append(apdu, data...)
	apdu = append(apdu, 0x00)
	return apdu, nil
}

// GetUID retrieves the card UID via ISO 7816 GET DATA command (FF CA 00 00).
// Tries with Le=0x00 (wildcard) and Le=0x04 (specific 4-byte UID length).
// Readers that answer GET DATA themselves (PC/SC) support this; PN532Card
// reports the UID captured at detection instead.
func GetUID(card Card) ([]byte, error) {
	if u, ok := card.(interface{ UID() []byte }); ok {
		if uid := u.UID(); len(uid) > 0 {
			return append([]byte(nil), uid...), nil
		}
	}
	var lastErr error
	for _, le := range []byte{0x00, 0x04} {
		apdu := []byte{0xFF, 0xCA, 0x00, 0x00, le}
		data, sw, err := Transmit(card, apdu)
		if err != nil {
			lastErr = err
			continue
		}
		if SwOK(sw) && len(data) > 0 {
			return data, nil
		}
		lastErr = &SWError{Cmd: 0xCA, SW: sw}
	}
	return nil, fmt.Errorf("UID not available via GET DATA: %w", lastErr)
}
