package ntag424

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
)

// secureFrame is one encrypted and MACed command, plus the intermediate
// values kept for debug traces.
type secureFrame struct {
	apdu     []byte
	macInput []byte
	encData  []byte
	mact     []byte
}

// ivSeed returns the 16-byte input that, ECB-encrypted under Kenc, yields the
// command (A5 5A) or response (5A A5) IV for the given counter.
func ivSeed(label0, label1 byte, ti [4]byte, ctr uint16) []byte {
	seed := make([]byte, blockSize)
	seed[0] = label0
	seed[1] = label1
	copy(seed[2:6], ti[:])
	seed[6] = byte(ctr)
	seed[7] = byte(ctr >> 8)
	return seed
}

// buildFrameLocked encrypts data and MACs the command for the current
// counter. It does not advance the counter.
func (s *Session) buildFrameLocked(cmd byte, header, data []byte) (*secureFrame, error) {
	f := &secureFrame{encData: []byte{}}

	if len(data) > 0 {
		ivc, err := EncryptBlock(s.kenc[:], ivSeed(0xA5, 0x5A, s.ti, s.cmdCtr))
		if err != nil {
			return nil, err
		}
		if f.encData, err = EncryptCBC(s.kenc[:], ivc, padISO9797M2(data)); err != nil {
			return nil, err
		}
	}

	// MAC input: Cmd(1) CmdCtr(2) TI(4) Header EncData
	f.macInput = make([]byte, 0, 7+len(header)+len(f.encData))
	f.macInput = append(f.macInput, cmd, byte(s.cmdCtr), byte(s.cmdCtr>>8))
	f.macInput = append(f.macInput, s.ti[:]...)
	f.macInput = append(f.macInput, header...)
	f.macInput = append(f.macInput, f.encData...)
	mact, err := macTruncated(s.kmac[:], f.macInput)
	if err != nil {
		return nil, err
	}
	f.mact = mact

	// 90 Cmd 00 00 Lc Header EncData MACT 00
	dataLen := len(header) + len(f.encData) + len(f.mact)
	if dataLen > 0xFF {
		return nil, fmt.Errorf("secure command 0x%02X: %w: Lc=%d", cmd, ErrInvalidLength, dataLen)
	}
	f.apdu = make([]byte, 0, 6+dataLen)
	f.apdu = append(f.apdu, 0x90, cmd, 0x00, 0x00, byte(dataLen))
	f.apdu = append(f.apdu, header...)
	f.apdu = append(f.apdu, f.encData...)
	f.apdu = append(f.apdu, f.mact...)
	f.apdu = append(f.apdu, 0x00)
	return f, nil
}

// BuildSecureFrame returns the frame SendSecure would transmit for the
// session's current counter. The counter is not advanced.
func BuildSecureFrame(sess *Session, cmd byte, header, data []byte) ([]byte, error) {
	if sess == nil {
		return nil, ErrSessionClosed
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.closed {
		return nil, ErrSessionClosed
	}
	f, err := sess.buildFrameLocked(cmd, header, data)
	if err != nil {
		return nil, err
	}
	return f.apdu, nil
}

// SendSecure executes a command in full secure-messaging mode.
//
// The command counter is incremented exactly once before the frame is sent,
// whatever the outcome. Any transport failure, non-9100 status, MAC mismatch
// or malformed response leaves the session unusable. A status-only response
// yields an empty payload.
func SendSecure(card Card, sess *Session, cmd byte, header, data []byte) ([]byte, error) {
	if err := sess.acquire(); err != nil {
		return nil, err
	}
	defer sess.release()

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.closed {
		return nil, ErrSessionClosed
	}
	if sess.cmdCtr == 0xFFFF {
		sess.invalidateLocked("command counter exhausted")
		return nil, fmt.Errorf("command counter exhausted: %w", ErrSessionClosed)
	}

	f, err := sess.buildFrameLocked(cmd, header, data)
	if err != nil {
		return nil, err
	}
	slog.Debug("secure messaging",
		"cmd", fmt.Sprintf("0x%02X", cmd),
		"ctr", sess.cmdCtr,
		"apdu", strings.ToUpper(hex.EncodeToString(f.apdu)),
		"mac_input", strings.ToUpper(hex.EncodeToString(f.macInput)),
		"mact", strings.ToUpper(hex.EncodeToString(f.mact)))

	sess.cmdCtr++
	ctr := sess.cmdCtr

	resp, sw, err := Transmit(card, f.apdu)
	if err != nil {
		sess.invalidateLocked("transport failure")
		return nil, err
	}
	if sw != SWDESFireOK {
		sess.invalidateLocked("command rejected")
		return nil, &SWError{Cmd: cmd, SW: sw}
	}
	if len(resp) == 0 {
		return []byte{}, nil
	}
	if len(resp) < 8 {
		sess.invalidateLocked("short response")
		return nil, fmt.Errorf("command 0x%02X: %w: response of %d bytes cannot carry a MAC", cmd, ErrResponseMAC, len(resp))
	}

	respEnc := resp[:len(resp)-8]
	respMac := resp[len(resp)-8:]

	// Response MAC input: SW2(1) CmdCtr+1(2) TI(4) RespEnc
	macIn := make([]byte, 0, 7+len(respEnc))
	macIn = append(macIn, byte(sw), byte(ctr), byte(ctr>>8))
	macIn = append(macIn, sess.ti[:]...)
	macIn = append(macIn, respEnc...)
	want, err := macTruncated(sess.kmac[:], macIn)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(respMac, want) {
		sess.invalidateLocked("response MAC mismatch")
		return nil, fmt.Errorf("command 0x%02X: %w", cmd, ErrResponseMAC)
	}

	if len(respEnc) == 0 {
		return []byte{}, nil
	}
	ivr, err := EncryptBlock(sess.kenc[:], ivSeed(0x5A, 0xA5, sess.ti, ctr))
	if err != nil {
		return nil, err
	}
	dec, err := DecryptCBC(sess.kenc[:], ivr, respEnc)
	if err != nil {
		sess.invalidateLocked("malformed response")
		return nil, fmt.Errorf("command 0x%02X response: %w", cmd, err)
	}
	out, err := unpadISO9797M2(dec)
	if err != nil {
		sess.invalidateLocked("malformed response")
		return nil, fmt.Errorf("command 0x%02X response: %w", cmd, err)
	}
	return out, nil
}
