package ntag424

import (
	"fmt"
	"log/slog"
)

const (
	ccFileID   = 0xE103
	ndefFileID = 0xE104
)

var ndefAppAID = []byte{0xD2, 0x76, 0x00, 0x00, 0x85, 0x01, 0x01}

// SelectNDEFApp selects the NFC Forum NDEF application (AID D2760000850101).
//
// This invalidates any active authentication session on the tag. Select
// before authenticating.
func SelectNDEFApp(card Card) error {
	apdu := append([]byte{0x00, 0xA4, 0x04, 0x00, byte(len(ndefAppAID))}, ndefAppAID...)
	apdu = append(apdu, 0x00)
	_, sw, err := Transmit(card, apdu)
	if err != nil {
		return err
	}
	if !SwOK(sw) {
		return &SWError{Cmd: 0xA4, SW: sw}
	}
	return nil
}

// SelectFile selects a file by its 16-bit ISO ID (E103 CC, E104 NDEF,
// E105 proprietary). Like SelectNDEFApp it resets authentication.
func SelectFile(card Card, fileID uint16) error {
	apdu := []byte{0x00, 0xA4, 0x00, 0x0C, 0x02, byte(fileID >> 8), byte(fileID)}
	_, sw, err := Transmit(card, apdu)
	if err != nil {
		return err
	}
	if !SwOK(sw) {
		return &SWError{Cmd: 0xA4, SW: sw}
	}
	return nil
}

// ReadBinary reads from the selected file with ISO READ BINARY (INS 0xB0).
// A 6Cxx answer is retried once with the Le the tag asked for.
func ReadBinary(card Card, offset uint16, le byte) ([]byte, error) {
	apdu := []byte{0x00, 0xB0, byte(offset >> 8), byte(offset), le}
	data, sw, err := Transmit(card, apdu)
	if err != nil {
		return nil, err
	}
	if (sw & 0xFF00) == SWWrongLe {
		correctLe := byte(sw & 0x00FF)
		slog.Warn("wrong Le, retrying", "original_le", apdu[4], "correct_le", correctLe)
		apdu[4] = correctLe
		data, sw, err = Transmit(card, apdu)
		if err != nil {
			return nil, err
		}
	}
	if !SwOK(sw) {
		return nil, &SWError{Cmd: 0xB0, SW: sw}
	}
	return data, nil
}

// ReadNDEF reads the NDEF file image, NLEN header included, through the ISO
// layer. The NDEF file ID comes from the CC file.
func ReadNDEF(card Card) ([]byte, error) {
	if err := SelectNDEFApp(card); err != nil {
		return nil, err
	}
	if err := SelectFile(card, ccFileID); err != nil {
		return nil, err
	}
	cc, err := ReadBinary(card, 0x0000, 0x0F)
	if err != nil {
		return nil, err
	}
	if len(cc) < 15 {
		return nil, fmt.Errorf("CC file too short: %d bytes", len(cc))
	}

	fileID := uint16(ndefFileID)
	if cc[7] == 0x04 && cc[8] >= 6 {
		fileID = uint16(cc[9])<<8 | uint16(cc[10])
	}
	if err := SelectFile(card, fileID); err != nil {
		return nil, err
	}

	head, err := ReadBinary(card, 0x0000, 0x02)
	if err != nil {
		return nil, err
	}
	if len(head) < 2 {
		return nil, &NDEFParseError{Reason: "NLEN read too short"}
	}
	total := 2 + (int(head[0])<<8 | int(head[1]))
	file := append(make([]byte, 0, total), head[:2]...)
	for len(file) < total {
		n := total - len(file)
		if n > 0xFF {
			n = 0xFF
		}
		part, err := ReadBinary(card, uint16(len(file)), byte(n))
		if err != nil {
			return nil, err
		}
		if len(part) == 0 {
			break
		}
		file = append(file, part...)
	}
	return file, nil
}

// WriteNDEFPlain selects the NDEF application and file, then writes data.
// The file's write access must be free.
func WriteNDEFPlain(card Card, data []byte) error {
	if err := SelectNDEFApp(card); err != nil {
		return err
	}
	if err := SelectFile(card, ndefFileID); err != nil {
		return err
	}
	return WriteNDEFData(card, data)
}

// WriteNDEFData writes to the selected file with ISO UPDATE BINARY (INS
// 0xD6) in chunks of up to 255 bytes.
func WriteNDEFData(card Card, data []byte) error {
	offset := 0
	for offset < len(data) {
		chunk := len(data) - offset
		if chunk > 0xFF {
			chunk = 0xFF
		}
		apdu := make([]byte, 0, 5+chunk)
		apdu = append(apdu, 0x00, 0xD6, byte(offset>>8), byte(offset), byte(chunk))
		apdu = append(apdu, data[offset:offset+chunk]...)

		_, sw, err := Transmit(card, apdu)
		if err != nil {
			return err
		}
		if !SwOK(sw) {
			return &SWError{Cmd: 0xD6, SW: sw}
		}
		offset += chunk
	}
	return nil
}
