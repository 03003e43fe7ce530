package ntag424

import (
	"fmt"
	"log/slog"
)

const (
	cmdGetFileIDs         = 0x6F
	cmdGetFileSettings    = 0xF5
	cmdReadData           = 0xBD
	cmdChangeFileSettings = 0x5F

	maxU24 = 0xFFFFFF

	// readChunk keeps native ReadData responses inside one reader frame.
	readChunk = 128
)

// nativePlain sends a native command without secure messaging and requires 9100.
func nativePlain(card Card, cmd byte, data []byte) ([]byte, error) {
	apdu, err := nativeFrame(cmd, data)
	if err != nil {
		return nil, err
	}
	resp, sw, err := Transmit(card, apdu)
	if err != nil {
		return nil, err
	}
	if sw != SWDESFireOK {
		return nil, &SWError{Cmd: cmd, SW: sw}
	}
	return resp, nil
}

// ListFileIDs returns the file numbers of the selected application (GetFileIDs, INS 0x6F).
func ListFileIDs(card Card) ([]byte, error) {
	ids, err := nativePlain(card, cmdGetFileIDs, nil)
	if err != nil {
		return nil, fmt.Errorf("list file IDs: %w", err)
	}
	return ids, nil
}

// GetFileSettings returns the raw GetFileSettings (INS 0xF5) response for
// fileNo, unauthenticated. Use ParseFileSettings for a decoded view.
func GetFileSettings(card Card, fileNo byte) ([]byte, error) {
	raw, err := nativePlain(card, cmdGetFileSettings, []byte{fileNo})
	if err != nil {
		return nil, fmt.Errorf("get file settings %d: %w", fileNo, err)
	}
	slog.Debug("file settings", "file_no", fileNo, "raw", fmt.Sprintf("%X", raw))
	return raw, nil
}

// GetFileSettingsSecure is GetFileSettings in full secure-messaging mode, for
// tags that deny the plain command.
func GetFileSettingsSecure(card Card, sess *Session, fileNo byte) ([]byte, error) {
	raw, err := SendSecure(card, sess, cmdGetFileSettings, []byte{fileNo}, nil)
	if err != nil {
		return nil, fmt.Errorf("get file settings %d (secure): %w", fileNo, err)
	}
	return raw, nil
}

// ReadDataPlain reads length bytes at offset from a file with free read
// access using native ReadData (INS 0xBD). Offset and length are 3-byte LE.
//
// Fail states:
//   - SW=919D: Read access is not free
//   - SW=91BE: offset+length past the end of the file
func ReadDataPlain(card Card, fileNo byte, offset, length uint32) ([]byte, error) {
	if offset > maxU24 || length > maxU24 {
		return nil, fmt.Errorf("read data: %w: offset=%d length=%d", ErrInvalidLength, offset, length)
	}
	data := []byte{
		fileNo,
		byte(offset), byte(offset >> 8), byte(offset >> 16),
		byte(length), byte(length >> 8), byte(length >> 16),
	}
	resp, err := nativePlain(card, cmdReadData, data)
	if err != nil {
		return nil, fmt.Errorf("read data file %d: %w", fileNo, err)
	}
	return resp, nil
}

// ReadNDEFFile reads an NDEF file image (NLEN header included) in chunks.
func ReadNDEFFile(card Card, fileNo byte) ([]byte, error) {
	head, err := ReadDataPlain(card, fileNo, 0, 2)
	if err != nil {
		return nil, err
	}
	if len(head) < 2 {
		return nil, &NDEFParseError{Reason: "NLEN read too short"}
	}
	total := 2 + (int(head[0])<<8 | int(head[1]))

	file := make([]byte, 0, total)
	file = append(file, head[:2]...)
	for len(file) < total {
		n := total - len(file)
		if n > readChunk {
			n = readChunk
		}
		part, err := ReadDataPlain(card, fileNo, uint32(len(file)), uint32(n))
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
