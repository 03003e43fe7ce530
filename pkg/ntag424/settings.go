package ntag424

import (
	"errors"
	"fmt"
	"log/slog"
)

// Positions of the SDM fields in a settings blob. Bytes 0..27 are the
// GetFileSettings read layout of a file with UID and counter mirroring,
// plain meta read and encrypted file data enabled; bytes 28..30 carry the
// SDM MAC length.
const (
	posUIDOffset      = 10
	posCtrOffset      = 13
	posMACInputOffset = 16
	posENCOffset      = 19
	posENCLength      = 22
	posMACOffset      = 25
	posMACLength      = 28

	tagSDMSettingsLen = 28
	minSDMSettingsLen = 31
)

// FileSettings is a decoded GetFileSettings response.
type FileSettings struct {
	FileType   byte   // 0x00 = standard data file
	FileOption byte   // bit 6 = SDM enabled, bits 1:0 = comm mode
	AR1        byte   // [ReadWrite nibble | ChangeAccessRights nibble]
	AR2        byte   // [Read nibble | Write nibble]
	Size       int    // File size in bytes (3-byte LE)
	SDMOptions byte   // SDM options (bit 7=UID, bit 6=Ctr, bit 4=ENC, bit 0=ASCII)
	SDMMeta    byte   // Meta access rights (upper nibble of SDMAR)
	SDMFile    byte   // File access rights (bits 11:8 of SDMAR)
	SDMCtr     byte   // Counter access rights (lower nibble of SDMAR)
	RawData    []byte // Raw response

	// Conditional SDM offset fields, present depending on SDMOptions/SDMAR.
	UIDOffset      uint32
	CtrOffset      uint32
	PICCDataOffset uint32
	MACInputOffset uint32
	ENCOffset      uint32
	ENCLength      uint32
	MACOffset      uint32
	CtrLimit       uint32
}

// SDMEnabled reports whether the file has Secure Dynamic Messaging on.
func (fs *FileSettings) SDMEnabled() bool {
	return fs.FileOption&0x40 != 0
}

// ParseFileSettings decodes a raw GetFileSettings response. Conditional
// fields are read in tag order: UID, counter, PICC data, MAC input, ENC
// offset and length, MAC, counter limit.
func ParseFileSettings(data []byte) (*FileSettings, error) {
	if len(data) < 7 {
		return nil, fmt.Errorf("%w: file settings too short (%d bytes)", ErrUnexpectedLayout, len(data))
	}
	fs := &FileSettings{
		FileType:   data[0],
		FileOption: data[1],
		AR1:        data[2],
		AR2:        data[3],
		Size:       int(readU24le(data, 4)),
		RawData:    append([]byte(nil), data...),
	}
	if !fs.SDMEnabled() {
		return fs, nil
	}

	idx := 7
	next := func(name string) (uint32, error) {
		if len(data) < idx+3 {
			return 0, fmt.Errorf("%w: file settings missing %s", ErrUnexpectedLayout, name)
		}
		v := readU24le(data, idx)
		idx += 3
		return v, nil
	}

	if len(data) < idx+3 {
		return nil, fmt.Errorf("%w: file settings missing SDM fields", ErrUnexpectedLayout)
	}
	fs.SDMOptions = data[idx]
	sdmAR := uint16(data[idx+1]) | uint16(data[idx+2])<<8
	fs.SDMMeta = byte(sdmAR>>12) & 0x0F
	fs.SDMFile = byte(sdmAR>>8) & 0x0F
	fs.SDMCtr = byte(sdmAR) & 0x0F
	idx += 3

	var err error
	plainMeta := fs.SDMMeta == 0x0E
	if fs.SDMOptions&0x80 != 0 && plainMeta {
		if fs.UIDOffset, err = next("UIDOffset"); err != nil {
			return nil, err
		}
	}
	if fs.SDMOptions&0x40 != 0 && plainMeta {
		if fs.CtrOffset, err = next("CtrOffset"); err != nil {
			return nil, err
		}
	}
	if fs.SDMMeta != 0x0E && fs.SDMMeta != 0x0F {
		if fs.PICCDataOffset, err = next("PICCDataOffset"); err != nil {
			return nil, err
		}
	}
	if fs.SDMFile != 0x0F {
		if fs.MACInputOffset, err = next("MACInputOffset"); err != nil {
			return nil, err
		}
		if fs.SDMOptions&0x10 != 0 {
			if fs.ENCOffset, err = next("ENCOffset"); err != nil {
				return nil, err
			}
			if fs.ENCLength, err = next("ENCLength"); err != nil {
				return nil, err
			}
		}
		if fs.MACOffset, err = next("MACOffset"); err != nil {
			return nil, err
		}
	}
	if fs.SDMOptions&0x20 != 0 {
		if fs.CtrLimit, err = next("CtrLimit"); err != nil {
			return nil, err
		}
	}
	return fs, nil
}

// readU24le reads a 3-byte little-endian uint32 at the given offset.
func readU24le(data []byte, offset int) uint32 {
	return uint32(data[offset]) | uint32(data[offset+1])<<8 | uint32(data[offset+2])<<16
}

func putU24le(dst []byte, v uint32) {
	dst[0] = byte(v)
	dst[1] = byte(v >> 8)
	dst[2] = byte(v >> 16)
}

// SettingsBlob extends a GetFileSettings response of an SDM file to the
// settings blob layout by appending a zero SDM MAC length. raw must be the
// 28-byte read layout; other SDM configurations are not supported.
func SettingsBlob(raw []byte) ([]byte, error) {
	if len(raw) != tagSDMSettingsLen {
		return nil, fmt.Errorf("%w: expected %d-byte SDM file settings, got %d", ErrUnexpectedLayout, tagSDMSettingsLen, len(raw))
	}
	out := make([]byte, minSDMSettingsLen)
	copy(out, raw)
	return out, nil
}

// PatchFileSettings returns a copy of raw with the SDM offsets replaced:
// UID mirror disabled (FFFFFF), counter offset, ENC offset and length, MAC
// offset and MAC length, each 3 bytes little-endian. The MAC input offset is
// left as it was. raw is not modified and the result has the same length.
func PatchFileSettings(raw []byte, off SdmOffsets) ([]byte, error) {
	if len(raw) < minSDMSettingsLen {
		return nil, fmt.Errorf("%w: need %d bytes, got %d", ErrUnexpectedLayout, minSDMSettingsLen, len(raw))
	}
	for name, v := range map[string]uint32{
		"ctr offset": off.CtrOffset,
		"enc offset": off.EncOffset,
		"enc length": off.EncLength,
		"mac offset": off.MacOffset,
		"mac length": off.MacLength,
	} {
		if v > maxU24 {
			return nil, fmt.Errorf("patch settings: %w: %s %d exceeds 3 bytes", ErrInvalidLength, name, v)
		}
	}

	out := append([]byte(nil), raw...)
	putU24le(out[posUIDOffset:], maxU24)
	putU24le(out[posCtrOffset:], off.CtrOffset)
	putU24le(out[posENCOffset:], off.EncOffset)
	putU24le(out[posENCLength:], off.EncLength)
	putU24le(out[posMACOffset:], off.MacOffset)
	putU24le(out[posMACLength:], off.MacLength)
	return out, nil
}

// ChangeSettingsPayload projects a settings blob onto the data NTAG 424 DNA
// silicon accepts for ChangeFileSettings: FileOption, AR1, AR2 and the SDM
// fields up to the MAC offset. FileType and FileSize are read-only, and the
// tag derives the MAC length from the SDM options, so all three are dropped.
func ChangeSettingsPayload(blob []byte) ([]byte, error) {
	if len(blob) < minSDMSettingsLen {
		return nil, fmt.Errorf("%w: need %d bytes, got %d", ErrUnexpectedLayout, minSDMSettingsLen, len(blob))
	}
	out := make([]byte, 0, tagSDMSettingsLen-4)
	out = append(out, blob[1:4]...)
	out = append(out, blob[7:tagSDMSettingsLen]...)
	return out, nil
}

// RewriteFileSettings sends ChangeFileSettings (INS 0x5F) for fileNo in full
// secure-messaging mode with settings as the command data, unchanged. For a
// physical tag pass the output of ChangeSettingsPayload.
func RewriteFileSettings(card Card, sess *Session, fileNo byte, settings []byte) error {
	if len(settings) == 0 {
		return fmt.Errorf("rewrite file settings %d: %w: empty settings", fileNo, ErrInvalidLength)
	}
	if _, err := SendSecure(card, sess, cmdChangeFileSettings, []byte{fileNo}, settings); err != nil {
		var swErr *SWError
		if errors.As(err, &swErr) && swErr.SW == SWParameterErr {
			slog.Warn("tag rejected settings layout", "file_no", fileNo, "settings", fmt.Sprintf("%X", settings))
		}
		return fmt.Errorf("rewrite file settings %d: %w", fileNo, err)
	}
	slog.Info("file settings rewritten", "file_no", fileNo)
	return nil
}
