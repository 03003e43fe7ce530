package ntag424

import (
	"bytes"
	"fmt"
	"log/slog"
)

// Default ASCII lengths of the dynamic fields: 32 hex chars of encrypted
// PICC data, a 6 hex char read counter and an 8-byte MAC as 16 hex chars.
const (
	DefaultEncLength = 32
	DefaultCtrLength = 6
	DefaultMacLength = 16
)

// DefaultCandidateFiles are tried by AutoDetectNDEFFile when the caller
// has no better idea. File 2 is the NDEF file on a factory tag.
var DefaultCandidateFiles = []byte{0x02, 0x01, 0x03}

// SdmOffsets are absolute offsets of the dynamic fields inside the NDEF file
// image. Every value fits in 3 bytes.
type SdmOffsets struct {
	EncOffset uint32
	EncLength uint32
	CtrOffset uint32
	MacOffset uint32
	MacLength uint32 // fixed by the tag; carried for diagnostics
}

func (o SdmOffsets) String() string {
	return fmt.Sprintf("enc=%d+%d ctr=%d mac=%d+%d", o.EncOffset, o.EncLength, o.CtrOffset, o.MacOffset, o.MacLength)
}

// findField returns the index of the first "name=" in tail that starts a
// query parameter: at the start of the tail or after '?', '&' or ';'.
func findField(tail []byte, name string) int {
	key := []byte(name + "=")
	from := 0
	for {
		i := bytes.Index(tail[from:], key)
		if i < 0 {
			return -1
		}
		i += from
		if i == 0 {
			return i
		}
		switch tail[i-1] {
		case '?', '&', ';':
			return i
		}
		from = i + 1
	}
}

// ComputeOffsets locates e=, c= and m= in the URI of an NDEF file image and
// returns the absolute offsets of their values. Each value must have at least
// the given number of characters available.
func ComputeOffsets(file []byte, encLen, ctrLen, macLen int) (SdmOffsets, error) {
	if encLen < 0 || ctrLen < 0 || macLen < 0 {
		return SdmOffsets{}, fmt.Errorf("compute offsets: %w: negative field length", ErrInvalidLength)
	}
	rec, err := ParseShortURIRecord(file)
	if err != nil {
		return SdmOffsets{}, err
	}
	tail := rec.Payload[1:]
	tailStart := rec.PayloadOffset + 1

	locate := func(name string, want int) (uint32, error) {
		i := findField(tail, name)
		if i < 0 {
			return 0, &FieldError{Field: name, Kind: FieldNotFound}
		}
		start := i + len(name) + 1
		if have := len(tail) - start; have < want {
			return 0, &FieldError{Field: name, Kind: FieldOutOfRange, Want: want, Have: have}
		}
		abs := tailStart + start
		if abs > maxU24 {
			return 0, fmt.Errorf("field %q: %w: offset %d exceeds 3 bytes", name, ErrInvalidLength, abs)
		}
		return uint32(abs), nil
	}

	var off SdmOffsets
	if off.EncOffset, err = locate("e", encLen); err != nil {
		return SdmOffsets{}, err
	}
	if off.CtrOffset, err = locate("c", ctrLen); err != nil {
		return SdmOffsets{}, err
	}
	if off.MacOffset, err = locate("m", macLen); err != nil {
		return SdmOffsets{}, err
	}
	off.EncLength = uint32(encLen)
	off.MacLength = uint32(macLen)
	return off, nil
}

// AutoDetectNDEFFile returns the first candidate file whose first 16 bytes
// look like an NDEF file holding a short record. Read failures on a
// candidate skip it; transport failures abort.
func AutoDetectNDEFFile(card Card, candidates []byte) (byte, error) {
	for _, fileNo := range candidates {
		head, err := ReadDataPlain(card, fileNo, 0, 16)
		if err != nil {
			if IsTransportError(err) {
				return 0, err
			}
			slog.Debug("ndef candidate skipped", "file_no", fileNo, "error", err)
			continue
		}
		if ok, reason := looksLikeNDEF(head); !ok {
			slog.Debug("ndef candidate rejected", "file_no", fileNo, "reason", reason)
			continue
		}
		slog.Debug("ndef file detected", "file_no", fileNo)
		return fileNo, nil
	}
	return 0, ErrNoNDEFFile
}

// SDMPlan is the outcome of ConfigureSDM: which file to rewrite and how.
type SDMPlan struct {
	FileNo   byte
	NDEF     []byte // NDEF file image the offsets were computed from
	Offsets  SdmOffsets
	Original []byte // GetFileSettings response before patching
	Patched  []byte // settings blob with all SDM offsets and lengths
	Payload  []byte // Patched in ChangeFileSettings layout for RewriteFileSettings
}

// ConfigureSDM detects the NDEF file, reads it, computes the SDM offsets and
// patches the file's current settings. Nothing is written to the tag.
func ConfigureSDM(card Card, candidates []byte, encLen, ctrLen, macLen int) (*SDMPlan, error) {
	fileNo, err := AutoDetectNDEFFile(card, candidates)
	if err != nil {
		return nil, err
	}
	file, err := ReadNDEFFile(card, fileNo)
	if err != nil {
		return nil, err
	}
	off, err := ComputeOffsets(file, encLen, ctrLen, macLen)
	if err != nil {
		return nil, fmt.Errorf("file %d: %w", fileNo, err)
	}
	raw, err := GetFileSettings(card, fileNo)
	if err != nil {
		return nil, err
	}
	blob, err := SettingsBlob(raw)
	if err != nil {
		return nil, fmt.Errorf("file %d: %w", fileNo, err)
	}
	patched, err := PatchFileSettings(blob, off)
	if err != nil {
		return nil, fmt.Errorf("file %d: %w", fileNo, err)
	}
	payload, err := ChangeSettingsPayload(patched)
	if err != nil {
		return nil, fmt.Errorf("file %d: %w", fileNo, err)
	}
	slog.Debug("sdm plan", "file_no", fileNo, "offsets", off.String())
	return &SDMPlan{
		FileNo:   fileNo,
		NDEF:     file,
		Offsets:  off,
		Original: raw,
		Patched:  patched,
		Payload:  payload,
	}, nil
}
