package ntag424

import "fmt"

// TagVersion holds the hardware and software version information from GetVersion.
type TagVersion struct {
	HWVendorID    byte
	HWType        byte
	HWSubType     byte
	HWMajorVer    byte
	HWMinorVer    byte
	HWStorageSize byte
	HWProtocol    byte
	SWVendorID    byte
	SWType        byte
	SWSubType     byte
	SWMajorVer    byte
	SWMinorVer    byte
	SWStorageSize byte
	SWProtocol    byte
	UID           []byte // 7-byte UID
	BatchNo       []byte // batch number, low nibble of the last byte carries FabKey bits
	ProdWeek      byte   // BCD calendar week
	ProdYear      byte   // BCD year
}

func (v *TagVersion) String() string {
	return fmt.Sprintf("HW %d.%d SW %d.%d UID %X batch %X (20%02X week %02X)",
		v.HWMajorVer, v.HWMinorVer, v.SWMajorVer, v.SWMinorVer, v.UID, v.BatchNo, v.ProdYear, v.ProdWeek)
}

// GetVersion runs the three-frame GetVersion exchange (INS 0x60, then two
// additional frames).
func GetVersion(card Card) (*TagVersion, error) {
	frames := [3][]byte{}
	wantLen := [3]int{7, 7, 14}
	for i := range frames {
		cmd := byte(0x60)
		if i > 0 {
			cmd = 0xAF
		}
		resp, sw, err := Transmit(card, []byte{0x90, cmd, 0x00, 0x00, 0x00})
		if err != nil {
			return nil, err
		}
		wantSW := uint16(SWMoreData)
		if i == 2 {
			wantSW = SWDESFireOK
		}
		if sw != wantSW {
			return nil, fmt.Errorf("GetVersion part %d: %w", i+1, &SWError{Cmd: cmd, SW: sw})
		}
		// Tags with a 7-byte UID answer 14 bytes; a trailing FabKey ID extends it.
		if len(resp) < wantLen[i] {
			return nil, fmt.Errorf("GetVersion part %d: %w: got %d bytes", i+1, ErrInvalidLength, len(resp))
		}
		frames[i] = resp
	}

	r1, r2, r3 := frames[0], frames[1], frames[2]
	return &TagVersion{
		HWVendorID:    r1[0],
		HWType:        r1[1],
		HWSubType:     r1[2],
		HWMajorVer:    r1[3],
		HWMinorVer:    r1[4],
		HWStorageSize: r1[5],
		HWProtocol:    r1[6],
		SWVendorID:    r2[0],
		SWType:        r2[1],
		SWSubType:     r2[2],
		SWMajorVer:    r2[3],
		SWMinorVer:    r2[4],
		SWStorageSize: r2[5],
		SWProtocol:    r2[6],
		UID:           append([]byte(nil), r3[0:7]...),
		BatchNo:       append([]byte(nil), r3[7:12]...),
		ProdWeek:      r3[12],
		ProdYear:      r3[13],
	}, nil
}
