package ntag424

import (
	"fmt"
	"io"
)

// accessLabel returns a human-readable label for an access rights nibble.
func accessLabel(keyNo byte) string {
	switch keyNo {
	case 0x0E:
		return "free            (no key needed)"
	case 0x0F:
		return "denied          (never)"
	default:
		return fmt.Sprintf("Key slot %d", keyNo)
	}
}

// PrintFileSettings writes file settings in a human-readable format.
// label is a heading such as "CURRENT" or "PATCHED".
func PrintFileSettings(w io.Writer, label string, fileNo byte, fs *FileSettings) {
	readKey := (fs.AR2 >> 4) & 0x0F
	writeKey := fs.AR2 & 0x0F
	rwKey := (fs.AR1 >> 4) & 0x0F
	changeKey := fs.AR1 & 0x0F

	fmt.Fprintf(w, "  %s - File %d access rights:    [raw: %02X %02X]\n", label, fileNo, fs.AR1, fs.AR2)
	fmt.Fprintf(w, "    Read data:        %s\n", accessLabel(readKey))
	fmt.Fprintf(w, "    Write data:       %s\n", accessLabel(writeKey))
	fmt.Fprintf(w, "    Read+Write:       %s\n", accessLabel(rwKey))
	fmt.Fprintf(w, "    Change settings:  %s\n", accessLabel(changeKey))

	if !fs.SDMEnabled() {
		fmt.Fprintln(w, "  SDM config:                         [disabled]")
		return
	}
	fmt.Fprintf(w, "  SDM config:                         [enabled, opts 0x%02X]\n", fs.SDMOptions)
	fmt.Fprintf(w, "    MAC generation:   %s\n", accessLabel(fs.SDMFile))
	fmt.Fprintf(w, "    Counter read:     %s\n", accessLabel(fs.SDMCtr))
	fmt.Fprintf(w, "    Meta read:        %s\n", accessLabel(fs.SDMMeta))
	fmt.Fprintf(w, "    Offsets:          uid=%06X ctr=%06X macin=%06X enc=%06X+%d mac=%06X\n",
		fs.UIDOffset, fs.CtrOffset, fs.MACInputOffset, fs.ENCOffset, fs.ENCLength, fs.MACOffset)
}
