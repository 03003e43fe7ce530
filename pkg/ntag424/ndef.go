package ntag424

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/hsanjuan/go-ndef"
)

// NDEF record header flags.
const (
	ndefFlagMB  = 0x80
	ndefFlagME  = 0x40
	ndefFlagCF  = 0x20
	ndefFlagSR  = 0x10
	ndefFlagIL  = 0x08
	ndefTNFMask = 0x07

	tnfWellKnown   = 0x01
	tnfAbsoluteURI = 0x03

	// maxNLEN is the largest NDEF message length a tag file can announce.
	maxNLEN = 8191
	// ndefFileSize is the size of the NTAG 424 DNA NDEF file (file 2).
	ndefFileSize = 256
)

// NDEFRecord is a parsed short-form URI record.
type NDEFRecord struct {
	Header        byte
	TypeLength    int
	PayloadLength int
	IDLength      int
	Type          []byte
	ID            []byte
	Payload       []byte // prefix code followed by the URI tail
	PayloadOffset int    // offset of Payload[0] within the file buffer

	raw []byte // the record bytes, header to end of payload
}

// URI decodes the record with go-ndef and returns the expanded URI,
// abbreviation prefix included.
func (r *NDEFRecord) URI() (string, error) {
	msg := &ndef.Message{}
	if _, err := msg.Unmarshal(r.raw); err != nil {
		return "", &NDEFParseError{Reason: err.Error()}
	}
	if len(msg.Records) == 0 {
		return "", &NDEFParseError{Reason: "no records"}
	}
	payload, err := msg.Records[0].Payload()
	if err != nil {
		return "", &NDEFParseError{Reason: err.Error()}
	}
	return payload.String(), nil
}

// ParseShortURIRecord parses the first record of an NDEF file image
// (NLEN(2) || record). Only single short well-known "U" records are accepted.
func ParseShortURIRecord(file []byte) (*NDEFRecord, error) {
	if len(file) < 2 {
		return nil, &NDEFParseError{Reason: "buffer shorter than NLEN"}
	}
	nlen := int(file[0])<<8 | int(file[1])
	if nlen == 0 {
		return nil, &NDEFParseError{Reason: "empty NDEF message"}
	}
	if len(file) < 5 {
		return nil, &NDEFParseError{Reason: "record header truncated"}
	}

	hdr := file[2]
	if tnf := hdr & ndefTNFMask; tnf != tnfWellKnown {
		return nil, &NDEFParseError{Reason: fmt.Sprintf("TNF %d is not well-known", tnf)}
	}
	if hdr&ndefFlagSR == 0 {
		return nil, ErrUnsupportedRecordForm
	}

	rec := &NDEFRecord{
		Header:        hdr,
		TypeLength:    int(file[3]),
		PayloadLength: int(file[4]),
	}
	pos := 5
	if hdr&ndefFlagIL != 0 {
		if len(file) < 6 {
			return nil, &NDEFParseError{Reason: "ID length truncated"}
		}
		rec.IDLength = int(file[5])
		pos = 6
	}

	if pos+rec.TypeLength > len(file) {
		return nil, &NDEFParseError{Reason: "type exceeds buffer"}
	}
	rec.Type = file[pos : pos+rec.TypeLength]
	pos += rec.TypeLength
	if string(rec.Type) != "U" {
		return nil, &NDEFParseError{Reason: fmt.Sprintf("record type %q is not a URI", rec.Type)}
	}

	if pos+rec.IDLength > len(file) {
		return nil, &NDEFParseError{Reason: "ID exceeds buffer"}
	}
	rec.ID = file[pos : pos+rec.IDLength]
	pos += rec.IDLength

	if rec.PayloadLength < 1 {
		return nil, &NDEFParseError{Reason: "URI payload has no prefix code"}
	}
	if pos+rec.PayloadLength > len(file) {
		return nil, &NDEFParseError{Reason: fmt.Sprintf("payload of %d bytes at %d exceeds %d-byte buffer", rec.PayloadLength, pos, len(file))}
	}
	rec.PayloadOffset = pos
	rec.Payload = file[pos : pos+rec.PayloadLength]
	rec.raw = file[2 : pos+rec.PayloadLength]
	return rec, nil
}

// looksLikeNDEF reports whether the first bytes of a file carry a plausible
// NLEN and a short well-known or absolute-URI record header.
func looksLikeNDEF(b []byte) (bool, string) {
	if len(b) < 3 {
		return false, "fewer than 3 bytes"
	}
	nlen := int(b[0])<<8 | int(b[1])
	if nlen > maxNLEN {
		return false, fmt.Sprintf("NLEN %d out of range", nlen)
	}
	hdr := b[2]
	if hdr&ndefFlagSR == 0 {
		return false, "not a short record"
	}
	if hdr&ndefFlagCF != 0 {
		return false, "chunked record"
	}
	if tnf := hdr & ndefTNFMask; tnf != tnfWellKnown && tnf != tnfAbsoluteURI {
		return false, fmt.Sprintf("TNF %d", tnf)
	}
	return true, ""
}

// BuildSDMTemplate builds an NDEF file image (NLEN || short URI record) for
// baseURL with zero placeholders for the e=, c= and m= fields, in that order.
// Other query parameters are kept after them. The returned URL is the one
// encoded in the record.
func BuildSDMTemplate(baseURL string, encLen, ctrLen, macLen int) ([]byte, string, error) {
	if encLen <= 0 || ctrLen <= 0 || macLen <= 0 {
		return nil, "", fmt.Errorf("template: %w: field lengths must be positive", ErrInvalidLength)
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, "", fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, "", fmt.Errorf("URL must be absolute (include scheme and host)")
	}
	parsed.Fragment = ""

	// url.Values.Encode sorts keys; the placeholders must keep their order.
	params := []string{
		"e=" + strings.Repeat("0", encLen),
		"c=" + strings.Repeat("0", ctrLen),
		"m=" + strings.Repeat("0", macLen),
	}
	query := parsed.Query()
	keys := make([]string, 0, len(query))
	for key := range query {
		if key != "e" && key != "c" && key != "m" {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	for _, key := range keys {
		for _, value := range query[key] {
			params = append(params, url.QueryEscape(key)+"="+url.QueryEscape(value))
		}
	}
	parsed.RawQuery = strings.Join(params, "&")
	fullURL := parsed.String()

	uriRecord := ndef.NewURIRecord(fullURL)
	uriRecord.SetMB(true)
	uriRecord.SetME(true)
	record, err := ndef.NewMessageFromRecords(uriRecord).Marshal()
	if err != nil {
		return nil, "", fmt.Errorf("marshal NDEF: %w", err)
	}
	if 2+len(record) > ndefFileSize {
		return nil, "", fmt.Errorf("template: %w: NDEF image of %d bytes exceeds file size %d", ErrInvalidLength, 2+len(record), ndefFileSize)
	}
	file := make([]byte, 0, 2+len(record))
	file = append(file, byte(len(record)>>8), byte(len(record)))
	file = append(file, record...)
	return file, fullURL, nil
}
