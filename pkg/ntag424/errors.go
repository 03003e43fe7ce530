package ntag424

import (
	"errors"
	"fmt"
)

// Status word constants for ISO 7816 and DESFire responses
const (
	// ISO 7816 status words
	SWSuccess              = 0x9000 // ISO success
	SWSecurityNotSatisfied = 0x6982 // Security status not satisfied (need auth)
	SWFileNotFound         = 0x6A82 // File not found
	SWWrongP1P2            = 0x6A86 // Incorrect P1/P2 parameters
	SWWrongLength          = 0x6700 // Wrong length
	SWWrongLe              = 0x6C00 // Wrong Le (mask: 0x6C00, correct Le in SW2)

	// DESFire status words
	SWDESFireOK     = 0x9100 // DESFire success (operation complete)
	SWMoreData      = 0x91AF // Additional frame expected
	SWLengthError   = 0x917E // Length error (wrong Le, bad fileNo, or format error)
	SWAuthError     = 0x91AE // Authentication error (wrong key for slot)
	SWPermDenied    = 0x919D // Permission denied (authenticated but insufficient rights)
	SWParameterErr  = 0x919E // Parameter error (invalid settings data)
	SWBoundaryError = 0x91BE // Boundary error (read past file end)
	SWIllegalCmd    = 0x911C // Illegal command code
	SWNoChanges     = 0x9140 // No changes (settings already match)
	SWIntegrityErr  = 0x911E // Integrity error (MAC or padding rejected by the tag)
	SWCommandAbort  = 0x91CA // Command aborted (general failure)
)

var (
	// ErrInvalidLength reports a buffer whose length breaks a block or framing rule.
	ErrInvalidLength = errors.New("invalid length")
	// ErrInvalidKeyLength reports a key that is not 16 bytes.
	ErrInvalidKeyLength = errors.New("invalid key length")
	// ErrAuthMismatch reports that the tag returned a RndA' that does not match RndA.
	ErrAuthMismatch = errors.New("rndA verification failed")
	// ErrResponseMAC reports a secure response whose MAC does not verify.
	ErrResponseMAC = errors.New("response MAC mismatch")
	// ErrSessionClosed is returned when a session is used after it was invalidated.
	ErrSessionClosed = errors.New("session is no longer usable")
	// ErrSessionBusy is returned when two secure commands overlap on one session.
	ErrSessionBusy = errors.New("session already has a command in flight")
	// ErrUnsupportedRecordForm reports an NDEF record that is not a short record.
	ErrUnsupportedRecordForm = errors.New("unsupported NDEF record form (short record required)")
	// ErrUnexpectedLayout reports a file settings buffer too short for the SDM layout.
	ErrUnexpectedLayout = errors.New("unexpected file settings layout")
	// ErrNoNDEFFile is returned when no candidate file holds a URI NDEF record.
	ErrNoNDEFFile = errors.New("no NDEF file found")
)

// SWError represents a status word error from the card.
type SWError struct {
	Cmd byte   // Command INS byte
	SW  uint16 // Status word
}

func (e *SWError) Error() string {
	return fmt.Sprintf("card command 0x%02X failed with SW=0x%04X (%s)", e.Cmd, e.SW, swDescription(e.SW))
}

// TransportError wraps an I/O failure while exchanging a frame with the tag.
// The tag may have been removed; any session in use must be discarded.
type TransportError struct {
	Cmd   byte
	Cause error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure on command 0x%02X: %v", e.Cmd, e.Cause)
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

// NDEFParseError reports malformed NDEF content.
type NDEFParseError struct {
	Reason string
}

func (e *NDEFParseError) Error() string {
	return "NDEF parse error: " + e.Reason
}

// FieldErrorKind distinguishes the two ways an SDM field lookup can fail.
type FieldErrorKind int

const (
	FieldNotFound FieldErrorKind = iota
	FieldOutOfRange
)

func (k FieldErrorKind) String() string {
	switch k {
	case FieldNotFound:
		return "not found"
	case FieldOutOfRange:
		return "out of range"
	default:
		return "unknown"
	}
}

// FieldError reports a dynamic URL field that is missing or too short.
type FieldError struct {
	Field string // "e", "c" or "m"
	Kind  FieldErrorKind
	Want  int // expected length (FieldOutOfRange only)
	Have  int // bytes available (FieldOutOfRange only)
}

func (e *FieldError) Error() string {
	if e.Kind == FieldOutOfRange {
		return fmt.Sprintf("SDM field %q out of range: want %d bytes, have %d", e.Field, e.Want, e.Have)
	}
	return fmt.Sprintf("SDM field %q %s", e.Field, e.Kind)
}

// IsFieldNotFound reports whether err is a FieldError of kind FieldNotFound.
func IsFieldNotFound(err error) bool {
	var fe *FieldError
	return errors.As(err, &fe) && fe.Kind == FieldNotFound
}

// IsFieldOutOfRange reports whether err is a FieldError of kind FieldOutOfRange.
func IsFieldOutOfRange(err error) bool {
	var fe *FieldError
	return errors.As(err, &fe) && fe.Kind == FieldOutOfRange
}

// swDescription returns a human-readable description of a status word.
func swDescription(sw uint16) string {
	switch sw {
	case SWSuccess:
		return "success"
	case SWDESFireOK:
		return "DESFire OK"
	case SWMoreData:
		return "more data expected"
	case SWLengthError:
		return "length error"
	case SWAuthError:
		return "authentication error"
	case SWPermDenied:
		return "permission denied"
	case SWParameterErr:
		return "parameter error"
	case SWBoundaryError:
		return "boundary error"
	case SWIllegalCmd:
		return "illegal command"
	case SWNoChanges:
		return "no changes"
	case SWIntegrityErr:
		return "integrity error"
	case SWCommandAbort:
		return "command aborted"
	case SWSecurityNotSatisfied:
		return "security not satisfied"
	case SWFileNotFound:
		return "file not found"
	case SWWrongP1P2:
		return "wrong P1/P2"
	case SWWrongLength:
		return "wrong length"
	default:
		if (sw & 0xFF00) == SWWrongLe {
			return fmt.Sprintf("wrong Le (correct Le=%d)", sw&0xFF)
		}
		return "unknown error"
	}
}

// StatusWord extracts the raw status word carried by err, if any.
// Authentication failures report the SW of the failing step.
func StatusWord(err error) (uint16, bool) {
	var swErr *SWError
	if errors.As(err, &swErr) {
		return swErr.SW, true
	}
	var authErr *AuthError
	if errors.As(err, &authErr) && authErr.SW != 0 {
		return authErr.SW, true
	}
	return 0, false
}

// IsLengthError checks if an error is a length-related status word error.
func IsLengthError(err error) bool {
	sw, ok := StatusWord(err)
	return ok && (sw == SWLengthError || sw == SWWrongLength || (sw&0xFF00) == SWWrongLe)
}

// IsAuthError checks if an error is an authentication-related status word error.
// Callers use this to decide whether to retry with another key.
func IsAuthError(err error) bool {
	sw, ok := StatusWord(err)
	return ok && (sw == SWAuthError || sw == SWSecurityNotSatisfied)
}

// IsBoundaryError checks if an error is a boundary error (read past file end).
func IsBoundaryError(err error) bool {
	sw, ok := StatusWord(err)
	return ok && sw == SWBoundaryError
}

// IsPermissionDenied checks if an error is a permission denied error.
func IsPermissionDenied(err error) bool {
	sw, ok := StatusWord(err)
	return ok && sw == SWPermDenied
}

// IsTransportError reports whether err was caused by a failed exchange with the tag.
func IsTransportError(err error) bool {
	var tErr *TransportError
	return errors.As(err, &tErr)
}

// SwOK checks if a status word indicates success (ISO 9000 or DESFire 9100).
func SwOK(sw uint16) bool {
	return sw == SWSuccess || sw == SWDESFireOK
}
