package ntag424

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// AuthState is the position of an EV2First handshake.
type AuthState int

const (
	AuthIdle AuthState = iota
	AuthAwaitingChallenge
	AuthAuthenticated
	AuthFailed
)

func (s AuthState) String() string {
	switch s {
	case AuthIdle:
		return "idle"
	case AuthAwaitingChallenge:
		return "awaiting-challenge"
	case AuthAuthenticated:
		return "authenticated"
	case AuthFailed:
		return "failed"
	default:
		return fmt.Sprintf("AuthState(%d)", int(s))
	}
}

// AuthError represents an authentication failure at a specific step.
type AuthError struct {
	Step    string // "step1" or "step2"
	SW      uint16 // Status word (if applicable)
	RespLen int    // Response length (if applicable)
	Cause   error  // Underlying error
}

func (e *AuthError) Error() string {
	if e == nil {
		return "auth error"
	}
	if e.Cause != nil {
		return fmt.Sprintf("auth %s failed: %v", e.Step, e.Cause)
	}
	return fmt.Sprintf("auth %s failed (SW=%04X len=%d)", e.Step, e.SW, e.RespLen)
}

func (e *AuthError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// ClassifyAuthError extracts details from an AuthError.
func ClassifyAuthError(err error) (step string, sw uint16, respLen int, ok bool) {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.Step, authErr.SW, authErr.RespLen, true
	}
	return "", 0, 0, false
}

// DefaultKey returns the factory default all-zero AES key.
func DefaultKey() []byte {
	return make([]byte, keySize)
}

// HandshakeIV selects the IVs of the two EV2First cryptograms.
type HandshakeIV int

const (
	// ChainedIV encrypts RndA||RndB' with the tag's challenge cryptogram as
	// IV and decrypts the tag's answer with the last block of that
	// ciphertext as IV.
	ChainedIV HandshakeIV = iota
	// ZeroIV uses an all-zero IV for both cryptograms (NXP AN12196).
	ZeroIV
)

func (v HandshakeIV) String() string {
	switch v {
	case ChainedIV:
		return "chained"
	case ZeroIV:
		return "zero"
	default:
		return fmt.Sprintf("HandshakeIV(%d)", int(v))
	}
}

// AuthOption configures AuthenticateEV2First.
type AuthOption func(*handshake)

// WithHandshakeIV selects the cryptogram IVs. The default is ChainedIV.
func WithHandshakeIV(iv HandshakeIV) AuthOption {
	return func(h *handshake) {
		h.ivMode = iv
	}
}

// AuthenticateEV2First performs EV2First authentication with the card using
// crypto/rand for RndA.
func AuthenticateEV2First(card Card, key []byte, keyNo byte, opts ...AuthOption) (*Session, error) {
	return AuthenticateEV2FirstWithRand(card, key, keyNo, rand.Reader, opts...)
}

// AuthenticateEV2FirstWithRand runs the two-phase challenge-response
// handshake, drawing RndA from rnd. The challenge is always decrypted under
// a zero IV; the later cryptograms follow the HandshakeIV option. On success
// the returned Session carries Kenc, Kmac and TI with the command counter at
// 0. No I/O happens when the key is malformed.
func AuthenticateEV2FirstWithRand(card Card, key []byte, keyNo byte, rnd io.Reader, opts ...AuthOption) (*Session, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("authenticate: %w: got %d bytes", ErrInvalidKeyLength, len(key))
	}
	h := &handshake{card: card, key: key, keyNo: keyNo, rnd: rnd}
	for _, opt := range opts {
		opt(h)
	}
	sess, err := h.run()
	if err != nil {
		h.transition(AuthFailed)
		return nil, err
	}
	return sess, nil
}

type handshake struct {
	card   Card
	key    []byte
	keyNo  byte
	rnd    io.Reader
	ivMode HandshakeIV
	state  AuthState
}

func (h *handshake) transition(to AuthState) {
	slog.Debug("auth state", "keyNo", h.keyNo, "from", h.state, "to", to)
	h.state = to
}

func (h *handshake) run() (*Session, error) {
	iv0 := make([]byte, blockSize)

	// Phase 1: Send keyNo, receive encrypted RndB
	apdu1 := []byte{0x90, 0x71, 0x00, 0x00, 0x02, h.keyNo, 0x00, 0x00}
	h.transition(AuthAwaitingChallenge)
	resp1, sw, err := Transmit(h.card, apdu1)
	if err != nil {
		return nil, &AuthError{Step: "step1", Cause: err}
	}
	if sw != SWMoreData || len(resp1) != blockSize {
		return nil, &AuthError{Step: "step1", SW: sw, RespLen: len(resp1)}
	}
	rndB, err := DecryptCBC(h.key, iv0, resp1)
	if err != nil {
		return nil, &AuthError{Step: "step1", Cause: err}
	}

	rndA := make([]byte, blockSize)
	if _, err := io.ReadFull(h.rnd, rndA); err != nil {
		return nil, &AuthError{Step: "step1", Cause: fmt.Errorf("generate RndA: %w", err)}
	}

	// Phase 2: Send encrypted RndA||RndB', receive encrypted TI||RndA'
	rndAB := append(append([]byte{}, rndA...), rotateLeft1(rndB)...)
	ivPCD := iv0
	if h.ivMode == ChainedIV {
		ivPCD = resp1
	}
	rndABEnc, err := EncryptCBC(h.key, ivPCD, rndAB)
	if err != nil {
		return nil, &AuthError{Step: "step2", Cause: err}
	}
	apdu2 := make([]byte, 0, 6+len(rndABEnc))
	apdu2 = append(apdu2, 0x90, 0xAF, 0x00, 0x00, 0x20)
	apdu2 = append(apdu2, rndABEnc...)
	apdu2 = append(apdu2, 0x00)
	resp2, sw, err := Transmit(h.card, apdu2)
	if err != nil {
		return nil, &AuthError{Step: "step2", Cause: err}
	}
	if sw != SWDESFireOK || len(resp2) < 32 {
		return nil, &AuthError{Step: "step2", SW: sw, RespLen: len(resp2)}
	}

	// TI(4) || RndA'(16) || PDcap2(6) || PCDcap2(6)
	ivPICC := iv0
	if h.ivMode == ChainedIV {
		ivPICC = rndABEnc[16:32]
	}
	dec, err := DecryptCBC(h.key, ivPICC, resp2[:32])
	if err != nil {
		return nil, &AuthError{Step: "step2", Cause: err}
	}
	ti := dec[:4]
	if !bytes.Equal(dec[4:20], rotateLeft1(rndA)) {
		return nil, &AuthError{Step: "step2", SW: sw, RespLen: len(resp2), Cause: ErrAuthMismatch}
	}

	kenc, kmac, err := DeriveSessionKeys(h.key, rndA, rndB)
	if err != nil {
		return nil, &AuthError{Step: "step2", Cause: err}
	}

	slog.Debug("session established",
		"keyNo", h.keyNo,
		"iv", h.ivMode,
		"ti", strings.ToUpper(hex.EncodeToString(ti)))

	h.transition(AuthAuthenticated)
	return newSession(ti, kenc, kmac, h.keyNo), nil
}

// sessionVectors builds SV1 and SV2 from the two random challenges:
//
//	SV1 = A5 5A 00 01 00 80 || ctx
//	SV2 = 5A A5 00 01 00 80 || ctx
//	ctx = RndA[15:14] || (RndA[13:8] ^ RndB[15:10]) || RndB[9:0] || RndA[7:0]
//
// Indices follow NXP's MSB-first numbering, so RndA[15:14] is rndA[0:2].
func sessionVectors(rndA, rndB []byte) (sv1, sv2 []byte) {
	ctx := make([]byte, 26)
	copy(ctx[0:2], rndA[0:2])
	for i := 0; i < 6; i++ {
		ctx[2+i] = rndA[2+i] ^ rndB[i]
	}
	copy(ctx[8:18], rndB[6:16])
	copy(ctx[18:26], rndA[8:16])

	sv1 = append([]byte{0xA5, 0x5A, 0x00, 0x01, 0x00, 0x80}, ctx...)
	sv2 = append([]byte{0x5A, 0xA5, 0x00, 0x01, 0x00, 0x80}, ctx...)
	return sv1, sv2
}

// DeriveSessionKeys computes Kenc = CMAC(key, SV1) and Kmac = CMAC(key, SV2).
func DeriveSessionKeys(key, rndA, rndB []byte) (kenc, kmac []byte, err error) {
	if len(rndA) != blockSize || len(rndB) != blockSize {
		return nil, nil, fmt.Errorf("derive session keys: %w: RndA=%d RndB=%d", ErrInvalidLength, len(rndA), len(rndB))
	}
	sv1, sv2 := sessionVectors(rndA, rndB)
	if kenc, err = CMAC(key, sv1); err != nil {
		return nil, nil, err
	}
	if kmac, err = CMAC(key, sv2); err != nil {
		return nil, nil, err
	}
	return kenc, kmac, nil
}
