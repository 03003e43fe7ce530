package ntag424

import (
	"bytes"
	"crypto/aes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

var (
	testRndA = []byte{
		0x13, 0xC5, 0xDB, 0x8A, 0x59, 0x30, 0x43, 0x9F,
		0xC3, 0xDE, 0xF9, 0xA4, 0xC6, 0x75, 0x36, 0x0F,
	}
	testRndB = []byte{
		0xB9, 0xE2, 0xFC, 0x78, 0x9B, 0x64, 0xBF, 0x23,
		0x7C, 0xCC, 0xAA, 0x20, 0xEC, 0x7E, 0x6E, 0x48,
	}
	testTI     = []byte{0x9D, 0x00, 0xC4, 0xDF}
	testAppKey = []byte{
		0x00, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77,
		0x88, 0x99, 0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF,
	}
)

// fakeTag plays the tag side of EV2First, full-mode secure messaging and
// the plain native commands used by this package.
type fakeTag struct {
	t *testing.T

	keys     map[byte][]byte
	files    map[byte][]byte
	settings map[byte][]byte
	written  map[byte][]byte // ChangeFileSettings payloads

	rndB []byte
	ti   []byte
	iv   HandshakeIV

	// auth in progress
	pendingSlot byte
	pending     bool
	challenge   []byte

	// active session
	kenc, kmac []byte
	ctr        uint16
	keyNo      byte
	authed     bool

	corruptRndA  bool
	corruptMAC   bool
	rejectSecure uint16
	transportErr error

	frames [][]byte
}

func newFakeTag(t *testing.T) *fakeTag {
	return &fakeTag{
		t:        t,
		keys:     map[byte][]byte{0: DefaultKey(), 1: DefaultKey(), 2: DefaultKey(), 3: DefaultKey(), 4: DefaultKey()},
		files:    map[byte][]byte{},
		settings: map[byte][]byte{},
		written:  map[byte][]byte{},
		rndB:     testRndB,
		ti:       testTI,
	}
}

func sw(code uint16) []byte {
	return []byte{byte(code >> 8), byte(code)}
}

func (f *fakeTag) Transmit(apdu []byte) ([]byte, error) {
	f.frames = append(f.frames, append([]byte(nil), apdu...))
	if f.transportErr != nil {
		return nil, f.transportErr
	}
	require.GreaterOrEqual(f.t, len(apdu), 5, "frame too short")
	require.Equal(f.t, byte(0x90), apdu[0], "unexpected CLA")

	var body []byte
	if len(apdu) > 5 {
		lc := int(apdu[4])
		require.Equal(f.t, 5+lc+1, len(apdu), "Lc disagrees with frame length")
		body = apdu[5 : 5+lc]
	}

	switch cmd := apdu[1]; cmd {
	case 0x71:
		return f.authStep1(body)
	case 0xAF:
		return f.authStep2(body)
	case 0x6F:
		ids := make([]byte, 0, len(f.files))
		for id := byte(0); id < 32; id++ {
			if _, ok := f.files[id]; ok {
				ids = append(ids, id)
			}
		}
		return append(ids, sw(SWDESFireOK)...), nil
	case 0xF5:
		if f.authed && len(body) > 1 {
			return f.secure(cmd, 1, body)
		}
		raw, ok := f.settings[body[0]]
		if !ok {
			return sw(SWLengthError), nil
		}
		return append(append([]byte(nil), raw...), sw(SWDESFireOK)...), nil
	case 0xBD:
		return f.readData(body)
	case 0xC4, 0x5F:
		return f.secure(cmd, 1, body)
	default:
		return sw(SWIllegalCmd), nil
	}
}

func (f *fakeTag) authStep1(body []byte) ([]byte, error) {
	f.authed = false
	key, ok := f.keys[body[0]]
	if !ok {
		return sw(SWAuthError), nil
	}
	enc, err := EncryptCBC(key, make([]byte, 16), f.rndB)
	require.NoError(f.t, err)
	f.pending = true
	f.pendingSlot = body[0]
	f.challenge = enc
	return append(enc, sw(SWMoreData)...), nil
}

func (f *fakeTag) authStep2(body []byte) ([]byte, error) {
	if !f.pending {
		return sw(SWCommandAbort), nil
	}
	f.pending = false
	key := f.keys[f.pendingSlot]
	ivPCD, ivPICC := make([]byte, 16), make([]byte, 16)
	if f.iv == ChainedIV {
		ivPCD, ivPICC = f.challenge, body[16:32]
	}
	dec, err := DecryptCBC(key, ivPCD, body)
	require.NoError(f.t, err)
	rndA := dec[:16]
	if !bytes.Equal(dec[16:32], rotateLeft1(f.rndB)) {
		return sw(SWAuthError), nil
	}

	rndARot := rotateLeft1(rndA)
	if f.corruptRndA {
		rndARot[0] ^= 0xFF
	}
	plain := make([]byte, 32)
	copy(plain, f.ti)
	copy(plain[4:], rndARot)
	enc, err := EncryptCBC(key, ivPICC, plain)
	require.NoError(f.t, err)

	f.kenc, f.kmac = tagSessionKeys(f.t, key, rndA, f.rndB)
	f.ctr = 0
	f.keyNo = f.pendingSlot
	f.authed = true
	return append(enc, sw(SWDESFireOK)...), nil
}

// tagSessionKeys derives Kenc and Kmac the long way, independent of
// sessionVectors.
func tagSessionKeys(t *testing.T, key, rndA, rndB []byte) (kenc, kmac []byte) {
	ctx := []byte{}
	ctx = append(ctx, rndA[0], rndA[1])
	for i := 0; i < 6; i++ {
		ctx = append(ctx, rndA[2+i]^rndB[i])
	}
	ctx = append(ctx, rndB[6:]...)
	ctx = append(ctx, rndA[8:]...)

	sv1 := append([]byte{0xA5, 0x5A, 0x00, 0x01, 0x00, 0x80}, ctx...)
	sv2 := append([]byte{0x5A, 0xA5, 0x00, 0x01, 0x00, 0x80}, ctx...)
	kenc, err := CMAC(key, sv1)
	require.NoError(t, err)
	kmac, err = CMAC(key, sv2)
	require.NoError(t, err)
	return kenc, kmac
}

func (f *fakeTag) ivFor(l0, l1 byte, ctr uint16) []byte {
	seed := []byte{l0, l1, f.ti[0], f.ti[1], f.ti[2], f.ti[3], byte(ctr), byte(ctr >> 8), 0, 0, 0, 0, 0, 0, 0, 0}
	iv, err := EncryptBlock(f.kenc, seed)
	require.NoError(f.t, err)
	return iv
}

func (f *fakeTag) secure(cmd byte, hdrLen int, body []byte) ([]byte, error) {
	if !f.authed {
		return sw(SWSecurityNotSatisfied), nil
	}
	require.GreaterOrEqual(f.t, len(body), hdrLen+8)
	hdr := body[:hdrLen]
	enc := body[hdrLen : len(body)-8]
	mac := body[len(body)-8:]

	macIn := []byte{cmd, byte(f.ctr), byte(f.ctr >> 8)}
	macIn = append(macIn, f.ti...)
	macIn = append(macIn, hdr...)
	macIn = append(macIn, enc...)
	want, err := macTruncated(f.kmac, macIn)
	require.NoError(f.t, err)
	if !bytes.Equal(mac, want) {
		f.authed = false
		return sw(SWIntegrityErr), nil
	}

	var data []byte
	if len(enc) > 0 {
		dec, err := DecryptCBC(f.kenc, f.ivFor(0xA5, 0x5A, f.ctr), enc)
		require.NoError(f.t, err)
		data, err = unpadISO9797M2(dec)
		require.NoError(f.t, err)
	}
	f.ctr++

	if f.rejectSecure != 0 {
		f.authed = false
		return sw(f.rejectSecure), nil
	}

	var out []byte
	switch cmd {
	case 0xC4:
		slot := hdr[0]
		if slot == f.keyNo {
			require.Len(f.t, data, 17)
			f.keys[slot] = append([]byte(nil), data[:16]...)
			f.authed = false
			return sw(SWDESFireOK), nil
		}
		require.Len(f.t, data, 21)
		newKey := make([]byte, 16)
		xorBlock(newKey, data[:16], f.keys[slot])
		crc := CRC32DESFire(newKey)
		require.Equal(f.t, []byte{byte(crc), byte(crc >> 8), byte(crc >> 16), byte(crc >> 24)}, data[17:21])
		f.keys[slot] = newKey
	case 0x5F:
		f.written[hdr[0]] = data
	case 0xF5:
		out = f.settings[hdr[0]]
	}
	return f.respond(out)
}

func (f *fakeTag) respond(data []byte) ([]byte, error) {
	var enc []byte
	if len(data) > 0 {
		var err error
		enc, err = EncryptCBC(f.kenc, f.ivFor(0x5A, 0xA5, f.ctr), padISO9797M2(data))
		require.NoError(f.t, err)
	}
	macIn := []byte{0x00, byte(f.ctr), byte(f.ctr >> 8)}
	macIn = append(macIn, f.ti...)
	macIn = append(macIn, enc...)
	mac, err := macTruncated(f.kmac, macIn)
	require.NoError(f.t, err)
	if f.corruptMAC {
		mac[7] ^= 0x01
	}
	resp := append(enc, mac...)
	return append(resp, sw(SWDESFireOK)...), nil
}

func (f *fakeTag) readData(body []byte) ([]byte, error) {
	require.Len(f.t, body, 7)
	file, ok := f.files[body[0]]
	if !ok {
		return sw(SWLengthError), nil
	}
	off := int(readU24le(body, 1))
	n := int(readU24le(body, 4))
	if n == 0 {
		n = len(file) - off
	}
	if off+n > len(file) {
		return sw(SWBoundaryError), nil
	}
	return append(append([]byte(nil), file[off:off+n]...), sw(SWDESFireOK)...), nil
}

func (f *fakeTag) lastFrame() []byte {
	require.NotEmpty(f.t, f.frames)
	return f.frames[len(f.frames)-1]
}

// authenticate runs EV2First against the fake tag with the fixed RndA and
// the tag's IV mode.
func authenticate(t *testing.T, tag *fakeTag, key []byte, keyNo byte) *Session {
	t.Helper()
	sess, err := AuthenticateEV2FirstWithRand(tag, key, keyNo, bytes.NewReader(testRndA), WithHandshakeIV(tag.iv))
	require.NoError(t, err)
	return sess
}

// decryptBlock is the inverse of EncryptBlock, used to recover IV seeds.
func decryptBlock(t *testing.T, key, in []byte) []byte {
	t.Helper()
	block, err := aes.NewCipher(key)
	require.NoError(t, err)
	out := make([]byte, 16)
	block.Decrypt(out, in)
	return out
}

var errUnplugged = errors.New("tag removed")
