package ntag424

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
)

const (
	blockSize = aes.BlockSize
	keySize   = 16
)

var errBadPadding = errors.New("bad padding")

func newBlock(key []byte) (cipher.Block, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidKeyLength, len(key))
	}
	return aes.NewCipher(key)
}

// EncryptBlock encrypts exactly one 16-byte block with no chaining.
func EncryptBlock(key, in []byte) ([]byte, error) {
	if len(in) != blockSize {
		return nil, fmt.Errorf("ECB input: %w: got %d bytes", ErrInvalidLength, len(in))
	}
	block, err := newBlock(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, blockSize)
	block.Encrypt(out, in)
	return out, nil
}

// EncryptCBC encrypts block-aligned plaintext. No padding is applied.
func EncryptCBC(key, iv, data []byte) ([]byte, error) {
	block, err := cbcCheck(key, iv, data)
	if err != nil {
		return nil, fmt.Errorf("CBC encrypt: %w", err)
	}
	out := make([]byte, len(data))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, data)
	return out, nil
}

// DecryptCBC decrypts block-aligned ciphertext. Padding is left in place.
func DecryptCBC(key, iv, data []byte) ([]byte, error) {
	block, err := cbcCheck(key, iv, data)
	if err != nil {
		return nil, fmt.Errorf("CBC decrypt: %w", err)
	}
	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, data)
	return out, nil
}

func cbcCheck(key, iv, data []byte) (cipher.Block, error) {
	if len(iv) != blockSize {
		return nil, fmt.Errorf("%w: IV is %d bytes", ErrInvalidLength, len(iv))
	}
	if len(data)%blockSize != 0 {
		return nil, fmt.Errorf("%w: data not block aligned (%d bytes)", ErrInvalidLength, len(data))
	}
	return newBlock(key)
}

// padISO9797M2 appends 0x80 and zero-fills to the next block boundary.
// Aligned input still gains a full block.
func padISO9797M2(data []byte) []byte {
	padLen := blockSize - (len(data) % blockSize)
	out := make([]byte, len(data)+padLen)
	copy(out, data)
	out[len(data)] = 0x80
	return out
}

func unpadISO9797M2(data []byte) ([]byte, error) {
	idx := len(data) - 1
	for idx >= 0 && data[idx] == 0x00 {
		idx--
	}
	if idx < 0 || data[idx] != 0x80 || len(data)-idx > blockSize {
		return nil, errBadPadding
	}
	return data[:idx], nil
}

func rotateLeft1(in []byte) []byte {
	out := make([]byte, len(in))
	if len(in) == 0 {
		return out
	}
	copy(out, in[1:])
	out[len(in)-1] = in[0]
	return out
}

func rotateRight1(in []byte) []byte {
	out := make([]byte, len(in))
	if len(in) == 0 {
		return out
	}
	out[0] = in[len(in)-1]
	copy(out[1:], in[:len(in)-1])
	return out
}

// CMAC computes AES-CMAC (RFC 4493) over msg.
func CMAC(key, msg []byte) ([]byte, error) {
	block, err := newBlock(key)
	if err != nil {
		return nil, err
	}
	k1, k2 := cmacSubkeys(block)

	n := (len(msg) + blockSize - 1) / blockSize
	if n == 0 {
		n = 1
	}
	lastComplete := len(msg) != 0 && len(msg)%blockSize == 0

	last := make([]byte, blockSize)
	if lastComplete {
		copy(last, msg[(n-1)*blockSize:])
		xorBlock(last, last, k1)
	} else {
		remain := len(msg) - (n-1)*blockSize
		copy(last, msg[(n-1)*blockSize:])
		last[remain] = 0x80
		xorBlock(last, last, k2)
	}

	x := make([]byte, blockSize)
	y := make([]byte, blockSize)
	for i := 0; i < n-1; i++ {
		xorBlock(y, x, msg[i*blockSize:(i+1)*blockSize])
		block.Encrypt(x, y)
	}
	xorBlock(y, x, last)
	block.Encrypt(x, y)
	return x, nil
}

func cmacSubkeys(block cipher.Block) (k1, k2 []byte) {
	const rb = 0x87
	l := make([]byte, blockSize)
	block.Encrypt(l, make([]byte, blockSize))

	k1 = make([]byte, blockSize)
	leftShift1(k1, l)
	if l[0]&0x80 != 0 {
		k1[blockSize-1] ^= rb
	}

	k2 = make([]byte, blockSize)
	leftShift1(k2, k1)
	if k1[0]&0x80 != 0 {
		k2[blockSize-1] ^= rb
	}
	return k1, k2
}

func leftShift1(dst, src []byte) {
	var carry byte
	for i := len(src) - 1; i >= 0; i-- {
		b := src[i]
		dst[i] = (b << 1) | carry
		carry = (b >> 7) & 1
	}
}

func xorBlock(dst, a, b []byte) {
	for i := 0; i < len(a) && i < len(b); i++ {
		dst[i] = a[i] ^ b[i]
	}
}

// truncateMAC keeps the odd-indexed bytes (1, 3, ..., 15) of a full CMAC.
func truncateMAC(full []byte) []byte {
	out := make([]byte, 8)
	for i := range out {
		out[i] = full[1+i*2]
	}
	return out
}

// macTruncated is CMAC followed by truncateMAC, the form carried on the wire.
func macTruncated(key, msg []byte) ([]byte, error) {
	full, err := CMAC(key, msg)
	if err != nil {
		return nil, err
	}
	return truncateMAC(full), nil
}
