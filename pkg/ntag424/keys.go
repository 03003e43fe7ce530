package ntag424

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"hash/crc32"
	"log/slog"
	"os"
	"strings"
)

const cmdChangeKey = 0xC4

// dynamicKeyLabel separates per-tag key derivation from every other CMAC use
// of the master key.
var dynamicKeyLabel = []byte("NTAG424-SDM-DYN")

// CRC32DESFire computes the DESFire key CRC: IEEE CRC32 without the final
// inversion.
func CRC32DESFire(data []byte) uint32 {
	return ^crc32.ChecksumIEEE(data)
}

// LoadKeyHexFile loads a 16-byte AES key from a .hex file.
// The file should contain a single line with 32 hexadecimal characters.
func LoadKeyHexFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		return ParseKeyHex(line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return nil, errors.New("key file is empty")
}

// ParseKeyHex decodes a 32-hex-character AES key.
func ParseKeyHex(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if len(s) != 2*keySize {
		return nil, fmt.Errorf("%w: key must be 32 hex chars, got %d", ErrInvalidKeyLength, len(s))
	}
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex key: %w", err)
	}
	return key, nil
}

// DeriveDynamicKey derives the per-tag key CMAC(master, 01 || label || UID).
// UIDs are 4 to 10 bytes (single, double or triple size).
func DeriveDynamicKey(master, uid []byte) ([]byte, error) {
	if len(master) != keySize {
		return nil, fmt.Errorf("dynamic key: %w: master is %d bytes", ErrInvalidKeyLength, len(master))
	}
	if len(uid) < 4 || len(uid) > 10 {
		return nil, fmt.Errorf("dynamic key: %w: UID is %d bytes", ErrInvalidLength, len(uid))
	}
	msg := make([]byte, 0, 1+len(dynamicKeyLabel)+len(uid))
	msg = append(msg, 0x01)
	msg = append(msg, dynamicKeyLabel...)
	msg = append(msg, uid...)
	return CMAC(master, msg)
}

// RotateKey replaces the key in keySlot with newKey using ChangeKey (C4).
// The plaintext is NewKey(16) || KeyVersion(1), padded to 32 bytes.
//
// This is the same-slot form: when keySlot is the slot sess authenticated
// with, the tag drops the session on success and so does RotateKey. Use
// ChangeKey for other slots.
func RotateKey(card Card, sess *Session, keySlot byte, newKey []byte, version byte) error {
	if len(newKey) != keySize {
		return fmt.Errorf("rotate key: %w: got %d bytes", ErrInvalidKeyLength, len(newKey))
	}
	if sess == nil {
		return ErrSessionClosed
	}
	if keySlot != sess.KeyNo() {
		slog.Warn("rotating a slot other than the authenticated one with the same-slot payload",
			"slot", keySlot, "authSlot", sess.KeyNo())
	}

	keyData := make([]byte, keySize+1)
	copy(keyData, newKey)
	keyData[keySize] = version

	if _, err := SendSecure(card, sess, cmdChangeKey, []byte{keySlot}, keyData); err != nil {
		return fmt.Errorf("rotate key slot %d: %w", keySlot, err)
	}
	if keySlot == sess.KeyNo() {
		sess.mu.Lock()
		sess.invalidateLocked("authenticated key rotated")
		sess.mu.Unlock()
	}
	slog.Info("key rotated", "slot", keySlot, "version", version)
	return nil
}

// ChangeKey changes a key slot other than the authenticated one.
// Key data: (NewKey XOR OldKey)(16) || KeyVersion(1) || CRC32(NewKey)(4).
func ChangeKey(card Card, sess *Session, keySlot byte, newKey, oldKey []byte, version byte) error {
	if len(newKey) != keySize || len(oldKey) != keySize {
		return fmt.Errorf("change key: %w", ErrInvalidKeyLength)
	}
	if sess == nil {
		return ErrSessionClosed
	}
	if keySlot == sess.KeyNo() {
		return RotateKey(card, sess, keySlot, newKey, version)
	}

	keyData := make([]byte, 21)
	xorBlock(keyData[:keySize], newKey, oldKey)
	keyData[16] = version
	crc := CRC32DESFire(newKey)
	keyData[17] = byte(crc)
	keyData[18] = byte(crc >> 8)
	keyData[19] = byte(crc >> 16)
	keyData[20] = byte(crc >> 24)

	if _, err := SendSecure(card, sess, cmdChangeKey, []byte{keySlot}, keyData); err != nil {
		return fmt.Errorf("change key slot %d: %w", keySlot, err)
	}
	slog.Info("key changed", "slot", keySlot, "version", version)
	return nil
}
