// Package cipher implements per-packet RTP header parsing and
// ChaCha20-Poly1305 decryption, grounded on
// original_source/src/packet/rtp.cpp and
// original_source/include/packet/rtp.hpp.
package cipher

import (
	"fmt"

	"github.com/sigurn/crc16"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	headerSize = 12
	tagSize    = chacha20poly1305.Overhead // 16
	nonceTail  = 8
)

var crc16Table = crc16.MakeTable(crc16.CRC16_XMODEM)

// Header is the 12-byte RTP header, bit layout grounded on RTP::RTP's
// constructor in original_source/src/packet/rtp.cpp.
type Header struct {
	Version   uint8
	Padding   bool
	Extension bool
	SSRCCount uint8
	SeqNum    uint32 // 24-bit field
	Timestamp uint32
	SSRC      uint32
}

// ParseHeader reads the fixed 12-byte RTP header from the front of packet.
func ParseHeader(packet []byte) (Header, error) {
	if len(packet) < headerSize {
		return Header{}, fmt.Errorf("rtp header: packet too short (%d bytes)", len(packet))
	}

	b0 := packet[0]
	h := Header{
		Version:   (b0 & 0b11000000) >> 6,
		Padding:   (b0 & 0b00100000) != 0,
		Extension: (b0 & 0b00010000) != 0,
		SSRCCount: b0 & 0b00001111,
		SeqNum:    be24(packet[1:4]),
		Timestamp: be32(packet[4:8]),
		SSRC:      be32(packet[8:12]),
	}
	return h, nil
}

func be24(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// Cipher holds the session's shared key (ALAC/AAC setup key) and
// decrypts packets encoded per spec §4.3.
type Cipher struct {
	aead chacha20poly1305.AEAD
}

// New builds a Cipher from the 32-byte shared key negotiated during setup.
func New(key []byte) (*Cipher, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("cipher: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Decrypt splits packet into AAD / nonce / ciphertext-plus-tag exactly as
// RTP::RTP and RTP::decipher do, then opens it. It also returns a CRC16
// fingerprint of the plaintext for duplicate/integrity telemetry (spot-check
// counters, not a correctness gate).
func (c *Cipher) Decrypt(packet []byte) (plaintext []byte, fingerprint uint16, err error) {
	if len(packet) < headerSize+tagSize+nonceTail {
		return nil, 0, fmt.Errorf("cipher: packet too short to decrypt (%d bytes)", len(packet))
	}

	end := len(packet)

	nonce := make([]byte, 0, chacha20poly1305.NonceSize)
	nonce = append(nonce, 0, 0, 0, 0)
	nonce = append(nonce, packet[end-nonceTail:]...)

	aad := packet[4:12]
	ciphertextAndTag := packet[headerSize : end-nonceTail]

	plaintext, err = c.aead.Open(nil, nonce, ciphertextAndTag, aad)
	if err != nil {
		return nil, 0, fmt.Errorf("cipher: decrypt: %w", err)
	}

	return plaintext, crc16.Checksum(plaintext, crc16Table), nil
}
