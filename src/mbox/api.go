// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

package mbox

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// CommandID identifies a mailbox command.
type CommandID uint32

const (
	CmdNone                     CommandID = 0
	CmdManufDebugUnlockReqToken CommandID = 0x4d44_5554 // "MDUT"
	CmdProdAuthDebugUnlockReq   CommandID = 0x5044_5552 // "PDUR"
	CmdProdAuthDebugUnlockToken CommandID = 0x5044_5554 // "PDUT"
)

// String converts a command to its four-character tag.
func (c CommandID) String() string {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(c))
	for _, ch := range b {
		if ch < 0x20 || ch > 0x7e {
			return fmt.Sprintf("cmd(%#08x)", uint32(c))
		}
	}
	return string(b[:])
}

// ReqHeader starts every request.
type ReqHeader struct {
	Chksum uint32
}

// RespHeader starts every response.
type RespHeader struct {
	Chksum     uint32
	FipsStatus uint32
}

// ManufDebugUnlockTokenReq carries the manufacturing debug unlock token.
type ManufDebugUnlockTokenReq struct {
	Hdr   ReqHeader
	Token [16]byte
}

// ProdDebugUnlockReq opens a production debug unlock exchange.
type ProdDebugUnlockReq struct {
	Hdr            ReqHeader
	VendorID       uint16
	ObjectDataType uint8
	Rsvd0          uint8
	Length         [3]byte
	Rsvd1          uint8
	UnlockCategory [3]byte
	Rsvd2          uint8
}

// ProdDebugUnlockChallenge answers a ProdDebugUnlockReq.
type ProdDebugUnlockChallenge struct {
	Hdr                    RespHeader
	VendorID               uint16
	ObjectDataType         uint8
	Rsvd0                  uint8
	Length                 [3]byte
	Rsvd1                  uint8
	UniqueDeviceIdentifier [32]byte
	Challenge              [48]byte
}

// ProdDebugUnlockToken answers a challenge with signatures over it.
type ProdDebugUnlockToken struct {
	Hdr                    ReqHeader
	Length                 [3]byte
	Rsvd0                  uint8
	UnlockCategory         [3]byte
	Rsvd1                  uint8
	Challenge              [48]byte
	UniqueDeviceIdentifier [32]byte
	EccPublicKey           [96]byte
	EccSignature           [96]byte
	MldsaPublicKey         [2592]byte
	MldsaSignature         [4628]byte
}

// Encoded sizes. Each equals the sum of the struct's field sizes.
const (
	ReqHeaderSize                = 4
	RespHeaderSize               = 8
	ManufDebugUnlockTokenReqSize = ReqHeaderSize + 16
	ProdDebugUnlockReqSize       = ReqHeaderSize + 12
	ProdDebugUnlockChallengeSize = RespHeaderSize + 8 + 32 + 48
	ProdDebugUnlockTokenSize     = ReqHeaderSize + 8 + 48 + 32 + 96 + 96 + 2592 + 4628
)

func init() {
	for _, c := range []struct {
		v    any
		want int
	}{
		{ReqHeader{}, ReqHeaderSize},
		{RespHeader{}, RespHeaderSize},
		{ManufDebugUnlockTokenReq{}, ManufDebugUnlockTokenReqSize},
		{ProdDebugUnlockReq{}, ProdDebugUnlockReqSize},
		{ProdDebugUnlockChallenge{}, ProdDebugUnlockChallengeSize},
		{ProdDebugUnlockToken{}, ProdDebugUnlockTokenSize},
	} {
		if got := binary.Size(c.v); got != c.want {
			panic(fmt.Sprintf("mbox: %T encodes to %d bytes, want %d", c.v, got, c.want))
		}
	}
}

// Marshal encodes a wire struct.
func Marshal(v any) []byte {
	var buf bytes.Buffer
	buf.Grow(binary.Size(v))
	if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
		panic(fmt.Sprintf("mbox: cannot encode %T: %v", v, err))
	}
	return buf.Bytes()
}

// Unmarshal decodes b into the wire struct v. len(b) must equal the encoded
// size of v.
func Unmarshal(b []byte, v any) error {
	if n := binary.Size(v); n != len(b) {
		return fmt.Errorf("%T: got %d bytes, want %d", v, len(b), n)
	}
	return binary.Read(bytes.NewReader(b), binary.LittleEndian, v)
}

// U24 decodes a 3-byte big-endian field.
func U24(b [3]byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

// PutU24 encodes v as a 3-byte big-endian field. v must fit in 24 bits.
func PutU24(v uint32) [3]byte {
	return [3]byte{byte(v >> 16), byte(v >> 8), byte(v)}
}

// WordCount returns the 3-byte length field for a structure of size bytes
// following a header of hdr bytes.
func WordCount(size, hdr int) [3]byte {
	return PutU24(uint32((size - hdr) / 4))
}

// Checksum computes the mailbox checksum of cmd and data: the two's
// complement of the byte-wise sum.
func Checksum(cmd CommandID, data []byte) uint32 {
	var sum uint32
	var c [4]byte
	binary.LittleEndian.PutUint32(c[:], uint32(cmd))
	for _, b := range c {
		sum += uint32(b)
	}
	for _, b := range data {
		sum += uint32(b)
	}
	return 0 - sum
}

// VerifyChecksum checks the checksum stored in the first four bytes of msg.
func VerifyChecksum(cmd CommandID, msg []byte) bool {
	if len(msg) < 4 {
		return false
	}
	return binary.LittleEndian.Uint32(msg) == Checksum(cmd, msg[4:])
}

// Seal stores the checksum of msg[4:] into msg[:4]. Responses are sealed
// with CmdNone.
func Seal(cmd CommandID, msg []byte) []byte {
	binary.LittleEndian.PutUint32(msg, Checksum(cmd, msg[4:]))
	return msg
}
