// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

// Package provision builds the fuse image and MCI contents of a device:
// sealed device secrets, the manufacturing debug unlock token and the
// debug-auth public key hashes.
package provision

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/lowRISC/opentitan-rom-identity/src/doe"
	"github.com/lowRISC/opentitan-rom-identity/src/errs"
	"github.com/lowRISC/opentitan-rom-identity/src/fuse"
	"github.com/lowRISC/opentitan-rom-identity/src/hwcrypto"
	"github.com/lowRISC/opentitan-rom-identity/src/pk11"
	"github.com/lowRISC/opentitan-rom-identity/src/soc"
)

// manufTokenDiversifier prefixes the UEID when deriving the manufacturing
// debug unlock token.
const manufTokenDiversifier = "manuf_dbg_unlock"

// MaxCategory is the largest debug unlock category a hash can be
// provisioned for.
const MaxCategory = 0xf

// KeyPkHashes is the configuration key of the debug-auth key hash table.
const KeyPkHashes = "mci.debug_auth_pk_hashes"

// TokenSeed computes HMAC-SHA256 under a token seed. pk11.SecretKey
// satisfies it for seeds held in an HSM.
type TokenSeed interface {
	SignHMAC256(data []byte) ([]byte, error)
}

// SoftSeed is a token seed held in memory.
type SoftSeed []byte

// SignHMAC256 implements TokenSeed.
func (s SoftSeed) SignHMAC256(data []byte) ([]byte, error) {
	if len(s) == 0 {
		return nil, fmt.Errorf("empty token seed")
	}
	m := hmac.New(sha256.New, s)
	m.Write(data)
	return m.Sum(nil), nil
}

// HSMSeed finds the token seed labelled label on an HSM session.
func HSMSeed(s *pk11.Session, label string) (pk11.SecretKey, error) {
	keys, err := s.FindSecretKeysByLabel(label)
	if err != nil {
		return pk11.SecretKey{}, fmt.Errorf("failed to find seed %q: %v", label, err)
	}
	if len(keys) != 1 {
		return pk11.SecretKey{}, fmt.Errorf("found %d keys labelled %q, want 1", len(keys), label)
	}
	return keys[0], nil
}

// DeriveManufToken derives the manufacturing debug unlock token of the device
// identified by ueid.
func DeriveManufToken(seed TokenSeed, ueid [fuse.UEIDLen]byte) ([fuse.ManufTokenLen]byte, error) {
	var token [fuse.ManufTokenLen]byte
	diversifier := append([]byte(manufTokenDiversifier), ueid[:]...)
	mac, err := seed.SignHMAC256(diversifier)
	if err != nil {
		return token, fmt.Errorf("failed to derive manufacturing token: %v", err)
	}
	if len(mac) < len(token) {
		return token, fmt.Errorf("token seed returned %d bytes", len(mac))
	}
	copy(token[:], mac)
	return token, nil
}

// DebugAuthKeyHash returns the SHA-512 of the debug-auth public keys, the
// value provisioned to authorize them.
func DebugAuthKeyHash(eccPub hwcrypto.Ecc384PubKey, mldsaPub hwcrypto.Mldsa87PubKey) [64]byte {
	h := sha512.New()
	h.Write(eccPub.Bytes())
	h.Write(mldsaPub[:])
	var out [64]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Params describe one device.
type Params struct {
	Lifecycle fuse.Lifecycle
	KeyIDAlgo fuse.KeyIDAlgo
	SubjKeyID [fuse.SubjKeyIDLen]byte
	UEID      [fuse.UEIDLen]byte

	// TokenSeed derives the manufacturing debug unlock token. No token is
	// provisioned when it is nil.
	TokenSeed TokenSeed

	// Doe seals the device secrets. UDS and FE are drawn from Rand when
	// empty.
	Doe  *doe.Engine
	UDS  []byte
	FE   []byte
	Rand io.Reader

	DebugAuthPkHashOffset uint32
	// PkHashes maps an unlock category to its debug-auth key hash.
	PkHashes map[uint32][64]byte

	Log *logrus.Entry
}

// Image is a provisioned device: its fuses and the MCI key hash table.
type Image struct {
	Bank     *fuse.Bank
	PkHashes map[uint32][64]byte
}

func secret(r io.Reader, given []byte, size int) ([]byte, error) {
	if len(given) != 0 {
		return given, nil
	}
	b := make([]byte, size)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("failed to draw device secret: %v", err)
	}
	return b, nil
}

// NewImage provisions a device described by p.
func NewImage(p *Params) (*Image, error) {
	log := p.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithField("ueid", hex.EncodeToString(p.UEID[:]))

	bank := &fuse.Bank{
		Lifecycle:             p.Lifecycle,
		KeyIDAlgo:             p.KeyIDAlgo,
		SubjKeyID:             p.SubjKeyID,
		UEID:                  p.UEID,
		DebugAuthPkHashOffset: p.DebugAuthPkHashOffset,
	}

	if p.TokenSeed != nil {
		token, err := DeriveManufToken(p.TokenSeed, p.UEID)
		if err != nil {
			return nil, err
		}
		bank.ManufDbgUnlockToken = token
		log.Debug("manufacturing debug unlock token derived")
	}

	if p.Doe != nil {
		r := p.Rand
		if r == nil {
			r = rand.Reader
		}
		uds, err := secret(r, p.UDS, doe.UDSSize)
		if err != nil {
			return nil, err
		}
		fe, err := secret(r, p.FE, doe.FESize)
		if err != nil {
			return nil, err
		}
		bank.ObfUDS, bank.ObfFE, err = p.Doe.Obfuscate(uds, fe)
		if err != nil {
			return nil, err
		}
		log.Debug("device secrets sealed")
	}

	for cat := range p.PkHashes {
		if cat > MaxCategory {
			return nil, fmt.Errorf("category %#x out of range: %w", cat, errs.FuseInvalidConfig)
		}
	}
	if err := fuse.Validate(bank); err != nil {
		return nil, err
	}

	im := &Image{Bank: bank, PkHashes: make(map[uint32][64]byte, len(p.PkHashes))}
	for cat, h := range p.PkHashes {
		im.PkHashes[cat] = h
	}
	log.WithFields(logrus.Fields{
		"lifecycle":  bank.Lifecycle,
		"categories": len(im.PkHashes),
	}).Info("device image provisioned")
	return im, nil
}

// Load writes the key hash table into the MCI region of emu, at the offset
// the fuses name plus 64 bytes per category.
func (im *Image) Load(emu *soc.Emulator) error {
	for cat, h := range im.PkHashes {
		if err := emu.WriteMci(im.Bank.DebugAuthPkHashAddr(cat), h[:]); err != nil {
			return fmt.Errorf("category %d: %w", cat, err)
		}
	}
	return nil
}

// Set stores im into v.
func (im *Image) Set(v *viper.Viper) {
	fuse.Set(v, im.Bank)
	hashes := make(map[string]string, len(im.PkHashes))
	for cat, h := range im.PkHashes {
		hashes[strconv.FormatUint(uint64(cat), 10)] = hex.EncodeToString(h[:])
	}
	v.Set(KeyPkHashes, hashes)
}

// Save writes im to a configuration file at path.
func (im *Image) Save(path string) error {
	v := viper.New()
	im.Set(v)
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write device image %q: %v", path, err)
	}
	return nil
}

// FromViper reads an image stored by Set.
func FromViper(v *viper.Viper) (*Image, error) {
	bank, err := fuse.FromViper(v)
	if err != nil {
		return nil, err
	}
	im := &Image{Bank: bank, PkHashes: map[uint32][64]byte{}}
	raw := v.GetStringMapString(KeyPkHashes)
	cats := make([]string, 0, len(raw))
	for c := range raw {
		cats = append(cats, c)
	}
	sort.Strings(cats)
	for _, c := range cats {
		cat, err := strconv.ParseUint(c, 10, 32)
		if err != nil || cat > MaxCategory {
			return nil, fmt.Errorf("%s: bad category %q: %w", KeyPkHashes, c, errs.FuseInvalidConfig)
		}
		b, err := hex.DecodeString(raw[c])
		if err != nil || len(b) != 64 {
			return nil, fmt.Errorf("%s.%s: want 64 hex-encoded bytes: %w", KeyPkHashes, c, errs.FuseInvalidConfig)
		}
		im.PkHashes[uint32(cat)] = [64]byte(b)
	}
	return im, nil
}

// LoadImage reads an image from the configuration file at path.
func LoadImage(path string) (*Image, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read device image %q: %v", path, err)
	}
	return FromViper(v)
}
