// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

// Package handoff packs the identity material left by the ROM into a TLV
// blob so later boot stages can rebuild the layer certificates.
//
// Every object starts with a 16-bit big-endian header holding its total size
// (12 bits) and type (4 bits). Per-layer objects follow it with a second
// 16-bit header holding the body size (12 bits) and the layer (4 bits).
package handoff

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/lowRISC/opentitan-rom-identity/src/certs"
	"github.com/lowRISC/opentitan-rom-identity/src/datavault"
	"github.com/lowRISC/opentitan-rom-identity/src/env"
	"github.com/lowRISC/opentitan-rom-identity/src/errs"
	"github.com/lowRISC/opentitan-rom-identity/src/hwcrypto"
)

// MaxBlobSize bounds an encoded blob.
const MaxBlobSize = 16 * 1024

// ObjectType is the type of a blob object.
type ObjectType uint16

const (
	ObjectDeviceID ObjectType = iota
	ObjectX509Tbs
	ObjectEccSignature
	ObjectEccPublicKey
	ObjectMldsaPublicKey
)

const (
	sizeOfObjectHeader = 2
	sizeOfLayerHeader  = 2
	deviceIDSize       = 32
)

const (
	objhSizeFieldShift = 0
	objhSizeFieldWidth = 12
	objhSizeFieldMask  = (1 << objhSizeFieldWidth) - 1
	objhTypeFieldShift = objhSizeFieldWidth
	objhTypeFieldWidth = 16 - objhSizeFieldWidth
	objhTypeFieldMask  = (1 << objhTypeFieldWidth) - 1

	lyrhSizeFieldShift  = 0
	lyrhSizeFieldWidth  = 12
	lyrhSizeFieldMask   = (1 << lyrhSizeFieldWidth) - 1
	lyrhLayerFieldShift = lyrhSizeFieldWidth
	lyrhLayerFieldWidth = 4
	lyrhLayerFieldMask  = (1 << lyrhLayerFieldWidth) - 1
)

// Layer is the material one DICE layer leaves behind. Absent values are nil.
type Layer struct {
	Layer          datavault.Layer
	Tbs            []byte
	EccSignature   *hwcrypto.Ecc384Signature
	EccPublicKey   *hwcrypto.Ecc384PubKey
	MldsaPublicKey *hwcrypto.Mldsa87PubKey
}

// Certificate assembles the layer's DER certificate.
func (l *Layer) Certificate() ([]byte, error) {
	if l.Tbs == nil || l.EccSignature == nil {
		return nil, fmt.Errorf("%v: certificate incomplete: %w", l.Layer, errs.HandoffInvalidBlob)
	}
	return certs.Assemble(l.Tbs, *l.EccSignature)
}

// Blob is the decoded handoff blob.
type Blob struct {
	DeviceID *[deviceIDSize]byte
	Layers   []Layer
}

// layer returns the record for id, adding one if needed.
func (b *Blob) layer(id datavault.Layer) *Layer {
	for i := range b.Layers {
		if b.Layers[i].Layer == id {
			return &b.Layers[i]
		}
	}
	b.Layers = append(b.Layers, Layer{Layer: id})
	return &b.Layers[len(b.Layers)-1]
}

// Find returns the record for id.
func (b *Blob) Find(id datavault.Layer) (*Layer, bool) {
	for i := range b.Layers {
		if b.Layers[i].Layer == id {
			return &b.Layers[i], true
		}
	}
	return nil, false
}

func setObjectHeaderFields(size uint16, objType ObjectType) uint16 {
	return ((size & objhSizeFieldMask) << objhSizeFieldShift) | ((uint16(objType) & objhTypeFieldMask) << objhTypeFieldShift)
}

func getObjectHeaderFields(header uint16) (size uint16, objType ObjectType) {
	size = (header >> objhSizeFieldShift) & objhSizeFieldMask
	objType = ObjectType((header >> objhTypeFieldShift) & objhTypeFieldMask)
	return
}

func setLayerHeaderFields(size uint16, layer datavault.Layer) uint16 {
	return ((size & lyrhSizeFieldMask) << lyrhSizeFieldShift) | ((uint16(layer) & lyrhLayerFieldMask) << lyrhLayerFieldShift)
}

func getLayerHeaderFields(header uint16) (size uint16, layer datavault.Layer) {
	size = (header >> lyrhSizeFieldShift) & lyrhSizeFieldMask
	layer = datavault.Layer((header >> lyrhLayerFieldShift) & lyrhLayerFieldMask)
	return
}

func writeObjectHeader(buf *bytes.Buffer, objType ObjectType, bodyLen int) error {
	size := sizeOfObjectHeader + bodyLen
	if size > objhSizeFieldMask {
		return fmt.Errorf("object type %d: %d bytes: %w", objType, size, errs.HandoffInvalidBlob)
	}
	return binary.Write(buf, binary.BigEndian, setObjectHeaderFields(uint16(size), objType))
}

func writeLayerObject(buf *bytes.Buffer, objType ObjectType, layer datavault.Layer, body []byte) error {
	if layer < 0 || layer > lyrhLayerFieldMask {
		return fmt.Errorf("layer %d out of range: %w", layer, errs.HandoffInvalidBlob)
	}
	if err := writeObjectHeader(buf, objType, sizeOfLayerHeader+len(body)); err != nil {
		return err
	}
	if err := binary.Write(buf, binary.BigEndian, setLayerHeaderFields(uint16(len(body)), layer)); err != nil {
		return err
	}
	buf.Write(body)
	return nil
}

// Build serializes b.
func Build(b *Blob) ([]byte, error) {
	var buf bytes.Buffer

	if b.DeviceID != nil {
		if err := writeObjectHeader(&buf, ObjectDeviceID, deviceIDSize); err != nil {
			return nil, err
		}
		buf.Write(b.DeviceID[:])
	}

	for _, l := range b.Layers {
		if l.Tbs != nil {
			if err := writeLayerObject(&buf, ObjectX509Tbs, l.Layer, l.Tbs); err != nil {
				return nil, err
			}
		}
		if l.EccSignature != nil {
			if err := writeLayerObject(&buf, ObjectEccSignature, l.Layer, l.EccSignature.Bytes()); err != nil {
				return nil, err
			}
		}
		if l.EccPublicKey != nil {
			if err := writeLayerObject(&buf, ObjectEccPublicKey, l.Layer, l.EccPublicKey.Bytes()); err != nil {
				return nil, err
			}
		}
		if l.MldsaPublicKey != nil {
			if err := writeLayerObject(&buf, ObjectMldsaPublicKey, l.Layer, l.MldsaPublicKey[:]); err != nil {
				return nil, err
			}
		}
	}

	if buf.Len() > MaxBlobSize {
		return nil, fmt.Errorf("blob size %d exceeds max %d: %w", buf.Len(), MaxBlobSize, errs.HandoffInvalidBlob)
	}
	return buf.Bytes(), nil
}

func extractLayerObject(obj []byte) (datavault.Layer, []byte, error) {
	buf := obj[sizeOfObjectHeader:]
	if len(buf) < sizeOfLayerHeader {
		return 0, nil, errors.New("buffer too small for layer header")
	}
	size, layer := getLayerHeaderFields(binary.BigEndian.Uint16(buf))
	buf = buf[sizeOfLayerHeader:]
	if int(size) != len(buf) {
		return 0, nil, fmt.Errorf("layer body size %d, object holds %d", size, len(buf))
	}
	if layer != datavault.LayerIDevID && layer != datavault.LayerLDevID {
		return 0, nil, fmt.Errorf("unknown layer %d", layer)
	}
	return layer, buf, nil
}

// Unpack parses a blob. A zero header at the very end is padding.
func Unpack(blob []byte) (*Blob, error) {
	b, err := unpack(blob)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, errs.HandoffInvalidBlob)
	}
	return b, nil
}

func unpack(blob []byte) (*Blob, error) {
	if len(blob) == 0 {
		return nil, errors.New("empty blob")
	}
	if len(blob) > MaxBlobSize {
		return nil, fmt.Errorf("blob size %d exceeds max %d", len(blob), MaxBlobSize)
	}

	b := &Blob{}
	offset := 0
	for offset < len(blob) {
		if len(blob[offset:]) < sizeOfObjectHeader {
			return nil, errors.New("remaining buffer too small for object header")
		}
		header := binary.BigEndian.Uint16(blob[offset:])
		objSize, objType := getObjectHeaderFields(header)
		if objSize == 0 {
			if offset == len(blob)-sizeOfObjectHeader && header == 0 {
				break
			}
			return nil, fmt.Errorf("object type %d with size 0", objType)
		}
		if objSize < sizeOfObjectHeader || offset+int(objSize) > len(blob) {
			return nil, fmt.Errorf("object size %d exceeds remaining buffer %d", objSize, len(blob[offset:]))
		}
		obj := blob[offset : offset+int(objSize)]

		if objType == ObjectDeviceID {
			if len(obj) != deviceIDSize+sizeOfObjectHeader {
				return nil, fmt.Errorf("invalid device ID object size: %d", len(obj))
			}
			var id [deviceIDSize]byte
			copy(id[:], obj[sizeOfObjectHeader:])
			b.DeviceID = &id
			offset += int(objSize)
			continue
		}

		layer, body, err := extractLayerObject(obj)
		if err != nil {
			return nil, fmt.Errorf("object type %d: %v", objType, err)
		}
		l := b.layer(layer)
		switch objType {
		case ObjectX509Tbs:
			if len(body) == 0 || len(body) > datavault.MaxTbsSize {
				return nil, fmt.Errorf("invalid TBS size: %d", len(body))
			}
			l.Tbs = append([]byte(nil), body...)
		case ObjectEccSignature:
			sig, ok := hwcrypto.Ecc384SignatureFromBytes(body)
			if !ok {
				return nil, fmt.Errorf("invalid signature size: %d", len(body))
			}
			l.EccSignature = &sig
		case ObjectEccPublicKey:
			pub, ok := hwcrypto.Ecc384PubKeyFromBytes(body)
			if !ok {
				return nil, fmt.Errorf("invalid ECC public key size: %d", len(body))
			}
			l.EccPublicKey = &pub
		case ObjectMldsaPublicKey:
			if len(body) != hwcrypto.Mldsa87PubKeySize {
				return nil, fmt.Errorf("invalid ML-DSA public key size: %d", len(body))
			}
			var pub hwcrypto.Mldsa87PubKey
			copy(pub[:], body)
			l.MldsaPublicKey = &pub
		default:
			return nil, fmt.Errorf("unknown object type %d", objType)
		}
		offset += int(objSize)
	}
	return b, nil
}

// Export collects the device identifier and what each layer committed to the
// data vault and TBS scratch.
func Export(e *env.Env) (*Blob, error) {
	id := certs.DeviceID(e.Fuses())
	b := &Blob{DeviceID: &id}
	for _, layer := range []datavault.Layer{datavault.LayerIDevID, datavault.LayerLDevID} {
		l := Layer{Layer: layer, Tbs: e.Scratch.Tbs(layer)}
		sig, ok, err := e.DataVault.IdentitySignature(layer)
		if err != nil {
			return nil, err
		}
		if ok {
			l.EccSignature = &sig
		}
		pub, ok, err := e.DataVault.IdentityPublicKey(layer)
		if err != nil {
			return nil, err
		}
		if ok {
			l.EccPublicKey = &pub
		}
		mpub, ok, err := e.DataVault.MldsaPublicKey(layer)
		if err != nil {
			return nil, err
		}
		if ok {
			l.MldsaPublicKey = &mpub
		}
		if l.Tbs == nil && l.EccSignature == nil && l.EccPublicKey == nil && l.MldsaPublicKey == nil {
			continue
		}
		b.Layers = append(b.Layers, l)
	}
	return b, nil
}
