// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

package pk11

import (
	"github.com/miekg/pkcs11"
)

// ImportGenericSecret imports raw bytes as a CKK_GENERIC_SECRET object
// usable as an HMAC key.
func (s *Session) ImportGenericSecret(value []byte, opts *KeyOptions) (SecretKey, error) {
	if opts == nil {
		opts = &KeyOptions{}
	}

	tpl := []*pkcs11.Attribute{
		classSecretKey,
		pkcs11.NewAttribute(pkcs11.CKA_KEY_TYPE, pkcs11.CKK_GENERIC_SECRET),
		pkcs11.NewAttribute(pkcs11.CKA_VALUE, value),
		pkcs11.NewAttribute(pkcs11.CKA_SIGN, true),
		pkcs11.NewAttribute(pkcs11.CKA_VERIFY, true),
		pkcs11.NewAttribute(pkcs11.CKA_SENSITIVE, opts.Sensitive),
		pkcs11.NewAttribute(pkcs11.CKA_EXTRACTABLE, opts.Extractable),
		pkcs11.NewAttribute(pkcs11.CKA_TOKEN, opts.Token),
	}
	s.tok.m.appendAttrKeyID(&tpl)

	raw, err := s.tok.m.Raw().CreateObject(s.raw, tpl)
	if err != nil {
		return SecretKey{}, newError(err, "could not import generic secret")
	}
	return SecretKey{object{s, raw}}, nil
}

// Value reads the key's plaintext value. Fails for sensitive keys.
func (k SecretKey) Value() ([]byte, error) {
	return k.Attr(pkcs11.CKA_VALUE)
}

func (k SecretKey) signHMAC(mech uint, data []byte) ([]byte, error) {
	m := []*pkcs11.Mechanism{pkcs11.NewMechanism(mech, nil)}
	if err := k.sess.tok.m.Raw().SignInit(k.sess.raw, m, k.raw); err != nil {
		return nil, newError(err, "could not begin HMAC operation")
	}
	mac, err := k.sess.tok.m.Raw().Sign(k.sess.raw, data)
	if err != nil {
		return nil, newError(err, "could not complete HMAC operation")
	}
	return mac, nil
}

// SignHMAC256 computes HMAC-SHA256 of data keyed by k.
func (k SecretKey) SignHMAC256(data []byte) ([]byte, error) {
	return k.signHMAC(pkcs11.CKM_SHA256_HMAC, data)
}

// SignHMAC384 computes HMAC-SHA384 of data keyed by k.
func (k SecretKey) SignHMAC384(data []byte) ([]byte, error) {
	return k.signHMAC(pkcs11.CKM_SHA384_HMAC, data)
}
