// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

package pk11

import (
	"fmt"

	"github.com/miekg/pkcs11"
)

var classSecretKey = pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_SECRET_KEY)

// Label creates a new Attribute representing a particular label value.
func Label(label string) *pkcs11.Attribute {
	return pkcs11.NewAttribute(pkcs11.CKA_LABEL, []byte(label))
}

// KeyOptions is passed into key-creation functions for specifying how the
// HSM should treat it.
type KeyOptions struct {
	// An extractable key can be pulled out of the HSM.
	Extractable bool
	// Sensitive keys cannot be read back in plaintext.
	Sensitive bool
	// Set to true to make the key a token object, false for a session
	// object.
	Token bool
}

// object wraps a handle to a PKCS#11 object accessed during a session.
type object struct {
	sess *Session
	raw  pkcs11.ObjectHandle
}

// SecretKey refers to a generic secret (CKO_SECRET_KEY) object.
type SecretKey struct{ object }

// find finds all objects visible to this session with the given attributes.
func (s *Session) find(attrs ...*pkcs11.Attribute) ([]object, error) {
	if err := s.tok.m.Raw().FindObjectsInit(s.raw, attrs); err != nil {
		return nil, newError(err, "could not begin search for objects")
	}

	var objs []object
	for i := 0; ; i++ {
		raw, _, err := s.tok.m.Raw().FindObjects(s.raw, 32)
		if err != nil {
			s.tok.m.Raw().FindObjectsFinal(s.raw)
			return nil, newError(err, "could not continue search for objects after %d iterations", i)
		}
		if len(raw) == 0 {
			break
		}
		for _, o := range raw {
			objs = append(objs, object{s, o})
		}
	}

	if err := s.tok.m.Raw().FindObjectsFinal(s.raw); err != nil {
		return nil, newError(err, "could not complete search for objects")
	}
	return objs, nil
}

// FindSecretKeysByLabel returns every secret key carrying label. A key
// vault slot maps to at most one object, so more than one result means the
// token was tampered with.
func (s *Session) FindSecretKeysByLabel(label string) ([]SecretKey, error) {
	objs, err := s.find(classSecretKey, Label(label))
	if err != nil {
		return nil, err
	}
	keys := make([]SecretKey, len(objs))
	for i, o := range objs {
		keys[i] = SecretKey{o}
	}
	return keys, nil
}

// Attr retrieves a single attribute from an object.
func (o object) Attr(typ uint) ([]byte, error) {
	attrs, err := o.sess.tok.m.Raw().GetAttributeValue(o.sess.raw, o.raw, []*pkcs11.Attribute{{Type: typ}})
	if err != nil {
		return nil, newError(err, "could not retrieve attribute %#x", typ)
	}
	return attrs[0].Value, nil
}

// Destroy destroys an object, which will be unusable after it returns
// successfully.
func (o object) Destroy() error {
	if err := o.sess.tok.m.Raw().DestroyObject(o.sess.raw, o.raw); err != nil {
		return newError(err, "could not destroy object")
	}
	return nil
}

// Label retrieves the object's assigned label.
func (o object) Label() (string, error) {
	label, err := o.Attr(pkcs11.CKA_LABEL)
	if err != nil {
		return "", err
	}
	return string(label), nil
}

// SetLabel sets the object's CKA_LABEL attribute.
func (o object) SetLabel(label string) error {
	err := o.sess.tok.m.Raw().SetAttributeValue(o.sess.raw, o.raw, []*pkcs11.Attribute{Label(label)})
	if err != nil {
		return fmt.Errorf("could not set label attribute: %v", err)
	}
	return nil
}

// GenerateRandom returns random data drawn from the HSM.
func (s *Session) GenerateRandom(length int) ([]byte, error) {
	b, err := s.tok.m.Raw().GenerateRandom(s.raw, length)
	if err != nil {
		return nil, newError(err, "could not generate %d random bytes", length)
	}
	return b, nil
}
