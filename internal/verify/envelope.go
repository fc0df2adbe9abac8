// Copyright 2024 The bootcore Authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package verify

import (
	"bytes"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"time"

	"github.com/golang/glog"
	"go.mozilla.org/pkcs7"

	"github.com/openfw/bootcore/api"
)

var oidSigningTime = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 5}

// errEnvelope is the single failure every bad envelope maps to, so a
// caller cannot distinguish which check a forged envelope failed.
var errEnvelope = fmt.Errorf("%w: envelope verification failed", api.ErrAccessDenied)

// VerifyEnvelope checks a signed-data envelope against the one trusted
// certificate identified by its SHA-256 digest, with the verification
// time pinned to the signing time carried in the signed attributes. On
// success the embedded payload is returned.
func VerifyEnvelope(trustedCertSHA256 []byte, envelope []byte) ([]byte, error) {
	p7, err := pkcs7.Parse(envelope)
	if err != nil {
		glog.V(1).Infof("Envelope rejected: %v", err)
		return nil, errEnvelope
	}

	var signer *x509.Certificate
	for _, cert := range p7.Certificates {
		sum := sha256.Sum256(cert.Raw)
		if bytes.Equal(sum[:], trustedCertSHA256) {
			signer = cert
			break
		}
	}
	if signer == nil {
		glog.V(1).Infof("Envelope rejected: no certificate matches the trusted digest")
		return nil, errEnvelope
	}

	signedAt, err := envelopeSigningTime(envelope)
	if err != nil {
		glog.V(1).Infof("Envelope rejected: %v", err)
		return nil, errEnvelope
	}

	pool := x509.NewCertPool()
	pool.AddCert(signer)
	if err := p7.VerifyWithChainAtTime(pool, signedAt); err != nil {
		glog.V(1).Infof("Envelope rejected: %v", err)
		return nil, errEnvelope
	}
	return p7.Content, nil
}

// Minimal mirror of the signed-data layout, kept only to reach the
// signing-time attribute: the pkcs7 package does not expose the signer
// infos, and the century inference below differs from RFC 5280 parsing
// anyway.
type envelopeContentInfo struct {
	ContentType asn1.ObjectIdentifier
	Content     asn1.RawValue `asn1:"explicit,optional,tag:0"`
}

type envelopeAttribute struct {
	Type   asn1.ObjectIdentifier
	Values asn1.RawValue `asn1:"set"`
}

type envelopeSignerInfo struct {
	Version                   int
	IssuerAndSerialNumber     asn1.RawValue
	DigestAlgorithm           pkix.AlgorithmIdentifier
	AuthenticatedAttributes   []envelopeAttribute `asn1:"optional,omitempty,tag:0"`
	DigestEncryptionAlgorithm pkix.AlgorithmIdentifier
	EncryptedDigest           []byte
	UnauthenticatedAttributes asn1.RawValue `asn1:"optional,omitempty,tag:1"`
}

type envelopeSignedData struct {
	Version          int
	DigestAlgorithms asn1.RawValue `asn1:"set"`
	ContentInfo      asn1.RawValue
	Certificates     asn1.RawValue        `asn1:"optional,omitempty,tag:0"`
	CRLs             asn1.RawValue        `asn1:"optional,omitempty,tag:1"`
	SignerInfos      []envelopeSignerInfo `asn1:"set"`
}

func envelopeSigningTime(envelope []byte) (time.Time, error) {
	var ci envelopeContentInfo
	if _, err := asn1.Unmarshal(envelope, &ci); err != nil {
		return time.Time{}, fmt.Errorf("decoding envelope: %w", err)
	}
	var sd envelopeSignedData
	if _, err := asn1.Unmarshal(ci.Content.Bytes, &sd); err != nil {
		return time.Time{}, fmt.Errorf("decoding signed data: %w", err)
	}
	for _, si := range sd.SignerInfos {
		for _, attr := range si.AuthenticatedAttributes {
			if !attr.Type.Equal(oidSigningTime) {
				continue
			}
			var raw asn1.RawValue
			if _, err := asn1.Unmarshal(attr.Values.Bytes, &raw); err != nil {
				return time.Time{}, fmt.Errorf("decoding signing time: %w", err)
			}
			return parseUTCTime(string(raw.Bytes))
		}
	}
	return time.Time{}, fmt.Errorf("no signing time attribute")
}

// parseUTCTime decodes a two-digit-year UTC timestamp. Years below 70
// land in the 2000s, the rest in the 1900s, and any timezone suffix is
// ignored rather than applied.
func parseUTCTime(s string) (time.Time, error) {
	digits := 0
	for digits < len(s) && s[digits] >= '0' && s[digits] <= '9' {
		digits++
	}
	if digits != 10 && digits != 12 {
		return time.Time{}, fmt.Errorf("malformed UTC time %q", s)
	}
	num := func(i int) int { return int(s[i]-'0')*10 + int(s[i+1]-'0') }

	year := num(0)
	if year < 70 {
		year += 2000
	} else {
		year += 1900
	}
	sec := 0
	if digits == 12 {
		sec = num(10)
	}
	t := time.Date(year, time.Month(num(2)), num(4), num(6), num(8), sec, 0, time.UTC)
	if t.Year() != year || int(t.Month()) != num(2) || t.Day() != num(4) {
		return time.Time{}, fmt.Errorf("invalid UTC time %q", s)
	}
	return t, nil
}
