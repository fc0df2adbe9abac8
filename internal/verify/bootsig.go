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
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"

	"github.com/golang/glog"

	"github.com/openfw/bootcore/api"
)

// TrailerMax bounds the signature block a boot image may carry after
// its payload.
const TrailerMax = 4096

// signatureFormatVersion is the only trailer layout understood here.
const signatureFormatVersion = 1

var (
	oidSHA1WithRSA   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 5}
	oidSHA256WithRSA = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 11}
	oidSHA512WithRSA = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 13}
)

type authenticatedAttributes struct {
	Raw    asn1.RawContent
	Target string
	Length int64
}

type bootSignatureASN1 struct {
	FormatVersion int64
	Certificate   asn1.RawValue
	AlgorithmID   pkix.AlgorithmIdentifier
	AuthAttrs     authenticatedAttributes
	Signature     []byte
}

// BootSignature is the parsed trailer appended after a boot image.
// AuthAttrsRaw keeps the exact DER bytes of the authenticated
// attributes: the signed digest covers the image concatenated with
// those bytes, so they must survive re-encoding untouched.
type BootSignature struct {
	FormatVersion int64
	// Cert is the embedded signing certificate, nil when the trailer
	// carries none that parses.
	Cert         *x509.Certificate
	AlgorithmID  pkix.AlgorithmIdentifier
	Target       string
	Length       int64
	AuthAttrsRaw []byte
	Signature    []byte
	// TotalSize is how many trailer bytes the DER structure consumed.
	TotalSize int64
}

// ParseBootSignature decodes the signature trailer at the start of b.
func ParseBootSignature(b []byte) (*BootSignature, error) {
	var raw bootSignatureASN1
	rest, err := asn1.Unmarshal(b, &raw)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding boot signature: %v", api.ErrInvalidParameter, err)
	}
	if raw.FormatVersion != signatureFormatVersion {
		return nil, fmt.Errorf("%w: boot signature format version %d", api.ErrUnsupported, raw.FormatVersion)
	}
	sig := &BootSignature{
		FormatVersion: raw.FormatVersion,
		AlgorithmID:   raw.AlgorithmID,
		Target:        raw.AuthAttrs.Target,
		Length:        raw.AuthAttrs.Length,
		AuthAttrsRaw:  raw.AuthAttrs.Raw,
		Signature:     raw.Signature,
		TotalSize:     int64(len(b) - len(rest)),
	}
	if cert, err := x509.ParseCertificate(raw.Certificate.FullBytes); err != nil {
		glog.V(1).Infof("Boot signature carries no usable certificate: %v", err)
	} else {
		sig.Cert = cert
	}
	return sig, nil
}

// HashAlgorithm returns the digest named by the signature's algorithm
// identifier.
func (s *BootSignature) HashAlgorithm() (Algorithm, error) {
	switch {
	case s.AlgorithmID.Algorithm.Equal(oidSHA1WithRSA):
		return SHA1, nil
	case s.AlgorithmID.Algorithm.Equal(oidSHA256WithRSA):
		return SHA256, nil
	case s.AlgorithmID.Algorithm.Equal(oidSHA512WithRSA):
		return SHA512, nil
	}
	return 0, fmt.Errorf("%w: signature algorithm %v", api.ErrUnsupported, s.AlgorithmID.Algorithm)
}
