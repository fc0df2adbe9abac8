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
	"crypto/rsa"
	"crypto/x509"

	"github.com/golang/glog"

	"github.com/openfw/bootcore/internal/bootimg"
)

// TrustState classifies a verified boot image.
type TrustState int

const (
	// TrustRed means verification failed.
	TrustRed TrustState = iota
	// TrustYellow means the image verifies against its own embedded
	// certificate only.
	TrustYellow
	// TrustGreen means the image verifies against the OEM
	// certificate, directly or through an OEM-countersigned embedded
	// certificate.
	TrustGreen
)

func (s TrustState) String() string {
	switch s {
	case TrustGreen:
		return "green"
	case TrustYellow:
		return "yellow"
	default:
		return "red"
	}
}

// VerifyBootImage classifies the boot image against the OEM
// certificate. The signing target is returned alongside the state
// whenever it could be extracted, even for red images.
func VerifyBootImage(image []byte, oemCert *x509.Certificate) (TrustState, string) {
	h, err := bootimg.ParseHeader(image)
	if err != nil {
		glog.Warningf("Rejecting boot image: %v", err)
		return TrustRed, ""
	}
	imageSize := h.TotalSize()
	if imageSize > int64(len(image)) {
		glog.Warningf("Rejecting boot image: header claims %d bytes, have %d", imageSize, len(image))
		return TrustRed, ""
	}
	sig, err := ParseBootSignature(image[imageSize:])
	if err != nil {
		glog.Warningf("Rejecting boot image: %v", err)
		return TrustRed, ""
	}
	if sig.Target == "" {
		glog.Warningf("Rejecting boot image: no signing target in trailer")
		return TrustRed, ""
	}

	alg, err := sig.HashAlgorithm()
	if err != nil {
		glog.Warningf("Rejecting boot image: %v", err)
		return TrustRed, sig.Target
	}
	d := alg.New()
	d.Write(image[:imageSize])
	d.Write(sig.AuthAttrsRaw)
	digest := d.Sum(nil)

	if checkRSA(oemCert, alg, digest, sig.Signature) == nil {
		return TrustGreen, sig.Target
	}
	if sig.Cert == nil || checkRSA(sig.Cert, alg, digest, sig.Signature) != nil {
		return TrustRed, sig.Target
	}
	// Verified by the embedded certificate. If the OEM key
	// countersigned that certificate the image is as good as
	// OEM-signed.
	if err := oemCert.CheckSignature(sig.Cert.SignatureAlgorithm, sig.Cert.RawTBSCertificate, sig.Cert.Signature); err == nil {
		glog.Infof("Embedded certificate countersigned by OEM")
		return TrustGreen, sig.Target
	}
	return TrustYellow, sig.Target
}

func checkRSA(cert *x509.Certificate, alg Algorithm, digest, signature []byte) error {
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return rsa.ErrVerification
	}
	return rsa.VerifyPKCS1v15(pub, alg.CryptoHash(), digest, signature)
}
