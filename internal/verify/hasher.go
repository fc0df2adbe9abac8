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

// Package verify computes partition and filesystem digests and checks
// boot image signatures against the OEM trust anchors.
package verify

import (
	"crypto"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"

	"github.com/openfw/bootcore/api"
)

// Algorithm selects the digest used by the reporting operations.
type Algorithm int

const (
	// SHA1 is the historical default.
	SHA1 Algorithm = iota
	SHA256
	SHA512
)

// ParseAlgorithm maps a user-supplied name to an Algorithm. The empty
// string selects the default.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch name {
	case "", "sha1":
		return SHA1, nil
	case "sha256":
		return SHA256, nil
	case "sha512":
		return SHA512, nil
	}
	return 0, fmt.Errorf("%w: hash algorithm %q", api.ErrUnsupported, name)
}

func (a Algorithm) String() string {
	switch a {
	case SHA1:
		return "sha1"
	case SHA256:
		return "sha256"
	case SHA512:
		return "sha512"
	}
	return fmt.Sprintf("Algorithm(%d)", int(a))
}

// New returns a fresh hash instance.
func (a Algorithm) New() hash.Hash {
	switch a {
	case SHA256:
		return sha256.New()
	case SHA512:
		return sha512.New()
	default:
		return sha1.New()
	}
}

// CryptoHash returns the crypto package identifier used for RSA
// signature verification.
func (a Algorithm) CryptoHash() crypto.Hash {
	switch a {
	case SHA256:
		return crypto.SHA256
	case SHA512:
		return crypto.SHA512
	default:
		return crypto.SHA1
	}
}

// Sum computes the digest of b in one shot.
func (a Algorithm) Sum(b []byte) []byte {
	h := a.New()
	h.Write(b)
	return h.Sum(nil)
}
