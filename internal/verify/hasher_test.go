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
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"testing"
)

func TestParseAlgorithm(t *testing.T) {
	for _, test := range []struct {
		name    string
		want    Algorithm
		wantErr bool
	}{
		{name: "", want: SHA1},
		{name: "sha1", want: SHA1},
		{name: "sha256", want: SHA256},
		{name: "sha512", want: SHA512},
		{name: "md5", wantErr: true},
		{name: "SHA256", wantErr: true},
	} {
		t.Run("name="+test.name, func(t *testing.T) {
			got, err := ParseAlgorithm(test.name)
			switch {
			case err != nil && !test.wantErr:
				t.Fatalf("ParseAlgorithm: %v", err)
			case err == nil && test.wantErr:
				t.Fatal("ParseAlgorithm succeeded, want error")
			case err != nil:
				return
			}
			if got != test.want {
				t.Errorf("ParseAlgorithm(%q) = %v, want %v", test.name, got, test.want)
			}
		})
	}
}

func TestAlgorithmSum(t *testing.T) {
	payload := []byte("boot image payload")

	s1 := sha1.Sum(payload)
	if got := SHA1.Sum(payload); !bytes.Equal(got, s1[:]) {
		t.Error("SHA1.Sum mismatch")
	}
	s256 := sha256.Sum256(payload)
	if got := SHA256.Sum(payload); !bytes.Equal(got, s256[:]) {
		t.Error("SHA256.Sum mismatch")
	}
	s512 := sha512.Sum512(payload)
	if got := SHA512.Sum(payload); !bytes.Equal(got, s512[:]) {
		t.Error("SHA512.Sum mismatch")
	}
}
