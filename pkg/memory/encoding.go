// Copyright 2024 The vemu Authors.
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

package memory

import (
	"fmt"
	"strings"

	"golang.org/x/text/encoding/charmap"

	"github.com/vemu/vemu/pkg/vmerror"
)

// encodeString renders s in the named encoding, for WriteCString. Only
// "utf-8" (the default), "ascii", "latin1"/"iso-8859-1", and
// "windows-1252"/"cp1252" are supported; anything else is an
// unsupported struct conversion. latin1 and windows-1252 are distinct
// encodings (they disagree on bytes 0x80-0x9F) and are not aliased to
// one another.
func encodeString(s, name string) ([]byte, error) {
	switch strings.ToLower(name) {
	case "", "utf-8", "utf8":
		return []byte(s), nil

	case "ascii", "us-ascii":
		out := make([]byte, 0, len(s))
		for _, r := range s {
			if r > 127 {
				return nil, fmt.Errorf("rune %q not representable in ascii: %w", r, vmerror.ErrUnsupportedConversion)
			}
			out = append(out, byte(r))
		}
		return out, nil

	case "latin1", "iso-8859-1":
		encoded, err := charmap.ISO8859_1.NewEncoder().String(s)
		if err != nil {
			return nil, fmt.Errorf("encode %q as %s: %w", s, name, err)
		}
		return []byte(encoded), nil

	case "windows-1252", "cp1252":
		encoded, err := charmap.Windows1252.NewEncoder().String(s)
		if err != nil {
			return nil, fmt.Errorf("encode %q as %s: %w", s, name, err)
		}
		return []byte(encoded), nil

	default:
		return nil, fmt.Errorf("unsupported encoding %q: %w", name, vmerror.ErrUnsupportedConversion)
	}
}
