// Copyright (c) 2026 labctld contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package ipmi

import "math/rand"

var (
	specialChars = []byte{'#', '!', '@', '~'}
	digits       = []byte("0123456789")
	lowercase    = []byte("abcdefghijklmnopqrstuvwxyz")
	uppercase    = []byte("ABCDEFGHIJKLMNOPQRSTUVWXYZ")
)

// GeneratePassword builds a character-class-balanced password (spec
// §4.9): the output concatenates blocks of four characters, each block
// drawing one character from each of {lowercase, uppercase, digit,
// special}, with the four classes shuffled per block, then truncates to
// length. This guarantees all four classes are present whenever
// length >= 4.
func GeneratePassword(length int) string {
	innerLength := (length/4)*4 + 4

	out := make([]byte, 0, innerLength)

	for block := 0; block < innerLength/4; block++ {
		classes := [][]byte{specialChars, digits, lowercase, uppercase}
		rand.Shuffle(len(classes), func(i, j int) { classes[i], classes[j] = classes[j], classes[i] })

		for _, class := range classes {
			out = append(out, class[rand.Intn(len(class))])
		}
	}

	if length > len(out) {
		length = len(out)
	}

	return string(out[:length])
}

// GenerateUsername builds a random lowercase-only username of the
// given length, for collaborator IPMI accounts.
func GenerateUsername(length int) string {
	out := make([]byte, length)
	for i := range out {
		out[i] = lowercase[rand.Intn(len(lowercase))]
	}

	return string(out)
}
