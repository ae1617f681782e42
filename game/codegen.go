package game

import "math/rand"

// Codes must be typeable over voice chat, so the alphabet drops the glyph
// pairs people misread: 0/O and 1/I/L.
const codeAlphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

const codeLength = 4

// Hitting this bound means the registry is pathologically full. It is a
// fatal condition, not something to retry.
const maxCodeAttempts = 100

// generateRoomCode is called with the directory lock held, so checking
// taken and reserving the code happen under the same serialization.
func generateRoomCode(rng *rand.Rand, taken func(string) bool) (string, error) {
	buf := make([]byte, codeLength)
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		for i := range buf {
			buf[i] = codeAlphabet[rng.Intn(len(codeAlphabet))]
		}
		code := string(buf)
		if !taken(code) {
			return code, nil
		}
	}
	return "", ErrRoomCodeSpaceExhausted
}
