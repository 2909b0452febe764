package testutil

import (
	"math/rand"
)

const cookieChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789_-+/=%"

// RandomString generates a random lowercase string given the pseudo random source.
func RandomString(rndm *rand.Rand, length int) string {
	str := make([]rune, length)
	for i := range str {
		str[i] = 'a' + rune(rndm.Intn(26))
	}
	return string(str)
}

// RandomCookieValue generates a string from the characters servers tend to
// put in session cookies.
func RandomCookieValue(rndm *rand.Rand, length int) string {
	str := make([]byte, length)
	for i := range str {
		str[i] = cookieChars[rndm.Intn(len(cookieChars))]
	}
	return string(str)
}

// RandomStringMap generates a map with `size` random keys and values.
func RandomStringMap(rndm *rand.Rand, size int) map[string]string {
	out := make(map[string]string, size)
	for len(out) < size {
		key := RandomString(rndm, 4+rndm.Intn(12))
		out[key] = RandomCookieValue(rndm, rndm.Intn(64))
	}
	return out
}
