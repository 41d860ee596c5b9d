package auth

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/base64"
	"errors"
	"fmt"
	"unicode"
)

// ErrInvalidKeyFormat is returned when the key format is invalid.
var ErrInvalidKeyFormat = errors.New("invalid key format")

type invalidLengthError int

func (e invalidLengthError) Error() string {
	return fmt.Sprintf("invalid length %d", int(e))
}

// KeySize is divisible by 5, so base32 needs no padding.
const KeySize = 5

const TokenSize = KeySize + sha256.Size

// Crockford's alphabet, https://www.crockford.com/base32.html
var encoding = base32.NewEncoding("0123456789ABCDEFGHJKMNPQRSTVWXYZ")

var crockfordMap = func(r rune) rune {
	switch r {
	case '-', '_':
		return -1
	case '0', 'o', 'O':
		return '0'
	case '1', 'l', 'L', 'i', 'I':
		return '1'
	default:
		return unicode.ToUpper(r)
	}
}

// Key identifies a player. It is printed as XXXX-XXXX so people can read it out.
type Key [KeySize]byte

func NewKey() Key {
	var key Key
	if _, err := rand.Read(key[:]); err != nil {
		panic(err)
	}
	return key
}

func (k Key) String() string {
	encoded := make([]byte, 8)
	encoding.Encode(encoded, k[:])
	return string(encoded[:4]) + "-" + string(encoded[4:])
}

func ParseKey(text string) (Key, error) {
	var key Key
	switch len(text) {
	case 8:
	case 9:
		if text[4] != '-' {
			return key, ErrInvalidKeyFormat
		}
	default:
		return key, invalidLengthError(len(text))
	}

	mapped := bytes.Map(crockfordMap, []byte(text))
	decoded := make([]byte, KeySize)
	n, err := encoding.Decode(decoded, mapped)
	if err != nil {
		return key, err
	}
	if n != KeySize {
		return key, invalidLengthError(n)
	}

	copy(key[:], decoded)
	return key, nil
}

// Token is a Key followed by its HMAC-SHA256 signature under a server secret.
type Token [TokenSize]byte

func NewToken(key Key, secret []byte) Token {
	var token Token
	copy(token[:KeySize], key[:])

	h := hmac.New(sha256.New, secret)
	h.Write(token[:KeySize])
	h.Sum(token[:KeySize])

	return token
}

// VerifyToken checks the token's signature against secret.
func VerifyToken(secret []byte, token Token) bool {
	h := hmac.New(sha256.New, secret)
	h.Write(token[:KeySize])
	return hmac.Equal(token[KeySize:], h.Sum(nil))
}

func (t Token) Key() Key {
	var key Key
	copy(key[:], t[:KeySize])
	return key
}

func (t Token) String() string {
	return base64.URLEncoding.EncodeToString(t[:])
}

// ParseToken reads the String form of a token.
func ParseToken(text string) (Token, error) {
	decoded, err := base64.URLEncoding.DecodeString(text)
	if err != nil {
		return Token{}, err
	}
	return TokenFromBytes(decoded)
}

func TokenFromBytes(b []byte) (Token, error) {
	var token Token
	if len(b) != TokenSize {
		return token, invalidLengthError(len(b))
	}
	copy(token[:], b)
	return token, nil
}
