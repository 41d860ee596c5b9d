package auth_test

import (
	"crypto/rand"
	"strings"
	"testing"

	"github.com/sessamekesh/scenelink/pkg/auth"
)

func TestVerifyToken(t *testing.T) {
	secret := make([]byte, 32)
	rand.Read(secret)

	t.Run("valid", func(t *testing.T) {
		key := auth.NewKey()
		token := auth.NewToken(key, secret)
		if token.Key() != key {
			t.Errorf("Key() = %v, want %v", token.Key(), key)
		}
		if !auth.VerifyToken(secret, token) {
			t.Error("VerifyToken() = false for a token signed with the same secret")
		}
	})

	t.Run("other secret", func(t *testing.T) {
		token := auth.NewToken(auth.NewKey(), secret)

		secret2 := make([]byte, 32)
		rand.Read(secret2)
		if auth.VerifyToken(secret2, token) {
			t.Error("VerifyToken() = true for a token signed with another secret")
		}
	})

	t.Run("tampered key", func(t *testing.T) {
		token := auth.NewToken(auth.NewKey(), secret)
		token[0] ^= 0xFF
		if auth.VerifyToken(secret, token) {
			t.Error("VerifyToken() = true for a tampered token")
		}
	})
}

func TestParseToken(t *testing.T) {
	token := auth.NewToken(auth.NewKey(), []byte("secret"))

	parsed, err := auth.ParseToken(token.String())
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if parsed != token {
		t.Errorf("ParseToken() = %v, want %v", parsed, token)
	}

	if _, err := auth.ParseToken("c2hvcnQ="); err == nil {
		t.Error("ParseToken() accepted a short token")
	}
}

func TestParseKey(t *testing.T) {
	key := auth.NewKey()
	text := key.String()

	tests := map[string]struct {
		text    string
		wantErr bool
	}{
		"canonical":     {text: text},
		"without dash":  {text: text[:4] + text[5:]},
		"lowercase":     {text: strings.ToLower(text)},
		"bad separator": {text: text[:4] + "+" + text[5:], wantErr: true},
		"too short":     {text: "ABC", wantErr: true},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := auth.ParseKey(tt.text)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseKey(%q) error = %v, wantErr %v", tt.text, err, tt.wantErr)
			}
			if !tt.wantErr && got != key {
				t.Errorf("ParseKey(%q) = %v, want %v", tt.text, got, key)
			}
		})
	}
}
