package auth

import (
	"strings"
	"testing"

	"github.com/Likyliang/APIHub-Gateway/internal/conf"
	"github.com/Likyliang/APIHub-Gateway/internal/model"
)

func TestGenerateAPIKey(t *testing.T) {
	conf.AppConfig.Auth.KeyPrefix = "ahg"

	key := GenerateAPIKey()
	if !strings.HasPrefix(key, "ahg_") {
		t.Errorf("key %q missing prefix", key)
	}
	if len(key) != len("ahg_")+48 {
		t.Errorf("key length = %d, want %d", len(key), len("ahg_")+48)
	}
	for _, r := range key[len("ahg_"):] {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')) {
			t.Errorf("key contains unexpected character %q", r)
		}
	}

	if GenerateAPIKey() == key {
		t.Error("two generated keys should not collide")
	}
}

func TestHashAPIKey(t *testing.T) {
	h1 := HashAPIKey("ahg_abc")
	h2 := HashAPIKey("ahg_abc")
	if h1 != h2 {
		t.Error("hash should be deterministic")
	}
	if len(h1) != 64 {
		t.Errorf("hash length = %d, want 64", len(h1))
	}
	if h1 == HashAPIKey("ahg_abd") {
		t.Error("different keys should hash differently")
	}
}

func TestMaskAPIKey(t *testing.T) {
	masked := MaskAPIKey("ahg_0123456789abcdef")
	if masked != "ahg_0123...cdef" {
		t.Errorf("MaskAPIKey() = %q", masked)
	}
	if !strings.Contains(masked, "...") {
		t.Error("masked key should contain ellipsis")
	}
	if short := MaskAPIKey("short"); short != "short" {
		t.Errorf("short keys should be returned unchanged, got %q", short)
	}
}

func TestJWTRoundTrip(t *testing.T) {
	conf.AppConfig.Auth.Secret = "test-secret"
	conf.AppConfig.Auth.ExpireMinutes = 60

	user := model.User{ID: 42, Username: "alice", IsAdmin: true}
	token, expire, err := GenerateJWTToken(user)
	if err != nil {
		t.Fatalf("GenerateJWTToken() error = %v", err)
	}
	if expire == "" {
		t.Error("expire time should not be empty")
	}

	claims, err := ParseJWTToken(token)
	if err != nil {
		t.Fatalf("ParseJWTToken() error = %v", err)
	}
	if claims.UserID != 42 {
		t.Errorf("UserID = %d, want 42", claims.UserID)
	}
	if !claims.IsAdmin {
		t.Error("IsAdmin should survive the round trip")
	}

	if _, err := ParseJWTToken(token + "x"); err == nil {
		t.Error("tampered token should not parse")
	}

	conf.AppConfig.Auth.Secret = "other-secret"
	if _, err := ParseJWTToken(token); err == nil {
		t.Error("token signed with a different secret should not parse")
	}
}
