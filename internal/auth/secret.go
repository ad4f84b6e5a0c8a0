package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

const (
	// tokenBytes はBearerトークンの乱数バイト長。hexで64文字になる。
	tokenBytes = 32
	// codeBytes は交換コードの乱数バイト長。base64urlで43文字になる。
	codeBytes = 32
)

// generateToken は暗号的に安全なBearerトークンを生成する。
func generateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// generateCode はURLセーフな交換コードを生成する。
func generateCode() (string, error) {
	b := make([]byte, codeBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashSecret はコード・トークンの保存用ダイジェスト（SHA-256 hex）を返す。
// 平文はDBに保存しない。
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}
