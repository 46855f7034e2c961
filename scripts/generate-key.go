// Package main generates the secrets a local deployment needs: the session signing
// key, the Telegram webhook secret and a throwaway "admin" login. It prints them as
// SHR_ environment lines ready to paste into a .env file. Generate production
// admin hashes with cmd/hash instead, from a password you chose.
package main

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log"

	"github.com/shelter-registry/shelter-registry/internal/auth"
)

func randomBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		log.Fatal(err)
	}
	return b
}

func main() {
	jwtSecret := hex.EncodeToString(randomBytes(32))
	// Telegram accepts A-Z, a-z, 0-9, _ and - in the secret token.
	webhookSecret := base64.RawURLEncoding.EncodeToString(randomBytes(24))
	adminPassword := base64.RawURLEncoding.EncodeToString(randomBytes(12))

	hash, err := auth.HashPassword(adminPassword, auth.BcryptCost)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println("# Development secrets. Do not reuse in production.")
	fmt.Printf("SHR_AUTH_JWT_SECRET=%s\n", jwtSecret)
	fmt.Printf("SHR_NOTIFICATIONS_TELEGRAM_WEBHOOK_SECRET=%s\n", webhookSecret)
	fmt.Println()
	fmt.Println("# config.yaml")
	fmt.Println("auth:")
	fmt.Println("  admins:")
	fmt.Printf("    admin: %q\n", hash)
	fmt.Println()
	fmt.Printf("# admin login: admin / %s\n", adminPassword)
}
