// Package main prints the bcrypt hash of an administrator password. The server
// only stores hashes in auth.admins, so this tool is used when adding an admin:
//
//	go run ./cmd/hash 'the password' >> hash.txt
//
// With no argument the password is read from the first line of stdin.
package main

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/shelter-registry/shelter-registry/internal/auth"
)

func main() {
	password := ""
	if len(os.Args) > 1 {
		password = os.Args[1]
	} else {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			log.Fatalf("failed to read password: %v", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}

	if err := auth.CheckPasswordPolicy(password); err != nil {
		log.Fatal(err)
	}
	hash, err := auth.HashPassword(password, auth.BcryptCost)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(hash)
}
