// hash-admin-token generates an admin bearer token, or hashes one read from
// stdin, and prints the ADMIN_TOKEN_HASH value for it.
//
//	go run scripts/hash-admin-token.go [-stdin] [-format plain|json|env]
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-json"

	"github.com/beacon/beacon/internal/auth"
)

type output struct {
	Token string `json:"token,omitempty"`
	Hash  string `json:"hash"`
}

func main() {
	var (
		fromStdin = flag.Bool("stdin", false, "Hash the token read from stdin instead of generating one")
		format    = flag.String("format", "plain", "Output format: plain, json or env")
	)
	flag.Parse()

	var out output
	if *fromStdin {
		token, err := readToken()
		if err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(1)
		}
		hash, err := auth.HashToken(token)
		if err != nil {
			fmt.Fprintln(os.Stderr, "hash token:", err)
			os.Exit(1)
		}
		out.Hash = hash
	} else {
		token, hash, err := auth.GenerateToken()
		if err != nil {
			fmt.Fprintln(os.Stderr, "generate token:", err)
			os.Exit(1)
		}
		out = output{Token: token, Hash: hash}
	}

	switch strings.ToLower(*format) {
	case "plain":
		if out.Token != "" {
			fmt.Println("token:", out.Token)
		}
		fmt.Println("hash: ", out.Hash)
	case "env":
		// Single quotes keep the $ separators of the PHC string literal.
		fmt.Printf("ADMIN_TOKEN_HASH='%s'\n", out.Hash)
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(out)
	default:
		fmt.Fprintln(os.Stderr, "invalid format; use plain, json or env")
		os.Exit(1)
	}
}

func readToken() (string, error) {
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read token: %w", err)
	}
	token := strings.TrimSpace(line)
	if token == "" {
		return "", fmt.Errorf("token is empty")
	}
	return token, nil
}
