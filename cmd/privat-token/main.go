// Command privat-token mints a v4.public access token for local development.
//
//	privat-token -genkey              print a fresh secret key (hex)
//	privat-token -user alice          print a token for alice using PRIVAT_PASETO_V4_SECRET_KEY_HEX
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"privat/cmd/identity/ids"
	"privat/cmd/internal/auth/session"

	"aidanwoods.dev/go-paseto"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "privat-token:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("privat-token", flag.ContinueOnError)
	var (
		userID  = fs.String("user", "", "user id to place in the token subject")
		genKey  = fs.Bool("genkey", false, "print a new secret key and exit")
		verbose = fs.Bool("v", false, "also print expiry and public key")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *genKey {
		fmt.Println(paseto.NewV4AsymmetricSecretKey().ExportHex())
		return nil
	}

	uid := strings.TrimSpace(*userID)
	if uid == "" {
		return errors.New("-user is required")
	}

	cfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	tokens, err := session.NewPasetoV4PublicManager(cfg)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	sid, err := ids.NewULID(now)
	if err != nil {
		return err
	}
	tok, exp, err := tokens.Issue(uid, sid, now)
	if err != nil {
		return err
	}

	fmt.Println(tok)
	if *verbose {
		fmt.Fprintf(os.Stderr, "expires=%s public_key=%s\n", exp.Format(time.RFC3339), tokens.PublicKeyHex())
	}
	return nil
}
