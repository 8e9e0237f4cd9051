// Command gsls-sign produces signed record envelopes for submission to a registry node.
//
//	gsls-sign -keygen -key me.pem                      write a new Ed25519 key
//	gsls-sign -key me.pem -record rec.json [-fill]     print the envelope for rec.json
//	gsls-sign -derive -key me.pem -salt <salt>         print the globalID for key and salt
package main

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/SharefulNetworks/shareful-gsls/envelope"
	"github.com/SharefulNetworks/shareful-gsls/identity"
	"github.com/SharefulNetworks/shareful-gsls/record"
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, "gsls-sign:", err)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("gsls-sign", flag.ContinueOnError)
	var (
		keyPath    = fs.String("key", "", "PKCS#8 PEM private key")
		recordPath = fs.String("record", "-", "record JSON file, - for stdin")
		salt       = fs.String("salt", "", "salt for -derive, or for -fill when the record has none")
		alg        = fs.String("alg", "", "signature algorithm (default depends on the key)")
		fill       = fs.Bool("fill", false, "fill personalPublicKey, salt, globalID and datetime before signing")
		derive     = fs.Bool("derive", false, "print the globalID for -key and -salt")
		keygen     = fs.Bool("keygen", false, "write a new Ed25519 key to -key")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *keyPath == "" {
		return errors.New("-key is required")
	}

	if *keygen {
		return generateKey(*keyPath)
	}

	key, err := loadKey(*keyPath)
	if err != nil {
		return err
	}
	pub, err := identity.EncodePublicKey(key.Public())
	if err != nil {
		return err
	}

	if *derive {
		if err := identity.ValidSalt(*salt); err != nil {
			return err
		}
		_, err := fmt.Fprintln(stdout, identity.DeriveGID(pub, *salt))
		return err
	}

	raw, err := readRecord(*recordPath, stdin)
	if err != nil {
		return err
	}
	rec, err := record.Decode(raw)
	if err != nil && !*fill {
		return err
	}
	if *fill {
		if rec, err = fillRecord(raw, pub, *salt); err != nil {
			return err
		}
	}

	if *alg == "" {
		if *alg, err = envelope.DefaultAlgorithm(key); err != nil {
			return err
		}
	}
	text, err := envelope.SignWith(rec, *alg, key)
	if err != nil {
		return err
	}

	//refuse to print anything a node would reject.
	if _, err := envelope.Verify(text); err != nil {
		return err
	}
	_, err = fmt.Fprintln(stdout, text)
	return err
}

func readRecord(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

// fillRecord completes a partial record with the signer's identity fields.
func fillRecord(raw []byte, pub, salt string) (*record.SocialRecord, error) {
	rec := record.SocialRecord{Type: "user", Active: 1}
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	rec.PersonalPublicKey = pub
	if rec.AccountPublicKey == "" {
		rec.AccountPublicKey = pub
	}
	if salt != "" {
		rec.Salt = salt
	}
	if rec.Salt == "" {
		buf := make([]byte, 12)
		if _, err := rand.Read(buf); err != nil {
			return nil, err
		}
		rec.Salt = base64.StdEncoding.EncodeToString(buf)
	}
	rec.GlobalID = identity.DeriveGID(rec.PersonalPublicKey, rec.Salt)
	rec.Datetime = time.Now().UTC().Format(time.RFC3339)
	if rec.KeyRevocationList == nil {
		rec.KeyRevocationList = []record.KeyRevocation{}
	}
	return &rec, nil
}

func loadKey(path string) (crypto.Signer, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("%s: no PEM block", path)
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	signer, ok := parsed.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("%s: %T cannot sign", path, parsed)
	}
	return signer, nil
}

func generateKey(path string) error {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return err
	}
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := pem.Encode(f, &pem.Block{Type: "PRIVATE KEY", Bytes: der}); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
