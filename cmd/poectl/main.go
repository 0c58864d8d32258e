// poectl is a command line client of a poe node.
package main

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/minio/sha256-simd"
	"github.com/zeebo/blake3"

	"github.com/spacemeshos/poe/cert"
	"github.com/spacemeshos/poe/cmd/poectl/client"
	"github.com/spacemeshos/poe/node"
	"github.com/spacemeshos/poe/registry"
)

const keyEnvVar = "POECTL_KEY"

type globalOptions struct {
	URL     string        `long:"url"     description:"Address of the node REST API" default:"http://localhost:8180"`
	Timeout time.Duration `long:"timeout" description:"Timeout of a command"         default:"30s"`
	Retries int           `long:"retries" description:"Retries of failed requests"   default:"4"`
}

var global globalOptions

func (g *globalOptions) client() (*client.HTTPClient, error) {
	return client.NewHTTPClient(g.URL, client.WithRetries(g.Retries))
}

func (g *globalOptions) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), g.Timeout)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type keygenCommand struct {
	Out string `long:"out" short:"o" description:"Write the private key to this file instead of stdout"`
}

func (c *keygenCommand) Execute([]string) error {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return err
	}
	encoded := base64.StdEncoding.EncodeToString(priv)
	if c.Out != "" {
		if err := os.WriteFile(c.Out, []byte(encoded+"\n"), 0o600); err != nil {
			return fmt.Errorf("writing key: %w", err)
		}
	} else {
		fmt.Printf("private key: %s\n", encoded)
	}
	fmt.Printf("identity: %s\n", registry.Identity(pub))
	return nil
}

type hashCommand struct {
	Algo string `long:"algo" description:"Hash function" choice:"sha256" choice:"blake3" default:"sha256"`
	Args struct {
		File string `positional-arg-name:"FILE" description:"File to fingerprint (- for stdin)"`
	} `positional-args:"yes" required:"yes"`
}

func fingerprintFile(algo, file string) (registry.Fingerprint, error) {
	var h hash.Hash
	switch algo {
	case "blake3":
		h = blake3.New()
	default:
		h = sha256.New()
	}
	var r io.Reader = os.Stdin
	if file != "-" {
		f, err := os.Open(file)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	if _, err := io.Copy(h, r); err != nil {
		return nil, fmt.Errorf("hashing %s: %w", file, err)
	}
	return h.Sum(nil), nil
}

func (c *hashCommand) Execute([]string) error {
	fp, err := fingerprintFile(c.Algo, c.Args.File)
	if err != nil {
		return err
	}
	fmt.Println(fp)
	return nil
}

// claimTarget selects the fingerprint of a call either directly or by
// hashing a file.
type claimTarget struct {
	Fingerprint registry.Fingerprint `long:"fingerprint" short:"f" description:"Hex encoded fingerprint"`
	File        string               `long:"file"                  description:"Fingerprint this file"`
	Algo        string               `long:"algo"                  description:"Hash function used with --file" choice:"sha256" choice:"blake3" default:"sha256"`
}

func (t *claimTarget) fingerprint() (registry.Fingerprint, error) {
	switch {
	case t.File != "" && len(t.Fingerprint) > 0:
		return nil, errors.New("--fingerprint and --file are mutually exclusive")
	case t.File != "":
		return fingerprintFile(t.Algo, t.File)
	case len(t.Fingerprint) > 0:
		return t.Fingerprint, nil
	default:
		return nil, errors.New("either --fingerprint or --file is required")
	}
}

type signer struct {
	KeyFile string `long:"key" short:"k" description:"File with a base64 encoded private key (or set POECTL_KEY)"`
}

func (s *signer) key() (ed25519.PrivateKey, error) {
	encoded := os.Getenv(keyEnvVar)
	if s.KeyFile != "" {
		data, err := os.ReadFile(s.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("reading key: %w", err)
		}
		encoded = string(data)
	}
	if encoded == "" {
		return nil, fmt.Errorf("no key: use --key or %s", keyEnvVar)
	}
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("decoding key: %w", err)
	}
	if len(key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("key has invalid length %d", len(key))
	}
	return key, nil
}

func send(s *signer, t *claimTarget, call node.Call, receiver registry.Identity) error {
	key, err := s.key()
	if err != nil {
		return err
	}
	fp, err := t.fingerprint()
	if err != nil {
		return err
	}
	cl, err := global.client()
	if err != nil {
		return err
	}
	ctx, cancel := global.context()
	defer cancel()
	receipt, err := cl.Send(ctx, key, call, fp, receiver)
	if err != nil {
		return err
	}
	return printJSON(receipt)
}

type createCommand struct {
	signer
	claimTarget
}

func (c *createCommand) Execute([]string) error {
	return send(&c.signer, &c.claimTarget, node.CallCreate, registry.Identity{})
}

type revokeCommand struct {
	signer
	claimTarget
}

func (c *revokeCommand) Execute([]string) error {
	return send(&c.signer, &c.claimTarget, node.CallRevoke, registry.Identity{})
}

type transferCommand struct {
	signer
	claimTarget
	To registry.Identity `long:"to" description:"Hex encoded identity of the receiver" required:"yes"`
}

func (c *transferCommand) Execute([]string) error {
	return send(&c.signer, &c.claimTarget, node.CallTransfer, c.To)
}

type claimCommand struct {
	claimTarget
	Verify bool `long:"verify" description:"Verify the certificate against the node's operator key"`
}

func (c *claimCommand) Execute([]string) error {
	fp, err := c.fingerprint()
	if err != nil {
		return err
	}
	cl, err := global.client()
	if err != nil {
		return err
	}
	ctx, cancel := global.context()
	defer cancel()
	claim, err := cl.Claim(ctx, fp)
	if err != nil {
		return err
	}
	if err := printJSON(claim); err != nil {
		return err
	}
	if !c.Verify {
		return nil
	}
	info, err := cl.Info(ctx)
	if err != nil {
		return err
	}
	certified, err := cert.VerifyFingerprint(claim.Certificate, info.OperatorKey, fp)
	if err != nil {
		return fmt.Errorf("certificate is invalid: %w", err)
	}
	fmt.Printf("certificate is valid, issued at %s\n", certified.IssuedAt.Format(time.RFC3339))
	return nil
}

type infoCommand struct{}

func (c *infoCommand) Execute([]string) error {
	cl, err := global.client()
	if err != nil {
		return err
	}
	ctx, cancel := global.context()
	defer cancel()
	info, err := cl.Info(ctx)
	if err != nil {
		return err
	}
	return printJSON(info)
}

type eventsCommand struct {
	From  uint64 `long:"from"  description:"First block to list"`
	Limit int    `long:"limit" description:"Maximum number of events" default:"100"`
}

func (c *eventsCommand) Execute([]string) error {
	cl, err := global.client()
	if err != nil {
		return err
	}
	ctx, cancel := global.context()
	defer cancel()
	records, err := cl.Events(ctx, registry.BlockNumber(c.From), c.Limit)
	if err != nil {
		return err
	}
	for _, r := range records {
		fmt.Println(r)
	}
	return nil
}

func newParser() *flags.Parser {
	parser := flags.NewParser(&global, flags.Default)
	commands := []struct {
		name, short string
		data        any
	}{
		{"keygen", "Generate an identity key", &keygenCommand{}},
		{"hash", "Print the fingerprint of a file", &hashCommand{}},
		{"create", "Claim a fingerprint", &createCommand{}},
		{"revoke", "Revoke an owned claim", &revokeCommand{}},
		{"transfer", "Transfer an owned claim", &transferCommand{}},
		{"claim", "Show a claim and its certificate", &claimCommand{}},
		{"info", "Show node info", &infoCommand{}},
		{"events", "List registry events", &eventsCommand{}},
	}
	for _, c := range commands {
		if _, err := parser.AddCommand(c.name, c.short, "", c.data); err != nil {
			panic(err)
		}
	}
	return parser
}

func main() {
	// The parser prints errors itself.
	if _, err := newParser().Parse(); err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
}
