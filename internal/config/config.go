package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
)

// Event kinds used by the client
const (
	KindChannelCreation = 40
	KindChannelMessage  = 42
	KindPrivateMessage  = 420
)

const (
	DefaultConfigFile = "config.toml"
	DefaultLogDir     = "logs"
	DefaultDBPath     = "nostrachat.db"
	DefaultHistory    = "history.txt"
)

// ErrInvalidKey is returned when identity material in the config cannot be parsed
var ErrInvalidKey = errors.New("invalid key")

// Config holds application configuration, read once at startup
type Config struct {
	Relays   []string `toml:"relays"`
	Channels []string `toml:"channels"` // note1... or hex event ids of kind 40 roots
	Chats    []string `toml:"chats"`    // npub1... or hex public keys of contacts
	PrivKey  string   `toml:"privkey"`  // nsec1... or hex
	PubKey   string   `toml:"pubkey"`   // optional, must match privkey when set

	LogDir      string `toml:"log_dir"`
	DBPath      string `toml:"db_path"`
	HistoryFile string `toml:"history_file"`
	Debug       bool   `toml:"debug"`

	secretKey   string
	publicKey   string
	channelIDs  []string
	contactKeys []string
}

// Load parses and validates the provided buffer b as a config file body
func Load(b []byte) (*Config, error) {
	cfg := new(Config)
	if err := toml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads, parses and validates the provided file
func LoadFile(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Load(b)
}

// FixupAndValidate applies defaults and decodes every key in the config.
// It must be called again after the relay list or keys are modified.
func (c *Config) FixupAndValidate() error {
	if c.LogDir == "" {
		c.LogDir = DefaultLogDir
	}
	if c.DBPath == "" {
		c.DBPath = DefaultDBPath
	}
	if c.HistoryFile == "" {
		c.HistoryFile = DefaultHistory
	}
	if len(c.Relays) == 0 {
		return errors.New("config: no relays configured")
	}
	for _, r := range c.Relays {
		if !strings.HasPrefix(r, "ws://") && !strings.HasPrefix(r, "wss://") {
			return fmt.Errorf("config: relay %q is not a websocket url", r)
		}
	}

	sk, err := decodeEntity(c.PrivKey, "nsec")
	if err != nil {
		return fmt.Errorf("config: privkey: %w", err)
	}
	if err := checkSecretKey(sk); err != nil {
		return fmt.Errorf("config: privkey: %w", err)
	}
	pk, err := nostr.GetPublicKey(sk)
	if err != nil {
		return fmt.Errorf("config: privkey: %w: %v", ErrInvalidKey, err)
	}
	if c.PubKey != "" {
		want, err := decodeEntity(c.PubKey, "npub")
		if err != nil {
			return fmt.Errorf("config: pubkey: %w", err)
		}
		if want != pk {
			return fmt.Errorf("config: pubkey: %w: does not match privkey", ErrInvalidKey)
		}
	}
	c.secretKey, c.publicKey = sk, pk

	c.channelIDs = c.channelIDs[:0]
	for _, ch := range c.Channels {
		id, err := decodeEntity(ch, "note")
		if err != nil {
			return fmt.Errorf("config: channel %q: %w", ch, err)
		}
		c.channelIDs = append(c.channelIDs, id)
	}

	c.contactKeys = c.contactKeys[:0]
	for _, contact := range c.Chats {
		key, err := decodeEntity(contact, "npub")
		if err != nil {
			return fmt.Errorf("config: chat %q: %w", contact, err)
		}
		if err := checkPublicKey(key); err != nil {
			return fmt.Errorf("config: chat %q: %w", contact, err)
		}
		c.contactKeys = append(c.contactKeys, key)
	}
	return nil
}

// SecretKey returns the local identity secret key in hex
func (c *Config) SecretKey() string { return c.secretKey }

// PublicKey returns the local identity x-only public key in hex
func (c *Config) PublicKey() string { return c.publicKey }

// ChannelIDs returns the configured channel root ids in hex
func (c *Config) ChannelIDs() []string { return c.channelIDs }

// ContactKeys returns the configured contact public keys in hex, in the
// same order as Chats.
func (c *Config) ContactKeys() []string { return c.contactKeys }

// decodeEntity accepts either a bech32 entity with the given prefix or a
// 64 character hex string and returns the hex form.
func decodeEntity(s, prefix string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	if strings.HasPrefix(s, prefix+"1") {
		got, value, err := nip19.Decode(s)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		if got != prefix {
			return "", fmt.Errorf("%w: expected %s, got %s", ErrInvalidKey, prefix, got)
		}
		v, ok := value.(string)
		if !ok {
			return "", fmt.Errorf("%w: unexpected %s payload", ErrInvalidKey, prefix)
		}
		return v, nil
	}
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 32 {
		return "", fmt.Errorf("%w: expected %s1... or 64 hex characters", ErrInvalidKey, prefix)
	}
	return strings.ToLower(s), nil
}

// checkSecretKey rejects scalars outside [1, n-1]
func checkSecretKey(hexKey string) error {
	b, err := hex.DecodeString(hexKey)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	var k btcec.ModNScalar
	if overflow := k.SetByteSlice(b); overflow || k.IsZero() {
		return fmt.Errorf("%w: not a valid secp256k1 secret key", ErrInvalidKey)
	}
	k.Zero()
	return nil
}

// checkPublicKey rejects x coordinates that are not on the curve
func checkPublicKey(hexKey string) error {
	b, err := hex.DecodeString(hexKey)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if _, err := schnorr.ParsePubKey(b); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return nil
}
