package hdwallet

import (
	"bytes"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"filippo.io/age"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"

	"github.com/craftclass/jury/internal/fileutil"
)

// DevMnemonic is the well-known development mnemonic local nodes fund.
const DevMnemonic = "test test test test test test test test test test test junk"

// coinTypeETH is the BIP44 coin type for Ethereum.
const coinTypeETH = 60

var (
	// ErrInvalidWordCount indicates the mnemonic must be 12 or 24 words.
	ErrInvalidWordCount = errors.New("word count must be 12 or 24")

	// ErrInvalidMnemonic indicates the mnemonic is not valid.
	ErrInvalidMnemonic = errors.New("invalid mnemonic phrase")

	// ErrNoAccounts indicates a wallet was configured with zero accounts.
	ErrNoAccounts = errors.New("account count must be positive")
)

// GenerateMnemonic creates a new BIP39 mnemonic phrase.
// wordCount must be 12 (128 bits entropy) or 24 (256 bits entropy).
func GenerateMnemonic(wordCount int) (string, error) {
	var bitSize int
	switch wordCount {
	case 12:
		bitSize = 128
	case 24:
		bitSize = 256
	default:
		return "", ErrInvalidWordCount
	}

	entropy, err := bip39.NewEntropy(bitSize)
	if err != nil {
		return "", err
	}
	return bip39.NewMnemonic(entropy)
}

// NormalizeMnemonic lowercases the phrase and collapses whitespace.
func NormalizeMnemonic(mnemonic string) string {
	return strings.Join(strings.Fields(strings.ToLower(mnemonic)), " ")
}

// ValidateMnemonic checks word count, word validity and checksum.
func ValidateMnemonic(mnemonic string) error {
	normalized := NormalizeMnemonic(mnemonic)
	if n := len(strings.Fields(normalized)); n != 12 && n != 24 {
		return ErrInvalidMnemonic
	}
	if !bip39.IsMnemonicValid(normalized) {
		return ErrInvalidMnemonic
	}
	return nil
}

// DerivationPath returns the BIP44 path of the account at index.
func DerivationPath(index uint32) string {
	return fmt.Sprintf("m/44'/%d'/0'/0/%d", coinTypeETH, index)
}

// DeriveKeys derives count secp256k1 keys on m/44'/60'/0'/0/i.
func DeriveKeys(mnemonic, passphrase string, count int) ([]*ecdsa.PrivateKey, error) {
	if count <= 0 {
		return nil, ErrNoAccounts
	}
	if err := ValidateMnemonic(mnemonic); err != nil {
		return nil, err
	}

	seed, err := bip39.NewSeedWithErrorChecking(NormalizeMnemonic(mnemonic), passphrase)
	if err != nil {
		return nil, ErrInvalidMnemonic
	}

	master, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, fmt.Errorf("failed to create master key: %w", err)
	}

	// m/44'/60'/0'/0
	external := master
	for _, idx := range []uint32{
		bip32.FirstHardenedChild + 44,
		bip32.FirstHardenedChild + coinTypeETH,
		bip32.FirstHardenedChild,
		0,
	} {
		if external, err = external.NewChildKey(idx); err != nil {
			return nil, fmt.Errorf("failed to derive key: %w", err)
		}
	}

	keys := make([]*ecdsa.PrivateKey, 0, count)
	for i := 0; i < count; i++ {
		child, err := external.NewChildKey(uint32(i)) //nolint:gosec // bounded by count
		if err != nil {
			return nil, fmt.Errorf("failed to derive account %d: %w", i, err)
		}
		key, err := crypto.ToECDSA(child.Key)
		if err != nil {
			return nil, fmt.Errorf("failed to decode account %d key: %w", i, err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// Addresses returns the addresses of keys.
func Addresses(keys []*ecdsa.PrivateKey) []common.Address {
	out := make([]common.Address, len(keys))
	for i, k := range keys {
		out[i] = crypto.PubkeyToAddress(k.PublicKey)
	}
	return out
}

// CreateSeedFile generates a mnemonic, encrypts it with an age scrypt
// recipient and writes it atomically to path. The mnemonic is returned so
// it can be shown once.
func CreateSeedFile(path, passphrase string, wordCount int) (string, error) {
	mnemonic, err := GenerateMnemonic(wordCount)
	if err != nil {
		return "", err
	}
	if err := WriteSeedFile(path, passphrase, mnemonic); err != nil {
		return "", err
	}
	return mnemonic, nil
}

// WriteSeedFile encrypts an existing mnemonic into path.
func WriteSeedFile(path, passphrase, mnemonic string) error {
	if err := ValidateMnemonic(mnemonic); err != nil {
		return err
	}

	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return err
	}

	buf := &bytes.Buffer{}
	w, err := age.Encrypt(buf, recipient)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(w, NormalizeMnemonic(mnemonic)); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	return fileutil.WriteAtomic(path, buf.Bytes(), 0o600)
}

// LoadMnemonic decrypts the seed file at path.
func LoadMnemonic(path, passphrase string) (string, error) {
	ciphertext, err := os.ReadFile(path) //nolint:gosec // G304: path comes from config
	if err != nil {
		return "", err
	}

	identity, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return "", err
	}

	r, err := age.Decrypt(bytes.NewReader(ciphertext), identity)
	if err != nil {
		return "", fmt.Errorf("decrypting seed file: %w", err)
	}
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}

	mnemonic := NormalizeMnemonic(string(plaintext))
	if err := ValidateMnemonic(mnemonic); err != nil {
		return "", err
	}
	return mnemonic, nil
}
