package keys

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// KeyStore is a simple local filesystem key manager for the CLI tools.
//
// Seeds are stored hex-encoded in 0600 files under <dir>/<name>.seed.
// It is deliberately explicit and dependency-free.
type KeyStore struct {
	Directory string
}

func DefaultDirectory() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".tanglechan", "keys"), nil
}

func OpenKeyStore(directory string) (*KeyStore, error) {
	if directory == "" {
		var err error
		directory, err = DefaultDirectory()
		if err != nil {
			return nil, err
		}
	}
	return &KeyStore{Directory: directory}, nil
}

func CheckKeyName(name string) error {
	if name == "" {
		return errors.New("key name cannot be empty")
	}
	for _, char := range name {
		if (char >= 'a' && char <= 'z') || (char >= 'A' && char <= 'Z') || (char >= '0' && char <= '9') || char == '-' || char == '_' {
			continue
		}
		return fmt.Errorf("invalid character %q in key name", char)
	}
	return nil
}

func (ks *KeyStore) seedPath(name string) string {
	return filepath.Join(ks.Directory, name+".seed")
}

// Init stores a seed under name. A nil seed generates a fresh random one.
// Returns the identity and the file path written.
func (ks *KeyStore) Init(name string, seed []byte, overwrite bool) (*Identity, string, error) {
	if err := CheckKeyName(name); err != nil {
		return nil, "", err
	}
	if seed == nil {
		seed = make([]byte, SeedSize)
		if _, err := rand.Read(seed); err != nil {
			return nil, "", err
		}
	}
	id, err := NewIdentity(seed)
	if err != nil {
		return nil, "", err
	}

	path := ks.seedPath(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, "", err
	}
	flags := os.O_WRONLY | os.O_CREATE
	if overwrite {
		flags |= os.O_TRUNC
	} else {
		flags |= os.O_EXCL
	}
	file, err := os.OpenFile(path, flags, 0o600)
	if err != nil {
		return nil, "", err
	}
	if _, err := file.WriteString(hex.EncodeToString(seed) + "\n"); err != nil {
		_ = file.Close()
		return nil, "", err
	}
	if err := file.Close(); err != nil {
		return nil, "", err
	}
	return id, path, nil
}

// Load reads the seed stored under name and derives its identity.
func (ks *KeyStore) Load(name string) (*Identity, error) {
	if err := CheckKeyName(name); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(ks.seedPath(name))
	if err != nil {
		return nil, err
	}
	seed, err := ParseSeedHex(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, err
	}
	return NewIdentity(seed)
}

// List returns the stored key names, sorted.
func (ks *KeyStore) List() ([]string, error) {
	entries, err := os.ReadDir(ks.Directory)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.HasSuffix(entry.Name(), ".seed") {
			names = append(names, strings.TrimSuffix(entry.Name(), ".seed"))
		}
	}
	sort.Strings(names)
	return names, nil
}
