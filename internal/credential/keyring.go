package credential

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/99designs/keyring"
)

const (
	keyToken    = "token"
	keyIdentity = "identity"
)

// KeyringStore 操作系统钥匙串凭证存储
//
// 优先使用系统钥匙串（macOS Keychain、Secret Service、WinCred），
// 不可用时回退到加密文件后端。
type KeyringStore struct {
	ring keyring.Keyring
}

// KeyringConfig 钥匙串存储配置
type KeyringConfig struct {
	Service string // 钥匙串服务名
	FileDir string // 文件后端回退目录
}

// NewKeyringStore 打开钥匙串并创建凭证存储
func NewKeyringStore(cfg KeyringConfig) (*KeyringStore, error) {
	if cfg.Service == "" {
		cfg.Service = "tempmail"
	}
	if cfg.FileDir == "" {
		cfg.FileDir = "~/.config/tempmail/credentials"
	}

	ring, err := keyring.Open(keyring.Config{
		ServiceName: cfg.Service,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  cfg.FileDir,
		FilePasswordFunc:         keyring.FixedStringPrompt(cfg.Service + "-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}

	return &KeyringStore{ring: ring}, nil
}

func (s *KeyringStore) SetToken(token string) error {
	err := s.ring.Set(keyring.Item{Key: keyToken, Data: []byte(token)})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", keyToken, err)
	}
	return nil
}

func (s *KeyringStore) SetIdentity(id Identity) error {
	data, err := json.Marshal(id)
	if err != nil {
		return fmt.Errorf("marshaling identity: %w", err)
	}

	if err := s.ring.Set(keyring.Item{Key: keyIdentity, Data: data}); err != nil {
		return fmt.Errorf("setting credential %q: %w", keyIdentity, err)
	}
	return nil
}

func (s *KeyringStore) Token() (string, error) {
	item, err := s.ring.Get(keyToken)
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("getting credential %q: %w", keyToken, err)
	}
	return string(item.Data), nil
}

func (s *KeyringStore) Identity() (Identity, error) {
	item, err := s.ring.Get(keyIdentity)
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return Identity{}, ErrNotFound
		}
		return Identity{}, fmt.Errorf("getting credential %q: %w", keyIdentity, err)
	}

	var id Identity
	if err := json.Unmarshal(item.Data, &id); err != nil {
		return Identity{}, fmt.Errorf("unmarshaling identity: %w", err)
	}
	return id, nil
}

func (s *KeyringStore) Clear() error {
	for _, key := range []string{keyToken, keyIdentity} {
		err := s.ring.Remove(key)
		if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("deleting credential %q: %w", key, err)
		}
	}
	return nil
}
