package keystore

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
)

var ErrKeyNotFound = errors.New("key not found")

// StaticKeyStore holds the public keys of trusted participants.
type StaticKeyStore struct {
	mu   sync.RWMutex
	keys map[string]ed25519.PublicKey
}

func New() *StaticKeyStore {
	return &StaticKeyStore{keys: make(map[string]ed25519.PublicKey)}
}

// Parse builds a keystore from "participantId:hexPublicKey,participantId2:hexPublicKey".
func Parse(raw string) (*StaticKeyStore, error) {
	ks := New()
	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		parts := strings.SplitN(p, ":", 2)
		if len(parts) != 2 || parts[0] == "" {
			return nil, errors.New("invalid TRUSTED_PARTICIPANTS format")
		}
		bytes, err := hex.DecodeString(parts[1])
		if err != nil {
			return nil, fmt.Errorf("participant %s: %w", parts[0], err)
		}
		if len(bytes) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("participant %s: public key must be %d bytes", parts[0], ed25519.PublicKeySize)
		}
		ks.keys[parts[0]] = ed25519.PublicKey(bytes)
	}
	return ks, nil
}

func (s *StaticKeyStore) Add(participantID string, key ed25519.PublicKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[participantID] = key
}

func (s *StaticKeyStore) PublicKey(ctx context.Context, participantID string) (ed25519.PublicKey, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.keys[participantID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, participantID)
	}
	return key, nil
}

// SigningKey decodes a hex ed25519 seed into a private key.
func SigningKey(seedHex string) (ed25519.PrivateKey, error) {
	seed, err := hex.DecodeString(strings.TrimSpace(seedHex))
	if err != nil {
		return nil, fmt.Errorf("decode signing key: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("signing key must be a %d byte seed", ed25519.SeedSize)
	}
	return ed25519.NewKeyFromSeed(seed), nil
}
