/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package tokenization seals address secrets before they are written to the
// store and opens them again for signing or export.
package tokenization

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"strings"
)

// tokenPrefix marks a sealed value so that plain values written before a key
// was configured are still readable.
const tokenPrefix = "tok:"

var ErrTokenTooShort = errors.New("token too short")

type Service struct {
	aead cipher.AEAD
}

// NewService derives an AES-256-GCM key from secret.
func NewService(secret string) (*Service, error) {
	if secret == "" {
		return nil, errors.New("tokenization secret is empty")
	}
	key := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Service{aead: aead}, nil
}

// Tokenize seals value. Tokenizing an existing token returns it unchanged.
func (s *Service) Tokenize(value string) (string, error) {
	if value == "" || IsToken(value) {
		return value, nil
	}
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := s.aead.Seal(nonce, nonce, []byte(value), nil)
	return tokenPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Detokenize opens a token. Values without the token prefix are returned as is.
func (s *Service) Detokenize(token string) (string, error) {
	if !IsToken(token) {
		return token, nil
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(token, tokenPrefix))
	if err != nil {
		return "", err
	}
	nonceSize := s.aead.NonceSize()
	if len(data) < nonceSize {
		return "", ErrTokenTooShort
	}
	plain, err := s.aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

func IsToken(value string) bool {
	return strings.HasPrefix(value, tokenPrefix)
}
