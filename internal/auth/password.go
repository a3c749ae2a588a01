/*
Copyright 2025 RedisGate Authors.

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

package auth

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"golang.org/x/crypto/bcrypt"
)

// bcryptCost is above the library default; login latency stays acceptable
// while keeping offline cracking expensive.
const bcryptCost = 10

// HashPassword returns the bcrypt hash of plain.
func HashPassword(plain string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword reports whether plain matches the stored bcrypt hash.
// The comparison is constant-time inside bcrypt.
func VerifyPassword(plain, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

// redisPasswordCharset matches the passwords the provisioner has always
// generated; changing it would invalidate documented connect strings.
const redisPasswordCharset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#$%^&*"

// redisPasswordLength is the generated upstream password length.
const redisPasswordLength = 24

// GenerateRedisPassword returns a 24-character random password for a
// provisioned Redis instance, drawn from crypto/rand.
func GenerateRedisPassword() (string, error) {
	max := big.NewInt(int64(len(redisPasswordCharset)))
	buf := make([]byte, redisPasswordLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate redis password: %w", err)
		}
		buf[i] = redisPasswordCharset[n.Int64()]
	}
	return string(buf), nil
}
