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
	"strings"
	"testing"

	. "github.com/onsi/gomega"
)

func TestPasswordHashRoundTrip(t *testing.T) {
	g := NewWithT(t)

	hash, err := HashPassword("correct horse battery staple")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(hash).NotTo(Equal("correct horse battery staple"))

	g.Expect(VerifyPassword("correct horse battery staple", hash)).To(BeTrue())
	g.Expect(VerifyPassword("wrong password", hash)).To(BeFalse())
}

func TestGenerateRedisPassword(t *testing.T) {
	g := NewWithT(t)

	seen := map[string]bool{}
	for i := 0; i < 10; i++ {
		pw, err := GenerateRedisPassword()
		g.Expect(err).NotTo(HaveOccurred())
		g.Expect(pw).To(HaveLen(redisPasswordLength))
		for _, c := range pw {
			g.Expect(strings.ContainsRune(redisPasswordCharset, c)).To(BeTrue())
		}
		g.Expect(seen[pw]).To(BeFalse(), "generated passwords should not repeat")
		seen[pw] = true
	}
}
