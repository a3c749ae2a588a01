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

package api

import (
	"encoding/json"
	"testing"

	. "github.com/onsi/gomega"
)

func TestPaginationNormalize(t *testing.T) {
	g := NewWithT(t)

	cases := []struct {
		name      string
		in, want  PaginationParams
		offset    int
	}{
		{"defaults", PaginationParams{}, PaginationParams{Page: 1, Limit: 20}, 0},
		{"negative page", PaginationParams{Page: -3, Limit: 10}, PaginationParams{Page: 1, Limit: 10}, 0},
		{"limit capped", PaginationParams{Page: 2, Limit: 500}, PaginationParams{Page: 2, Limit: 100}, 100},
		{"plain", PaginationParams{Page: 3, Limit: 25}, PaginationParams{Page: 3, Limit: 25}, 50},
	}
	for _, tc := range cases {
		got := tc.in.Normalize()
		g.Expect(got).To(Equal(tc.want), tc.name)
		g.Expect(got.Offset()).To(Equal(tc.offset), tc.name)
	}
}

func TestPaginatedResponseTotalPages(t *testing.T) {
	g := NewWithT(t)

	p := PaginationParams{Page: 1, Limit: 20}.Normalize()
	resp := NewPaginatedResponse([]int{1, 2, 3}, 41, p)
	g.Expect(resp.TotalPages).To(Equal(3))
	g.Expect(resp.TotalCount).To(Equal(int64(41)))

	empty := NewPaginatedResponse([]int{}, 0, p)
	g.Expect(empty.TotalPages).To(Equal(0))
}

func TestEnvelopeShape(t *testing.T) {
	g := NewWithT(t)

	ok, err := json.Marshal(Success(map[string]string{"k": "v"}))
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(string(ok)).To(ContainSubstring(`"success":true`))
	g.Expect(string(ok)).To(ContainSubstring(`"data":{"k":"v"}`))
	g.Expect(string(ok)).NotTo(ContainSubstring(`"error"`))

	fail, err := json.Marshal(Error("boom"))
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(string(fail)).To(ContainSubstring(`"success":false`))
	g.Expect(string(fail)).To(ContainSubstring(`"error":"boom"`))
	g.Expect(string(fail)).NotTo(ContainSubstring(`"data"`))
}
