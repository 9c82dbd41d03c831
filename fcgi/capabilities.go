// Copyright 2026 The fastcgi-go Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package fcgi

import "strconv"

// Capability names a management-record GET_VALUES query may ask about.
// Any name not in this set is silently omitted from the
// GET_VALUES_RESULT reply, matching FCGI_GET_VALUES semantics: the
// responder only answers what it recognizes.
const (
	CapMaxConns  = "FCGI_MAX_CONNS"
	CapMaxReqs   = "FCGI_MAX_REQS"
	CapMpxsConns = "FCGI_MPXS_CONNS"
)

// Capabilities holds the server's answers to the three FastCGI 1.0
// management capability names.
type Capabilities struct {
	MaxConns  int
	MaxReqs   int
	MpxsConns bool
}

// lookup returns the string value for a recognized capability name and
// whether the name was recognized at all.
func (c Capabilities) lookup(name string) (string, bool) {
	switch name {
	case CapMaxConns:
		return strconv.Itoa(c.MaxConns), true
	case CapMaxReqs:
		return strconv.Itoa(c.MaxReqs), true
	case CapMpxsConns:
		if c.MpxsConns {
			return "1", true
		}
		return "0", true
	default:
		return "", false
	}
}

// answer builds the GET_VALUES_RESULT pairs for a GET_VALUES query,
// dropping any name it doesn't recognize.
func (c Capabilities) answer(query []NameValue) []NameValue {
	out := make([]NameValue, 0, len(query))
	for _, q := range query {
		if v, ok := c.lookup(string(q.Name)); ok {
			out = append(out, NameValue{Name: q.Name, Value: []byte(v)})
		}
	}
	return out
}
