// Copyright 2025 Nonvolatile Inc. d/b/a Confident Security

// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at

//     https://www.apache.org/licenses/LICENSE-2.0

// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package inproc

import (
	"errors"
	"net/http"
)

// ErrHostnameNotAllowed is returned by [HostnameAllowlist] for requests to a
// host that is not on the list.
var ErrHostnameNotAllowed = errors.New("hostname not allowed")

// HostnameAllowlist only lets through calls addressed to known hosts. Use it
// with [WithRequestValidator] to catch a client that was configured with the
// base URL of a real service instead of the in-process one.
//
// Hosts are compared as given, including any port.
type HostnameAllowlist struct {
	allowed map[string]struct{}
}

// NewHostnameAllowlist allows calls to hosts. Without hosts only calls to
// [DefaultHost] are allowed.
func NewHostnameAllowlist(hosts ...string) HostnameAllowlist {
	if len(hosts) == 0 {
		hosts = []string{DefaultHost}
	}

	allowed := make(map[string]struct{}, len(hosts))
	for _, host := range hosts {
		allowed[host] = struct{}{}
	}
	return HostnameAllowlist{allowed: allowed}
}

// ValidRequest implements [RequestValidator].
func (l HostnameAllowlist) ValidRequest(r *http.Request) error {
	if _, ok := l.allowed[r.Host]; ok {
		return nil
	}
	return ErrHostnameNotAllowed
}
