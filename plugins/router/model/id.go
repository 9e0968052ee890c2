// Copyright (c) 2019 Cisco and/or its affiliates.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at:
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package model

import (
	"strings"

	"github.com/pkg/errors"
)

// ID uniquely identifies virtual service across all namespaces.
type ID struct {
	Name      string
	Namespace string
}

// String returns "<namespace>/<name>".
func (id ID) String() string {
	return id.Namespace + "/" + id.Name
}

// IsZero returns true for an unset ID.
func (id ID) IsZero() bool {
	return id.Name == "" && id.Namespace == ""
}

// ParseID parses the "<namespace>/<name>" representation of ID.
// Name without namespace is placed into the "default" namespace.
func ParseID(str string) (ID, error) {
	parts := strings.Split(str, "/")
	switch len(parts) {
	case 1:
		if parts[0] == "" {
			return ID{}, errors.New("empty service ID")
		}
		return ID{Name: parts[0], Namespace: DefaultNamespace}, nil
	case 2:
		if parts[0] == "" || parts[1] == "" {
			return ID{}, errors.Errorf("invalid service ID: %q", str)
		}
		return ID{Name: parts[1], Namespace: parts[0]}, nil
	}
	return ID{}, errors.Errorf("invalid service ID: %q", str)
}

// DefaultNamespace is used for IDs parsed without explicit namespace.
const DefaultNamespace = "default"
