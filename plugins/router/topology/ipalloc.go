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

package topology

import (
	"net"
	"sync"

	"github.com/apparentlymart/go-cidr/cidr"
	"github.com/pkg/errors"
)

// AddressAllocator hands out stable internal addresses from a CIDR.
// The network and broadcast addresses are never allocated.
// Every address is held by exactly one owner.
type AddressAllocator struct {
	sync.Mutex

	network   *net.IPNet
	first     net.IP
	last      net.IP
	cursor    net.IP
	allocated map[string]string // address -> owner
}

// NewAddressAllocator is a constructor for AddressAllocator.
func NewAddressAllocator(cidrStr string) (*AddressAllocator, error) {
	_, network, err := net.ParseCIDR(cidrStr)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid service CIDR %q", cidrStr)
	}
	first, last := cidr.AddressRange(network)
	first, last = cidr.Inc(first), cidr.Dec(last)
	if compareIPs(first, last) > 0 {
		return nil, errors.Errorf("service CIDR %q is too small", cidrStr)
	}
	return &AddressAllocator{
		network:   network,
		first:     first,
		last:      last,
		cursor:    cidr.Dec(first),
		allocated: make(map[string]string),
	}, nil
}

// Allocate returns the next free address and assigns it to the owner.
func (a *AddressAllocator) Allocate(owner string) (net.IP, error) {
	a.Lock()
	defer a.Unlock()

	start := a.next(a.cursor)
	candidate := start
	for {
		if _, used := a.allocated[candidate.String()]; !used {
			a.allocated[candidate.String()] = owner
			a.cursor = candidate
			return candidate, nil
		}
		candidate = a.next(candidate)
		if candidate.Equal(start) {
			return nil, errors.Errorf("address pool %s is exhausted", a.network)
		}
	}
}

// next returns the address following ip, wrapping around at the end of the pool.
func (a *AddressAllocator) next(ip net.IP) net.IP {
	if compareIPs(ip, a.first) < 0 || compareIPs(ip, a.last) >= 0 {
		return a.first
	}
	return cidr.Inc(ip)
}

// Reserve assigns address dictated by the topology source to the owner.
// Addresses outside of the pool are tracked as well, so that no two owners
// share one. Reserving an address held by another owner fails.
func (a *AddressAllocator) Reserve(addr net.IP, owner string) error {
	if addr == nil {
		return errors.New("cannot reserve empty address")
	}
	a.Lock()
	defer a.Unlock()
	if holder, used := a.allocated[addr.String()]; used && holder != owner {
		return errors.Errorf("address %s already assigned to %s", addr, holder)
	}
	a.allocated[addr.String()] = owner
	return nil
}

// Release returns the address back into the pool. Address held by another
// owner is left untouched.
func (a *AddressAllocator) Release(addr net.IP, owner string) {
	a.Lock()
	defer a.Unlock()
	if holder, used := a.allocated[addr.String()]; used && holder == owner {
		delete(a.allocated, addr.String())
	}
}

// Owner returns the holder of the address.
func (a *AddressAllocator) Owner(addr net.IP) (owner string, used bool) {
	a.Lock()
	defer a.Unlock()
	owner, used = a.allocated[addr.String()]
	return owner, used
}

// InUse returns the number of allocated addresses.
func (a *AddressAllocator) InUse() int {
	a.Lock()
	defer a.Unlock()
	return len(a.allocated)
}

func (a *AddressAllocator) contains(addr net.IP) bool {
	return addr != nil && a.network.Contains(addr) &&
		compareIPs(addr, a.first) >= 0 && compareIPs(addr, a.last) <= 0
}

// compareIPs compares two addresses of the same family.
func compareIPs(ip1, ip2 net.IP) int {
	if v4 := ip1.To4(); v4 != nil {
		ip1 = v4
	}
	if v4 := ip2.To4(); v4 != nil {
		ip2 = v4
	}
	if len(ip1) != len(ip2) {
		return len(ip1) - len(ip2)
	}
	for i := range ip1 {
		if ip1[i] != ip2[i] {
			return int(ip1[i]) - int(ip2[i])
		}
	}
	return 0
}
