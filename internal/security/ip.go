package security

import (
	"net/netip"
	"strings"

	"github.com/gaissmai/bart"
)

// blockedRanges are the ranges validateIPAddress rejects per §4.3, resolving
// the octet-truncation Open Question in spec.md §9 by using a proper
// bitwise CIDR trie (github.com/gaissmai/bart) instead of ⌊bits/8⌋ prefix
// compare, so a /20 or any other non-byte-aligned prefix matches correctly.
var blockedRanges = []string{
	"0.0.0.0/8",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"224.0.0.0/4",
	"::1/128",
	"fe80::/10",
	"ff00::/8",
}

var blockedTable = buildTable(blockedRanges)

func buildTable(cidrs []string) *bart.Table[bool] {
	t := &bart.Table[bool]{}
	for _, c := range cidrs {
		if prefix, err := netip.ParsePrefix(c); err == nil {
			t.Insert(prefix, true)
		}
	}
	return t
}

// Allowlist matches a client IP against a configured set of literals and
// CIDR blocks (§4.1 Stage E), backed by a bart.Table for correct bitwise
// containment regardless of prefix length.
type Allowlist struct {
	literals map[string]bool
	table    *bart.Table[bool]
	empty    bool
}

// NewAllowlist builds an Allowlist from the ALLOWED_IPS configuration
// entries, which may mix bare literals and CIDR blocks.
func NewAllowlist(entries []string) *Allowlist {
	a := &Allowlist{
		literals: make(map[string]bool),
		table:    &bart.Table[bool]{},
		empty:    len(entries) == 0,
	}
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if strings.Contains(e, "/") {
			if prefix, err := netip.ParsePrefix(e); err == nil {
				a.table.Insert(prefix, true)
				continue
			}
		}
		if addr, err := netip.ParseAddr(e); err == nil {
			a.literals[addr.String()] = true
			continue
		}
		// Fall back to storing it verbatim so an exact string match still
		// works even for entries that fail strict parsing.
		a.literals[e] = true
	}
	return a
}

// Allows reports whether ip is permitted. An empty allowlist permits any IP
// (§4.1 Stage E: "If allowedIPs is non-empty...").
func (a *Allowlist) Allows(ip string) bool {
	if a.empty {
		return true
	}
	if a.literals[ip] {
		return true
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	_, ok := a.table.Lookup(addr)
	return ok
}

// ValidateIPAddress implements validateIPAddress from §4.3: accepts IPv4 and
// IPv6 textual literals (including ::ffff:a.b.c.d), rejects hostnames, and
// rejects blocked ranges unless the caller itself is on localhost.
func ValidateIPAddress(value string, callerIsLocalhost bool) (netip.Addr, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(value))
	if err != nil {
		return netip.Addr{}, &IPValidationError{Value: value, Reason: "not a valid IPv4/IPv6 literal"}
	}

	unmapped := addr.Unmap()

	if isLoopback(unmapped) {
		if callerIsLocalhost {
			return addr, nil
		}
		return netip.Addr{}, &IPValidationError{Value: value, Reason: "loopback addresses are blocked"}
	}

	if _, blocked := blockedTable.Lookup(unmapped); blocked {
		return netip.Addr{}, &IPValidationError{Value: value, Reason: "address is in a blocked range"}
	}

	return addr, nil
}

func isLoopback(addr netip.Addr) bool {
	return addr.IsLoopback()
}
