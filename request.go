package ddnsrelay

import (
	"encoding/json"
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"github.com/miekg/dns"
)

const (
	RecordTypeA    = "A"
	RecordTypeAAAA = "AAAA"

	// AutoTTL asks the provider to choose the TTL.
	AutoTTL = 1
	MinTTL  = 60
	MaxTTL  = 86400
)

// UpdateRequest is one "my current IP is X" report.
//
// A nil TTL means the relay's default TTL.
// An empty ZoneName means the relay's configured zone.
type UpdateRequest struct {
	Prefix   string `json:"prefix"`
	IP       string `json:"ip"`
	Type     string `json:"type,omitempty"`
	TTL      *int   `json:"ttl,omitempty"`
	ZoneName string `json:"zone_name,omitempty"`
	NodeName string `json:"node_name,omitempty"`
}

// updatePayload is the wire shape of an UpdateRequest.
// ttl is loosely typed because clients send numbers, numeric strings, or nothing at all.
type updatePayload struct {
	Prefix   string `json:"prefix"`
	IP       string `json:"ip"`
	Type     string `json:"type"`
	TTL      any    `json:"ttl"`
	ZoneName string `json:"zone_name"`
	NodeName string `json:"node_name"`
}

// ParseUpdateRequest decodes a JSON request body.
//
// A ttl that is absent or not numeric is left nil so that the default applies.
// A fractional ttl is truncated toward zero. Range checks happen when the request is applied.
func ParseUpdateRequest(body []byte) (UpdateRequest, error) {
	var p updatePayload
	if err := json.Unmarshal(body, &p); err != nil {
		return UpdateRequest{}, fmt.Errorf("%w: %s", ErrMalformedRequest, err)
	}
	req := UpdateRequest{
		Prefix:   strings.TrimSpace(p.Prefix),
		IP:       strings.TrimSpace(p.IP),
		Type:     strings.TrimSpace(p.Type),
		ZoneName: strings.TrimSpace(p.ZoneName),
		NodeName: strings.TrimSpace(p.NodeName),
	}
	if ttl, ok := numericTTL(p.TTL); ok {
		req.TTL = &ttl
	}
	return req, nil
}

func numericTTL(v any) (int, bool) {
	switch t := v.(type) {
	case float64:
		return int(t), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// ValidTTL reports whether ttl is AutoTTL or within [MinTTL, MaxTTL].
func ValidTTL(ttl int) bool {
	return ttl == AutoTTL || (ttl >= MinTTL && ttl <= MaxTTL)
}

// target is a validated request, ready to be reconciled.
type target struct {
	zone  string
	name  string
	rtype string
	addr  netip.Addr
	ttl   int
	node  string
}

func (r *Relay) validate(req UpdateRequest) (target, error) {
	zone := strings.TrimSuffix(req.ZoneName, ".")
	if zone == "" {
		zone = r.zoneName
	}

	var missing []string
	if req.Prefix == "" {
		missing = append(missing, "prefix")
	}
	if req.IP == "" {
		missing = append(missing, "ip")
	}
	if zone == "" {
		missing = append(missing, "zone_name")
	}
	if len(missing) > 0 {
		return target{}, fmt.Errorf("%w: %s", ErrMissingFields, strings.Join(missing, ", "))
	}

	rtype := strings.ToUpper(req.Type)
	if rtype == "" {
		rtype = RecordTypeA
	}
	if rtype != RecordTypeA && rtype != RecordTypeAAAA {
		return target{}, fmt.Errorf("%w: %q", ErrInvalidType, req.Type)
	}

	addr, err := addressFor(req.IP, rtype)
	if err != nil {
		return target{}, err
	}

	ttl := r.defaultTTL
	if req.TTL != nil {
		ttl = *req.TTL
	}
	if !ValidTTL(ttl) {
		return target{}, fmt.Errorf("%w: %d must be %d or between %d and %d", ErrInvalidTTL, ttl, AutoTTL, MinTTL, MaxTTL)
	}

	name := r.recordName(req.Prefix, zone)
	if _, ok := dns.IsDomainName(name); !ok {
		return target{}, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	node := req.NodeName
	if node == "" {
		node = r.defaultNode
	}

	return target{zone: zone, name: name, rtype: rtype, addr: addr, ttl: ttl, node: node}, nil
}

// recordName joins prefix and zone, treating the root marker as the zone apex.
func (r *Relay) recordName(prefix, zone string) string {
	if r.rootMarker != "" && prefix == r.rootMarker {
		return zone
	}
	return prefix + "." + zone
}

func addressFor(ip, rtype string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(ip)
	if err != nil || addr.Zone() != "" {
		return netip.Addr{}, fmt.Errorf("%w: %q is not a valid address", ErrAddressMismatch, ip)
	}
	if rtype == RecordTypeA && !addr.Is4() {
		return netip.Addr{}, fmt.Errorf("%w: %s record requires an IPv4 address; got %q", ErrAddressMismatch, rtype, ip)
	}
	if rtype == RecordTypeAAAA && !addr.Is6() {
		return netip.Addr{}, fmt.Errorf("%w: %s record requires an IPv6 address; got %q", ErrAddressMismatch, rtype, ip)
	}
	return addr, nil
}

// RecordType returns the record type that carries addr.
func RecordType(addr netip.Addr) string {
	if addr.Is4() {
		return RecordTypeA
	}
	return RecordTypeAAAA
}
