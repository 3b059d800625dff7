package ddnsrelay

import "strings"

// Masking controls what notifications reveal. It never changes what is sent to the provider.
type Masking struct {
	// IP hides the last two groups of an IPv4 address and the last four groups of an IPv6 address.
	IP bool
	// IPToken is the placeholder for one hidden IPv4 group. It defaults to "*".
	// IPv6 groups are hidden with four of them.
	IPToken string
	// Domain hides the interior of every label except the top-level one.
	Domain bool
}

// DefaultMasking hides IP addresses and shows domains, like most deployments want.
var DefaultMasking = Masking{IP: true, IPToken: "*"}

func (m Masking) ip(ip string) string {
	if !m.IP {
		return ip
	}
	return MaskIP(ip, m.IPToken)
}

func (m Masking) domain(name string) string {
	if !m.Domain {
		return name
	}
	return MaskDomain(name)
}

// MaskIP replaces the last two groups of a dotted four-part address with token,
// and the last four groups of an address with four or more colon-separated groups with token repeated four times.
// Anything else is returned unchanged.
//
//	MaskIP("203.0.113.7", "*")          == "203.0.*.*"
//	MaskIP("2001:db8:1:2:3:4:5:6", "x") == "2001:db8:1:2:xxxx:xxxx:xxxx:xxxx"
func MaskIP(ip, token string) string {
	if token == "" {
		token = "*"
	}
	if strings.Contains(ip, ".") {
		if parts := strings.Split(ip, "."); len(parts) == 4 {
			return strings.Join([]string{parts[0], parts[1], token, token}, ".")
		}
	}
	if strings.Contains(ip, ":") {
		if parts := strings.Split(ip, ":"); len(parts) >= 4 {
			group := strings.Repeat(token, 4)
			visible := parts[:len(parts)-4]
			return strings.Join(append(visible, group, group, group, group), ":")
		}
	}
	return ip
}

// MaskDomain keeps the last label and the first and last character of every other label
// longer than two characters, hiding the rest with at most four asterisks.
//
//	MaskDomain("home.example.com") == "h**e.e****e.com"
func MaskDomain(name string) string {
	labels := strings.Split(name, ".")
	for i, l := range labels {
		if i == len(labels)-1 {
			break
		}
		r := []rune(l)
		if len(r) <= 2 {
			continue
		}
		labels[i] = string(r[0]) + strings.Repeat("*", min(len(r)-2, 4)) + string(r[len(r)-1])
	}
	return strings.Join(labels, ".")
}
