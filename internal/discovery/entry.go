// Package discovery finds sensors that advertise themselves over mDNS.
package discovery

import (
	"net"
	"strings"

	"github.com/hashicorp/mdns"

	"github.com/HerbHall/accumulator/pkg/models"
)

// EntryToDevice maps a resolved service instance to a device. The id comes
// from the TXT record "id=" and falls back to the instance name. It reports
// false when the entry has no usable id or address.
func EntryToDevice(entry *mdns.ServiceEntry, service string) (models.DiscoveredDevice, bool) {
	if entry == nil {
		return models.DiscoveredDevice{}, false
	}

	txt := parseTXT(entry.InfoFields)
	id := txt["id"]
	if id == "" {
		id = instanceName(entry.Name, service)
	}
	if id == "" {
		return models.DiscoveredDevice{}, false
	}

	hosts := entryHosts(entry)
	if len(hosts) == 0 || entry.Port <= 0 {
		return models.DiscoveredDevice{}, false
	}

	path := txt["path"]
	if path == "" {
		path = "/"
	}

	return models.DiscoveredDevice{
		ID:   id,
		Kind: models.KindSenseair,
		API: &models.Endpoint{
			Hosts:  hosts,
			Port:   entry.Port,
			Path:   path,
			Scheme: models.DefaultScheme,
		},
		Meta: map[string]any{
			"source": "mdns",
			"host":   strings.TrimSuffix(entry.Host, "."),
		},
	}, true
}

func parseTXT(fields []string) map[string]string {
	out := make(map[string]string, len(fields))
	for _, f := range fields {
		k, v, ok := strings.Cut(f, "=")
		if !ok {
			continue
		}
		out[strings.ToLower(k)] = v
	}
	return out
}

// instanceName strips "._service._tcp.local." from a full instance name.
func instanceName(name, service string) string {
	if i := strings.Index(name, "."+service); i > 0 {
		return name[:i]
	}
	return strings.TrimSuffix(name, ".")
}

// entryHosts lists IPv4 before IPv6 and falls back to the target host name.
func entryHosts(entry *mdns.ServiceEntry) []string {
	var hosts []string
	for _, ip := range []net.IP{entry.AddrV4, entry.AddrV6} {
		if ip != nil && !ip.IsUnspecified() {
			hosts = append(hosts, ip.String())
		}
	}
	if len(hosts) == 0 && entry.Addr != nil && !entry.Addr.IsUnspecified() {
		hosts = append(hosts, entry.Addr.String())
	}
	if len(hosts) == 0 {
		if h := strings.TrimSuffix(entry.Host, "."); h != "" {
			hosts = append(hosts, h)
		}
	}
	return hosts
}
