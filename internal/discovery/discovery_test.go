package discovery

import (
	"net"
	"strings"
	"testing"

	"github.com/grandcat/zeroconf"
	"github.com/stretchr/testify/assert"
)

func TestEndpointURL(t *testing.T) {
	assert.Equal(t, "ws://10.0.0.5:8081/ws", Endpoint{Host: "10.0.0.5", Port: 8081}.URL())
	assert.Equal(t, "ws://[fe80::1]:8081/ws", Endpoint{Host: "fe80::1", Port: 8081}.URL())
}

func TestEndpointOf(t *testing.T) {
	tests := []struct {
		name  string
		entry *zeroconf.ServiceEntry
		want  Endpoint
		ok    bool
	}{
		{name: "nil", entry: nil},
		{name: "no address", entry: &zeroconf.ServiceEntry{ServiceRecord: zeroconf.ServiceRecord{Instance: "x"}, Port: 1}},
		{
			name: "ipv4 preferred",
			entry: &zeroconf.ServiceEntry{
				ServiceRecord: zeroconf.ServiceRecord{Instance: "CollabText-box"},
				Port:          8081,
				AddrIPv4:      []net.IP{net.ParseIP("192.168.1.9")},
				AddrIPv6:      []net.IP{net.ParseIP("fe80::1")},
			},
			want: Endpoint{Instance: "CollabText-box", Host: "192.168.1.9", Port: 8081},
			ok:   true,
		},
		{
			name: "ipv6 only",
			entry: &zeroconf.ServiceEntry{
				ServiceRecord: zeroconf.ServiceRecord{Instance: "v6"},
				Port:          9000,
				AddrIPv6:      []net.IP{net.ParseIP("fe80::1")},
			},
			want: Endpoint{Instance: "v6", Host: "fe80::1", Port: 9000},
			ok:   true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := endpointOf(tt.entry)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInstanceName(t *testing.T) {
	assert.True(t, strings.HasPrefix(InstanceName("CollabText"), "CollabText"))
}
