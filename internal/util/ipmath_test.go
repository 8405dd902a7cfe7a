package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIPv4ToUint32(t *testing.T) {
	tests := []struct {
		in   string
		want uint32
		ok   bool
	}{
		{"0.0.0.0", 0, true},
		{"255.255.255.255", 4294967295, true},
		{"192.168.1.1", 3232235777, true},
		{"10.0.0.1", 167772161, true},
		{"::1", 0, false},
		{"not-an-ip", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := IPv4ToUint32(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestCIDRContains(t *testing.T) {
	tests := []struct {
		cidr string
		ip   string
		want bool
	}{
		{"192.168.1.0/24", "192.168.1.200", true},
		{"192.168.1.0/24", "192.168.2.1", false},
		{"10.0.0.0/8", "10.255.255.255", true},
		{"10.0.0.0/8", "11.0.0.0", false},
		// Edge prefixes
		{"0.0.0.0/0", "203.0.113.77", true},
		{"192.168.1.5/32", "192.168.1.5", true},
		{"192.168.1.5/32", "192.168.1.6", false},
		{"172.16.0.0/12", "172.31.255.254", true},
		{"172.16.0.0/12", "172.32.0.1", false},
	}
	for _, tt := range tests {
		got, err := CIDRContains(tt.cidr, tt.ip)
		assert.NoError(t, err, tt.cidr)
		assert.Equal(t, tt.want, got, "%s in %s", tt.ip, tt.cidr)
	}
}

func TestCIDRContains_Invalid(t *testing.T) {
	_, err := CIDRContains("192.168.1.0/33", "192.168.1.1")
	assert.Error(t, err)

	_, err = CIDRContains("192.168.1.0", "192.168.1.1")
	assert.Error(t, err)

	_, err = CIDRContains("bogus/24", "192.168.1.1")
	assert.Error(t, err)

	_, err = CIDRContains("192.168.1.0/24", "::1")
	assert.Error(t, err)
}

func TestRangeContains(t *testing.T) {
	tests := []struct {
		rng  string
		ip   string
		want bool
	}{
		{"10.0.0.1-10.0.0.50", "10.0.0.25", true},
		{"10.0.0.1-10.0.0.50", "10.0.0.1", true},
		{"10.0.0.1-10.0.0.50", "10.0.0.50", true},
		{"10.0.0.1-10.0.0.50", "10.0.0.51", false},
		{"10.0.0.1-10.0.0.50", "9.255.255.255", false},
	}
	for _, tt := range tests {
		got, err := RangeContains(tt.rng, tt.ip)
		assert.NoError(t, err)
		assert.Equal(t, tt.want, got, "%s in %s", tt.ip, tt.rng)
	}

	_, err := RangeContains("10.0.0.50-10.0.0.1", "10.0.0.25")
	assert.Error(t, err, "inverted range")
}

func TestValidIPOrRange(t *testing.T) {
	assert.True(t, ValidIPOrRange("192.168.1.1"))
	assert.True(t, ValidIPOrRange("192.168.1.0/24"))
	assert.True(t, ValidIPOrRange("10.0.0.1-10.0.0.9"))
	assert.False(t, ValidIPOrRange("192.168.1.0/64"))
	assert.False(t, ValidIPOrRange("10.0.0.9-10.0.0.1"))
	assert.False(t, ValidIPOrRange("hello"))
}

func TestIsPrivateIP(t *testing.T) {
	private := []string{"127.0.0.1", "10.1.2.3", "172.16.0.1", "172.31.9.9", "192.168.0.10", "169.254.1.1", "::1", "fe80::1"}
	for _, ip := range private {
		assert.True(t, IsPrivateIP(ip), ip)
	}
	public := []string{"8.8.8.8", "203.0.113.7", "172.32.0.1", "1.1.1.1"}
	for _, ip := range public {
		assert.False(t, IsPrivateIP(ip), ip)
	}
	assert.False(t, IsPrivateIP("garbage"))
}
