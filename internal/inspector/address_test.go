package inspector

import (
	"errors"
	"net"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAddress(t *testing.T) {
	tests := []struct {
		raw string
		want string
	}{
		{"127.0.0.1:3030", "127.0.0.1:3030"},
		{" 0.0.0.0:0 ", "0.0.0.0:0"},
		{"[::1]:8080", "[::1]:8080"},
	}
	for _, tt := range tests {
		ap, err := ParseAddress(tt.raw)
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, ap.String())
	}
}

func TestParseAddress_Invalid(t *testing.T) {
	for _, raw := range []string{"", "example.com:80", "127.0.0.1", ":3030", "127.0.0.1:port", "[::1]"} {
		_, err := ParseAddress(raw)
		var ae *AddressError
		require.True(t, errors.As(err, &ae), "%q should be rejected", raw)
		assert.Equal(t, raw, ae.Address)
		assert.NotNil(t, errors.Unwrap(err))
	}
}

func TestAddrPortOf(t *testing.T) {
	ap, ok := addrPortOf(&net.TCPAddr{IP: net.ParseIP("10.0.0.2"), Port: 99})
	require.True(t, ok)
	assert.Equal(t, netip.MustParseAddrPort("10.0.0.2:99"), ap)

	_, ok = addrPortOf(nil)
	assert.False(t, ok)
}
