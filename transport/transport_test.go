package transport

import (
	"net/url"
	"testing"

	httptransport "erri120/goannounce/transport/http"
	udptransport "erri120/goannounce/transport/udp"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBySchema(t *testing.T) {
	var tests = []struct {
		rawURL   string
		expected interface{}
	}{
		{rawURL: "udp://tracker.example:6969/announce", expected: &udptransport.Transport{}},
		{rawURL: "http://tracker.example/announce", expected: &httptransport.Transport{}},
		{rawURL: "https://tracker.example/announce", expected: &httptransport.Transport{}},
	}

	for _, test := range tests {
		endpoint, err := url.Parse(test.rawURL)
		require.NoError(t, err)

		transport, err := New(endpoint, DefaultConfig())
		require.NoError(t, err)
		assert.IsType(t, test.expected, transport)
	}
}

func TestNewUnsupportedScheme(t *testing.T) {
	_, err := New(&url.URL{Scheme: "wss", Host: "tracker.example"}, DefaultConfig())
	assert.Error(t, err)
}
