package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLocator(t *testing.T) {
	tests := []struct {
		in   string
		want Locator
	}{
		{"tcp/127.0.0.1:7447", Locator{Scheme: "tcp", Host: "127.0.0.1", Port: 7447}},
		{"nats://localhost:4222", Locator{Scheme: "nats", Host: "localhost", Port: 4222}},
		{"localhost:9092", Locator{Host: "localhost", Port: 9092}},
		{" [::1]:1883 ", Locator{Host: "::1", Port: 1883}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			loc, err := ParseLocator(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, loc)
		})
	}
}

func TestParseLocator_Invalid(t *testing.T) {
	for _, in := range []string{"localhost", "localhost:0", "localhost:70000", "host:abc", ":9092"} {
		_, err := ParseLocator(in)
		assert.Error(t, err, in)
	}
}

func TestParseLocators_SkipsBlankAndFailsOnInvalid(t *testing.T) {
	locs, err := ParseLocators([]string{"a:1", " ", "tcp/b:2"})
	require.NoError(t, err)
	assert.Len(t, locs, 2)

	_, err = ParseLocators([]string{"a:1", "broken"})
	assert.Error(t, err)
}

func TestLocatorConversions(t *testing.T) {
	urls, err := locatorURLs([]string{"tcp/10.0.0.1:4222", "nats://10.0.0.2:4222"}, defaultNATSScheme)
	require.NoError(t, err)
	assert.Equal(t, []string{"nats://10.0.0.1:4222", "nats://10.0.0.2:4222"}, urls)

	urls, err = locatorURLs([]string{"tcp/broker:1883", "broker2:1883"}, defaultMQTTScheme)
	require.NoError(t, err)
	assert.Equal(t, []string{"tcp://broker:1883", "tcp://broker2:1883"}, urls)

	addrs, err := locatorHostPorts([]string{"tcp/k1:9092", "k2:9092"})
	require.NoError(t, err)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, addrs)
}
