package geo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewResolver_EmptyPathDisablesLookups(t *testing.T) {
	resolver, err := NewResolver("  ")
	require.NoError(t, err)
	assert.Nil(t, resolver)

	_, err = resolver.Locate(context.Background(), "8.8.8.8")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.NoError(t, resolver.Close())
}

func TestNewResolver_MissingFile(t *testing.T) {
	_, err := NewResolver("/nonexistent/GeoLite2-City.mmdb")
	assert.Error(t, err)
}

func TestHostOnly(t *testing.T) {
	assert.Equal(t, "10.0.0.1", HostOnly("10.0.0.1:5555"))
	assert.Equal(t, "10.0.0.1", HostOnly("10.0.0.1"))
	assert.Equal(t, "::1", HostOnly("[::1]:80"))
}
