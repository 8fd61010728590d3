package vectorindex

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseQdrantURL(t *testing.T) {
	host, port, tls, err := parseQdrantURL("https://xyz.cloud.qdrant.io:6333")
	assert.NoError(t, err)
	assert.Equal(t, "xyz.cloud.qdrant.io", host)
	assert.Equal(t, 6334, port) // REST port remapped to gRPC
	assert.True(t, tls)
}

func TestParseQdrantURLExplicitGRPCPort(t *testing.T) {
	host, port, tls, err := parseQdrantURL("http://localhost:6334")
	assert.NoError(t, err)
	assert.Equal(t, "localhost", host)
	assert.Equal(t, 6334, port)
	assert.False(t, tls)
}

func TestParseQdrantURLDefaultPort(t *testing.T) {
	_, port, _, err := parseQdrantURL("http://localhost")
	assert.NoError(t, err)
	assert.Equal(t, 6334, port)
}

func TestParseQdrantURLInvalid(t *testing.T) {
	_, _, _, err := parseQdrantURL("not a url")
	assert.Error(t, err)
}
