package storage

import (
	"context"
	"testing"

	"github.com/isdelr/ark-warden/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewS3Mirror_DisabledWithoutEndpoint(t *testing.T) {
	m, err := NewS3Mirror(context.Background(), config.MirrorConfig{Bucket: "ark-backups"})
	require.NoError(t, err)
	assert.Nil(t, m)
}
