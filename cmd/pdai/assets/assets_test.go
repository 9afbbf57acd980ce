package assets

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHumanSize(t *testing.T) {
	require.Equal(t, "512 B", humanSize(512))
	require.Equal(t, "1.0 KiB", humanSize(1024))
	require.Equal(t, "1.5 MiB", humanSize(1536*1024))
}
