package pathutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	got, err := ExpandPath("~/.pdai")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(home, ".pdai"), got)

	got, err = ExpandPath("/tmp/x")
	require.NoError(t, err)
	require.Equal(t, "/tmp/x", got)
}

func TestExtAndCleanInput(t *testing.T) {
	require.Equal(t, "dcm", Ext("/scans/A.DCM"))
	require.Equal(t, "", Ext("noext"))
	require.Equal(t, "/a b/c.png", CleanInput(`  "/a b/c.png" `))
}
