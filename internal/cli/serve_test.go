package cli

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hwctl/gpioctl/internal/client"
	"github.com/hwctl/gpioctl/internal/protocol"
)

// The bootstrap re-executes the running binary with the hidden serve
// subcommand. Under test that binary is the test binary, so the serve
// invocation is intercepted here and handed to the real command tree
// before the test runner ever sees the arguments.
func TestMain(m *testing.M) {
	for _, arg := range os.Args[1:] {
		if arg == "serve" {
			if err := Execute(); err != nil {
				os.Exit(1)
			}
			os.Exit(0)
		}
	}
	os.Exit(m.Run())
}

func TestBootstrapSpawnsExactlyOneBroker(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", t.TempDir())
	addr := filepath.Join(t.TempDir(), "broker.sock")

	t.Cleanup(func() {
		if conn, err := net.Dial("unix", addr); err == nil {
			protocol.Encode(conn, &protocol.Message{Kind: protocol.KindStop})
			protocol.Decode(conn)
			conn.Close()
		}
	})

	// Nothing is listening, so the first invocation must spawn a broker
	// with the pre-bound listener and reach it.
	first, err := client.Connect(addr)
	require.NoError(t, err)
	defer first.Close()

	resp, err := client.Exchange(first, &protocol.Message{Kind: protocol.KindPing})
	require.NoError(t, err)
	require.Equal(t, protocol.KindOk, resp.Kind)

	// The broker is up, so the second invocation connects directly.
	second, err := client.Connect(addr)
	require.NoError(t, err)
	defer second.Close()

	resp, err = client.Exchange(second, &protocol.Message{Kind: protocol.KindPing})
	require.NoError(t, err)
	require.Equal(t, protocol.KindOk, resp.Kind)

	// One stop must take the whole address down. A second spawned broker
	// would still be answering dials after it.
	resp, err = client.Exchange(second, &protocol.Message{Kind: protocol.KindStop})
	require.NoError(t, err)
	require.Equal(t, protocol.KindOk, resp.Kind)

	assert.Eventually(t, func() bool {
		conn, err := net.Dial("unix", addr)
		if err == nil {
			conn.Close()
			return false
		}
		return true
	}, 2*time.Second, 10*time.Millisecond, "exactly one broker may serve both invocations")
}
