package deflate

import (
	"testing"

	"github.com/JrMarcco/wsext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerClampsClientWindowBits(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name      string
		value     string
		wantBits  int
		wantError bool
	}{
		{name: "eight clamps to nine", value: "8", wantBits: 9},
		{name: "nine kept", value: "9", wantBits: 9},
		{name: "twelve kept", value: "12", wantBits: 12},
		{name: "fifteen kept", value: "15", wantBits: 15},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			d := New(wsext.ModeServer)
			err := d.Configure([]wsext.Param{
				wsext.NewParamWithValue(clientMaxWindowBits, tc.value),
			})
			require.NoError(t, err)
			require.True(t, d.enabled)
			assert.Equal(t, tc.wantBits, d.theirMaxWindowBits)
		})
	}
}

func TestClientClampsOwnWindowBits(t *testing.T) {
	t.Parallel()

	d := New(wsext.ModeClient)
	err := d.Configure([]wsext.Param{
		wsext.NewParamWithValue(clientMaxWindowBits, "8"),
	})
	require.NoError(t, err)
	require.True(t, d.enabled)
	assert.Equal(t, 9, d.ourMaxWindowBits)
}

func TestUnparseableWindowBitsKeepsDefault(t *testing.T) {
	t.Parallel()

	d := New(wsext.ModeServer)
	err := d.Configure([]wsext.Param{
		wsext.NewParam(clientMaxWindowBits),
	})
	require.NoError(t, err)
	require.True(t, d.enabled)
	assert.Equal(t, defaultWindowBits, d.theirMaxWindowBits)
}
