package credential

import (
	"testing"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestKeyring() *Keyring {
	ring := keyring.NewArrayKeyring(nil)
	return &Keyring{Open: func() (keyring.Keyring, error) { return ring, nil }}
}

func TestKeyring_RoundTrip(t *testing.T) {
	k := newTestKeyring()

	require.NoError(t, k.Set(AccountPasswordKey("work"), "hunter2"))
	v, err := k.Get(AccountPasswordKey("work"))
	require.NoError(t, err)
	assert.Equal(t, "hunter2", v)

	require.NoError(t, k.Delete(AccountPasswordKey("work")))
	_, err = k.Get(AccountPasswordKey("work"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLookup_FallsBackToEnv(t *testing.T) {
	k := newTestKeyring()
	t.Setenv("TEST_ANALYSIS_KEY", "from-env")

	v, err := Lookup(k, AnalysisAPIKey, "TEST_ANALYSIS_KEY")
	require.NoError(t, err)
	assert.Equal(t, "from-env", v)

	require.NoError(t, k.Set(AnalysisAPIKey, "from-keyring"))
	v, err = Lookup(k, AnalysisAPIKey, "TEST_ANALYSIS_KEY")
	require.NoError(t, err)
	assert.Equal(t, "from-keyring", v)

	_, err = Lookup(k, AccountRefreshTokenKey("x"), "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestKeyNames(t *testing.T) {
	assert.Equal(t, "account:work:password", AccountPasswordKey("work"))
	assert.Equal(t, "account:work:refresh_token", AccountRefreshTokenKey("work"))
}
