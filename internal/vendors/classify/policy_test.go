package classify

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kycflow/internal/vendors"
)

const samplePolicy = `
apis:
  incode_fetch_scores:
    fatal: true
    timeout: 20s
  incode_watchlist_check:
    fatal: false
    timeout: 5s
primary:
  - idology_expectid
  - incode_fetch_scores
`

func TestParsePolicy(t *testing.T) {
	t.Run("decodes fatal flags, timeouts and primary apis", func(t *testing.T) {
		p, err := ParsePolicy([]byte(samplePolicy))
		require.NoError(t, err)

		assert.True(t, p.IsFatal(vendors.IncodeFetchScores))
		assert.False(t, p.IsFatal(vendors.IncodeWatchlistCheck))
		assert.False(t, p.IsFatal(vendors.ExperianPreciseID), "unlisted apis are tolerable")
		assert.Equal(t, 20*time.Second, p.Timeout(vendors.IncodeFetchScores))
		assert.Zero(t, p.Timeout(vendors.ExperianPreciseID))
		assert.Equal(t, []vendors.API{vendors.IdologyExpectID, vendors.IncodeFetchScores}, p.PrimaryAPIs())
	})

	t.Run("rejects unknown api", func(t *testing.T) {
		_, err := ParsePolicy([]byte("apis:\n  acme_lookup:\n    fatal: true\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "acme_lookup")
	})

	t.Run("rejects unknown primary api", func(t *testing.T) {
		_, err := ParsePolicy([]byte("primary: [acme_lookup]\n"))
		require.Error(t, err)
	})

	t.Run("rejects malformed yaml", func(t *testing.T) {
		_, err := ParsePolicy([]byte("apis: ["))
		require.Error(t, err)
	})

	t.Run("empty document is a tolerant policy", func(t *testing.T) {
		p, err := ParsePolicy(nil)
		require.NoError(t, err)
		assert.False(t, p.IsFatal(vendors.IncodeFetchScores))
		assert.Empty(t, p.PrimaryAPIs())
	})
}

func TestLoadPolicy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(samplePolicy), 0o600))

	p, err := LoadPolicy(path)
	require.NoError(t, err)
	assert.True(t, p.IsFatal(vendors.IncodeFetchScores))

	_, err = LoadPolicy(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestNilPolicyTable(t *testing.T) {
	var p *PolicyTable
	assert.False(t, p.IsFatal(vendors.IncodeFetchScores))
	assert.Zero(t, p.Timeout(vendors.IncodeFetchScores))
	assert.Nil(t, p.PrimaryAPIs())
}
