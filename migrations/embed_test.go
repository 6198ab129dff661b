package migrations

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpIsOrderedAndSkipsDown(t *testing.T) {
	files, err := Up()
	require.NoError(t, err)
	require.NotEmpty(t, files)

	assert.Equal(t, "000001_identity", files[0].Version)
	assert.Contains(t, files[0].SQL, "CREATE TABLE IF NOT EXISTS users")
	assert.Equal(t, "000002_email_managed", files[1].Version)
	for i, f := range files {
		assert.NotContains(t, f.SQL, "DROP TABLE", f.Version)
		if i > 0 {
			assert.Less(t, files[i-1].Version, f.Version)
		}
	}
}
