package buildinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInfoCarriesStampedVersion(t *testing.T) {
	old := Version
	Version = "1.2.3"
	t.Cleanup(func() { Version = old })

	info := Info()
	assert.Equal(t, "1.2.3", info["version"])
	assert.NotEmpty(t, info["goVersion"])
}
