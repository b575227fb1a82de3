package cytube

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloakIP(t *testing.T) {
	assert.Equal(t, "yFA.j8g.iXh.gvS", CloakIP("127.0.0.1", 0))
	assert.Equal(t, "127.0.ou9.RBl", CloakIP("127.0.0.1", 2))
}

func TestCloakIPPadsShortAddresses(t *testing.T) {
	cloaked := CloakIP("10.0", 0)
	assert.Len(t, strings.Split(cloaked, "."), 4, "always four dot-separated parts")
	assert.Contains(t, cloaked, "*")
}

func TestUncloakIPRecoversOriginal(t *testing.T) {
	cloaked := CloakIP("127.0.0.1", 0)
	candidates := UncloakIP(cloaked, 0)
	assert.Contains(t, candidates, "127.0.0.1")
}

func TestUncloakIPPartialCloak(t *testing.T) {
	cloaked := CloakIP("127.0.0.1", 2)
	require.Equal(t, "127.0.ou9.RBl", cloaked)

	// Autodetect finds where the cloak starts from the first
	// non-numeric part.
	candidates := UncloakIP(cloaked, -1)
	assert.Contains(t, candidates, "127.0.0.1")
}

func TestUncloakIPPlainAddress(t *testing.T) {
	assert.Equal(t, []string{"10.1.2.3"}, UncloakIP("10.1.2.3", -1))
}
