package secrets

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildSecretName(t *testing.T) {
	sm := &GCPSecretManager{projectID: "catalog-prod"}
	assert.Equal(t, "projects/catalog-prod/secrets/catalog-shop-main-store-pl", sm.BuildSecretName("Main Store.PL"))
}

func TestExtractSecretID(t *testing.T) {
	assert.Equal(t, "catalog-shop-a", extractSecretID("projects/p/secrets/catalog-shop-a"))
	assert.Equal(t, "bare", extractSecretID("bare"))
}
