package credentialfamily_test

import (
	"testing"

	"credential-registry/internal/blockchain/credentialfamily"
	"credential-registry/internal/hashing"
	"credential-registry/internal/model"

	"github.com/stretchr/testify/assert"
)

func TestAddresses(t *testing.T) {
	ns := hashing.CalculateSHA512("credentials")[0:6]
	assert.Equal(t, ns, credentialfamily.Namespace())

	role := credentialfamily.GetRoleAddress(7, "02aa")
	assert.Len(t, role, 70)
	assert.Equal(t, ns+hashing.CalculateSHA512("role")[0:6]+hashing.CalculateSHA512("7")[0:6], role[0:18])
	assert.NotEqual(t, role, credentialfamily.GetRoleAddress(8, "02aa"))

	issuance := credentialfamily.GetRequestAddress(model.RequestRef{Kind: model.KindIssuance, ID: 1})
	revocation := credentialfamily.GetRequestAddress(model.RequestRef{Kind: model.KindRevocation, ID: 1})
	assert.Len(t, issuance, 70)
	assert.NotEqual(t, issuance, revocation)
	assert.Equal(t, ns+hashing.CalculateSHA512("request")[0:6], issuance[0:12])
}
