package credentialfamily

import (
	"strconv"
	"sync"

	"credential-registry/internal/hashing"
	"credential-registry/internal/model"
)

var (
	familyHash        = ""
	rolePrefixHash    = ""
	requestPrefixHash = ""

	calcOnce sync.Once
)

func initHashVars() {
	calcOnce.Do(func() {
		familyHash = hashing.CalculateSHA512(FamilyName)
		rolePrefixHash = hashing.CalculateSHA512(rolePrefix)
		requestPrefixHash = hashing.CalculateSHA512(requestPrefix)
	})
}

// Namespace is the 6 character prefix of every address of the family.
func Namespace() string {
	initHashVars()
	return familyHash[0:6]
}

func GetRoleAddress(universityID uint64, account string) (address string) {
	initHashVars()

	universityHash := hashing.CalculateSHA512(strconv.FormatUint(universityID, 10))
	accountHash := hashing.CalculateSHA512(account)

	return familyHash[0:6] + rolePrefixHash[0:6] + universityHash[0:6] + accountHash[0:52]
}

func GetRequestAddress(ref model.RequestRef) (address string) {
	initHashVars()

	kindHash := hashing.CalculateSHA512(string(ref.Kind))
	idHash := hashing.CalculateSHA512(strconv.FormatUint(ref.ID, 10))

	return familyHash[0:6] + requestPrefixHash[0:6] + kindHash[0:6] + idHash[0:52]
}
