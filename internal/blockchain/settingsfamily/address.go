package settingsfamily

import (
	"fmt"
	"strings"

	"credential-registry/internal/hashing"

	"github.com/hyperledger/sawtooth-sdk-go/protobuf/setting_pb2"
	"google.golang.org/protobuf/proto"
)

// DeploymentBlock holds the block the credential family was enabled at.
// Reconciliation of a fresh replica starts there.
const DeploymentBlock = "credentials.deployment.block"

func GetAddress(settingName string) string {
	addr := "000000"
	parts := strings.Split(settingName, ".")
	for i := 0; i < 4; i++ {
		if i < len(parts) {
			addr += hashing.CalculateSHA256(parts[i])[:16]
		} else {
			addr += hashing.CalculateSHA256("")[:16]
		}
	}
	return addr
}

// Value extracts one setting from the raw state entry of its address.
// Several settings may share an address, hence the entry list.
func Value(stateData []byte, settingName string) (string, bool, error) {
	var setting setting_pb2.Setting
	if err := proto.Unmarshal(stateData, &setting); err != nil {
		return "", false, fmt.Errorf("failed to unmarshal setting %s: %w", settingName, err)
	}
	for _, entry := range setting.GetEntries() {
		if entry.GetKey() == settingName {
			return entry.GetValue(), true, nil
		}
	}
	return "", false, nil
}
