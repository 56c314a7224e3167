package keymanager

import (
	"errors"

	"credential-registry/internal/signkeys"

	"github.com/hyperledger/sawtooth-sdk-go/signing"
	cache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

var ErrUnknownKey = errors.New("no operator key for the address")

// KeyManager holds the operator keys the service may sign ledger actions
// with, indexed by normalized address.
type KeyManager struct {
	logger   *zap.Logger
	keyCache *cache.Cache
}

func NewKeyManager(logger *zap.Logger) KeyManager {
	return KeyManager{
		logger:   logger,
		keyCache: cache.New(cache.NoExpiration, cache.NoExpiration),
	}
}

// LoadHexKeys registers every private key; invalid entries are logged and skipped.
func (k KeyManager) LoadHexKeys(privateKeys []string) int {
	loaded := 0
	for i, priv := range privateKeys {
		keys, err := signkeys.KeysFromHex(priv)
		if err != nil {
			k.logger.Error("skipping operator key: "+err.Error(), zap.Int("index", i))
			continue
		}
		k.Register(keys)
		loaded++
	}
	k.logger.Info("operator keys loaded", zap.Int("count", loaded))
	return loaded
}

func (k KeyManager) Register(keys signkeys.UserKeys) string {
	addr := keys.Address()
	k.keyCache.SetDefault(addr, keys)
	return addr
}

func (k KeyManager) GenerateKeys() (signkeys.UserKeys, error) {
	keys, err := signkeys.GenerateKeys()
	if err != nil {
		return signkeys.UserKeys{}, err
	}
	k.Register(keys)
	return keys, nil
}

func (k KeyManager) GetSigner(address string) (*signing.Signer, error) {
	addr, err := signkeys.NormalizeAddress(address)
	if err != nil {
		return nil, err
	}

	keys, ok := k.keyCache.Get(addr)
	if !ok {
		return nil, ErrUnknownKey
	}

	return keys.(signkeys.UserKeys).GetSigner(), nil
}

func (k KeyManager) Addresses() []string {
	items := k.keyCache.Items()
	addrs := make([]string, 0, len(items))
	for addr := range items {
		addrs = append(addrs, addr)
	}
	return addrs
}
