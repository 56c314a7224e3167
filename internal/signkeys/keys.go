package signkeys

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/btcsuite/btcd/btcec"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/hyperledger/sawtooth-sdk-go/signing"
)

var ErrInvalidAddress = errors.New("invalid verifier address")

type UserKeys struct {
	PrivateKey signing.PrivateKey
	PublicKey  signing.PublicKey
}

func (u UserKeys) GetSigner() *signing.Signer {
	cryptoFactory := signing.NewCryptoFactory(signing.NewSecp256k1Context())
	return cryptoFactory.NewSigner(u.PrivateKey)
}

// Address is the normalized public key the ledger reports for this signer.
func (u UserKeys) Address() string {
	addr, err := NormalizeAddress(u.PublicKey.AsHex())
	if err != nil {
		return u.PublicKey.AsHex()
	}
	return addr
}

// source: https://github.com/ethereum/go-ethereum/blob/86d547707965685cef732aa28c15e6811ea98408/crypto/secp256k1/secp256_test.go#L19
func GenerateKeys() (UserKeys, error) {
	key, err := ecdsa.GenerateKey(btcec.S256(), rand.Reader)
	if err != nil {
		return UserKeys{}, errors.New("failed to generate the keys: " + err.Error())
	}
	pubkey := elliptic.Marshal(btcec.S256(), key.X, key.Y)

	privkey := make([]byte, 32)
	blob := key.D.Bytes()
	copy(privkey[32-len(blob):], blob)

	keys := UserKeys{
		PublicKey:  signing.NewSecp256k1PublicKey(pubkey),
		PrivateKey: signing.NewSecp256k1PrivateKey(privkey),
	}

	return keys, nil
}

// KeysFromHex restores a key pair from a hex encoded 32 byte private key.
func KeysFromHex(privateHex string) (UserKeys, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(privateHex), "0x"))
	if err != nil || len(raw) != 32 {
		return UserKeys{}, errors.New("private key must be 32 hex encoded bytes")
	}

	priv := secp256k1.PrivKeyFromBytes(raw)
	return UserKeys{
		PrivateKey: signing.NewSecp256k1PrivateKey(raw),
		PublicKey:  signing.NewSecp256k1PublicKey(priv.PubKey().SerializeUncompressed()),
	}, nil
}

// NormalizeAddress turns a verifier address, i.e. a secp256k1 public key in
// compressed or uncompressed hex form, into lower case compressed hex.
func NormalizeAddress(addr string) (string, error) {
	s := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(addr), "0x"))
	raw, err := hex.DecodeString(s)
	if err != nil {
		return "", errors.New(ErrInvalidAddress.Error() + ": " + err.Error())
	}

	pub, err := secp256k1.ParsePubKey(raw)
	if err != nil {
		return "", errors.New(ErrInvalidAddress.Error() + ": " + err.Error())
	}

	return hex.EncodeToString(pub.SerializeCompressed()), nil
}
