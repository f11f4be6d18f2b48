package evm

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	enginecrypto "github.com/betchain/settlementd/internal/crypto"
)

// Signer is the capability that authorizes value-bearing ledger
// transactions. It is passed into the client explicitly rather than living
// in ambient state; a signer may refuse to sign, which surfaces as a
// rejected ledger error upstream.
type Signer interface {
	SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
	Address() common.Address
}

// KeySigner signs transactions with an in-process secp256k1 key resolved by
// the crypto package (raw hex or encrypted key file).
type KeySigner struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

// NewKeySigner loads the operator key from cfg and returns a ready signer.
func NewKeySigner(cfg enginecrypto.KeyConfig) (*KeySigner, error) {
	keyHex, err := enginecrypto.LoadKey(cfg)
	if err != nil {
		return nil, err
	}

	key, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("evm: parse operator key: %w", err)
	}

	return &KeySigner{
		key:  key,
		addr: ethcrypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// SignTx signs tx for the given chain id.
func (s *KeySigner) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), s.key)
	if err != nil {
		return nil, fmt.Errorf("evm: sign tx: %w", err)
	}
	return signed, nil
}

// Address returns the signer's account address.
func (s *KeySigner) Address() common.Address {
	return s.addr
}

var _ Signer = (*KeySigner)(nil)
