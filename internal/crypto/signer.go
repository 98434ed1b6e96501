package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var (
	// EIP712Domain(string name,string version,uint256 chainId)
	eip712DomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId)"),
	)

	// SwapIntent(address wallet,bytes32 quoteId,bytes32 idempotencyKey,uint256 deadline)
	swapIntentTypeHash = ethcrypto.Keccak256(
		[]byte("SwapIntent(address wallet,bytes32 quoteId,bytes32 idempotencyKey,uint256 deadline)"),
	)
)

// SwapIntent is the wallet's authorisation of one quoted swap. The venue
// verifies it before broadcasting, and the idempotency key lets it recognise
// a resubmission of the same intent.
type SwapIntent struct {
	Wallet         string
	QuoteID        string
	IdempotencyKey string
	Deadline       int64 // unix seconds
}

// Signer signs swap intents with the wallet key using EIP-712.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	domainSep  []byte
}

// NewSigner creates a Signer from a hex private key for the venue's signing
// domain.
func NewSigner(privateKeyHex, domainName string, chainID int64) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		domainSep: ethcrypto.Keccak256(concatBytes(
			eip712DomainTypeHash,
			ethcrypto.Keccak256([]byte(domainName)),
			ethcrypto.Keccak256([]byte("1")),
			bigIntTo32Bytes(big.NewInt(chainID)),
		)),
	}, nil
}

// Address returns the wallet address derived from the key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignSwapIntent returns the 65-byte hex signature (r || s || v) over the
// intent's EIP-712 digest.
func (s *Signer) SignSwapIntent(in SwapIntent) (string, error) {
	digest := s.Digest(in)
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}
	// go-ethereum returns v in {0,1}; EIP-712 verifiers expect {27,28}.
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + hex.EncodeToString(sig), nil
}

// Digest computes keccak256("\x19\x01" || domainSeparator || structHash).
func (s *Signer) Digest(in SwapIntent) []byte {
	structHash := ethcrypto.Keccak256(concatBytes(
		swapIntentTypeHash,
		common.LeftPadBytes(common.HexToAddress(in.Wallet).Bytes(), 32),
		ethcrypto.Keccak256([]byte(in.QuoteID)),
		ethcrypto.Keccak256([]byte(in.IdempotencyKey)),
		bigIntTo32Bytes(big.NewInt(in.Deadline)),
	))
	return ethcrypto.Keccak256(concatBytes([]byte{0x19, 0x01}, s.domainSep, structHash))
}

// RecoverAddress returns the address that produced sig over in.
func (s *Signer) RecoverAddress(in SwapIntent, sig string) (common.Address, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(sig, "0x"))
	if err != nil || len(raw) != 65 {
		return common.Address{}, fmt.Errorf("crypto/signer: malformed signature")
	}
	if raw[64] >= 27 {
		raw[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(s.Digest(in), raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: recover: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// bigIntTo32Bytes returns a 32-byte big-endian representation of n.
func bigIntTo32Bytes(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) >= 32 {
		return b[:32]
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}

func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}
