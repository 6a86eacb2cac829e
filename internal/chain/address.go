package chain

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/sha256"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"
)

// Tron addresses are the keccak-derived EVM address bytes behind a 0x41
// version prefix, serialized as base58check. The codec here is the minimal
// subset the bridge needs: deriving relayer addresses from signing keys
// and recovering the raw 20 bytes for ABI-encoded balance calls.

const tronAddressPrefix = 0x41

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

var base58Index = func() [256]int8 {
	var idx [256]int8
	for i := range idx {
		idx[i] = -1
	}
	for i, c := range base58Alphabet {
		idx[c] = int8(i)
	}
	return idx
}()

// TronAddressFromKey derives the base58check Tron address for a secp256k1
// signing key.
func TronAddressFromKey(key *ecdsa.PrivateKey) string {
	evm := crypto.PubkeyToAddress(key.PublicKey)
	payload := append([]byte{tronAddressPrefix}, evm.Bytes()...)
	return base58CheckEncode(payload)
}

// TronAddressBytes decodes a base58check Tron address to its raw 20
// address bytes (version prefix and checksum stripped).
func TronAddressBytes(address string) ([]byte, error) {
	payload, err := base58CheckDecode(address)
	if err != nil {
		return nil, fmt.Errorf("decode tron address %q: %w", address, err)
	}
	if len(payload) != 21 || payload[0] != tronAddressPrefix {
		return nil, fmt.Errorf("decode tron address %q: bad payload", address)
	}
	return payload[1:], nil
}

// base58CheckEncode appends the 4-byte double-sha256 checksum and encodes
// base58.
func base58CheckEncode(payload []byte) string {
	sum := checksum(payload)
	data := append(append([]byte{}, payload...), sum[:]...)

	x := new(big.Int).SetBytes(data)
	radix := big.NewInt(58)
	mod := new(big.Int)
	var out []byte
	for x.Sign() > 0 {
		x.DivMod(x, radix, mod)
		out = append(out, base58Alphabet[mod.Int64()])
	}
	for _, b := range data {
		if b != 0 {
			break
		}
		out = append(out, base58Alphabet[0])
	}
	// Reverse.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return string(out)
}

// base58CheckDecode decodes and verifies the trailing checksum, returning
// the payload without it.
func base58CheckDecode(s string) ([]byte, error) {
	x := big.NewInt(0)
	radix := big.NewInt(58)
	for _, c := range s {
		if c > 255 || base58Index[c] < 0 {
			return nil, fmt.Errorf("invalid base58 character %q", c)
		}
		x.Mul(x, radix)
		x.Add(x, big.NewInt(int64(base58Index[c])))
	}
	data := x.Bytes()
	for i := 0; i < len(s) && s[i] == base58Alphabet[0]; i++ {
		data = append([]byte{0}, data...)
	}

	if len(data) < 5 {
		return nil, fmt.Errorf("too short")
	}
	payload, sum := data[:len(data)-4], data[len(data)-4:]
	expected := checksum(payload)
	if !bytes.Equal(sum, expected[:]) {
		return nil, fmt.Errorf("checksum mismatch")
	}
	return payload, nil
}

func checksum(payload []byte) [4]byte {
	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	var sum [4]byte
	copy(sum[:], second[:4])
	return sum
}
