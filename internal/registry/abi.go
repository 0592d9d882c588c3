package registry

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/crypto/sha3"
)

const wordSize = 32

// CreatePolicySignature is the registry contract entry point
const CreatePolicySignature = "createPolicy(address,address,string,uint8,uint8,string,uint256,uint256)"

// tokenUnit scales whole MXNB amounts to on-chain units (18 decimals)
var tokenUnit = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// Selector returns the first four bytes of keccak256(signature)
func Selector(signature string) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(signature))
	return h.Sum(nil)[:4]
}

// ParseAddress decodes a 0x-prefixed 20-byte hex address
func ParseAddress(s string) ([]byte, error) {
	raw := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(raw) != 40 {
		return nil, fmt.Errorf("invalid address %q: want 40 hex digits", s)
	}
	b, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return b, nil
}

func padLeft(b []byte) []byte {
	out := make([]byte, wordSize)
	copy(out[wordSize-len(b):], b)
	return out
}

func uintWord(v *big.Int) ([]byte, error) {
	if v.Sign() < 0 || v.BitLen() > 256 {
		return nil, fmt.Errorf("value %s does not fit uint256", v)
	}
	return padLeft(v.Bytes()), nil
}

// stringTail encodes a dynamic string: length word then right-padded bytes
func stringTail(s string) []byte {
	length, _ := uintWord(big.NewInt(int64(len(s))))
	padded := (len(s) + wordSize - 1) / wordSize * wordSize
	data := make([]byte, padded)
	copy(data, s)
	return append(length, data...)
}

// EncodeCreatePolicy builds the calldata for CreatePolicySignature
func EncodeCreatePolicy(r PolicyRecord) ([]byte, error) {
	insured, err := ParseAddress(r.Insured)
	if err != nil {
		return nil, fmt.Errorf("insured: %w", err)
	}
	beneficiary, err := ParseAddress(r.Beneficiary)
	if err != nil {
		return nil, fmt.Errorf("beneficiary: %w", err)
	}
	if r.Age < 0 || r.Age > 255 {
		return nil, fmt.Errorf("age %d does not fit uint8", r.Age)
	}
	if r.SumAssured < 0 || r.Premium < 0 {
		return nil, fmt.Errorf("amounts must not be negative")
	}

	sum, _ := uintWord(new(big.Int).Mul(big.NewInt(r.SumAssured), tokenUnit))
	premium, _ := uintWord(new(big.Int).Mul(big.NewInt(r.Premium), tokenUnit))
	age, _ := uintWord(big.NewInt(int64(r.Age)))
	gender, _ := uintWord(big.NewInt(int64(r.GenderCode)))

	nameTail := stringTail(r.Name)
	regionTail := stringTail(r.Region)

	const headWords = 8
	nameOffset, _ := uintWord(big.NewInt(headWords * wordSize))
	regionOffset, _ := uintWord(big.NewInt(int64(headWords*wordSize + len(nameTail))))

	out := append([]byte{}, Selector(CreatePolicySignature)...)
	for _, w := range [][]byte{
		padLeft(insured),
		padLeft(beneficiary),
		nameOffset,
		age,
		gender,
		regionOffset,
		sum,
		premium,
	} {
		out = append(out, w...)
	}
	out = append(out, nameTail...)
	out = append(out, regionTail...)
	return out, nil
}
