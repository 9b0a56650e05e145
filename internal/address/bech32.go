package address

// Bech32m encode/decode (BIP-350), self-contained over stdlib.

import (
	"fmt"
	"strings"
)

const charset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"

// bech32mConst is the BIP-350 constant XORed into the checksum, replacing
// bech32's original 1. Any other HRP or variant is rejected by Decode.
const bech32mConst = 0x2bc830a3

var charsetIndex = func() map[byte]int {
	m := make(map[byte]int, len(charset))
	for i := 0; i < len(charset); i++ {
		m[charset[i]] = i
	}
	return m
}()

func polymod(values []int) int {
	gen := []int{0x3b6a57b2, 0x26508e6d, 0x1ea119fa, 0x3d4233dd, 0x2a1462b3}
	chk := 1
	for _, v := range values {
		b := chk >> 25
		chk = (chk&0x1ffffff)<<5 ^ v
		for i := 0; i < 5; i++ {
			if (b>>uint(i))&1 == 1 {
				chk ^= gen[i]
			}
		}
	}
	return chk
}

func hrpExpand(hrp string) []int {
	out := make([]int, 0, len(hrp)*2+1)
	for i := 0; i < len(hrp); i++ {
		out = append(out, int(hrp[i])>>5)
	}
	out = append(out, 0)
	for i := 0; i < len(hrp); i++ {
		out = append(out, int(hrp[i])&31)
	}
	return out
}

func createChecksum(hrp string, data []int) []int {
	values := append(hrpExpand(hrp), data...)
	values = append(values, []int{0, 0, 0, 0, 0, 0}...)
	mod := polymod(values) ^ bech32mConst
	out := make([]int, 6)
	for i := 0; i < 6; i++ {
		out[i] = (mod >> uint(5*(5-i))) & 31
	}
	return out
}

func verifyChecksum(hrp string, data []int) bool {
	values := append(hrpExpand(hrp), data...)
	return polymod(values) == bech32mConst
}

// convertBits regroups a slice of fromBits-wide integers into toBits-wide
// integers, used to map 8-bit address bytes into 5-bit Bech32 symbols.
func convertBits(data []int, fromBits, toBits uint, pad bool) ([]int, error) {
	acc, bits := 0, uint(0)
	out := make([]int, 0, len(data)*int(fromBits)/int(toBits)+1)
	maxv := (1 << toBits) - 1
	for _, v := range data {
		if v < 0 || v>>fromBits != 0 {
			return nil, fmt.Errorf("bech32: invalid data value %d", v)
		}
		acc = (acc << fromBits) | v
		bits += fromBits
		for bits >= toBits {
			bits -= toBits
			out = append(out, (acc>>bits)&maxv)
		}
	}
	if pad {
		if bits > 0 {
			out = append(out, (acc<<(toBits-bits))&maxv)
		}
	} else if bits >= fromBits || ((acc<<(toBits-bits))&maxv) != 0 {
		return nil, fmt.Errorf("bech32: invalid padding")
	}
	return out, nil
}

// EncodeM encodes hrp + payload bytes as Bech32m.
func EncodeM(hrp string, payload []byte) (string, error) {
	data := make([]int, len(payload))
	for i, b := range payload {
		data[i] = int(b)
	}
	values, err := convertBits(data, 8, 5, true)
	if err != nil {
		return "", err
	}
	checksum := createChecksum(hrp, values)
	combined := append(values, checksum...)
	var sb strings.Builder
	sb.WriteString(hrp)
	sb.WriteByte('1')
	for _, v := range combined {
		sb.WriteByte(charset[v])
	}
	return sb.String(), nil
}

// DecodeM decodes a Bech32m string, enforcing the expected HRP and the
// Bech32m variant constant. Any other HRP or variant (plain Bech32) is
// rejected.
func DecodeM(expectHRP, s string) ([]byte, error) {
	if strings.ToLower(s) != s && strings.ToUpper(s) != s {
		return nil, fmt.Errorf("bech32: mixed case")
	}
	s = strings.ToLower(s)
	pos := strings.LastIndexByte(s, '1')
	if pos < 1 || pos+7 > len(s) {
		return nil, fmt.Errorf("bech32: invalid separator position")
	}
	hrp := s[:pos]
	if hrp != expectHRP {
		return nil, fmt.Errorf("bech32: unexpected hrp %q, want %q", hrp, expectHRP)
	}
	data := make([]int, 0, len(s)-pos-1)
	for i := pos + 1; i < len(s); i++ {
		idx, ok := charsetIndex[s[i]]
		if !ok {
			return nil, fmt.Errorf("bech32: invalid character %q", s[i])
		}
		data = append(data, idx)
	}
	if !verifyChecksum(hrp, data) {
		return nil, fmt.Errorf("bech32: invalid checksum (not bech32m)")
	}
	payload5 := data[:len(data)-6]
	payload, err := convertBits(payload5, 5, 8, false)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(payload))
	for i, v := range payload {
		out[i] = byte(v)
	}
	return out, nil
}
