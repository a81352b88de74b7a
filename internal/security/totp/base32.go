package totp

import (
	"fmt"
	"strings"
)

// Alfabeto RFC 4648 (A-Z2-7). Los secretos se emiten siempre sin padding.
const b32Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ234567"

// EncodeBase32 codifica src en Base32 estándar sin padding.
// Empaqueta los bytes en grupos de 5 bits de izquierda a derecha; el último
// grupo incompleto se rellena con ceros a la derecha.
func EncodeBase32(src []byte) string {
	var sb strings.Builder
	sb.Grow((len(src)*8 + 4) / 5)

	var acc uint32
	bits := 0
	for _, b := range src {
		acc = acc<<8 | uint32(b)
		bits += 8
		for bits >= 5 {
			bits -= 5
			sb.WriteByte(b32Alphabet[(acc>>bits)&0x1f])
		}
	}
	if bits > 0 {
		sb.WriteByte(b32Alphabet[(acc<<(5-bits))&0x1f])
	}
	return sb.String()
}

// DecodeBase32 decodifica una cadena Base32 (RFC 4648). Acepta minúsculas y
// padding '=' final; cualquier otro carácter fuera del alfabeto es error.
func DecodeBase32(s string) ([]byte, error) {
	s = strings.TrimRight(s, "=")
	out := make([]byte, 0, len(s)*5/8)

	var acc uint32
	bits := 0
	for i := 0; i < len(s); i++ {
		v := b32Value(s[i])
		if v < 0 {
			return nil, fmt.Errorf("base32: carácter inválido %q en posición %d", s[i], i)
		}
		acc = acc<<5 | uint32(v)
		bits += 5
		if bits >= 8 {
			bits -= 8
			out = append(out, byte(acc>>bits))
		}
	}
	// Los bits sobrantes son relleno del último grupo; se descartan.
	return out, nil
}

// b32Value mapea un carácter del alfabeto a su valor de 5 bits, -1 si no pertenece.
func b32Value(c byte) int {
	switch {
	case c >= 'A' && c <= 'Z':
		return int(c - 'A')
	case c >= 'a' && c <= 'z':
		return int(c - 'a')
	case c >= '2' && c <= '7':
		return int(c-'2') + 26
	default:
		return -1
	}
}
