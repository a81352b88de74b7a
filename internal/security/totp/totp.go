// Package totp implementa HOTP/TOTP (RFC 4226/6238) con HMAC-SHA1, códigos de
// 6 dígitos y período de 30s, más la generación de secretos y backup codes.
// La verificación es una decisión booleana: entradas malformadas retornan
// false, nunca error.
package totp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	// SecretBytes es el tamaño del secreto compartido (160 bits).
	SecretBytes = 20

	// Digits es la cantidad de dígitos del código.
	Digits = 6

	// Period es el tamaño del time step en segundos.
	Period = 30

	// DefaultSkew es la tolerancia de drift en steps hacia cada lado (±60s).
	DefaultSkew = 2

	// DefaultBackupCodes es la cantidad de códigos de recuperación por set.
	DefaultBackupCodes = 10
)

// GenerateSecret retorna un secreto nuevo de 20 bytes aleatorios,
// Base32 sin padding. Falla solo si la fuente de entropía falla.
func GenerateSecret() (string, error) {
	raw := make([]byte, SecretBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("totp: random secret: %w", err)
	}
	return EncodeBase32(raw), nil
}

// GenerateBackupCodes genera count códigos de un solo uso con formato
// XXXX-XXXX (hex mayúscula). Si count <= 0 usa DefaultBackupCodes.
// Siempre usa crypto/rand: los códigos son credenciales, no identificadores.
func GenerateBackupCodes(count int) ([]string, error) {
	if count <= 0 {
		count = DefaultBackupCodes
	}
	codes := make([]string, 0, count)
	buf := make([]byte, 4)
	for i := 0; i < count; i++ {
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("totp: random backup code: %w", err)
		}
		h := strings.ToUpper(hex.EncodeToString(buf))
		codes = append(codes, h[:4]+"-"+h[4:])
	}
	return codes, nil
}

// BuildEnrollmentURI construye la URI otpauth:// para enrolar el secreto en
// una app autenticadora (el render del QR es problema del caller).
func BuildEnrollmentURI(secret, account, issuer string) string {
	label := url.PathEscape(fmt.Sprintf("%s:%s", issuer, account))
	q := url.Values{}
	q.Set("secret", secret)
	q.Set("issuer", issuer)
	q.Set("algorithm", "SHA1")
	q.Set("digits", fmt.Sprintf("%d", Digits))
	q.Set("period", fmt.Sprintf("%d", Period))
	return fmt.Sprintf("otpauth://totp/%s?%s", label, q.Encode())
}

// CodeAt computa el código vigente para el secreto en el instante dado.
// Lado generador del protocolo: lo usan la CLI de diagnóstico y los tests de
// los flujos de enrolamiento.
func CodeAt(secret string, at time.Time) (string, error) {
	key, err := DecodeBase32(strings.TrimSpace(secret))
	if err != nil {
		return "", fmt.Errorf("totp: invalid secret: %w", err)
	}
	if len(key) == 0 {
		return "", fmt.Errorf("totp: empty secret")
	}
	return hotp(key, at.Unix()/Period), nil
}

// VerifyCode verifica un código contra el secreto en la ventana
// now ± DefaultSkew steps.
func VerifyCode(code, secret string) bool {
	return VerifyCodeAt(code, secret, time.Now(), DefaultSkew)
}

// VerifyCodeAt verifica un código en un instante dado con una tolerancia
// explícita. Normaliza la entrada (espacios y guiones), exige exactamente 6
// dígitos y corta en el primer match. Secreto inválido => false.
func VerifyCodeAt(code, secret string, at time.Time, skew int) bool {
	code = normalizeCode(code)
	if len(code) != Digits || !allDigits(code) {
		return false
	}
	key, err := DecodeBase32(strings.TrimSpace(secret))
	if err != nil || len(key) == 0 {
		return false
	}
	if skew < 0 {
		skew = 0
	}

	step := at.Unix() / Period
	for c := step - int64(skew); c <= step+int64(skew); c++ {
		if c < 0 {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(hotp(key, c)), []byte(code)) == 1 {
			return true
		}
	}
	return false
}

// VerifyBackupCode compara el código contra el set, insensible a mayúsculas y
// separadores. No muta el set: el consumo single-use es responsabilidad del
// dueño del set (ver internal/mfa).
func VerifyBackupCode(code string, set []string) bool {
	cleaned := normalizeBackupCode(code)
	if cleaned == "" {
		return false
	}
	ok := false
	for _, c := range set {
		// Recorre todo el set para no filtrar la posición por timing.
		if subtle.ConstantTimeCompare([]byte(normalizeBackupCode(c)), []byte(cleaned)) == 1 {
			ok = true
		}
	}
	return ok
}

// hotp computa HOTP(K, C) según RFC 4226: counter big-endian de 8 bytes,
// HMAC-SHA1, truncado dinámico de 31 bits y reducción mod 10^6.
func hotp(key []byte, counter int64) string {
	var msg [8]byte
	c := counter
	for i := 7; i >= 0; i-- {
		msg[i] = byte(c & 0xff)
		c >>= 8
	}
	m := hmac.New(sha1.New, key)
	_, _ = m.Write(msg[:])
	sum := m.Sum(nil)

	offset := int(sum[len(sum)-1] & 0x0f)
	bin := (int(sum[offset])&0x7f)<<24 |
		int(sum[offset+1])<<16 |
		int(sum[offset+2])<<8 |
		int(sum[offset+3])
	return fmt.Sprintf("%06d", bin%1000000)
}

func normalizeCode(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, " ", "")
	return strings.ReplaceAll(s, "-", "")
}

func normalizeBackupCode(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, " ", "")
	return strings.ReplaceAll(s, "-", "")
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
