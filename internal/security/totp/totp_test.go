package totp

import (
	"net/url"
	"regexp"
	"strings"
	"testing"
	"time"
)

// Secreto de referencia de RFC 4226/6238: ASCII "12345678901234567890".
const rfcSecret = "GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ"

// Vectores HOTP de RFC 4226 Appendix D, counters 0..9.
func TestHOTP_RFC4226AppendixD(t *testing.T) {
	t.Parallel()
	key := []byte("12345678901234567890")
	want := []string{
		"755224", "287082", "359152", "969429", "338314",
		"254676", "287922", "162583", "399871", "520489",
	}
	for c, w := range want {
		if got := hotp(key, int64(c)); got != w {
			t.Errorf("hotp counter=%d: got %s, want %s", c, got, w)
		}
	}
}

// Vectores TOTP SHA1 de RFC 6238 Appendix B (últimos 6 dígitos).
func TestVerifyCodeAt_RFC6238Vectors(t *testing.T) {
	t.Parallel()
	cases := []struct {
		unix int64
		code string
	}{
		{59, "287082"},
		{1111111109, "081804"},
		{1111111111, "050471"},
		{1234567890, "005924"},
		{2000000000, "279037"},
		{20000000000, "353130"},
	}
	for _, c := range cases {
		at := time.Unix(c.unix, 0)
		if !VerifyCodeAt(c.code, rfcSecret, at, 0) {
			t.Errorf("t=%d: código %s rechazado", c.unix, c.code)
		}
		if VerifyCodeAt("000000", rfcSecret, at, 0) {
			t.Errorf("t=%d: 000000 aceptado", c.unix)
		}
	}
}

// Ventana de drift: un código de un step adyacente dentro de ±skew se acepta,
// uno justo afuera se rechaza.
//
// Para JBSWY3DPEHPK3PXP los códigos por step son:
//
//	step 0: 282760   step 1: 996554   step 2: 602287
//	step 3: 143627   step 4: 960129
func TestVerifyCodeAt_DriftWindow(t *testing.T) {
	t.Parallel()
	const secret = "JBSWY3DPEHPK3PXP"
	at := time.Unix(59, 0) // step 1

	if !VerifyCodeAt("996554", secret, at, 2) {
		t.Fatal("código del step actual rechazado")
	}
	if !VerifyCodeAt("143627", secret, at, 2) {
		t.Fatal("código a +2 steps rechazado (debería entrar en la ventana)")
	}
	if !VerifyCodeAt("282760", secret, at, 2) {
		t.Fatal("código a -1 step rechazado")
	}
	if VerifyCodeAt("960129", secret, at, 2) {
		t.Fatal("código a +3 steps aceptado (fuera de la ventana)")
	}
	if VerifyCodeAt("996554", secret, time.Unix(59+3*Period, 0), 2) {
		t.Fatal("código viejo aceptado fuera de la ventana")
	}
}

// CodeAt es el lado generador: debe producir exactamente los vectores RFC y
// ser aceptado por VerifyCodeAt con skew 0.
func TestCodeAt(t *testing.T) {
	t.Parallel()
	code, err := CodeAt(rfcSecret, time.Unix(59, 0))
	if err != nil {
		t.Fatalf("CodeAt: %v", err)
	}
	if code != "287082" {
		t.Fatalf("CodeAt(t=59) = %s, want 287082", code)
	}
	if !VerifyCodeAt(code, rfcSecret, time.Unix(59, 0), 0) {
		t.Fatal("código generado rechazado por el verificador")
	}
	if _, err := CodeAt("not base32!", time.Unix(59, 0)); err == nil {
		t.Fatal("secreto inválido no reportó error")
	}
}

func TestVerifyCodeAt_Normalization(t *testing.T) {
	t.Parallel()
	const secret = "JBSWY3DPEHPK3PXP"
	at := time.Unix(59, 0)

	for _, in := range []string{"996554", " 996554 ", "996-554", "996 554"} {
		if !VerifyCodeAt(in, secret, at, 0) {
			t.Errorf("entrada %q rechazada tras normalizar", in)
		}
	}
	for _, in := range []string{"", "99655", "9965544", "99655a", "99655."} {
		if VerifyCodeAt(in, secret, at, 0) {
			t.Errorf("entrada malformada %q aceptada", in)
		}
	}
}

// Secretos corruptos nunca lanzan: la verificación es booleana.
func TestVerifyCodeAt_BadSecret(t *testing.T) {
	t.Parallel()
	at := time.Unix(59, 0)
	for _, sec := range []string{"", "not base32!", "1890AB", "========"} {
		if VerifyCodeAt("996554", sec, at, 2) {
			t.Errorf("secreto inválido %q aceptado", sec)
		}
	}
}

func TestGenerateSecret(t *testing.T) {
	t.Parallel()
	s, err := GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret: %v", err)
	}
	// 20 bytes => 32 caracteres base32 sin padding
	if len(s) != 32 {
		t.Fatalf("largo %d, want 32 (%q)", len(s), s)
	}
	raw, err := DecodeBase32(s)
	if err != nil {
		t.Fatalf("secreto no decodificable: %v", err)
	}
	if len(raw) != SecretBytes {
		t.Fatalf("decodifica a %d bytes, want %d", len(raw), SecretBytes)
	}
	s2, _ := GenerateSecret()
	if s == s2 {
		t.Fatal("dos secretos consecutivos idénticos")
	}
}

func TestGenerateBackupCodes(t *testing.T) {
	t.Parallel()
	codes, err := GenerateBackupCodes(0) // 0 => default
	if err != nil {
		t.Fatalf("GenerateBackupCodes: %v", err)
	}
	if len(codes) != DefaultBackupCodes {
		t.Fatalf("got %d codes, want %d", len(codes), DefaultBackupCodes)
	}
	re := regexp.MustCompile(`^[0-9A-F]{4}-[0-9A-F]{4}$`)
	seen := map[string]bool{}
	for _, c := range codes {
		if !re.MatchString(c) {
			t.Errorf("formato inesperado: %q", c)
		}
		if seen[c] {
			t.Errorf("código repetido: %q", c)
		}
		seen[c] = true
	}
}

func TestVerifyBackupCode(t *testing.T) {
	t.Parallel()
	set := []string{"AB12-CD34", "0000-FFFF"}

	for _, in := range []string{"AB12-CD34", "ab12cd34", " ab12 cd34 ", "AB12CD34"} {
		if !VerifyBackupCode(in, set) {
			t.Errorf("entrada %q rechazada", in)
		}
	}
	for _, in := range []string{"", "AB12-CD35", "AB12", "zzzz-zzzz"} {
		if VerifyBackupCode(in, set) {
			t.Errorf("entrada %q aceptada", in)
		}
	}
	if VerifyBackupCode("AB12-CD34", nil) {
		t.Error("match contra set vacío")
	}
}

func TestBuildEnrollmentURI(t *testing.T) {
	t.Parallel()
	uri := BuildEnrollmentURI("JBSWY3DPEHPK3PXP", "ana@example.com", "Portal Docs")

	u, err := url.Parse(uri)
	if err != nil {
		t.Fatalf("URI no parseable: %v", err)
	}
	if u.Scheme != "otpauth" || u.Host != "totp" {
		t.Fatalf("scheme/host inesperados: %q", uri)
	}
	if !strings.Contains(u.Path, "Portal%20Docs:ana@example.com") && !strings.Contains(uri, "Portal%20Docs:ana@example.com") {
		t.Errorf("label no incluye issuer:account: %q", uri)
	}
	q := u.Query()
	if q.Get("secret") != "JBSWY3DPEHPK3PXP" {
		t.Errorf("secret = %q", q.Get("secret"))
	}
	if q.Get("issuer") != "Portal Docs" || q.Get("algorithm") != "SHA1" ||
		q.Get("digits") != "6" || q.Get("period") != "30" {
		t.Errorf("params inesperados: %v", q)
	}
}
