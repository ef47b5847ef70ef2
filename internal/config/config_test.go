package config

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"

	"github.com/stretchr/testify/require"
)

func testKeyPEM(t *testing.T) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}
	return string(pem.EncodeToMemory(block))
}

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("WHATSAPP_PHONE_NUMBER_ID", "1234567890")
	t.Setenv("WHATSAPP_API_TOKEN", "token")
	t.Setenv("WHATSAPP_VERIFY_TOKEN", "verify")
	t.Setenv("APP_SECRET", "secret")
	t.Setenv("FLOW_PRIVATE_KEY", testKeyPEM(t))
	t.Setenv("CONFIG_FILE", "")
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("LISTEN_ADDR", ":9999")
	t.Setenv("USER_DAILY_MESSAGE_LIMIT", "42")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":9999", cfg.Server.ListenAddr)
	require.EqualValues(t, 42, cfg.Quota.UserDailyMessages)
	require.NotZero(t, cfg.Quota.AppDailyMessages, "defaults must survive partial overrides")
}

func TestLoadRejectsMissingCredentials(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("WHATSAPP_API_TOKEN", "")

	_, err := Load()
	require.Error(t, err)
}

func TestCeilingsConversion(t *testing.T) {
	q := Quota{UserDailyMessages: 1, AppDailyMessages: 2, UserDailyTokens: 3, AppDailyTokens: 4}
	c := q.Ceilings()
	require.EqualValues(t, 1, c.UserDailyMessages)
	require.EqualValues(t, 2, c.AppDailyMessages)
	require.EqualValues(t, 3, c.UserDailyTokens)
	require.EqualValues(t, 4, c.AppDailyTokens)
}

func TestRSAPrivateKeyParsesBothEncodings(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	pkcs1 := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	pkcs8 := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	for _, raw := range []string{string(pkcs1), string(pkcs8)} {
		f := Flows{PrivateKeyPEM: raw}
		_, err := f.RSAPrivateKey()
		require.NoError(t, err)
	}

	f := Flows{PrivateKeyPEM: "not a key"}
	_, err = f.RSAPrivateKey()
	require.Error(t, err)
}
