package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestRunChecks_Healthy(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".env"), "MERCADO_PAGO_ACCESS_TOKEN=TEST-abc\nALLOWED_ORIGINS=https://cv.example.com\n")
	writeFile(t, filepath.Join(dir, ".gitignore"), "node_modules\n.env\n")
	writeFile(t, filepath.Join(dir, "internal", "pay.go"), "package pay\n\nvar token = os.Getenv(\"MERCADO_PAGO_ACCESS_TOKEN\")\n")

	r := runChecks(dir, map[string]string{})

	assert.Empty(t, r.failed)
	assert.Empty(t, r.warnings)
	assert.Len(t, r.passed, 5)
}

func TestRunChecks_Problems(t *testing.T) {
	tests := []struct {
		name     string
		files    map[string]string
		env      map[string]string
		wantFail string
	}{
		{
			name: "placeholder token",
			files: map[string]string{
				".env": "MERCADO_PAGO_ACCESS_TOKEN=seu_access_token_aqui\n",
			},
			wantFail: "access token is not configured in .env",
		},
		{
			name: "token missing from env file",
			files: map[string]string{
				".env": "ALLOWED_ORIGINS=https://cv.example.com\n",
			},
			wantFail: "MERCADO_PAGO_ACCESS_TOKEN not found in .env",
		},
		{
			name: "env file not ignored",
			files: map[string]string{
				".env":       "MERCADO_PAGO_ACCESS_TOKEN=TEST-abc\n",
				".gitignore": "bin/\n",
			},
			wantFail: ".env is NOT listed in .gitignore",
		},
		{
			name: "hardcoded token",
			files: map[string]string{
				".env":            "MERCADO_PAGO_ACCESS_TOKEN=TEST-abc\n",
				"cmd/api/main.go": "package main\n\nconst token = \"APP_USR-1234-abcd\"\n",
			},
			wantFail: "hardcoded access token found in " + filepath.Join("cmd", "api", "main.go"),
		},
		{
			name: "inverted amount range",
			files: map[string]string{
				".env": "MERCADO_PAGO_ACCESS_TOKEN=TEST-abc\n",
			},
			env:      map[string]string{"MIN_PAYMENT_AMOUNT": "5", "MAX_PAYMENT_AMOUNT": "2", "DEFAULT_PAYMENT_AMOUNT": "3"},
			wantFail: "MAX_PAYMENT_AMOUNT 2 is below MIN_PAYMENT_AMOUNT 5",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			for name, content := range tt.files {
				writeFile(t, filepath.Join(dir, name), content)
			}

			env := tt.env
			if env == nil {
				env = map[string]string{}
			}

			r := runChecks(dir, env)
			assert.Contains(t, r.failed, tt.wantFail)
		})
	}
}

func TestRunChecks_ProcessEnvWinsOverFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".env"), "MERCADO_PAGO_ACCESS_TOKEN=TEST-abc\nALLOWED_ORIGINS=https://file.example.com\n")

	r := runChecks(dir, map[string]string{"ALLOWED_ORIGINS": "https://env.example.com"})

	assert.Contains(t, r.passed, "allowed origins: https://env.example.com")
}

func TestRunChecks_NoEnvFile(t *testing.T) {
	r := runChecks(t.TempDir(), map[string]string{})

	assert.Contains(t, r.warnings, ".env file not found (required in production unless variables are set by the platform)")
	assert.Contains(t, r.failed, "MERCADO_PAGO_ACCESS_TOKEN is not set, both payment endpoints will answer 500")
}

func newFakeProxy(t *testing.T, finalStatus string) (*httptest.Server, *atomic.Int32) {
	t.Helper()

	var polls atomic.Int32
	png := base64.StdEncoding.EncodeToString([]byte("\x89PNG fake"))

	mux := http.NewServeMux()
	mux.HandleFunc("/create-payment", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"555","qr_code":"000201pix","qr_code_base64":"` + png + `","ticket_url":"https://t/555","status":"pending"}`))
	})
	mux.HandleFunc("/check-status", func(w http.ResponseWriter, r *http.Request) {
		status := "pending"
		if polls.Add(1) >= 2 {
			status = finalStatus
		}
		_, _ = w.Write([]byte(`{"status":"` + status + `"}`))
	})

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts, &polls
}

func TestRunPay_ExportsAfterApproval(t *testing.T) {
	ts, polls := newFakeProxy(t, "approved")
	dir := t.TempDir()

	doc := filepath.Join(dir, "preview.pdf")
	writeFile(t, doc, "%PDF-1.7 resume")

	opts := payOptions{
		proxyURL:       ts.URL,
		email:          "user@test.com",
		amount:         "2.00",
		qrOut:          filepath.Join(dir, "pix.png"),
		document:       doc,
		out:            filepath.Join(dir, "curriculo.pdf"),
		pollInterval:   5 * time.Millisecond,
		approvalDelay:  time.Millisecond,
		requestTimeout: time.Second,
		wait:           5 * time.Second,
	}

	var out bytes.Buffer
	require.NoError(t, runPay(context.Background(), opts, &out))

	exported, err := os.ReadFile(opts.out)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7 resume", string(exported))

	qr, err := os.ReadFile(opts.qrOut)
	require.NoError(t, err)
	assert.Equal(t, "\x89PNG fake", string(qr))

	assert.Contains(t, out.String(), "000201pix")
	assert.Contains(t, out.String(), "Payment approved")
	assert.Equal(t, int32(2), polls.Load())
}

func TestRunPay_Rejected(t *testing.T) {
	ts, _ := newFakeProxy(t, "rejected")
	dir := t.TempDir()

	opts := payOptions{
		proxyURL:       ts.URL,
		email:          "user@test.com",
		out:            filepath.Join(dir, "curriculo.pdf"),
		document:       filepath.Join(dir, "missing.pdf"),
		pollInterval:   5 * time.Millisecond,
		requestTimeout: time.Second,
		wait:           5 * time.Second,
	}

	var out bytes.Buffer
	err := runPay(context.Background(), opts, &out)

	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "rejected"), err.Error())
	_, statErr := os.Stat(opts.out)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunPay_InvalidAmount(t *testing.T) {
	err := runPay(context.Background(), payOptions{amount: "two"}, &bytes.Buffer{})
	assert.ErrorContains(t, err, "invalid amount")
}
