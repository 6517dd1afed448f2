package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabian4/console-proxy-gateway/internal/probe"
)

func noEnv(string) string { return "" }

func TestRun_JSONOutput(t *testing.T) {
	front := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/proxy/auth/api-key", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message":"ok","provider":"jira","tenant_id":"t","token_id":"tok"}`))
	}))
	defer front.Close()

	var out, errOut bytes.Buffer
	code := run([]string{"--base-url", front.URL, "--backend-url", "https://api.example.com", "--json"}, noEnv, &out, &errOut)
	require.Equal(t, 0, code, errOut.String())

	var res probe.Result
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	assert.Equal(t, probe.ClassBackendJSON, res.Classification)
	assert.Equal(t, "https://api.example.com/auth/api-key", res.TargetURL)
}

func TestRun_HTMLErrorStillExitsZero(t *testing.T) {
	front := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("<!DOCTYPE html><html><body>404: This page could not be found.</body></html>"))
	}))
	defer front.Close()

	var out, errOut bytes.Buffer
	code := run([]string{"--base-url", front.URL}, noEnv, &out, &errOut)
	require.Equal(t, 0, code)
	assert.Contains(t, out.String(), probe.ClassHTMLError)
	assert.Contains(t, out.String(), "(backend URL not set)")
	assert.Contains(t, out.String(), "Response text sample:")
}

func TestRun_BackendFromEnv(t *testing.T) {
	front := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer front.Close()

	env := func(k string) string {
		if k == "NEXT_PUBLIC_BACKEND_URL" {
			return "https://legacy.example.com/"
		}
		return ""
	}
	var out bytes.Buffer
	require.Equal(t, 0, run([]string{"--base-url", front.URL, "--json"}, env, &out, &bytes.Buffer{}))

	var res probe.Result
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	assert.Equal(t, "https://legacy.example.com/auth/api-key", res.TargetURL)
}

func TestRun_BadFlag(t *testing.T) {
	assert.Equal(t, 2, run([]string{"--nope"}, noEnv, &bytes.Buffer{}, &bytes.Buffer{}))
}
