package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dropcart/internal/locator"
)

const buyboxLocators = "../harness/testdata/locators/buybox.cue"

func runValidateCmd(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"--env-file", ""}, args...))
	err := cmd.Execute()
	return buf.String(), err
}

func TestValidate_Defaults(t *testing.T) {
	out, err := runValidateCmd(t, "text")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Config valid")
	assert.Contains(t, out, "✓ Locators: built-in defaults")
}

func TestValidate_LocatorFile(t *testing.T) {
	out, err := runValidateCmd(t, "text", "--locators", buyboxLocators)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Locators valid: "+buyboxLocators)
}

func TestValidate_LocatorsFromConfig(t *testing.T) {
	abs, err := filepath.Abs(buyboxLocators)
	require.NoError(t, err)
	cfg := writeFile(t, "dropcart.yaml", "locators_file: "+abs+"\n")

	out, err := runValidateCmd(t, "json", "--config", cfg)
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	assert.Equal(t, abs, resp.Data.LocatorsFile)
	assert.Equal(t, len(locator.Default().Names()), resp.Data.Fields)
}

func TestValidate_UnknownLocatorField(t *testing.T) {
	path := writeFile(t, "bad.cue", "fields: {\n\tbuy_everything: selectors: [\"#x\"]\n}\n")

	out, err := runValidateCmd(t, "json", "--locators", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "1 validation error(s)")

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
		Error  *CLIError        `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, locator.ErrCodeField, resp.Error.Code)
	require.Len(t, resp.Data.Errors, 1)
	assert.Equal(t, "locators", resp.Data.Errors[0].Source)
	assert.Equal(t, path, resp.Data.Errors[0].File)
}

func TestValidate_ConfigAndLocatorErrors(t *testing.T) {
	cfg := writeFile(t, "dropcart.yaml", "worker:\n  max_retries: 0\n")
	missing := filepath.Join(t.TempDir(), "missing.cue")

	out, err := runValidateCmd(t, "text", "--config", cfg, "--locators", missing)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 validation error(s)")
	assert.Contains(t, out, "[E_CONFIG]")
	assert.Contains(t, out, "["+locator.ErrCodeRead+"]")
	assert.NotContains(t, out, "✓")
}

func TestValidationResult_Text(t *testing.T) {
	buf := &bytes.Buffer{}
	ValidationResult{
		Errors: []ValidationIssue{
			{Source: "locators", Code: "E_LOCATOR_SCHEMA", Message: "bad selectors", File: "loc.cue", Line: 3},
			{Source: "config", Code: "E_CONFIG", Message: "bad listen"},
		},
	}.Text(buf)

	assert.Equal(t, "✗ loc.cue:3: [E_LOCATOR_SCHEMA] bad selectors\n✗ config: [E_CONFIG] bad listen\n", buf.String())
}
