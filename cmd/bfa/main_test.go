package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/boddenberg/tradie-onboarding-bfa/internal/domain"
	"github.com/boddenberg/tradie-onboarding-bfa/internal/onboarding"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestValidateCmd_ValidPreset(t *testing.T) {
	form, err := onboarding.MockFormData("plumber")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "form.json")
	raw, err := json.Marshal(form)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	out, err := run(t, "", "validate", path)
	require.NoError(t, err, out)
	assert.Contains(t, out, "basic_info")
	assert.NotContains(t, out, "invalid")
}

func TestValidateCmd_InvalidFromStdin(t *testing.T) {
	out, err := run(t, `{"basicInfo":{"name":"M"}}`, "validate", "--json", "--up-to", "1", "-")
	require.Error(t, err)

	var result domain.AllStepsValidation
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.False(t, result.Valid)
	assert.Len(t, result.Steps, 2)
}

func TestValidateCmd_BadUpTo(t *testing.T) {
	_, err := run(t, `{}`, "validate", "--up-to", "9", "-")
	assert.ErrorContains(t, err, "--up-to")
}

func TestFillCmd_PrintsSections(t *testing.T) {
	out, err := run(t, "", "fill", "--preset", "electrician", "--step", "1")
	require.NoError(t, err)

	var sections map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(out), &sections))
	assert.Contains(t, sections, string(domain.SectionBasicInfo))
	assert.Len(t, sections, 1)
}

func TestFillCmd_UnknownPreset(t *testing.T) {
	_, err := run(t, "", "fill", "--preset", "astronaut")
	assert.Error(t, err)
}

func TestPresetsCmd(t *testing.T) {
	out, err := run(t, "", "presets")
	require.NoError(t, err)
	assert.Contains(t, out, "plumber\n")
	assert.Contains(t, out, "electrician\n")
}
