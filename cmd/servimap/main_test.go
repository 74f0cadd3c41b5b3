package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/servimap/servimap/internal/app/domain/user"
	"github.com/servimap/servimap/internal/catalog"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	// Keep a stray .env in the package directory out of the test.
	wd, wdErr := os.Getwd()
	require.NoError(t, wdErr)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCatalogCommandYAMLRoundTrips(t *testing.T) {
	out, err := execute(t, "catalog")
	require.NoError(t, err)

	cat, err := catalog.Parse([]byte(out))
	require.NoError(t, err)
	require.Len(t, cat.List(), len(catalog.Default().List()))
}

func TestCatalogCommandJSON(t *testing.T) {
	out, err := execute(t, "catalog", "-o", "json")
	require.NoError(t, err)

	var doc map[string][]catalog.Category
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	require.True(t, catalog.Default().Has(doc["categories"][0].ID))
}

func TestCatalogCommandFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	body, err := yaml.Marshal(map[string]any{"categories": []map[string]any{{
		"id": "roofing", "name": "Roofing", "hourly_rate_cents": 7000, "minimum_minutes": 60,
	}}})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, body, 0o600))

	out, err := execute(t, "catalog", "--file", path)
	require.NoError(t, err)
	require.Contains(t, out, "roofing")

	_, err = execute(t, "catalog", "-o", "xml")
	require.Error(t, err)
}

func TestTokenCommand(t *testing.T) {
	t.Setenv("SERVIMAP_MASTER_KEY", "cli-test-master-key-0123456789abcdef")

	out, err := execute(t, "token", "--user", "admin-1", "--role", string(user.RoleAdmin))
	require.NoError(t, err)
	require.Len(t, strings.Split(strings.TrimSpace(out), "."), 3)

	_, err = execute(t, "token", "--user", "u1", "--role", "root")
	require.Error(t, err)

	_, err = execute(t, "token")
	require.Error(t, err)
}

func TestMigrateDownValidatesSteps(t *testing.T) {
	_, err := execute(t, "migrate", "down", "zero")
	require.ErrorContains(t, err, "positive integer")
}
