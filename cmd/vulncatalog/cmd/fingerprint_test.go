package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/vulncatalog/pkg/fingerprint"
)

const findingsDoc = `[
	{"type": "sast", "rule_id": "semgrep.python.lang.security.audit.sql-injection", "file_path": "app/db.py", "line_start": 12, "cwe": ["CWE-89"], "metadata": {}},
	{"type": "sast", "rule_id": "python.lang.security.audit.sql-injection", "file_path": "app/other.py", "line_start": 40, "cwe": ["CWE-89"], "metadata": {}},
	{"type": "sca", "rule_id": "CVE-2021-23337", "metadata": {"package_name": "lodash", "package_version": "4.17.20"}}
]`

func TestDecodeFindings(t *testing.T) {
	findings, err := decodeFindings([]byte(findingsDoc))
	require.NoError(t, err)
	assert.Len(t, findings, 3)

	single, err := decodeFindings([]byte(`  {"type": "secret", "rule_id": "aws-access-key"}  `))
	require.NoError(t, err)
	require.Len(t, single, 1)
	assert.Equal(t, "aws-access-key", single[0].RuleID)

	_, err = decodeFindings([]byte("   "))
	require.Error(t, err)

	_, err = decodeFindings([]byte(`[{"rule_id": `))
	require.Error(t, err)
}

func TestIdentify(t *testing.T) {
	findings, err := decodeFindings([]byte(findingsDoc))
	require.NoError(t, err)

	ids := identify(context.Background(), findings, "repo-1")
	require.Len(t, ids, 3)

	// The scanner namespace does not change identity; location never does.
	assert.Equal(t, ids[0].Fingerprint, ids[1].Fingerprint)
	assert.Equal(t, "Python SQL Injection", ids[0].Title)
	assert.Equal(t, "deterministic", ids[0].TitleTier)
	assert.Equal(t, "app/db.py:12", ids[0].Location)

	assert.Len(t, ids[2].Fingerprint, fingerprint.Length)
	assert.Equal(t, "lodash:4.17.20", ids[2].Location)
	assert.NotEqual(t, ids[0].Fingerprint, ids[2].Fingerprint)
}

func TestFingerprintCommand_Stdin(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetIn(strings.NewReader(findingsDoc))
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"fingerprint", "-", "--repository", "repo-1", "-o", "json"})
	t.Cleanup(func() {
		rootCmd.SetIn(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
		flagOutput = outputTable
	})

	require.NoError(t, rootCmd.Execute())

	var ids []findingIdentity
	require.NoError(t, json.Unmarshal(out.Bytes(), &ids))
	require.Len(t, ids, 3)
	assert.Equal(t, "lodash:4.17.20", ids[2].Location)
}
