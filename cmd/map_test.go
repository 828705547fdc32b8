package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadTable(t *testing.T) {
	path := writeFile(t, "unichem.json", `{"TP53": ["P04637"], "KRAS": ["P01116", "P01116-2"]}`)

	table, err := loadTable(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"P04637"}, table["TP53"])
	assert.Equal(t, []string{"P01116", "P01116-2"}, table["KRAS"])
}

func TestLoadTable_Malformed(t *testing.T) {
	for name, content := range map[string]string{
		"not_object":  `["TP53"]`,
		"not_array":   `{"TP53": "P04637"}`,
		"not_strings": `{"TP53": [42]}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := loadTable(writeFile(t, "table.json", content))
			require.Error(t, err)
		})
	}
}

func TestSeedFileDecoding(t *testing.T) {
	path := writeFile(t, "seed.hcl", `
resource "unichem" {
  client = "table"
  input  = "GENE_SYMBOL"
  output = "UNIPROT_ID"
}

path "gene_to_uniprot_direct" {
  priority = 10
  steps    = ["unichem"]
}

relationship {
  source_endpoint = "ukbb_protein"
  target_endpoint = "hpa_osp"
  path            = "gene_to_uniprot_direct"
}
`)

	var file seedFile
	require.NoError(t, hclsimple.DecodeFile(path, nil, &file))
	require.Len(t, file.Resources, 1)
	assert.Equal(t, "unichem", file.Resources[0].Name)
	require.Len(t, file.Paths, 1)
	assert.Equal(t, []string{"unichem"}, file.Paths[0].Steps)
	require.Len(t, file.Relations, 1)
	assert.Equal(t, "gene_to_uniprot_direct", file.Relations[0].Path)
}
