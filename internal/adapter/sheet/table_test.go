package sheet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	text, enc, err := decode([]byte("\xEF\xBB\xBFDIRECCIÓN;ESTADO\n"))
	require.NoError(t, err)
	assert.Equal(t, "utf-8", enc)
	assert.Equal(t, "DIRECCIÓN;ESTADO\n", text)

	text, enc, err = decode([]byte("DIRECCI\xd3N;ESTADO\n"))
	require.NoError(t, err)
	assert.Equal(t, "windows-1252", enc)
	assert.Equal(t, "DIRECCIÓN;ESTADO\n", text)
}

func TestDetectDelimiter(t *testing.T) {
	assert.Equal(t, ';', detectDelimiter("ID NAP;DIRECCION;Puertos_Utilizados\n1;ALSINA 100;3"))
	assert.Equal(t, ',', detectDelimiter("\n\nid,address,used\n"))
	assert.Equal(t, '\t', detectDelimiter("id\taddress\tused"))
	assert.Equal(t, ';', detectDelimiter("single"))
}

func TestColumnKey(t *testing.T) {
	assert.Equal(t, "DIRECCION", columnKey(" Dirección "))
	assert.Equal(t, "PUERTOS UTILIZADOS", columnKey("Puertos_Utilizados"))
	assert.Equal(t, "ID NAP", columnKey("id  nap"))
}

func TestParseCount(t *testing.T) {
	for in, want := range map[string]int{"": 0, "8": 8, "8.0": 8, "16,0": 16} {
		got, err := parseCount(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, in := range []string{"-1", "2.5", "ocho"} {
		_, err := parseCount(in)
		assert.Error(t, err, in)
	}
}

func TestCell(t *testing.T) {
	row := []string{" a ", "nan"}
	assert.Equal(t, "a", cell(row, 0))
	assert.Empty(t, cell(row, 1))
	assert.Empty(t, cell(row, 5))
	assert.Empty(t, cell(row, -1))
}
