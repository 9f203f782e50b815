package xlsx

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestWriteAndRead(t *testing.T) {
	var buf bytes.Buffer
	err := Write(&buf,
		Sheet{
			Name:    "repairs",
			Headers: []string{"id", "panel", "cost"},
			Rows: [][]any{
				{1, "front bumper", 450.5},
				{2, "hood", nil},
			},
		},
		Sheet{
			Name:    "quotes",
			Headers: []string{"id", "total"},
			Rows:    [][]any{{7, 1200}},
		},
	)
	require.NoError(t, err)

	sheets, err := Read(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.Len(t, sheets, 2)

	assert.Equal(t, "repairs", sheets[0].Name)
	assert.Equal(t, []string{"id", "panel", "cost"}, sheets[0].Headers)
	require.Len(t, sheets[0].Rows, 2)
	assert.Equal(t, []any{"1", "front bumper", "450.5"}, sheets[0].Rows[0])
	assert.Equal(t, []any{"2", "hood", nil}, sheets[0].Rows[1])

	assert.Equal(t, "quotes", sheets[1].Name)
	assert.Equal(t, []any{"7", "1200"}, sheets[1].Rows[0])
}

func TestWriteStylesHeader(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, Sheet{Name: "audit", Headers: []string{"a", "b"}}))

	f, err := excelize.OpenReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	defer f.Close()

	style, err := f.GetCellStyle("audit", "B1")
	require.NoError(t, err)
	assert.NotZero(t, style)

	v, err := f.GetCellValue("audit", "A1")
	require.NoError(t, err)
	assert.Equal(t, "a", v)
}

func TestReadSkipsBlankSheetsAndRows(t *testing.T) {
	f := excelize.NewFile()
	_, err := f.NewSheet("vehicle_cards")
	require.NoError(t, err)
	require.NoError(t, f.SetSheetRow("vehicle_cards", "A2", &[]any{"card_id", "model", ""}))
	require.NoError(t, f.SetSheetRow("vehicle_cards", "A3", &[]any{"c1", "Civic"}))
	require.NoError(t, f.SetSheetRow("vehicle_cards", "A5", &[]any{"c2"}))

	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	require.NoError(t, f.Close())

	sheets, err := Read(&buf)
	require.NoError(t, err)
	require.Len(t, sheets, 1)
	assert.Equal(t, "vehicle_cards", sheets[0].Name)
	assert.Equal(t, []string{"card_id", "model"}, sheets[0].Headers)
	assert.Equal(t, [][]any{{"c1", "Civic"}, {"c2", nil}}, sheets[0].Rows)
}

func TestReadRejectsGarbage(t *testing.T) {
	_, err := Read(bytes.NewReader([]byte("not a workbook")))
	assert.Error(t, err)
}
