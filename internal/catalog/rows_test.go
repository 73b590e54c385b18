package catalog

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAllRows(t *testing.T, input string) []Row {
	t.Helper()

	rr, err := NewRowReader(strings.NewReader(input))
	require.NoError(t, err)

	var rows []Row
	for {
		row, err := rr.Next()
		if err == io.EOF {
			return rows
		}
		require.NoError(t, err)
		rows = append(rows, row)
	}
}

func TestRowReader_Basic(t *testing.T) {
	rows := readAllRows(t, "category,name,price\nDrinks,Cola,5\nFood,Burger,9.90\n")

	require.Len(t, rows, 2)
	assert.Equal(t, "Drinks", rows[0].Get(ColCategory))
	assert.Equal(t, "Cola", rows[0].Get(ColNamePrimary))
	assert.Equal(t, "5", rows[0].Get(ColPrice))
	assert.Equal(t, 2, rows[0].Line)
	assert.Equal(t, "Burger", rows[1].Get(ColNamePrimary))
}

func TestRowReader_HeaderMatchingIsForgiving(t *testing.T) {
	// Case and surrounding whitespace in headers must not matter, and
	// aliases map to canonical columns.
	rows := readAllRows(t, " Category , PRIMARY NAME , Price , Localized Name \nDrinks,Cola,5,كولا\n")

	require.Len(t, rows, 1)
	assert.Equal(t, "Cola", rows[0].Get(ColNamePrimary))
	assert.Equal(t, "كولا", rows[0].Get(ColNameSecondary))
}

func TestRowReader_SkipsPreambleAndEmptyRows(t *testing.T) {
	input := "Menu export 2026\n\ncategory,name,price\nDrinks,Cola,5\n\n,,\nFood,Burger,9\n\n"
	rows := readAllRows(t, input)

	require.Len(t, rows, 2)
	assert.Equal(t, "Cola", rows[0].Get(ColNamePrimary))
	assert.Equal(t, "Burger", rows[1].Get(ColNamePrimary))
}

func TestRowReader_MissingRequiredColumnIsTerminal(t *testing.T) {
	_, err := NewRowReader(strings.NewReader("category,name\nDrinks,Cola\n"))
	assert.ErrorIs(t, err, ErrNoHeader)
}

func TestRowReader_EmptyInputIsTerminal(t *testing.T) {
	_, err := NewRowReader(strings.NewReader(""))
	assert.ErrorIs(t, err, ErrNoHeader)
}

func TestRowReader_ShortRowReportsMissingColumn(t *testing.T) {
	rr, err := NewRowReader(strings.NewReader("category,name,price\nDrinks,Cola\n"))
	require.NoError(t, err)

	_, err = rr.Next()
	var rowErr RowError
	require.ErrorAs(t, err, &rowErr)
	assert.Equal(t, 2, rowErr.Row)
	assert.Equal(t, ColPrice, rowErr.Field)
}

func TestRowReader_ExcelArtifactsCleaned(t *testing.T) {
	rows := readAllRows(t, "category,name,price\nDrinks,=\"Cola\",5\n")

	require.Len(t, rows, 1)
	assert.Equal(t, "Cola", rows[0].Get(ColNamePrimary))
}

func TestImportReader_SkipsBOMAndSanitizes(t *testing.T) {
	input := string([]byte{0xEF, 0xBB, 0xBF}) + "category,name,price\nDrinks,Col\xffa,5\n"
	rr, err := NewRowReader(newImportReader(strings.NewReader(input), int64(len(input))))
	require.NoError(t, err)

	row, err := rr.Next()
	require.NoError(t, err)
	assert.Equal(t, "Col?a", row.Get(ColNamePrimary))
}
