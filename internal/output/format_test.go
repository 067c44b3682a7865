package output_test

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/craftclass/jury/internal/output"
)

type award struct {
	Tier string `json:"tier"`
}

func (a award) WriteText(w io.Writer) error {
	_, err := io.WriteString(w, "Tier: "+a.Tier+"\n")
	return err
}

func TestFormatter_JSON(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	f := output.NewFormatter(output.FormatJSON, &buf)

	require.NoError(t, f.Print(map[string]string{"key": "value"}))

	var result map[string]string
	require.NoError(t, json.Unmarshal(buf.Bytes(), &result))
	assert.Equal(t, "value", result["key"])
	assert.True(t, f.IsJSON())
	assert.Equal(t, output.FormatJSON, f.Format())
	assert.Same(t, &buf, f.Writer())
}

func TestFormatter_Text(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	f := output.NewFormatter(output.FormatText, &buf)

	require.NoError(t, f.Print("hello world"))
	require.NoError(t, f.Print(award{Tier: "Gold"}))
	require.NoError(t, f.Printf("%d works\n", 3))
	require.NoError(t, f.Println("done"))
	assert.Equal(t, "hello world\nTier: Gold\n3 works\ndone\n", buf.String())
	assert.False(t, f.IsJSON())
}

func TestFormatter_Result(t *testing.T) {
	t.Parallel()
	text := func(w io.Writer) error {
		_, err := io.WriteString(w, "Gold\n")
		return err
	}

	var buf bytes.Buffer
	require.NoError(t, output.NewFormatter(output.FormatText, &buf).Result(award{Tier: "Gold"}, text))
	assert.Equal(t, "Gold\n", buf.String())

	buf.Reset()
	require.NoError(t, output.NewFormatter(output.FormatJSON, &buf).Result(award{Tier: "Gold"}, text))
	assert.JSONEq(t, `{"tier":"Gold"}`, buf.String())
}

func TestParseFormat(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want output.Format
	}{
		{"json", output.FormatJSON},
		{" JSON ", output.FormatJSON},
		{"text", output.FormatText},
		{"auto", output.FormatAuto},
		{"yaml", output.FormatAuto},
		{"", output.FormatAuto},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, output.ParseFormat(tt.in), "input %q", tt.in)
	}
}

func TestDetectFormat(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	assert.Equal(t, output.FormatText, output.DetectFormat(&buf, output.FormatText))
	assert.Equal(t, output.FormatJSON, output.DetectFormat(&buf, output.FormatAuto), "non-tty defaults to json")

	f, err := os.CreateTemp(t.TempDir(), "out")
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	assert.Equal(t, output.FormatJSON, output.DetectFormat(f, output.FormatAuto), "regular file is not a tty")
}

func TestTable_Basic(t *testing.T) {
	t.Parallel()
	tbl := output.NewTable("ID", "NAME", "WORKS")
	tbl.AddRow("0", "Spring", "2")
	tbl.AddRow("1", "Autumn Leather", "12")
	tbl.AlignRight(2)

	want := strings.Join([]string{
		"ID  NAME            WORKS",
		"--  --------------  -----",
		"0   Spring              2",
		"1   Autumn Leather     12",
	}, "\n") + "\n"
	assert.Equal(t, want, tbl.String())
	assert.Equal(t, 2, tbl.Len())
}

func TestTable_NoHeaderAndSeparator(t *testing.T) {
	t.Parallel()
	tbl := output.NewTable("A", "B")
	tbl.SetNoHeader(true)
	tbl.SetSeparator(" | ")
	tbl.AddRow("x", "y")
	assert.Equal(t, "x | y\n", tbl.String())
}

func TestTable_Empty(t *testing.T) {
	t.Parallel()
	assert.Empty(t, output.NewTable().String())

	tbl := output.NewTable("ID")
	assert.Equal(t, "ID\n--\n", tbl.String())
}

func TestTable_RaggedAndUnicodeRows(t *testing.T) {
	t.Parallel()
	tbl := output.NewTable("TITLE", "CATEGORY")
	tbl.AddRow("Sgraffito bowl")
	tbl.AddRow("Cuir bouilli étui", "Leather")

	lines := strings.Split(strings.TrimSuffix(tbl.String(), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "Sgraffito bowl", lines[2], "missing cells are blank and trailing space trimmed")
	assert.Equal(t, "Cuir bouilli étui  Leather", lines[3])
}

func TestFormatter_PrintTable(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	tbl := output.NewTable("K")
	tbl.AddRow("v")
	require.NoError(t, output.NewFormatter(output.FormatText, &buf).Print(tbl))
	assert.Equal(t, "K\n-\nv\n", buf.String())
}
