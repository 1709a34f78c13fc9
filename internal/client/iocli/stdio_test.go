package iocli

import (
	"bytes"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Проверяем что NewStdio возвращает валидный объект
func TestNewStdio(t *testing.T) {
	stdio := NewStdio()
	assert.NotNil(t, stdio)
}

func TestPrintlnPrintfWrite(t *testing.T) {
	var out bytes.Buffer
	console := New(strings.NewReader(""), &out)

	console.Println("hello", "world")
	console.Printf("test %d %s\n", 1, "abc")
	n, err := console.Write([]byte("raw"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	assert.Equal(t, "hello world\ntest 1 abc\nraw", out.String())
}

func TestReadInput(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "line", input: "user input\n", want: "user input"},
		{name: "trims spaces", input: "  padded \r\n", want: "padded"},
		{name: "last line without newline", input: "eof line", want: "eof line"},
		{name: "empty input", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			console := New(strings.NewReader(tt.input), &out)

			got, err := console.ReadInput("Prompt: ")
			if tt.wantErr {
				assert.ErrorIs(t, err, io.EOF)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, "Prompt: ", out.String())
		})
	}
}

func TestReadInput_SequentialLines(t *testing.T) {
	console := New(strings.NewReader("first\nsecond\n"), io.Discard)

	first, err := console.ReadInput("")
	require.NoError(t, err)
	second, err := console.ReadInput("")
	require.NoError(t, err)

	assert.Equal(t, "first", first)
	assert.Equal(t, "second", second)
}

// Из pipe пароль читается как обычная строка
func TestReadPassword_FromPipe(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)

	go func() {
		_, _ = w.Write([]byte("secret-token\n"))
		_ = w.Close()
	}()
	defer func() { _ = r.Close() }()

	console := New(r, io.Discard)
	got, err := console.ReadPassword("Token: ")
	require.NoError(t, err)
	assert.Equal(t, "secret-token", got)
}
