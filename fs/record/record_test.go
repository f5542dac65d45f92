package record

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/attnmt/attnmt/types/errtypes"
)

func TestWriteRecord(t *testing.T) {
	var b bytes.Buffer
	if err := Write(&b, "linenc_001", 3, 2, "lstm:2:1", -1, "rev"); err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff("linenc_001 3 2 lstm:2:1 -1 rev\n", b.String()); diff != "" {
		t.Errorf("record mismatch (-want +got):\n%s", diff)
	}
}

func TestReadRecord(t *testing.T) {
	r := NewReader(strings.NewReader("extatt_002 2 mlp:4 8\nnext line"))

	fields, err := r.Record("extatt_002", "ExternAttentional")
	if err != nil {
		t.Fatal(err)
	}

	f := NewFields("ExternAttentional", fields)
	count, typ, size := f.Int(), f.String(), f.Int()
	if err := f.Err(); err != nil {
		t.Fatal(err)
	}
	if count != 2 || typ != "mlp:4" || size != 8 {
		t.Errorf("got %d %q %d", count, typ, size)
	}
	if got := f.Optional("for"); got != "for" {
		t.Errorf("Optional() = %q, want default", got)
	}

	// the last line has no newline
	line, err := r.Line("trailer")
	if err != nil {
		t.Fatal(err)
	}
	if line != "next line" {
		t.Errorf("Line() = %q", line)
	}

	if _, err := r.Line("more"); !errors.Is(err, errtypes.ErrPrematureEOF) {
		t.Errorf("expected premature EOF, got %v", err)
	}
}

func TestReadRecordErrors(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  error
	}{
		{"wrong tag", "nlm_005 3 0\n", errtypes.ErrVersionMismatch},
		{"empty line", "\n", errtypes.ErrVersionMismatch},
		{"missing", "", errtypes.ErrPrematureEOF},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewReader(strings.NewReader(tt.input)).Record("nlm_006", "NeuralLM")
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestFieldsErrors(t *testing.T) {
	f := NewFields("vocabulary", []string{"x"})
	_ = f.Int()
	if f.Err() == nil {
		t.Fatal("expected parse error")
	}

	f = NewFields("vocabulary", nil)
	_ = f.String()
	if !errors.Is(f.Err(), errtypes.ErrPrematureEOF) {
		t.Errorf("expected premature EOF, got %v", f.Err())
	}
}

func TestFieldsBounds(t *testing.T) {
	cases := []struct {
		field string
		read  func(*Fields) int
		ok    bool
	}{
		{"0", (*Fields).Count, true},
		{"-1", (*Fields).Count, false},
		{"1025", (*Fields).Count, false},
		{"1", (*Fields).Dim, true},
		{"0", (*Fields).Dim, false},
		{"-5", (*Fields).Dim, false},
		{"99999999", (*Fields).Dim, false},
		{"0", (*Fields).Width, true},
		{"-2", (*Fields).Width, false},
	}

	for _, tt := range cases {
		f := NewFields("scorer", []string{tt.field})
		n := tt.read(f)
		if tt.ok {
			if f.Err() != nil {
				t.Errorf("%s: unexpected error %v", tt.field, f.Err())
			}
			continue
		}
		if !errors.Is(f.Err(), errtypes.ErrInvalidSpec) || n != 0 {
			t.Errorf("%s: got %d, %v", tt.field, n, f.Err())
		}
	}
}

func TestBytes(t *testing.T) {
	r := NewReader(strings.NewReader("header\n\x00\x01\x02"))
	if _, err := r.Line("header"); err != nil {
		t.Fatal(err)
	}

	b, err := r.Bytes(3)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]byte{0, 1, 2}, b); diff != "" {
		t.Errorf("bytes mismatch (-want +got):\n%s", diff)
	}

	if _, err := r.Bytes(1); !errors.Is(err, errtypes.ErrPrematureEOF) {
		t.Errorf("expected premature EOF, got %v", err)
	}
}

func TestBytesCorruptLength(t *testing.T) {
	r := NewReader(strings.NewReader("\x00\x01"))
	if _, err := r.Bytes(-5); !errors.Is(err, errtypes.ErrInvalidSpec) {
		t.Errorf("expected invalid spec, got %v", err)
	}
	if _, err := r.Bytes(1 << 30); !errors.Is(err, errtypes.ErrPrematureEOF) {
		t.Errorf("expected premature EOF, got %v", err)
	}
}
