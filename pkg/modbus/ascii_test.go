package modbus

import (
	"bytes"
	"errors"
	"testing"

	"github.com/commatea/modbridge/pkg/parser"
)

func TestEncodeASCII(t *testing.T) {
	tests := []struct {
		name string
		adu  []byte
		want string
	}{
		{
			name: "Read Holding Registers Request",
			adu:  []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x0A},
			want: ":01030000000AF2\r\n",
		},
		{
			name: "Read Response",
			adu:  []byte{0x01, 0x03, 0x02, 0xAB, 0xCD},
			want: ":010302ABCD82\r\n",
		},
		{
			name: "Report Server ID Request",
			adu:  []byte{0x11, 0x11},
			want: ":1111DE\r\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeASCII(tt.adu)
			if err != nil {
				t.Fatalf("EncodeASCII() error = %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("EncodeASCII() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEncodeASCIIShortADU(t *testing.T) {
	if _, err := EncodeASCII([]byte{0x01}); !errors.Is(err, ErrBadForm) {
		t.Errorf("EncodeASCII() error = %v, want ErrBadForm", err)
	}
}

func TestDecodeASCII(t *testing.T) {
	want := []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x0A}

	// The terminator may already have been stripped by the framer, fully
	// or partially.
	tests := []struct {
		name  string
		frame string
	}{
		{"CRLF", ":01030000000AF2\r\n"},
		{"CR Only", ":01030000000AF2\r"},
		{"LF Only", ":01030000000AF2\n"},
		{"No Terminator", ":01030000000AF2"},
		{"Lower Case Hex", ":01030000000af2\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeASCII([]byte(tt.frame))
			if err != nil {
				t.Fatalf("DecodeASCII() error = %v", err)
			}
			if !bytes.Equal(got, want) {
				t.Errorf("DecodeASCII() = % X, want % X", got, want)
			}
		})
	}
}

func TestDecodeASCIIErrors(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		want  error
	}{
		{"Empty", "", ErrBadForm},
		{"Missing Colon", "01030000000AF2\r\n", ErrBadForm},
		{"Odd Digit Count", ":01030000000AF\r\n", ErrBadForm},
		{"Invalid Hex", ":01030000000AGZ\r\n", ErrBadForm},
		{"Too Short", ":0103\r\n", ErrBadForm},
		{"Bad LRC", ":01030000000AF3\r\n", ErrBadChecksum},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeASCII([]byte(tt.frame))
			if !errors.Is(err, tt.want) {
				t.Errorf("DecodeASCII() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestASCIIRoundTrip(t *testing.T) {
	adus := [][]byte{
		{0x01, 0x03},
		{0x01, 0x03, 0x00, 0x00, 0x00, 0x0A},
		{0xFF, 0x10, 0x00, 0x01, 0x00, 0x01, 0x02, 0xBE, 0xEF},
	}

	for _, adu := range adus {
		frame, err := EncodeASCII(adu)
		if err != nil {
			t.Fatalf("EncodeASCII(% X) error = %v", adu, err)
		}
		got, err := DecodeASCII(frame)
		if err != nil {
			t.Fatalf("DecodeASCII(%q) error = %v", frame, err)
		}
		if !bytes.Equal(got, adu) {
			t.Errorf("round trip = % X, want % X", got, adu)
		}
	}
}

func TestASCIIParser(t *testing.T) {
	complete := ":01030000000AF2\r\n"

	t.Run("Two Complete Frames", func(t *testing.T) {
		buf := parser.NewBuffer(4096, &ASCIIParser{})
		if err := buf.Write([]byte(complete + complete)); err != nil {
			t.Fatal(err)
		}
		frames, err := buf.ParseAll()
		if err != nil {
			t.Fatalf("ParseAll() error = %v", err)
		}
		if len(frames) != 2 {
			t.Fatalf("got %d frames, want 2", len(frames))
		}
		for _, f := range frames {
			if string(f) != complete {
				t.Errorf("frame = %q, want %q", f, complete)
			}
		}
		if buf.Len() != 0 {
			t.Errorf("remainder = %q, want empty", buf.Bytes())
		}
	})

	t.Run("Trailing Partial Frame", func(t *testing.T) {
		partial := ":01030000000AF2"
		buf := parser.NewBuffer(4096, &ASCIIParser{})
		if err := buf.Write([]byte(complete + partial)); err != nil {
			t.Fatal(err)
		}
		frames, err := buf.ParseAll()
		if err != nil {
			t.Fatalf("ParseAll() error = %v", err)
		}
		if len(frames) != 1 {
			t.Fatalf("got %d frames, want 1", len(frames))
		}
		if string(buf.Bytes()) != partial {
			t.Errorf("remainder = %q, want %q", buf.Bytes(), partial)
		}
	})

	t.Run("Garbage Before Start", func(t *testing.T) {
		buf := parser.NewBuffer(4096, &ASCIIParser{})
		if err := buf.Write(append([]byte{0x00, 0xFF, 'x'}, complete...)); err != nil {
			t.Fatal(err)
		}
		frames, err := buf.ParseAll()
		if err != nil {
			t.Fatalf("ParseAll() error = %v", err)
		}
		if len(frames) != 1 || string(frames[0]) != complete {
			t.Fatalf("frames = %q, want one clean frame", frames)
		}
	})

	t.Run("No Start Marker", func(t *testing.T) {
		buf := parser.NewBuffer(4096, &ASCIIParser{})
		if err := buf.Write([]byte("noise without colon\r\n")); err != nil {
			t.Fatal(err)
		}
		frames, err := buf.ParseAll()
		if err != nil {
			t.Fatalf("ParseAll() error = %v", err)
		}
		if len(frames) != 0 {
			t.Fatalf("got %d frames, want 0", len(frames))
		}
		if buf.Len() != 0 {
			t.Errorf("remainder = %q, want discarded", buf.Bytes())
		}
	})
}
