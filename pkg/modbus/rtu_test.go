package modbus

import (
	"bytes"
	"errors"
	"testing"

	"github.com/commatea/modbridge/pkg/parser"
)

func TestEncodeRTU(t *testing.T) {
	adu := []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x0A}
	want := []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x0A, 0xC5, 0xCD}

	got, err := EncodeRTU(adu)
	if err != nil {
		t.Fatalf("EncodeRTU() error = %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("EncodeRTU() = % X, want % X", got, want)
	}
}

func TestDecodeRTU(t *testing.T) {
	frame := []byte{0x01, 0x03, 0x02, 0xAB, 0xCD, 0x06, 0xE1}
	want := []byte{0x01, 0x03, 0x02, 0xAB, 0xCD}

	got, err := DecodeRTU(frame)
	if err != nil {
		t.Fatalf("DecodeRTU() error = %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("DecodeRTU() = % X, want % X", got, want)
	}
}

func TestDecodeRTUErrors(t *testing.T) {
	tests := []struct {
		name  string
		frame []byte
		want  error
	}{
		{"Too Short", []byte{0x01, 0x03, 0xC5}, ErrBadForm},
		{"Bad CRC", []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x0A, 0xC5, 0xCE}, ErrBadChecksum},
		{"Swapped CRC Bytes", []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x0A, 0xCD, 0xC5}, ErrBadChecksum},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeRTU(tt.frame); !errors.Is(err, tt.want) {
				t.Errorf("DecodeRTU() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestRTURoundTrip(t *testing.T) {
	adus := [][]byte{
		{0x01, 0x07},
		{0x01, 0x03, 0x00, 0x00, 0x00, 0x0A},
		{0x0B, 0x10, 0x00, 0x01, 0x00, 0x02, 0x04, 0xDE, 0xAD, 0xBE, 0xEF},
	}

	for _, adu := range adus {
		frame, err := EncodeRTU(adu)
		if err != nil {
			t.Fatalf("EncodeRTU(% X) error = %v", adu, err)
		}
		got, err := DecodeRTU(frame)
		if err != nil {
			t.Fatalf("DecodeRTU(% X) error = %v", frame, err)
		}
		if !bytes.Equal(got, adu) {
			t.Errorf("round trip = % X, want % X", got, adu)
		}
	}
}

func TestRTURequestLength(t *testing.T) {
	tests := []struct {
		name       string
		buf        []byte
		want       int
		incomplete bool
	}{
		{
			name: "Read Holding Registers",
			buf:  []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x0A},
			want: 6,
		},
		{
			name: "Write Single Register",
			buf:  []byte{0x01, 0x06, 0x00, 0x01, 0x00, 0xFF},
			want: 6,
		},
		{
			name: "Read Exception Status",
			buf:  []byte{0x01, 0x07},
			want: 2,
		},
		{
			name: "Report Server ID",
			buf:  []byte{0x01, 0x11},
			want: 2,
		},
		{
			name: "Write Multiple Registers",
			buf:  []byte{0x01, 0x10, 0x00, 0x01, 0x00, 0x01, 0x02, 0xBE, 0xEF},
			want: 9, // 7 + byte count 2
		},
		{
			name:       "Write Multiple Before Byte Count",
			buf:        []byte{0x01, 0x10, 0x00, 0x01, 0x00, 0x01},
			incomplete: true,
		},
		{
			name:       "Function Code Not Yet Received",
			buf:        []byte{0x01},
			incomplete: true,
		},
		{
			name: "Unknown Function Code",
			buf:  []byte{0x01, 0x2B, 0x0E, 0x01, 0x00, 0xAA, 0xBB},
			want: 5, // rest of the buffer minus the CRC trailer
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := rtuRequestLength(tt.buf)
			if tt.incomplete {
				if !errors.Is(err, parser.ErrIncompletePacket) {
					t.Fatalf("rtuRequestLength() error = %v, want ErrIncompletePacket", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("rtuRequestLength() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("rtuRequestLength() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRTUResponseLength(t *testing.T) {
	tests := []struct {
		name       string
		buf        []byte
		want       int
		incomplete bool
	}{
		{
			name: "Exception Response",
			buf:  []byte{0x01, 0x83, 0x0B},
			want: 3,
		},
		{
			name: "Read Response",
			buf:  []byte{0x01, 0x03, 0x04, 0x00, 0x01, 0x00, 0x02},
			want: 7, // 3 + byte count 4
		},
		{
			name: "Write Single Coil Echo",
			buf:  []byte{0x01, 0x05, 0x00, 0x01, 0xFF, 0x00},
			want: 6,
		},
		{
			name: "Write Multiple Registers Echo",
			buf:  []byte{0x01, 0x10, 0x00, 0x01, 0x00, 0x02},
			want: 6,
		},
		{
			name:       "Read Response Before Byte Count",
			buf:        []byte{0x01, 0x03},
			incomplete: true,
		},
		{
			name:       "Unit ID Only",
			buf:        []byte{0x01},
			incomplete: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := rtuResponseLength(tt.buf)
			if tt.incomplete {
				if !errors.Is(err, parser.ErrIncompletePacket) {
					t.Fatalf("rtuResponseLength() error = %v, want ErrIncompletePacket", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("rtuResponseLength() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("rtuResponseLength() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRTUParser(t *testing.T) {
	request := []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x0A, 0xC5, 0xCD}

	t.Run("Two Concatenated Requests", func(t *testing.T) {
		buf := parser.NewBuffer(4096, &RTUParser{IsRequest: true})
		if err := buf.Write(append(append([]byte{}, request...), request...)); err != nil {
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
			if !bytes.Equal(f, request) {
				t.Errorf("frame = % X, want % X", f, request)
			}
		}
	})

	t.Run("Partial Request Held Back", func(t *testing.T) {
		buf := parser.NewBuffer(4096, &RTUParser{IsRequest: true})
		if err := buf.Write(request[:5]); err != nil {
			t.Fatal(err)
		}
		frames, err := buf.ParseAll()
		if err != nil {
			t.Fatalf("ParseAll() error = %v", err)
		}
		if len(frames) != 0 {
			t.Fatalf("got %d frames from a partial buffer, want 0", len(frames))
		}

		// The rest arrives and the frame completes.
		if err := buf.Write(request[5:]); err != nil {
			t.Fatal(err)
		}
		frames, err = buf.ParseAll()
		if err != nil {
			t.Fatalf("ParseAll() error = %v", err)
		}
		if len(frames) != 1 || !bytes.Equal(frames[0], request) {
			t.Fatalf("frames = % X, want the completed request", frames)
		}
	})

	t.Run("Response Framing", func(t *testing.T) {
		response := []byte{0x01, 0x03, 0x02, 0xAB, 0xCD, 0x06, 0xE1}
		buf := parser.NewBuffer(4096, &RTUParser{IsRequest: false})
		if err := buf.Write(response); err != nil {
			t.Fatal(err)
		}
		frames, err := buf.ParseAll()
		if err != nil {
			t.Fatalf("ParseAll() error = %v", err)
		}
		if len(frames) != 1 || !bytes.Equal(frames[0], response) {
			t.Fatalf("frames = % X, want the response frame", frames)
		}
	})

	t.Run("Unknown Function Consumes Buffer", func(t *testing.T) {
		odd := []byte{0x01, 0x2B, 0x0E, 0x01, 0xAA, 0xBB}
		buf := parser.NewBuffer(4096, &RTUParser{IsRequest: true})
		if err := buf.Write(odd); err != nil {
			t.Fatal(err)
		}
		frames, err := buf.ParseAll()
		if err != nil {
			t.Fatalf("ParseAll() error = %v", err)
		}
		if len(frames) != 1 || !bytes.Equal(frames[0], odd) {
			t.Fatalf("frames = % X, want the whole buffer as one frame", frames)
		}
	})
}
