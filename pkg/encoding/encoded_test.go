package encoding

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/ZentaChain/obvengine/pkg/obverr"
)

func sampleValues() map[string]Encoded {
	return map[string]Encoded{
		"empty bytes":  EncodeBytes(nil),
		"bytes":        EncodeBytes([]byte("hello")),
		"string":       EncodeString("https://server.olvid.io"),
		"zero int":     EncodeInt(0),
		"negative int": EncodeInt(-42),
		"max int":      EncodeInt(math.MaxInt64),
		"min int":      EncodeInt(math.MinInt64),
		"true":         EncodeBool(true),
		"false":        EncodeBool(false),
		"empty list":   EncodeList(),
		"chunk list":   EncodeList(EncodeInt(3), EncodeBytes([]byte("hello"))),
		"nested list": EncodeList(
			EncodeList(EncodeInt(1), EncodeList()),
			EncodeBytes([]byte{0xff, 0x00}),
			EncodeBool(true),
		),
		"dictionary": EncodeDictionary(map[string]Encoded{
			"first_name": EncodeString("Alice"),
			"position":   EncodeInt(7),
		}),
		"symmetric key": EncodeTagged(ByteIDSymmetricKey, bytes.Repeat([]byte{0x11}, 33)),
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	for name, value := range sampleValues() {
		t.Run(name, func(t *testing.T) {
			decoded, err := Decode(value.Raw())
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if !decoded.Equal(value) {
				t.Errorf("Decode() = %x, want %x", decoded.Raw(), value.Raw())
			}
			if decoded.ByteID() != value.ByteID() {
				t.Errorf("ByteID() = %s, want %s", decoded.ByteID(), value.ByteID())
			}
		})
	}
}

func TestDecodeTruncatedAtEverySplitPoint(t *testing.T) {
	for name, value := range sampleValues() {
		t.Run(name, func(t *testing.T) {
			raw := value.Raw()
			for cut := 0; cut < len(raw); cut++ {
				if _, err := Decode(raw[:cut]); err == nil {
					t.Fatalf("Decode(raw[:%d]) succeeded on a truncated buffer", cut)
				} else if !obverr.Is(err, obverr.KindMalformed) {
					t.Fatalf("Decode(raw[:%d]) error kind = %v, want malformed", cut, obverr.KindOf(err))
				}
			}
		})
	}
}

func TestDecodeRejectsTrailingBytes(t *testing.T) {
	raw := append(EncodeInt(5).Raw(), 0x00)
	_, err := Decode(raw)
	if !errors.Is(err, ErrTrailing) {
		t.Errorf("Decode() error = %v, want %v", err, ErrTrailing)
	}
}

func TestDecodeRejectsUnknownTag(t *testing.T) {
	raw := []byte{0x7f, 0, 0, 0, 1, 0xaa}
	_, err := Decode(raw)
	if !errors.Is(err, ErrUnknownTag) {
		t.Errorf("Decode() error = %v, want %v", err, ErrUnknownTag)
	}
}

func TestDecodeRejectsOversizedLength(t *testing.T) {
	// Declares 4 GiB of payload while carrying 2 bytes
	raw := []byte{byte(ByteIDBytes), 0xff, 0xff, 0xff, 0xff, 0x01, 0x02}
	_, err := Decode(raw)
	if !errors.Is(err, ErrTruncated) {
		t.Errorf("Decode() error = %v, want %v", err, ErrTruncated)
	}
}

func TestDecodeRejectsBadScalarPayloads(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
	}{
		{"short int", []byte{byte(ByteIDInt), 0, 0, 0, 4, 0, 0, 0, 1}},
		{"bool of two bytes", []byte{byte(ByteIDBool), 0, 0, 0, 2, 0, 1}},
		{"bool of value 2", []byte{byte(ByteIDBool), 0, 0, 0, 1, 2}},
		{"list with truncated child", []byte{byte(ByteIDList), 0, 0, 0, 3, byte(ByteIDBytes), 0, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(tt.raw); err == nil {
				t.Errorf("Decode(%x) succeeded, want error", tt.raw)
			}
		})
	}
}

func TestDecodeRejectsDeepNesting(t *testing.T) {
	value := EncodeInt(1)
	for i := 0; i < maxDepth+2; i++ {
		value = EncodeList(value)
	}
	if _, err := Decode(value.Raw()); !errors.Is(err, ErrTooDeep) {
		t.Errorf("Decode() error = %v, want %v", err, ErrTooDeep)
	}
}

func TestScalarDecoders(t *testing.T) {
	b, err := EncodeBytes([]byte("payload")).DecodeBytes()
	if err != nil || string(b) != "payload" {
		t.Errorf("DecodeBytes() = %q, %v", b, err)
	}

	s, err := EncodeString("Olvid").DecodeString()
	if err != nil || s != "Olvid" {
		t.Errorf("DecodeString() = %q, %v", s, err)
	}

	for _, v := range []int64{0, 1, -1, 1 << 40, math.MinInt64, math.MaxInt64} {
		got, err := EncodeInt(v).DecodeInt()
		if err != nil || got != v {
			t.Errorf("DecodeInt(%d) = %d, %v", v, got, err)
		}
	}

	ok, err := EncodeBool(true).DecodeBool()
	if err != nil || !ok {
		t.Errorf("DecodeBool() = %v, %v", ok, err)
	}
}

func TestDecodeWrongType(t *testing.T) {
	if _, err := EncodeInt(1).DecodeBytes(); !errors.Is(err, ErrWrongType) {
		t.Errorf("DecodeBytes() on int error = %v, want %v", err, ErrWrongType)
	}
	if _, err := EncodeBytes(nil).DecodeList(); !errors.Is(err, ErrWrongType) {
		t.Errorf("DecodeList() on bytes error = %v, want %v", err, ErrWrongType)
	}
	if _, err := (Encoded{}).DecodeInt(); err == nil {
		t.Error("DecodeInt() on zero value should fail")
	}
}

func TestDecodeIntInRange(t *testing.T) {
	if _, err := EncodeInt(-1).DecodeNonNegativeInt(); err == nil {
		t.Error("DecodeNonNegativeInt(-1) should fail")
	}
	if v, err := EncodeInt(12).DecodeIntInRange(0, 12); err != nil || v != 12 {
		t.Errorf("DecodeIntInRange() = %d, %v", v, err)
	}
}

func TestDecodeListOfArity(t *testing.T) {
	list := EncodeList(EncodeInt(3), EncodeBytes([]byte("hello")))

	items, err := list.DecodeListOf(2)
	if err != nil {
		t.Fatalf("DecodeListOf(2) error = %v", err)
	}
	index, _ := items[0].DecodeInt()
	data, _ := items[1].DecodeBytes()
	if index != 3 || string(data) != "hello" {
		t.Errorf("items = (%d, %q), want (3, hello)", index, data)
	}

	for _, n := range []int{0, 1, 3} {
		if _, err := list.DecodeListOf(n); !errors.Is(err, ErrArity) {
			t.Errorf("DecodeListOf(%d) error = %v, want %v", n, err, ErrArity)
		}
	}
}

func TestEncodedIsImmutable(t *testing.T) {
	value := EncodeBytes([]byte("abc"))
	raw := value.Raw()
	raw[HeaderLength] = 'z'

	got, _ := value.DecodeBytes()
	if string(got) != "abc" {
		t.Errorf("mutating Raw() leaked into the value: %q", got)
	}

	got[0] = 'y'
	again, _ := value.DecodeBytes()
	if string(again) != "abc" {
		t.Errorf("mutating DecodeBytes() leaked into the value: %q", again)
	}
}

func TestDictionary(t *testing.T) {
	a := EncodeDictionary(map[string]Encoded{
		"b": EncodeInt(2),
		"a": EncodeInt(1),
	})
	b := EncodeDictionary(map[string]Encoded{
		"a": EncodeInt(1),
		"b": EncodeInt(2),
	})
	if !a.Equal(b) {
		t.Error("equal dictionaries should have equal encodings")
	}

	dict, err := a.DecodeDictionary()
	if err != nil {
		t.Fatalf("DecodeDictionary() error = %v", err)
	}
	if v, _ := dict["b"].DecodeInt(); v != 2 {
		t.Errorf("dict[b] = %d, want 2", v)
	}

	dup := newEncoded(ByteIDDictionary, append(
		EncodeList(EncodeString("k"), EncodeInt(1)).Raw(),
		EncodeList(EncodeString("k"), EncodeInt(2)).Raw()...,
	))
	if _, err := dup.DecodeDictionary(); err == nil {
		t.Error("DecodeDictionary() should reject duplicate keys")
	}
}

func BenchmarkDecodeList(b *testing.B) {
	items := make([]Encoded, 64)
	for i := range items {
		items[i] = EncodeBytes(bytes.Repeat([]byte{byte(i)}, 256))
	}
	raw := EncodeList(items...).Raw()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		v, _ := Decode(raw)
		v.DecodeList()
	}
}

func TestDecodePadded(t *testing.T) {
	value := EncodeList(EncodeInt(9), EncodeString("padded"))
	padded := append(value.Raw(), make([]byte, 40)...)

	decoded, err := DecodePadded(padded)
	if err != nil {
		t.Fatalf("DecodePadded() error = %v", err)
	}
	if !decoded.Equal(value) {
		t.Error("DecodePadded() returned a different value")
	}

	padded[len(padded)-1] = 0x01
	if _, err := DecodePadded(padded); err == nil {
		t.Error("DecodePadded() should reject non-zero padding")
	}
}
