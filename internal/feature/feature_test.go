package feature

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/onnwee/tripfeed/internal/vector"
)

func usableVec(seed float32) []float32 {
	v := vector.Zero()
	for i := range v {
		v[i] = seed + float32(i%5)
	}
	return v
}

func TestInMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	s.Put("good", usableVec(1))
	s.Put("zero", vector.Zero())
	s.Put("short", []float32{1, 2, 3})
	nan := usableVec(1)
	nan[7] = float32(math.NaN())
	s.Put("nan", nan)

	tests := []struct {
		name    string
		id      string
		wantErr error
	}{
		{"usable", "good", nil},
		{"missing", "nope", ErrNotFound},
		{"all zero", "zero", ErrFeatureUnavailable},
		{"wrong dimension", "short", ErrFeatureUnavailable},
		{"non-finite", "nan", ErrFeatureUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cv, err := s.Get(ctx, tt.id)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Get(%q) error = %v, want %v", tt.id, err, tt.wantErr)
			}
			if tt.wantErr == nil && len(cv.Vector) != vector.Dim {
				t.Errorf("len = %d, want %d", len(cv.Vector), vector.Dim)
			}
		})
	}

	many, err := s.GetMany(ctx, []string{"good", "zero", "short", "nan", "nope"})
	if err != nil {
		t.Fatalf("GetMany() error = %v", err)
	}
	if len(many) != 1 {
		t.Errorf("GetMany() returned %d vectors, want 1", len(many))
	}
	if _, ok := many["good"]; !ok {
		t.Error("GetMany() missing usable vector")
	}

	cv, _ := s.Get(ctx, "good")
	cv.Vector[0] = 42
	again, _ := s.Get(ctx, "good")
	if again.Vector[0] == 42 {
		t.Error("Get should return a copy")
	}

	if got := len(s.Snapshot()); got != 1 {
		t.Errorf("Snapshot() len = %d, want 1", got)
	}
}

func testEncoding(t *testing.T) *CategoryEncoding {
	t.Helper()
	enc, err := NewCategoryEncoding([]*Codebook{
		{Level: 1, Codes: []string{"EX", "FD", "NA"}, Unknown: 39},
		{Level: 2, Codes: []string{"NA04", "FD01"}, Unknown: NoUnknownRow},
		{Level: 3, Codes: []string{"NA040100", "NA040200", "FD010100"}, Unknown: 29},
	}, map[string]string{"NA040100": "수목원", "FD010100": "한식"})
	if err != nil {
		t.Fatalf("NewCategoryEncoding() error = %v", err)
	}
	return enc
}

func TestCategoryEncoding_Encode(t *testing.T) {
	enc := testEncoding(t)

	seg := enc.Encode("NA", "NA04", "NA040100")
	if len(seg) != vector.CategoryDim {
		t.Fatalf("len = %d, want %d", len(seg), vector.CategoryDim)
	}
	want := map[int]bool{2: true, 40 + 0: true, 70 + 0: true}
	for i, x := range seg {
		if want[i] && x != 1 {
			t.Errorf("seg[%d] = %f, want 1", i, x)
		}
		if !want[i] && x != 0 {
			t.Errorf("seg[%d] = %f, want 0", i, x)
		}
	}

	unknown := enc.Encode("ZZ", "ZZ01", "")
	if unknown[39] != 1 {
		t.Error("unknown level-1 code should set the unknown row")
	}
	for i := 40; i < 70; i++ {
		if unknown[i] != 0 {
			t.Fatalf("level 2 without unknown row should stay zero, got seg[%d]=%f", i, unknown[i])
		}
	}
}

func TestCategoryEncoding_LabelAndName(t *testing.T) {
	enc := testEncoding(t)

	if code, ok := enc.Label(3, 2); !ok || code != "FD010100" {
		t.Errorf("Label(3,2) = %q,%v", code, ok)
	}
	if _, ok := enc.Label(3, 29); ok {
		t.Error("unknown row should not decode")
	}
	if _, ok := enc.Label(4, 0); ok {
		t.Error("level 4 should not decode")
	}
	if got := enc.Name("NA040100"); got != "수목원" {
		t.Errorf("Name() = %q", got)
	}
	if got := enc.Name("NA040200"); got != "NA040200" {
		t.Errorf("Name() fallback = %q", got)
	}
}

func TestNewCategoryEncoding_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		levels []*Codebook
		want   error
	}{
		{"bad level", []*Codebook{{Level: 4, Unknown: NoUnknownRow}}, ErrUnknownLevel},
		{"too many codes", []*Codebook{{Level: 2, Codes: make([]string, 31), Unknown: NoUnknownRow}}, ErrInvalidEncoding},
		{"unknown out of range", []*Codebook{{Level: 1, Unknown: 40}}, ErrInvalidEncoding},
		{"duplicate level", []*Codebook{{Level: 1, Unknown: NoUnknownRow}, {Level: 1, Unknown: NoUnknownRow}}, ErrInvalidEncoding},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewCategoryEncoding(tt.levels, nil); !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

type fakeObjectGetter struct {
	data []byte
	err  error
}

func (f *fakeObjectGetter) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(f.data))}, nil
}

func TestLoadEncoding(t *testing.T) {
	enc := testEncoding(t)
	data, err := enc.MarshalArtifact()
	if err != nil {
		t.Fatalf("MarshalArtifact() error = %v", err)
	}
	ctx := context.Background()

	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "encoding.cbor")
		if err := os.WriteFile(path, data, 0o600); err != nil {
			t.Fatal(err)
		}
		got, err := LoadEncoding(ctx, Source{Path: path})
		if err != nil {
			t.Fatalf("LoadEncoding() error = %v", err)
		}
		if code, ok := got.Label(1, 1); !ok || code != "FD" {
			t.Errorf("Label(1,1) = %q,%v after load", code, ok)
		}
	})

	t.Run("object store", func(t *testing.T) {
		got, err := LoadEncoding(ctx, Source{
			Bucket: "artifacts",
			Key:    "encoding.cbor",
			Client: &fakeObjectGetter{data: data},
		})
		if err != nil {
			t.Fatalf("LoadEncoding() error = %v", err)
		}
		if got.Name("FD010100") != "한식" {
			t.Error("names not preserved")
		}
	})

	t.Run("object store error", func(t *testing.T) {
		_, err := LoadEncoding(ctx, Source{
			Bucket: "artifacts",
			Key:    "encoding.cbor",
			Client: &fakeObjectGetter{err: errors.New("boom")},
		})
		if err == nil {
			t.Error("expected error")
		}
	})

	t.Run("garbage", func(t *testing.T) {
		if _, err := DecodeEncoding([]byte{0xff, 0x00}); !errors.Is(err, ErrInvalidEncoding) {
			t.Errorf("error = %v, want ErrInvalidEncoding", err)
		}
	})

	t.Run("no source", func(t *testing.T) {
		if _, err := LoadEncoding(ctx, Source{}); err == nil {
			t.Error("expected error for empty source")
		}
	})
}
