package archive

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"libprep/api/internal/grid"
	"libprep/api/internal/sample"
)

type fakePutter struct {
	bucket, key, contentType string
	body                     []byte
	err                      error
}

func (f *fakePutter) PutObject(_ context.Context, bucket, key string, reader *bytes.Reader, _ int64, contentType string) error {
	if f.err != nil {
		return f.err
	}
	f.bucket, f.key, f.contentType = bucket, key, contentType
	f.body, _ = io.ReadAll(reader)
	return nil
}

func TestObjectKey(t *testing.T) {
	at := time.Date(2026, 3, 9, 14, 5, 7, 250_000_000, time.FixedZone("IST", 19800))
	got := ObjectKey("Apollo Chennai", "WES + Mito", at)
	want := "Apollo%20Chennai/WES%20+%20Mito/20260309T083507.250Z.json"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestPutUploadsTaggedSnapshot(t *testing.T) {
	fake := &fakePutter{}
	s := &Store{bucket: "snapshots", client: fake, now: func() time.Time { return time.Unix(0, 0) }}

	snap := grid.Snapshot{Rows: []sample.Row{{sample.SampleID: "S-1"}}}
	key, err := s.Put(context.Background(), "H1", "WES", snap)
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if key != "H1/WES/19700101T000000.000Z.json" || fake.key != key {
		t.Fatalf("unexpected key %q (uploaded %q)", key, fake.key)
	}
	if fake.bucket != "snapshots" || fake.contentType != "application/json" {
		t.Fatalf("unexpected upload target %+v", fake)
	}
	decoded, err := grid.DecodeSnapshot(fake.body)
	if err != nil {
		t.Fatalf("uploaded body does not decode: %v", err)
	}
	if len(decoded.Rows) != 1 || decoded.Rows[0][sample.SampleID] != "S-1" {
		t.Fatalf("unexpected uploaded rows %+v", decoded.Rows)
	}
	if !bytes.Contains(fake.body, []byte(`"format":"v2"`)) {
		t.Fatalf("expected tagged payload, got %s", fake.body)
	}
}

func TestPutReportsUploadFailure(t *testing.T) {
	s := &Store{bucket: "b", client: &fakePutter{err: errors.New("connection refused")}, now: time.Now}
	if _, err := s.Put(context.Background(), "H1", "WES", grid.Snapshot{}); err == nil {
		t.Fatal("expected upload error")
	}
}

func TestDisabledArchive(t *testing.T) {
	s, err := New(context.Background(), Config{Bucket: "b"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if s != nil {
		t.Fatalf("expected nil store without endpoint")
	}
	key, err := s.Put(context.Background(), "H1", "WES", grid.Snapshot{})
	if err != nil || key != "" {
		t.Fatalf("expected no-op put, got %q %v", key, err)
	}
}
