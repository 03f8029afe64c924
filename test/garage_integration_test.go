package test

import (
	"bytes"
	"context"
	"testing"

	"github.com/cadellanderson/omnicore/internal/container"
)

// TestContainer_Garage_WriteReadRoundTrip creates a container on a local
// Garage S3-compatible server, writes and reads a few files, and confirms
// the bytes survive the encrypt/compress/store round trip.
func TestContainer_Garage_WriteReadRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	garageServer := StartGarageServer(t)
	if garageServer == nil {
		t.Skip("Garage server not available")
	}
	defer garageServer.Stop()

	backend, err := container.NewS3Backend(context.Background(), garageServer.BackendConfig("test.occ"))
	if err != nil {
		t.Fatalf("failed to create S3 backend: %v", err)
	}

	c, err := container.Create(backend, "test-encryption-password-123456")
	if err != nil {
		t.Fatalf("failed to create container: %v", err)
	}
	defer c.Close()

	tests := []struct {
		name  string
		vpath string
		data  []byte
	}{
		{"small file", "notes/one.txt", []byte("test data")},
		{"larger file", "notes/two.txt", bytes.Repeat([]byte("a"), 10240)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := c.WriteFile(tt.vpath, tt.data); err != nil {
				t.Fatalf("WriteFile failed: %v", err)
			}

			got, err := c.ReadFile(tt.vpath)
			if err != nil {
				t.Fatalf("ReadFile failed: %v", err)
			}
			if !bytes.Equal(got, tt.data) {
				t.Errorf("data mismatch: expected %d bytes, got %d bytes", len(tt.data), len(got))
			}
		})
	}
}
