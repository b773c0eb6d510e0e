package blob

import (
	"context"
	"testing"

	"verhist/internal/config"
)

func TestNewBlobStoreFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.StorageConfig
		wantErr bool
	}{
		{
			name: "memory",
			cfg:  config.StorageConfig{Type: "memory"},
		},
		{
			name: "memory with zstd",
			cfg:  config.StorageConfig{Type: "memory", Compression: "zstd"},
		},
		{
			name: "filesystem",
			cfg:  config.StorageConfig{Type: "filesystem", FSRoot: t.TempDir()},
		},
		{
			name:    "filesystem without root",
			cfg:     config.StorageConfig{Type: "filesystem"},
			wantErr: true,
		},
		{
			name:    "s3 without bucket",
			cfg:     config.StorageConfig{Type: "s3"},
			wantErr: true,
		},
		{
			name:    "unknown compression",
			cfg:     config.StorageConfig{Type: "memory", Compression: "gzip"},
			wantErr: true,
		},
		{
			name:    "unknown type",
			cfg:     config.StorageConfig{Type: "tape"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewBlobStoreFromConfig(context.Background(), tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewBlobStoreFromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got == nil {
				t.Error("NewBlobStoreFromConfig() returned nil store")
			}
		})
	}
}
