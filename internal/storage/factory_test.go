package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cipherdrop/cipherdrop/pkg/config"
)

func TestStorageFactory_CreateStorage(t *testing.T) {
	tests := []struct {
		name        string
		storageType string
		shouldError bool
	}{
		{"local storage", "local", false},
		{"s3 storage not implemented", "s3", true},
		{"unknown type", "tape", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			factory := NewStorageFactory(&config.StorageConfig{
				Type:      tt.storageType,
				LocalPath: t.TempDir(),
			})

			store, err := factory.CreateStorage()
			if tt.shouldError {
				assert.Error(t, err)
				assert.Nil(t, store)
			} else {
				require.NoError(t, err)
				assert.NotNil(t, store)
			}
		})
	}
}
