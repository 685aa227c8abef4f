package blob

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// MemoryStore is an in-memory PayloadStore for tests and local runs.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects: make(map[string][]byte),
	}
}

func objectKey(container, location string) string {
	return container + "/" + location
}

func (m *MemoryStore) Put(_ context.Context, container, location string, body io.Reader, _ string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[objectKey(container, location)] = data
	return nil
}

func (m *MemoryStore) Get(_ context.Context, container, location string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.objects[objectKey(container, location)]
	if !ok {
		return nil, fmt.Errorf("object %s/%s not found", container, location)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (m *MemoryStore) Presign(_ context.Context, container, location string, ttl time.Duration) (string, error) {
	return fmt.Sprintf("memory://%s/%s?expires=%d", container, location, int64(ttl.Seconds())), nil
}

// Exists reports whether an object has been stored. Test helper.
func (m *MemoryStore) Exists(container, location string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[objectKey(container, location)]
	return ok
}
