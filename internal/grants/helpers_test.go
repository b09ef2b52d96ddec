package grants

import (
	"testing"

	"github.com/google/uuid"
)

func newGrantID(t *testing.T) uuid.UUID {
	t.Helper()
	id, err := uuid.NewRandom()
	if err != nil {
		t.Fatalf("uuid: %v", err)
	}
	return id
}
