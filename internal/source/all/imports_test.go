package all

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"conduit/internal/source"
)

func TestAllKindsRegistered(t *testing.T) {
	assert.Equal(t, []string{"csv", "mssql", "mysql", "postgres", "sqlite"}, source.Kinds())
}
