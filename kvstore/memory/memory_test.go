package memory

import (
	"testing"

	"github.com/kvgraph/metad/kvstore"
	"github.com/kvgraph/metad/kvstore/kvstoretest"
)

func TestMemoryEngine(t *testing.T) {
	kvstoretest.RunEngineTests(t, func(t *testing.T) kvstore.Engine {
		return New()
	})
}
