package memory_test

import (
	"testing"

	"github.com/warp/stockcount/store/memory"
	"github.com/warp/stockcount/store/storetest"
)

func TestMemoryConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Store {
		return memory.New()
	})
}
