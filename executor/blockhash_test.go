package executor

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestBlockHashCacheWindow(t *testing.T) {
	cache := NewBlockHashCache(map[uint64]common.Hash{
		999:  common.HexToHash("0x0999"),
		800:  common.HexToHash("0x0800"),
		1000: common.HexToHash("0x1000"),
	})

	require.Equal(t, common.HexToHash("0x0999"), cache.GetHash(1000, 999))
	require.Equal(t, common.HexToHash("0x0800"), cache.GetHash(1000, 800))

	// current and future heights are unreachable
	require.Equal(t, common.Hash{}, cache.GetHash(1000, 1000))
	require.Equal(t, common.Hash{}, cache.GetHash(1000, 1001))

	// older than the 256-block window
	require.Equal(t, common.Hash{}, cache.GetHash(1000, 743))
	require.Equal(t, common.HexToHash("0x0800"), cache.GetHash(1056, 800))

	// unknown heights inside the window are the zero hash
	require.Equal(t, common.Hash{}, cache.GetHash(1000, 998))
}

func TestBlockHashCacheNilMap(t *testing.T) {
	cache := NewBlockHashCache(nil)
	require.Equal(t, common.Hash{}, cache.GetHash(10, 5))
}
