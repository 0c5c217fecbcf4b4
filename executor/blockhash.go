package executor

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/automata-network/linea-prover/client"
)

// blockHashWindow is the BLOCKHASH opcode's reachable range.
const blockHashWindow = 256

// BlockHashGetter answers the BLOCKHASH opcode. Targets outside
// [current-256, current) resolve to the zero hash.
type BlockHashGetter interface {
	GetHash(current, target uint64) common.Hash
}

func outsideWindow(current, target uint64) bool {
	return target >= current || current-target > blockHashWindow
}

// BlockHashCache answers from a sealed map, the replay form: a PoB
// carries every hash its block observed.
type BlockHashCache struct {
	hashes map[uint64]common.Hash
}

// NewBlockHashCache wraps a sealed number-to-hash map.
func NewBlockHashCache(hashes map[uint64]common.Hash) *BlockHashCache {
	if hashes == nil {
		hashes = make(map[uint64]common.Hash)
	}
	return &BlockHashCache{hashes: hashes}
}

func (c *BlockHashCache) GetHash(current, target uint64) common.Hash {
	if outsideWindow(current, target) {
		return common.Hash{}
	}
	return c.hashes[target]
}

// BuilderFetcher answers from the remote node during witness
// generation, remembering every height it was asked for so the sealed
// witness can replay them. The cache is bounded to the opcode window
// and guarded because transactions within a block share it.
type BuilderFetcher struct {
	client *client.ExecutionClient

	mu    sync.Mutex
	cache *lru.Cache[uint64, common.Hash]
	seen  map[uint64]common.Hash
}

// NewBuilderFetcher builds the remote-backed getter.
func NewBuilderFetcher(c *client.ExecutionClient) *BuilderFetcher {
	cache, _ := lru.New[uint64, common.Hash](blockHashWindow)
	return &BuilderFetcher{client: c, cache: cache, seen: make(map[uint64]common.Hash)}
}

func (f *BuilderFetcher) GetHash(current, target uint64) common.Hash {
	if outsideWindow(current, target) {
		return common.Hash{}
	}
	f.mu.Lock()
	if hash, ok := f.cache.Get(target); ok {
		f.mu.Unlock()
		return hash
	}
	f.mu.Unlock()

	header, err := f.client.HeaderByNumber(context.Background(), target)
	if err != nil {
		return common.Hash{}
	}
	hash := header.Hash()

	f.mu.Lock()
	f.cache.Add(target, hash)
	f.seen[target] = hash
	f.mu.Unlock()
	return hash
}

// Seen returns every height the block asked for, for sealing into the
// witness.
func (f *BuilderFetcher) Seen() map[uint64]common.Hash {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[uint64]common.Hash, len(f.seen))
	for number, hash := range f.seen {
		out[number] = hash
	}
	return out
}
