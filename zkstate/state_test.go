package zkstate

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/automata-network/linea-prover/zktrie"
)

var testAddr = common.HexToAddress("0x2000000000000000000000000000000000000022")

// newLiveState builds a state over a fresh, locally maintained trie, the
// configuration the reference vectors run in.
func newLiveState(t *testing.T) (*TrieState, *zktrie.MemStore) {
	t.Helper()
	db := zktrie.NewMemStore()
	trie, err := zktrie.NewEmptyZkTrie(db, zktrie.AccountTriePrefix)
	require.NoError(t, err)
	state, err := NewTrieState(db, trie.TopRootHash())
	require.NoError(t, err)
	return state, db
}

func TestAccountLifecycle(t *testing.T) {
	state, _ := newLiveState(t)

	exists, err := state.Exist(testAddr)
	require.NoError(t, err)
	require.False(t, exists)

	require.NoError(t, state.SetBalance(testAddr, uint256.NewInt(77)))
	require.NoError(t, state.SetNonce(testAddr, 3))

	balance, err := state.GetBalance(testAddr)
	require.NoError(t, err)
	require.Equal(t, uint256.NewInt(77), balance)

	rootBefore := state.StateRoot()
	root, err := state.Flush()
	require.NoError(t, err)
	require.NotEqual(t, rootBefore, root)
	require.Equal(t, root, state.StateRoot())
}

func TestFlushIsStableWithoutChanges(t *testing.T) {
	state, _ := newLiveState(t)
	require.NoError(t, state.SetBalance(testAddr, uint256.NewInt(1)))
	first, err := state.Flush()
	require.NoError(t, err)
	second, err := state.Flush()
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestSetCodeUpdatesBothHashes(t *testing.T) {
	state, db := newLiveState(t)
	code := []byte{0x60, 0x0a}
	db.SetCode(mustKeccak(code), code)

	require.NoError(t, state.SetCode(testAddr, code))
	got, err := state.GetCode(testAddr)
	require.NoError(t, err)
	require.Equal(t, code, got)

	hash, err := state.GetCodeHash(testAddr)
	require.NoError(t, err)
	require.Equal(t, mustKeccak(code), hash)
}

func TestGetCodeEmptyAccount(t *testing.T) {
	state, _ := newLiveState(t)
	code, err := state.GetCode(testAddr)
	require.NoError(t, err)
	require.Nil(t, code)
}

func mustKeccak(data []byte) common.Hash {
	return crypto.Keccak256Hash(data)
}
