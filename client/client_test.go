package client

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeProofSkipsMalformed(t *testing.T) {
	nodes := decodeProof([]string{"0x0102", "not-hex", "0xff"})
	require.Equal(t, [][]byte{{0x01, 0x02}, {0xff}}, nodes)
}

type revertError struct{}

func (revertError) Error() string          { return "execution reverted: bad batch" }
func (revertError) ErrorData() interface{} { return "0x08c379a0" }

func TestIsRevert(t *testing.T) {
	require.True(t, isRevert(revertError{}))
	require.True(t, isRevert(errors.New("execution reverted")))
	require.False(t, isRevert(errors.New("connection refused")))
	require.False(t, isRevert(nil))
}
