package tokenizer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTokenizeRoundTrip(t *testing.T) {
	tok := New()
	ids := tok.Tokenize("hello")
	require.Equal(t, BOS, ids[0])
	require.Equal(t, "hello", tok.Decode(ids))
}

func TestDecodeDropsControlIDs(t *testing.T) {
	tok := New()
	require.Equal(t, "ab", tok.Decode([]int{BOS, 'a', 'b', EOS}))
}

func TestDecodePieceUnknown(t *testing.T) {
	tok := New()
	require.Equal(t, "<unk>", tok.DecodePiece(UNK))
	require.Equal(t, "", tok.DecodePiece(BOS))
}

func TestIsEOS(t *testing.T) {
	tok := New()
	require.True(t, tok.IsEOS(EOS))
	require.False(t, tok.IsEOS(65))
}

func TestVocabSize(t *testing.T) {
	tok := New()
	require.Equal(t, 260, tok.VocabSize())
}
