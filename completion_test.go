package aio

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompletionKind(t *testing.T) {
	c := &Completion{op: Operation{Kind: KindRead}}
	require.Equal(t, KindRead, c.Kind())
}

func TestKindStringCoversEveryTag(t *testing.T) {
	kinds := []Kind{
		KindAccept, KindCancel, KindCancelTimeout, KindClose, KindConnect,
		KindFsync, KindLinkTimeout, KindOpenAt, KindRead, KindRecv,
		KindRecvMsg, KindSend, KindSendMsg, KindTimeout, KindWrite,
	}
	seen := make(map[string]bool)
	for _, k := range kinds {
		s := k.String()
		require.NotEqual(t, "unknown", s)
		require.False(t, seen[s], "duplicate Kind.String() value %q", s)
		seen[s] = true
	}
	require.Equal(t, "unknown", Kind(-1).String())
}
