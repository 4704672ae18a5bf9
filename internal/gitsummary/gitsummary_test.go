package gitsummary

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseV2(t *testing.T) {
	out := "# branch.oid abc123\n" +
		"# branch.head main\n" +
		"# branch.upstream origin/main\n" +
		"# branch.ab +2 -1\n" +
		"1 .M N... 100644 100644 100644 abc def internal/foo.go\n" +
		"? notes.txt\n"

	s := parseV2(out)
	require.Equal(t, "main", s.Branch)
	require.True(t, s.Dirty)
	require.Equal(t, 2, s.Ahead)
	require.Equal(t, 1, s.Behind)
}

func TestParseV2_CleanDetached(t *testing.T) {
	out := "# branch.oid abc123\n# branch.head (detached)\n"
	s := parseV2(out)
	require.Empty(t, s.Branch)
	require.False(t, s.Dirty)
}

func TestParseV1(t *testing.T) {
	out := "## feature/x...origin/feature/x [ahead 3, behind 2]\n M cmd/main.go\n"
	s := parseV1(out)
	require.Equal(t, "feature/x", s.Branch)
	require.True(t, s.Dirty)
	require.Equal(t, 3, s.Ahead)
	require.Equal(t, 2, s.Behind)
}

func TestParseV1_NoUpstream(t *testing.T) {
	s := parseV1("## main\n")
	require.Equal(t, "main", s.Branch)
	require.False(t, s.Dirty)
	require.Zero(t, s.Ahead)
}

func TestCollect_NotARepo(t *testing.T) {
	require.Nil(t, Collect(t.TempDir()))
}

func TestMap_Nil(t *testing.T) {
	var s *Summary
	require.Nil(t, s.Map())

	m := (&Summary{Branch: "main", Dirty: true, Ahead: 1}).Map()
	require.Equal(t, "main", m["branch"])
	require.Equal(t, true, m["dirty"])
	require.Equal(t, 1, m["ahead"])
	require.Equal(t, 0, m["behind"])
}
