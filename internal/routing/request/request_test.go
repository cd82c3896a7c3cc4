package request

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseURIListRecognizedPrefixes(t *testing.T) {
	set := ParseURIList("stop_point:SP1, line:A ,network:SNCF,physical_mode:Bus")
	require.Len(t, set, 4)
	require.Contains(t, set, "stop_point:SP1")
	require.Contains(t, set, "line:A")
	require.Contains(t, set, "network:SNCF")
	require.Contains(t, set, "physical_mode:Bus")
}

func TestParseURIListDropsUnknownPrefixes(t *testing.T) {
	set := ParseURIList("garbage:X,line:A,no_colon_token")
	require.Len(t, set, 1)
	require.Contains(t, set, "line:A")
}

func TestParseURIListCaseInsensitivePrefixCaseSensitiveID(t *testing.T) {
	set := ParseURIList("LINE:a")
	require.Contains(t, set, "line:a")
	require.NotContains(t, set, "line:A")
}

func TestParseURIListEmpty(t *testing.T) {
	require.Nil(t, ParseURIList(""))
}
