package criteria

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBasicDominanceIgnoresLoad(t *testing.T) {
	cmp := Basic(0, 0)
	a := Criteria{Arrival: 100, Legs: 1, Cost: 10, Load: 99}
	b := Criteria{Arrival: 200, Legs: 1, Cost: 10, Load: 0}
	require.True(t, cmp.Dominates(a, b))
	require.False(t, cmp.Dominates(b, a), "b's lower load must not matter to the basic comparator")
}

func TestLoadsDominanceIsGenuinelyMultiObjective(t *testing.T) {
	cmp := Loads(0, 0, ArrivalFirst)
	fastCrowded := Criteria{Arrival: 100, Legs: 1, Cost: 0, Load: 80}
	slowEmpty := Criteria{Arrival: 200, Legs: 1, Cost: 0, Load: 20}
	require.False(t, cmp.Dominates(fastCrowded, slowEmpty))
	require.False(t, cmp.Dominates(slowEmpty, fastCrowded))

	slowCrowded := Criteria{Arrival: 300, Legs: 1, Cost: 0, Load: 80}
	require.True(t, cmp.Dominates(fastCrowded, slowCrowded))
	require.True(t, cmp.Dominates(slowEmpty, slowCrowded), "later and just as crowded loses on both axes")
}

func TestDominatesRequiresStrictImprovement(t *testing.T) {
	cmp := Basic(0, 0)
	a := Criteria{Arrival: 100, Legs: 2, Cost: 50}
	require.False(t, cmp.Dominates(a, a), "a label never dominates its equal")
	require.True(t, cmp.Equal(a, a))
}

func TestWithBoardTracksMaxLoad(t *testing.T) {
	cmp := Loads(0, 0, ArrivalFirst)
	c := cmp.Seed(0, 0)
	c = cmp.WithBoard(c, 100, 60, true)
	require.Equal(t, uint32(60), c.Load)
	c = cmp.WithBoard(c, 200, 20, true)
	require.Equal(t, uint32(60), c.Load, "the aggregate is the worst load seen, not the last")
	c = cmp.WithBoard(c, 300, 90, true)
	require.Equal(t, uint32(90), c.Load)
	require.Equal(t, uint8(3), c.Legs)
}

func TestWithBoardFoldsArrivalPenaltyIntoCost(t *testing.T) {
	cmp := Basic(120, 0)
	c := cmp.Seed(0, 0)
	c = cmp.WithBoard(c, 100, 0, false)
	c = cmp.WithBoard(c, 200, 0, false)
	require.Equal(t, uint32(240), c.Cost)
}

func TestLessOrdering(t *testing.T) {
	earlier := Criteria{Arrival: 100, Legs: 2, Cost: 50}
	later := Criteria{Arrival: 200, Legs: 1, Cost: 0}

	basic := Basic(0, 0)
	require.True(t, basic.Less(earlier, later))

	loadsFirst := Loads(0, 0, LoadsFirst)
	crowded := Criteria{Arrival: 100, Legs: 1, Cost: 0, Load: 80}
	empty := Criteria{Arrival: 200, Legs: 1, Cost: 0, Load: 20}
	require.True(t, loadsFirst.Less(empty, crowded), "LoadsFirst sorts by load before arrival")
	require.True(t, Loads(0, 0, ArrivalFirst).Less(crowded, empty))
}

func TestSeedAndArrivalFallback(t *testing.T) {
	cmp := Basic(0, 0)
	c := cmp.Seed(300, 1000)
	require.Equal(t, uint32(1300), c.Arrival, "the traveler reaches the boarding stop only after the fallback walk")
	require.Equal(t, uint32(300), c.Cost)

	c = cmp.WithArrivalFallback(c, 200)
	require.Equal(t, uint32(1300), c.Arrival, "the egress walk does not move the published arrival")
	require.Equal(t, uint32(500), c.Cost)
}
