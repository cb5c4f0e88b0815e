package group

import "testing"

// TestRebalanceScenario mirrors the literal end-to-end scenario from the
// testable-properties section: 4 partitions, client A joins, then B joins,
// then A disconnects.
func TestRebalanceScenario(t *testing.T) {
	g := New(1, "g", 4)

	const clientA, clientB = 1, 2

	g.Join(clientA)
	want := map[int]int{1: clientA, 2: clientA, 3: clientA, 4: clientA}
	assertAssignment(t, g, want)

	g.Join(clientB)
	want = map[int]int{1: clientA, 2: clientB, 3: clientA, 4: clientB}
	assertAssignment(t, g, want)

	g.Leave(clientA)
	want = map[int]int{1: clientB, 2: clientB, 3: clientB, 4: clientB}
	assertAssignment(t, g, want)
}

func assertAssignment(t *testing.T, g *Group, want map[int]int) {
	t.Helper()
	got := g.Assignment()
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for partition, client := range want {
		if got[partition] != client {
			t.Errorf("partition %d: got client %d, want %d", partition, got[partition], client)
		}
	}
}

func TestAssignmentCoversEveryPartitionExactlyOnce(t *testing.T) {
	g := New(1, "g", 7)
	for _, client := range []int{3, 1, 9, 2} {
		g.Join(client)
	}

	assignment := g.Assignment()
	if len(assignment) != 7 {
		t.Fatalf("expected all 7 partitions assigned, got %d", len(assignment))
	}
	seen := make(map[int]bool)
	for partition := 1; partition <= 7; partition++ {
		client, ok := assignment[partition]
		if !ok {
			t.Errorf("partition %d has no assignment", partition)
		}
		_ = client
		seen[partition] = true
	}
}

func TestLeavingLastMemberClearsAssignmentButKeepsGroup(t *testing.T) {
	g := New(1, "g", 2)
	g.Join(1)
	g.Leave(1)

	if len(g.Assignment()) != 0 {
		t.Fatalf("expected empty assignment once membership is empty, got %v", g.Assignment())
	}
}

func TestCheckAssignmentRejectsStaleClient(t *testing.T) {
	g := New(1, "g", 2)
	g.Join(1)
	g.Join(2)

	assignment := g.Assignment()
	var stalePartition int
	for p, c := range assignment {
		if c != 1 {
			stalePartition = p
			break
		}
	}
	if err := g.CheckAssignment(1, stalePartition); err == nil {
		t.Fatalf("expected error checking client 1 against a partition assigned to another client")
	}
}
