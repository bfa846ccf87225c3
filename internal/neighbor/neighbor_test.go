package neighbor

import (
	"testing"
	"time"

	"github.com/dbehnke/tacrrc/internal/proto"
)

func TestIsGoodLinkThresholds(t *testing.T) {
	now := time.Now()
	s := &State{
		Node:   3,
		Active: true,
		Metrics: Metrics{
			RSSIdBm:     -65,
			SNRdB:       25,
			PERPercent:  1.5,
			LastUpdate:  now,
		},
	}
	if !s.IsGoodLink(now) {
		t.Fatalf("expected good link")
	}
	s.Metrics.PERPercent = 60
	if s.IsGoodLink(now) {
		t.Fatalf("PER above threshold must be poor")
	}
	s.Metrics.PERPercent = 1.5
	s.Metrics.LastUpdate = now.Add(-time.Minute)
	if s.IsGoodLink(now) {
		t.Fatalf("stale metrics must be poor")
	}
}

func TestSweepInactiveDeactivatesSilentNeighbors(t *testing.T) {
	tbl := NewTable(DefaultCapacity, 30*time.Second)
	now := time.Now()
	tbl.Observe(5, now.Add(-time.Minute))

	deactivated := tbl.SweepInactive(now)
	if len(deactivated) != 1 || deactivated[0] != proto.NodeAddr(5) {
		t.Fatalf("want node 5 deactivated, got %v", deactivated)
	}
	s, _ := tbl.Get(5)
	if s.Active {
		t.Fatalf("node 5 should be inactive after sweep")
	}
}

func TestClaimantOf(t *testing.T) {
	tbl := NewTable(DefaultCapacity, 30*time.Second)
	now := time.Now()
	tbl.AssignNCSlot(2, 7, now)

	claimant, ok := tbl.ClaimantOf(7)
	if !ok || claimant != proto.NodeAddr(2) {
		t.Fatalf("want claimant 2, got %v ok=%v", claimant, ok)
	}
	if _, ok := tbl.ClaimantOf(8); ok {
		t.Fatalf("slot 8 should have no claimant")
	}
}
