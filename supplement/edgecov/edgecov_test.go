package edgecov

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/flashbots/inspectors-go/tracing"
)

var (
	addrA = common.HexToAddress("0x1111111111111111111111111111111111111111")
	addrB = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

func TestRecordMarksConsecutiveSameContractSteps(t *testing.T) {
	nodes := []tracing.CallTraceNode{
		{Trace: tracing.CallTrace{Steps: []tracing.CallTraceStep{
			{Contract: addrA, PC: 0}, {Contract: addrA, PC: 5}, {Contract: addrA, PC: 9},
		}}},
	}
	m := NewMap()
	m.Record(nodes)
	if m.Count() != 2 {
		t.Fatalf("expected 2 edges (0->5, 5->9), got %d", m.Count())
	}
}

func TestRecordSkipsCrossContractBoundary(t *testing.T) {
	nodes := []tracing.CallTraceNode{
		{Trace: tracing.CallTrace{Steps: []tracing.CallTraceStep{
			{Contract: addrA, PC: 0}, {Contract: addrB, PC: 0},
		}}},
	}
	m := NewMap()
	m.Record(nodes)
	if m.Count() != 0 {
		t.Fatalf("expected no edges across a call boundary, got %d", m.Count())
	}
}

func TestRecordEdgeReportsNewness(t *testing.T) {
	m := NewMap()
	if !m.RecordEdge(addrA, Edge{From: 0, To: 1}) {
		t.Fatal("expected the first recording of an edge to report new=true")
	}
	if m.RecordEdge(addrA, Edge{From: 0, To: 1}) {
		t.Fatal("expected a repeat recording to report new=false")
	}
	if m.Count() != 1 {
		t.Fatalf("expected 1 distinct edge, got %d", m.Count())
	}
}

func TestMergeFoldsInNewEdgesOnly(t *testing.T) {
	a := NewMap()
	a.RecordEdge(addrA, Edge{From: 0, To: 1})

	b := NewMap()
	b.RecordEdge(addrA, Edge{From: 0, To: 1}) // already known to a
	b.RecordEdge(addrA, Edge{From: 1, To: 2}) // new
	b.RecordEdge(addrB, Edge{From: 0, To: 1}) // new, different contract

	changed := a.Merge(b)
	if changed != 2 {
		t.Fatalf("expected 2 newly-merged edges, got %d", changed)
	}
	if a.Count() != 3 {
		t.Fatalf("expected 3 total edges after merge, got %d", a.Count())
	}
}
