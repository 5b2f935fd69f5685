package events

import (
	"context"
	"testing"
)

func TestCollector(t *testing.T) {
	ctx := context.Background()
	var p Publisher = &Collector{}

	if err := p.PublishChunkStored(ctx, ChunkStored{SessionID: "s1", Index: 0, Created: true}); err != nil {
		t.Fatalf("PublishChunkStored failed: %v", err)
	}
	if err := p.PublishSessionStatus(ctx, SessionStatus{SessionID: "s1", Status: "recording"}); err != nil {
		t.Fatalf("PublishSessionStatus failed: %v", err)
	}

	c := p.(*Collector)
	if got := c.ChunkEvents(); len(got) != 1 || !got[0].Created {
		t.Errorf("Unexpected chunk events: %+v", got)
	}
	if got := c.StatusEvents(); len(got) != 1 || got[0].Status != "recording" {
		t.Errorf("Unexpected status events: %+v", got)
	}
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = Nop{}
	if err := p.PublishChunkStored(context.Background(), ChunkStored{}); err != nil {
		t.Errorf("Nop should never fail: %v", err)
	}
	p.Close()
}
