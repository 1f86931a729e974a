package nats

import (
	"testing"
	"time"
)

func TestStreamManagerSetupAndPublishCommit(t *testing.T) {
	dataDir := t.TempDir()
	srv, err := NewEmbeddedServer(EmbeddedServerConfig{Port: 14310, JetStream: true, DataDir: dataDir})
	if err != nil {
		t.Fatalf("NewEmbeddedServer: %v", err)
	}
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer srv.Shutdown()

	client, err := NewClient(srv.URL())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer client.Close()

	sm, err := NewStreamManager(client.conn)
	if err != nil {
		t.Fatalf("NewStreamManager: %v", err)
	}
	if err := sm.SetupStreams(); err != nil {
		t.Fatalf("SetupStreams: %v", err)
	}

	if err := sm.PublishCommit("session-1", []byte(`{"proposal_id":"p1"}`)); err != nil {
		t.Fatalf("PublishCommit: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	info, err := sm.GetStreamInfo("CONSENSUS_COMMITS")
	if err != nil {
		t.Fatalf("GetStreamInfo: %v", err)
	}
	if info.State.Msgs != 1 {
		t.Fatalf("expected 1 message in CONSENSUS_COMMITS, got %d", info.State.Msgs)
	}
}
