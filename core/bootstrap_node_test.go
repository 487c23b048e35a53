package core

import (
	"testing"
	"time"
)

func TestDaemonStartStopLifecycle(t *testing.T) {
	cfg := DaemonConfig{
		Network: Config{
			ListenAddr:   "/ip4/127.0.0.1/tcp/0",
			DiscoveryTag: "linkmesh-test",
		},
		DataDir:       t.TempDir(),
		CacheEntries:  16,
		Replication:   DefaultReplicationConfig(),
		QueueCapacity: 8,
		VerifierCache: 16,
		AuditCapacity: 16,
	}

	d, err := NewDaemon(cfg)
	if err != nil {
		t.Fatalf("NewDaemon: %v", err)
	}

	d.Start()
	time.Sleep(50 * time.Millisecond)

	if err := d.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestDaemonStartWithControlAddr(t *testing.T) {
	cfg := DaemonConfig{
		Network: Config{
			ListenAddr:   "/ip4/127.0.0.1/tcp/0",
			DiscoveryTag: "linkmesh-test",
		},
		DataDir:       t.TempDir(),
		CacheEntries:  16,
		Replication:   DefaultReplicationConfig(),
		QueueCapacity: 8,
		VerifierCache: 16,
		AuditCapacity: 16,
		ControlAddr:   "127.0.0.1:0",
	}

	d, err := NewDaemon(cfg)
	if err != nil {
		t.Fatalf("NewDaemon: %v", err)
	}

	d.Start()
	time.Sleep(50 * time.Millisecond)

	if err := d.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
