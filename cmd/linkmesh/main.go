// cmd/linkmesh/main.go - process entrypoint.
// Wires the daemon bootstrap and the operator CLI behind one binary.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"linkmesh/cmd/cli"
	cmdconfig "linkmesh/cmd/config"
	"linkmesh/internal/keystore"
	pkgconfig "linkmesh/pkg/config"
	"linkmesh/core"
)

func main() {
	root := &cobra.Command{Use: "linkmesh"}
	root.PersistentFlags().String("env", "", "environment name, merges cmd/config/<env>.yaml")
	root.AddCommand(daemonCmd())
	cli.RegisterRoutes(root)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func daemonCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "daemon", Short: "Run the replication daemon"}
	start := &cobra.Command{
		Use:   "start",
		Short: "Start the daemon and block until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, _ := cmd.Flags().GetString("env")
			if err := cmdconfig.LoadConfig(env); err != nil {
				return err
			}
			cfg := &cmdconfig.AppConfig
			dcfg := daemonConfigFrom(cfg)

			label := cfg.Keystore.Label
			if label == "" {
				label = "default"
			}
			ks, err := keystore.OpenWithPassphrase(cfg.Keystore.Dir, cfg.Keystore.Passphrase)
			if err != nil {
				return fmt.Errorf("open keystore: %w", err)
			}
			entry, err := ks.Load(label)
			if err != nil {
				entry, err = ks.Generate(label)
				if err != nil {
					return fmt.Errorf("generate device key: %w", err)
				}
				logrus.Infof("generated new device key under label %q", label)
			}
			dcfg.DevicePublicKey = entry.PublicKey
			dcfg.DevicePrivateKey = entry.PrivateKey

			d, err := core.NewDaemon(dcfg)
			if err != nil {
				return err
			}
			d.Start()
			logrus.Infof("linkmesh daemon listening on %s", cfg.Control.ListenAddr)
			select {}
		},
	}
	start.Flags().String("env", "", "environment name")
	cmd.AddCommand(start)
	return cmd
}

func daemonConfigFrom(cfg *pkgconfig.Config) core.DaemonConfig {
	return core.DaemonConfig{
		Network: core.Config{
			ListenAddr:     cfg.Network.ListenAddr,
			BootstrapPeers: cfg.Network.BootstrapPeers,
			DiscoveryTag:   cfg.Network.DiscoveryTag,
		},
		DataDir:      cfg.Storage.DataDir,
		CacheEntries: cfg.Storage.CacheEntries,
		Replication: core.ReplicationConfig{
			PerPhaseTimeout:  time.Duration(cfg.Replication.PerPhaseTimeoutMS) * time.Millisecond,
			MaxTransferBytes: cfg.Replication.MaxTransferBytes,
			MaxRetries:       uint64(cfg.Replication.MaxRetries),
			Workers:          cfg.Replication.Workers,
		},
		QueueCapacity: cfg.Replication.QueueCapacity,
		VerifierCache: cfg.Identity.VerifierCacheSize,
		AuditCapacity: 1000,
		ControlAddr:   cfg.Control.ListenAddr,
	}
}
