// cmd/cli/replication.go - replication subsystem CLI
// -----------------------------------------------------------------------------
// Provides operational control over the replication daemon via the "rep"
// route. All commands speak a newline-framed JSON-RPC control protocol to
// the daemon's control socket/listener.
//
// Top-level commands:
//   • start     - start the daemon's scheduler
//   • stop      - stop the daemon's scheduler
//   • status    - show peer/queue stats
//   • clone     - fetch and commit a URN from a peer for the first time
//   • fetch     - run one pull replication cycle against a peer
//   • push      - push the local signed-refs manifest for a URN to a peer
//   • publish   - sign and commit this node's own ref for a URN
//   • sync      - run a pull cycle against every tracked peer for a URN
// -----------------------------------------------------------------------------
// Environment
//   REPL_API_ADDR - host:port of the replication daemon (default "127.0.0.1:7950")
// -----------------------------------------------------------------------------

package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type replClient struct {
	conn net.Conn
	rd   *bufio.Reader
}

func newReplClient(ctx context.Context) (*replClient, error) {
	addr := viper.GetString("REPL_API_ADDR")
	if addr == "" {
		addr = os.Getenv("REPL_API_ADDR")
	}
	if addr == "" {
		addr = "127.0.0.1:7950"
	}
	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to replication daemon at %s: %w", addr, err)
	}
	return &replClient{conn: conn, rd: bufio.NewReader(conn)}, nil
}

func (c *replClient) Close() { _ = c.conn.Close() }

func (c *replClient) writeJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	_, err = c.conn.Write(b)
	return err
}

func (c *replClient) readJSON(v any) error {
	dec := json.NewDecoder(c.rd)
	return dec.Decode(v)
}

type rpcResponse struct {
	Data  map[string]any `json:"data"`
	Error string         `json:"error,omitempty"`
}

func (c *replClient) call(ctx context.Context, action string, args map[string]any) (map[string]any, error) {
	req := map[string]any{"action": action, "args": args}
	if err := c.writeJSON(req); err != nil {
		return nil, err
	}
	var resp rpcResponse
	if err := c.readJSON(&resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, errors.New(resp.Error)
	}
	return resp.Data, nil
}

func rpcCall(ctx context.Context, action string, args map[string]any) (map[string]any, error) {
	cli, err := newReplClient(ctx)
	if err != nil {
		return nil, err
	}
	defer cli.Close()
	return cli.call(ctx, action, args)
}

func printResult(data map[string]any) error {
	format := viper.GetString("output.format")
	switch format {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	default:
		for k, v := range data {
			fmt.Printf("%s: %v\n", k, v)
		}
		return nil
	}
}

var repCmd = &cobra.Command{
	Use:     "rep",
	Short:   "Replication daemon control",
	Aliases: []string{"replication"},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cobra.OnInitialize(initReplConfig)
		return nil
	},
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the replication scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Second)
		defer cancel()
		_, err := rpcCall(ctx, "start", nil)
		return err
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the replication scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Second)
		defer cancel()
		_, err := rpcCall(ctx, "stop", nil)
		return err
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show replication subsystem status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Second)
		defer cancel()
		data, err := rpcCall(ctx, "status", nil)
		if err != nil {
			return err
		}
		return printResult(data)
	},
}

var cloneCmd = &cobra.Command{
	Use:   "clone [urn] [peer]",
	Short: "Fetch and commit a URN from a peer for the first time",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
		defer cancel()
		data, err := rpcCall(ctx, "clone", map[string]any{"urn": args[0], "peer": args[1]})
		if err != nil {
			return err
		}
		return printResult(data)
	},
}

var fetchCmd = &cobra.Command{
	Use:   "fetch [urn] [peer]",
	Short: "Run one pull replication cycle against a peer",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
		defer cancel()
		data, err := rpcCall(ctx, "fetch", map[string]any{"urn": args[0], "peer": args[1]})
		if err != nil {
			return err
		}
		return printResult(data)
	},
}

var pushCmd = &cobra.Command{
	Use:   "push [urn] [peer]",
	Short: "Push the local signed-refs manifest for a URN to a peer",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
		defer cancel()
		data, err := rpcCall(ctx, "push", map[string]any{"urn": args[0], "peer": args[1]})
		if err != nil {
			return err
		}
		return printResult(data)
	},
}

var publishCmd = &cobra.Command{
	Use:   "publish [urn] [ref] [tip-hex]",
	Short: "Sign and publish this node's ref for a URN under its device key",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()
		refs := map[string]any{args[1]: args[2]}
		data, err := rpcCall(ctx, "publish", map[string]any{"urn": args[0], "refs": refs})
		if err != nil {
			return err
		}
		return printResult(data)
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync [urn]",
	Short: "Run a pull cycle against every tracked peer for a URN",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 120*time.Second)
		defer cancel()
		data, err := rpcCall(ctx, "sync", map[string]any{"urn": args[0]})
		if err != nil {
			return err
		}
		return printResult(data)
	},
}

func initReplConfig() {
	viper.SetEnvPrefix("linkmesh")
	viper.AutomaticEnv()

	cfgFile := viper.GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("linkmesh")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.config/linkmesh")
	}
	_ = viper.ReadInConfig()

	viper.SetDefault("REPL_API_ADDR", "127.0.0.1:7950")
	viper.SetDefault("output.format", "table")
}

func init() {
	statusCmd.Flags().StringP("format", "f", "table", "output format: table|json")
	_ = viper.BindPFlag("output.format", statusCmd.Flags().Lookup("format"))

	repCmd.AddCommand(startCmd)
	repCmd.AddCommand(stopCmd)
	repCmd.AddCommand(statusCmd)
	repCmd.AddCommand(cloneCmd)
	repCmd.AddCommand(fetchCmd)
	repCmd.AddCommand(pushCmd)
	repCmd.AddCommand(publishCmd)
	repCmd.AddCommand(syncCmd)
}

// NewReplicationCommand returns the root Cobra command for "rep".
func NewReplicationCommand() *cobra.Command { return repCmd }
