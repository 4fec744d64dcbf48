// SPDX-FileCopyrightText: © 2026 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

// mixsim sends messages between two clients across an in-memory mix
// network and reports delivery latency.
package main

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"
	"github.com/spf13/cobra"

	"github.com/katzenpost/hpqc/nike/x25519"
	"github.com/katzenpost/hpqc/rand"

	"github.com/katzenpost/mixclient/client"
	"github.com/katzenpost/mixclient/client/config"
	"github.com/katzenpost/mixclient/common"
	"github.com/katzenpost/mixclient/core/log"
	"github.com/katzenpost/mixclient/internal/simnet"
)

const defaultClientConfig = `
[Logging]
  Level = "WARNING"

[Geometry]
  NrHops = 4
  PacketPayloadLength = 2048

[Debug]
  RoundTripTimeSlop = 1000
`

var (
	errInvalidArgument = errors.New("invalid argument")
	errConfigFile      = errors.New("failed to load config file")
)

// Config holds the command line configuration
type Config struct {
	ConfigFile string
	Messages   int
	Size       int
	Timeout    time.Duration
	Network    simnet.Config
}

func newRootCommand() *cobra.Command {
	cfg := Config{
		Network: simnet.Config{
			NodesPerLayer:   3,
			Gateways:        2,
			Mu:              0.05,
			MuMaxDelay:      200,
			LambdaL:         0.01,
			LambdaLMaxDelay: 1000,
		},
	}

	cmd := &cobra.Command{
		Use:   "mixsim",
		Short: "Mixnet client reliability simulator",
		Long: `mixsim attaches two clients to an in-memory mix network, sends
messages from one to the other and reports how long delivery took.

Every message is split into fragments, each fragment travels in its own
onion packet with an embedded acknowledgement, and unacknowledged fragments
are retransmitted. Packet loss and duplicate delivery exercise the
retransmission and reassembly paths.`,
		Example: `
  # 100 messages of 10 KiB with 5% loss per hop
  mixsim --messages 100 --size 10240 --loss 0.05

  # Use a client configuration file
  mixsim -c client.toml --duplicate 0.2`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.OutOrStdout(), &cfg)
		},
	}

	cmd.Flags().StringVarP(&cfg.ConfigFile, "config", "c", "",
		"path to the client configuration file (TOML format)")
	cmd.Flags().IntVarP(&cfg.Messages, "messages", "n", 20, "number of messages to send")
	cmd.Flags().IntVarP(&cfg.Size, "size", "s", 4096, "message size in bytes (at least 8)")
	cmd.Flags().DurationVar(&cfg.Timeout, "timeout", 5*time.Minute, "give up after this long")
	cmd.Flags().IntVar(&cfg.Network.NodesPerLayer, "width", cfg.Network.NodesPerLayer, "mixes per layer")
	cmd.Flags().IntVar(&cfg.Network.Gateways, "gateways", cfg.Network.Gateways, "number of gateways")
	cmd.Flags().Float64Var(&cfg.Network.Mu, "mu", cfg.Network.Mu, "per hop delay rate (1/ms)")
	cmd.Flags().Uint64Var(&cfg.Network.MuMaxDelay, "mu-max-delay", cfg.Network.MuMaxDelay, "per hop maximum delay (ms)")
	cmd.Flags().Float64Var(&cfg.Network.LambdaL, "lambda-l", cfg.Network.LambdaL, "loop cover traffic rate (1/ms)")
	cmd.Flags().Uint64Var(&cfg.Network.LambdaLMaxDelay, "lambda-l-max-delay", cfg.Network.LambdaLMaxDelay, "loop cover traffic maximum interval (ms)")
	cmd.Flags().Float64Var(&cfg.Network.LossRate, "loss", 0, "per hop packet loss probability")
	cmd.Flags().Float64Var(&cfg.Network.DuplicateRate, "duplicate", 0, "gateway duplicate delivery probability")
	cmd.Flags().Float64Var(&cfg.Network.DelayScale, "delay-scale", 1, "mixing delay multiplier")

	return cmd
}

func main() {
	rootCmd := newRootCommand()
	common.ExecuteWithFang(rootCmd, isUsageError)
}

// isUsageError selects the errors that are followed by the full help text.
func isUsageError(err error) bool {
	switch {
	case errors.Is(err, errInvalidArgument),
		errors.Is(err, errConfigFile),
		errors.Is(err, simnet.ErrInvalidConfig):
		return true
	}
	return common.IsFlagError(err)
}

func loadClientConfig(f string) (*config.Config, error) {
	if f == "" {
		return config.Load([]byte(defaultClientConfig))
	}
	cfg, err := config.LoadFile(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errConfigFile, err)
	}
	return cfg, nil
}

func run(w io.Writer, cfg *Config) error {
	if cfg.Messages < 1 {
		return fmt.Errorf("%w: --messages %d", errInvalidArgument, cfg.Messages)
	}
	if cfg.Size < 8 {
		return fmt.Errorf("%w: --size %d", errInvalidArgument, cfg.Size)
	}
	clientCfg, err := loadClientConfig(cfg.ConfigFile)
	if err != nil {
		return err
	}
	logBackend, err := log.New(clientCfg.Logging.File, clientCfg.Logging.Level, clientCfg.Logging.Disable)
	if err != nil {
		return err
	}

	geo, err := client.NewPacketGeometry(x25519.Scheme(rand.Reader), clientCfg.Geometry.NrHops, clientCfg.Geometry.PacketPayloadLength)
	if err != nil {
		return err
	}
	net, err := simnet.New(&cfg.Network, geo, logBackend)
	if err != nil {
		return err
	}
	defer net.Shutdown()

	sender, err := newClient(net, clientCfg, logBackend, 0)
	if err != nil {
		return err
	}
	defer sender.Shutdown()
	receiver, err := newClient(net, clientCfg, logBackend, cfg.Network.Gateways-1)
	if err != nil {
		return err
	}
	defer receiver.Shutdown()

	haltCh := make(chan os.Signal, 1)
	signal.Notify(haltCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(haltCh)

	sketch, err := ddsketch.NewDefaultDDSketch(0.01)
	if err != nil {
		return err
	}

	start := time.Now()
	sentAt := make([]time.Time, cfg.Messages)
	go func() {
		for i := range sentAt {
			msg := make([]byte, cfg.Size)
			binary.BigEndian.PutUint64(msg, uint64(i))
			sentAt[i] = time.Now()
			if err := sender.SubmitMessage(receiver.Address(), msg, false); err != nil {
				fmt.Fprintf(w, "message %d: %v\n", i, err)
			}
		}
	}()

	timeout := time.After(cfg.Timeout)
	received := 0
	for received < cfg.Messages {
		select {
		case <-haltCh:
			return report(w, sketch, received, cfg.Messages, time.Since(start), net)
		case <-timeout:
			fmt.Fprintln(w, "timed out")
			return report(w, sketch, received, cfg.Messages, time.Since(start), net)
		case m := <-receiver.ReceivedMessages():
			if len(m.Payload) < 8 {
				continue
			}
			seq := binary.BigEndian.Uint64(m.Payload)
			if seq >= uint64(len(sentAt)) {
				continue
			}
			if err = sketch.Add(time.Since(sentAt[seq]).Seconds()); err != nil {
				return err
			}
			received++
		}
	}
	return report(w, sketch, received, cfg.Messages, time.Since(start), net)
}

func newClient(net *simnet.Network, cfg *config.Config, logBackend *log.Backend, gateway int) (*client.Client, error) {
	addr, err := net.NewAddress(gateway)
	if err != nil {
		return nil, err
	}
	c, err := client.New(cfg, logBackend, addr)
	if err != nil {
		return nil, err
	}
	c.Start()
	if err = net.Attach(c); err != nil {
		c.Shutdown()
		return nil, err
	}
	return c, nil
}

func report(w io.Writer, sketch *ddsketch.DDSketch, received, sent int, elapsed time.Duration, net *simnet.Network) error {
	fmt.Fprintf(w, "delivered %d/%d messages in %v\n", received, sent, elapsed.Round(time.Millisecond))
	if received > 0 {
		qs := []float64{0.5, 0.9, 0.99}
		vs, err := sketch.GetValuesAtQuantiles(qs)
		if err != nil {
			return err
		}
		for i, q := range qs {
			fmt.Fprintf(w, "  p%-3v %v\n", q*100, time.Duration(vs[i]*float64(time.Second)).Round(time.Millisecond))
		}
	}
	fmt.Fprintf(w, "network: %+v\n", net.Stats())
	return nil
}
