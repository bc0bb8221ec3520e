package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/blndgs/ch4nn337"
	"github.com/blndgs/ch4nn337/ethrpc"
	"github.com/blndgs/ch4nn337/relay"
	"github.com/blndgs/ch4nn337/store"
	"github.com/blndgs/ch4nn337/transport"
)

// app carries what every command needs once flags are parsed.
type app struct {
	cfg    *Config
	logger *zap.Logger
	store  *store.Store
	in     *bufio.Reader
	out    io.Writer
}

func newRootCommand(in io.Reader, out io.Writer) *cobra.Command {
	a := &app{in: bufio.NewReader(in), out: out}
	root := &cobra.Command{
		Use:           "ch4nn337",
		Short:         "Two-party payment channels on an ERC-4337 smart account",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(c *cobra.Command, _ []string) error {
			cfg, err := loadConfig(c.Flags())
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.LogLevel)
			if err != nil {
				return err
			}
			st, err := store.New(cfg.DataDir, logger.Named("store"))
			if err != nil {
				return err
			}
			a.cfg, a.logger, a.store = cfg, logger, st
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	addFlags(root.PersistentFlags())
	root.SetOut(out)

	root.AddCommand(
		a.openCommand(),
		a.statusCommand(),
		a.requestCommand(),
		a.withdrawCommand(),
		a.receiveCommand(),
		a.responseCommand(),
		a.cancelCommand(),
		a.unsupportedCommand("deploy", "Deploy the channel account"),
		a.disputeCommand(),
		a.closeDisputeCommand(),
		a.relayCommand(),
	)
	return root
}

func (a *app) dial(ctx context.Context) (*ethrpc.Client, error) {
	if a.cfg.RPCURL == "" {
		return nil, errors.New("no RPC endpoint: set --rpc-url or ETH_RPC_URL")
	}
	return ethrpc.Dial(ctx, a.cfg.RPCURL, a.cfg.BundlerURL)
}

// withChannel loads the named channel under its lock, runs fn and, when fn
// reports a change, saves the channel before releasing the lock.
func (a *app) withChannel(name string, fn func(*ch4nn337.Channel) (bool, error)) error {
	unlock, err := a.store.Lock(name)
	if err != nil {
		return err
	}
	defer unlock()

	c, err := a.store.Load(name)
	if err != nil {
		return err
	}
	changed, err := fn(c)
	if err != nil {
		return err
	}
	if changed {
		return a.store.Save(name, c)
	}
	return nil
}

// transport returns the relay transport when a relay is configured and the
// copy-and-paste transport otherwise.
func (a *app) transport(c *ch4nn337.Channel, prompt string) ch4nn337.Transport {
	if a.cfg.RelayURL != "" {
		return relay.NewClient(a.cfg.RelayURL, c.OurAddress(), c.TheirAddress(), a.logger.Named("relay"))
	}
	return transport.NewStdio(a.in, a.out, prompt)
}

func (a *app) confirm(question string) (bool, error) {
	fmt.Fprintf(a.out, "%s (y/N)\n", question)
	line, err := a.in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	return strings.EqualFold(strings.TrimSpace(line), "y"), nil
}

func (a *app) openCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "open NAME",
		Short: "Create both ends of a new channel as NAME_a and NAME_b",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			entryPoint, err := a.cfg.entryPoint()
			if err != nil {
				return err
			}
			factory, err := a.cfg.factory()
			if err != nil {
				return err
			}
			client, err := a.dial(cmd.Context())
			if err != nil {
				return err
			}
			defer client.Close()

			chA, chB, err := ch4nn337.Open(cmd.Context(), new(big.Int).SetUint64(a.cfg.ChainID), entryPoint, factory, client)
			if err != nil {
				return fmt.Errorf("could not open channel: %w", err)
			}
			if err := ch4nn337.SameChannel(chA, chB); err != nil {
				return err
			}
			if err := a.store.Create(name+"_a", chA); err != nil {
				return err
			}
			if err := a.store.Create(name+"_b", chB); err != nil {
				return err
			}
			a.logger.Info("opened channel", zap.String("name", name), zap.Stringer("address", chA.Address()))

			fmt.Fprintf(a.out, "%s_a and %s_b successfully created!\n", name, name)
			fmt.Fprintf(a.out, "Channel address: %s\n", chA.Address().Hex())
			fmt.Fprintf(a.out, "%s_a address: %s\n", name, chA.OurAddress().Hex())
			fmt.Fprintf(a.out, "%s_b address: %s\n", name, chB.OurAddress().Hex())
			return nil
		},
	}
}

func (a *app) statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status NAME",
		Short: "Show balances, history and dispute state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			client, err := a.dial(cmd.Context())
			if err != nil {
				return err
			}
			defer client.Close()

			return a.withChannel(name, func(c *ch4nn337.Channel) (bool, error) {
				ours, theirs, err := c.SortedBalances(cmd.Context(), client)
				if err != nil {
					return false, err
				}
				fmt.Fprintf(a.out, "%s at %s (party %s)\n", name, c.Address().Hex(), c.Role())
				fmt.Fprintf(a.out, "Us:   %s with balance %s\n", c.OurAddress().Hex(), ours)
				fmt.Fprintf(a.out, "Them: %s with balance %s\n", c.TheirAddress().Hex(), theirs)
				fmt.Fprintf(a.out, "Last nonce: %s\n", c.LastNonce())
				if c.HasPendingMessage() {
					fmt.Fprintln(a.out, "Waiting for response...")
				}

				dispute, err := c.DisputeInfo(cmd.Context(), client)
				if err != nil {
					return false, err
				}
				if dispute == nil {
					fmt.Fprintln(a.out, "No ongoing dispute")
					return false, nil
				}
				fmt.Fprintln(a.out, "DISPUTE!")
				fmt.Fprintf(a.out, "Dispute nonce: %s\n", dispute.Nonce)
				fmt.Fprintf(a.out, "Dispute timeout: %d\n", dispute.Timeout)
				fmt.Fprintf(a.out, "Our dispute value: %s\n", dispute.WithdrawalOurs)
				fmt.Fprintf(a.out, "Their dispute value: %s\n", dispute.WithdrawalTheirs)
				return false, nil
			})
		},
	}
}

func (a *app) requestCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "request NAME WEI",
		Short: "Ask the counterparty to pay WEI",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, ok := new(big.Int).SetString(args[1], 10)
			if !ok {
				return fmt.Errorf("amount %q is not a decimal number", args[1])
			}
			client, err := a.dial(cmd.Context())
			if err != nil {
				return err
			}
			defer client.Close()

			return a.withChannel(args[0], func(c *ch4nn337.Channel) (bool, error) {
				request, err := c.RequestTransfer(cmd.Context(), amount, client)
				if err != nil {
					return false, err
				}
				return true, a.propose(cmd.Context(), c, request)
			})
		},
	}
}

func (a *app) withdrawCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "withdraw NAME",
		Short: "Propose a cooperative withdrawal of both full balances",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.dial(cmd.Context())
			if err != nil {
				return err
			}
			defer client.Close()

			return a.withChannel(args[0], func(c *ch4nn337.Channel) (bool, error) {
				request, err := c.RequestFullWithdraw(cmd.Context(), client)
				if err != nil {
					return false, err
				}
				return true, a.propose(cmd.Context(), c, request)
			})
		},
	}
}

// propose hands a freshly built proposal to the transport. The channel is
// saved even if sending fails so the proposal can be cancelled.
func (a *app) propose(ctx context.Context, c *ch4nn337.Channel, request []byte) error {
	if a.cfg.RelayURL == "" {
		fmt.Fprintln(a.out, "Send this to be signed by the counterparty:")
	}
	if err := a.transport(c, "").Send(ctx, request); err != nil {
		a.logger.Warn("proposal not delivered, cancel it or retry sending", zap.Error(err))
	}
	return nil
}

// describe summarizes a proposal for the user and dumps the operation
// being countersigned.
func describe(m ch4nn337.Message) string {
	switch msg := m.(type) {
	case *ch4nn337.TransferMessage:
		return fmt.Sprintf("transfer: new value transfer %s (nonce %s)\n%s", msg.ValueTransfer, msg.UserOp.Nonce, msg.UserOp)
	case *ch4nn337.WithdrawalMessage:
		return fmt.Sprintf("withdrawal: %s to us, %s to them (nonce %s)\n%s", msg.WithdrawUs, msg.WithdrawThem, msg.UserOp.Nonce, msg.UserOp)
	default:
		return fmt.Sprintf("unknown message %T", m)
	}
}

func (a *app) receiveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "receive NAME",
		Short: "Check and countersign the counterparty's proposal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.dial(cmd.Context())
			if err != nil {
				return err
			}
			defer client.Close()

			return a.withChannel(args[0], func(c *ch4nn337.Channel) (bool, error) {
				t := a.transport(c, "Please paste message:")
				payload, err := t.Receive(cmd.Context())
				if err != nil {
					return false, err
				}
				op, err := ch4nn337.DecodeUserOperation(payload)
				if err != nil {
					return false, err
				}
				msg, err := c.ReceiveMessage(cmd.Context(), op, client)
				if err != nil {
					return false, err
				}
				fmt.Fprintln(a.out, describe(msg))
				ok, err := a.confirm("Sign?")
				if err != nil || !ok {
					fmt.Fprintln(a.out, "Abort.")
					return false, err
				}
				response, err := c.SignMessage(cmd.Context(), msg, client)
				if err != nil {
					return false, err
				}
				if _, isWithdrawal := msg.(*ch4nn337.WithdrawalMessage); isWithdrawal {
					a.logger.Info("submitted cooperative withdrawal", zap.Stringer("channel", c.Address()))
				}
				if a.cfg.RelayURL == "" {
					fmt.Fprintln(a.out, "Please send this response back:")
				}
				if err := t.Send(cmd.Context(), response); err != nil {
					a.logger.Warn("response not delivered, send it manually", zap.Error(err))
					fmt.Fprintf(a.out, "%s\n", response)
				}
				return true, nil
			})
		},
	}
}

func (a *app) responseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "response NAME",
		Short: "Import the countersigned response to our pending proposal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withChannel(args[0], func(c *ch4nn337.Channel) (bool, error) {
				payload, err := a.transport(c, "Please paste response:").Receive(cmd.Context())
				if err != nil {
					return false, err
				}
				op, err := ch4nn337.DecodeUserOperation(payload)
				if err != nil {
					return false, err
				}
				if err := c.ImportResponse(op); err != nil {
					return false, err
				}
				fmt.Fprintf(a.out, "Committed message with nonce %s.\n", c.LastNonce())
				return true, nil
			})
		},
	}
}

func (a *app) cancelCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel NAME",
		Short: "Drop our pending proposal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withChannel(args[0], func(c *ch4nn337.Channel) (bool, error) {
				if c.CancelPendingMessage() {
					fmt.Fprintln(a.out, "Cancelled.")
					return true, nil
				}
				fmt.Fprintln(a.out, "Nothing to cancel.")
				return false, nil
			})
		},
	}
}

func (a *app) disputeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "dispute NAME",
		Short: "Start an on-chain dispute",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withChannel(args[0], func(c *ch4nn337.Channel) (bool, error) {
				return false, c.Dispute(cmd.Context(), nil)
			})
		},
	}
}

func (a *app) closeDisputeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "close-dispute NAME",
		Short: "Settle an expired on-chain dispute",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withChannel(args[0], func(c *ch4nn337.Channel) (bool, error) {
				return false, c.CloseDispute(cmd.Context(), nil)
			})
		},
	}
}

func (a *app) unsupportedCommand(use, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " NAME",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(*cobra.Command, []string) error {
			return fmt.Errorf("%s: %w", use, ch4nn337.ErrNotSupported)
		},
	}
}

func (a *app) relayCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "relay",
		Short: "Run a mailbox relay for exchanging operations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var opts []relay.Option
			if a.cfg.Remote {
				opts = append(opts, relay.WithRemoteAccess())
			}
			srv, err := relay.NewServer(a.logger.Named("relay"), opts...)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			server := &http.Server{
				Addr:              a.cfg.Listen,
				Handler:           srv.Handler(),
				ReadHeaderTimeout: 5 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				a.logger.Info("relay listening", zap.String("address", a.cfg.Listen))
				errCh <- server.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		},
	}
}
