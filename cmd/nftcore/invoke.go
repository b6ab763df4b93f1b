package main

import (
	"fmt"
	"io"
	"os"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/bws-projects/bws-api-nft-zk/internal/jobstore"
	"github.com/bws-projects/bws-api-nft-zk/internal/workflow"
)

type invokeOptions struct {
	*rootOptions
	eventPath string
	register  bool
	remote    string
}

func newInvokeCommand(root *rootOptions) *cobra.Command {
	opts := &invokeOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "invoke",
		Short: "Run one invocation and print the returned state",
		Long: `Run one invocation from an event file and print the returned state.

The printed state is the TaskResult payload of the next invocation:

  nftcore invoke --event mint.json --register > state.json

With --remote the event is sent, signed with HMAC_SECRET, to a running
nftcore server instead of being handled in-process:

  nftcore invoke --event mint.json --remote http://localhost:3000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvent(cmd, opts, false)
		},
	}

	cmd.Flags().StringVar(&opts.eventPath, "event", "-", "event JSON file, - for stdin")
	cmd.Flags().BoolVar(&opts.register, "register", false, "register the job first if it is unknown")
	cmd.Flags().StringVar(&opts.remote, "remote", "", "base URL of an nftcore server to send the event to")

	return cmd
}

func newEstimateCommand(root *rootOptions) *cobra.Command {
	opts := &invokeOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Price the operation of an event without running it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvent(cmd, opts, true)
		},
	}

	cmd.Flags().StringVar(&opts.eventPath, "event", "-", "event JSON file, - for stdin")
	cmd.Flags().StringVar(&opts.remote, "remote", "", "base URL of an nftcore server to send the event to")

	return cmd
}

func runEvent(cmd *cobra.Command, opts *invokeOptions, estimate bool) error {
	raw, err := readEvent(opts.eventPath, cmd.InOrStdin())
	if err != nil {
		return err
	}
	ev, err := workflow.DecodeEvent(raw)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if opts.remote != "" {
		if opts.register {
			return fmt.Errorf("--register cannot be combined with --remote")
		}
		route := invocationsPath
		if estimate {
			route = estimatesPath
		}
		state, err := sendEvent(ctx, remoteClient{
			BaseURL: opts.remote,
			Secret:  opts.cfg.Service.HMACSecret,
		}, route, raw)
		if err != nil {
			return err
		}
		return printState(cmd, state)
	}

	a, err := buildApp(ctx, opts.cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	var state *workflow.State
	if estimate {
		state = a.dispatcher.Estimate(ctx, ev)
	} else {
		if opts.register && ev.Detail.Payload != nil && ev.Detail.Payload.JobID != "" {
			reg, ok := a.store.(jobstore.Registrar)
			if !ok {
				return fmt.Errorf("job store %s cannot register jobs", opts.cfg.Store.Backend)
			}
			if err := reg.Register(ctx, ev.Detail.Payload.JobID); err != nil {
				return fmt.Errorf("register job: %w", err)
			}
		}
		state = a.dispatcher.Handle(ctx, ev)
	}

	return printState(cmd, state)
}

func printState(cmd *cobra.Command, state *workflow.State) error {
	out, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return err
}

func readEvent(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" || path == "" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}
