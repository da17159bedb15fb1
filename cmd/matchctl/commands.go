package main

import (
	"context"
	"fmt"
	"time"

	"github.com/danmuck/matchctl/internal/client"
	"github.com/danmuck/matchctl/internal/config"
	"github.com/danmuck/matchctl/internal/logging"
	"github.com/danmuck/matchctl/internal/rendezvous"
	"github.com/danmuck/matchctl/internal/session"
	"github.com/spf13/cobra"
)

const defaultConfigPath = "matchctl.toml"

type serveFlags struct {
	configPath  string
	listenAddr  string
	adminAddr   string
	peerAddress string
	checks      bool
}

func newRootCmd() *cobra.Command {
	var flags serveFlags

	root := &cobra.Command{
		Use:           "matchctl",
		Short:         "Rendezvous server that pairs waiting clients and swaps their addresses",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.MaximumNArgs(1),
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.ConfigureRuntime()
		},
		// `matchctl [port]` behaves like `matchctl serve [port]` with defaults.
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveServiceConfig(cmd, serveFlags{}, args)
			if err != nil {
				return err
			}
			return rendezvous.NewServiceWithConfig(cfg).Run()
		},
	}

	serve := &cobra.Command{
		Use:   "serve [port]",
		Short: "Accept clients and pair them two at a time",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveServiceConfig(cmd, flags, args)
			if err != nil {
				return err
			}
			return rendezvous.NewServiceWithConfig(cfg).Run()
		},
	}
	serve.Flags().StringVarP(&flags.configPath, "config", "c", "", "path to a matchctl TOML config")
	serve.Flags().StringVar(&flags.listenAddr, "listen", "", "client listen address (overrides config)")
	serve.Flags().StringVar(&flags.adminAddr, "admin", "", "admin HTTP address (overrides config)")
	serve.Flags().StringVar(&flags.peerAddress, "peer-address", "", "peer address format: host|hostport")
	serve.Flags().BoolVar(&flags.checks, "check-invariants", false, "verify waiting pool structure after every mutation")

	root.AddCommand(serve, newDialCmd(), newConfigCmd())
	return root
}

// resolveServiceConfig applies config file, flags, then the positional port.
func resolveServiceConfig(cmd *cobra.Command, flags serveFlags, args []string) (rendezvous.ServiceConfig, error) {
	cfg := rendezvous.DefaultServiceConfig()
	if flags.configPath != "" {
		loaded, err := loadServiceConfig(flags.configPath)
		if err != nil {
			return rendezvous.ServiceConfig{}, err
		}
		cfg = loaded
	}
	if cmd.Flags().Changed("listen") {
		cfg.ListenAddr = flags.listenAddr
	}
	if cmd.Flags().Changed("admin") {
		cfg.AdminAddr = flags.adminAddr
	}
	if cmd.Flags().Changed("peer-address") {
		format, err := session.ParseAddressFormat(flags.peerAddress)
		if err != nil {
			return rendezvous.ServiceConfig{}, err
		}
		cfg.Session.AddressFormat = format
	}
	if cmd.Flags().Changed("check-invariants") {
		cfg.CheckInvariants = flags.checks
	}
	if len(args) == 1 {
		addr, err := listenAddrFromPort(args[0])
		if err != nil {
			return rendezvous.ServiceConfig{}, err
		}
		cfg.ListenAddr = addr
	}
	return cfg, nil
}

func newDialCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "dial <host:port>",
		Short: "Join the waiting pool and print the partner's address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			peer, err := client.Rendezvous(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), peer)
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "give up after this long (0 waits forever)")
	return cmd
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Generate or validate matchctl config files",
	}

	var output string
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config template with default values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.WriteTemplate(output, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote matchctl config template to %s\n", output)
			return nil
		},
	}
	initCmd.Flags().StringVarP(&output, "output", "o", defaultConfigPath, "output path for config template")
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite existing config file")

	validateCmd := &cobra.Command{
		Use:   "validate [path]",
		Short: "Strictly validate a config file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := defaultConfigPath
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := config.LoadStrict(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Validated matchctl config at %s\n", path)
			return nil
		},
	}

	cmd.AddCommand(initCmd, validateCmd)
	return cmd
}
