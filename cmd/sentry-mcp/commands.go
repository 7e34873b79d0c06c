package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dgellow/sentry-mcp/internal"
	"github.com/dgellow/sentry-mcp/internal/config"
	"github.com/dgellow/sentry-mcp/internal/log"
	"github.com/dgellow/sentry-mcp/internal/tools"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "sentry-mcp",
		Short: "Sentry tools for agents over the Model Context Protocol",
		Long: `sentry-mcp exposes Sentry to agents. In serve mode it is an OAuth 2.1
authorization server that delegates sign-in to Sentry; in stdio mode it
serves the same tools with a fixed access token.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newServeCmd(),
		newStdioCmd(),
		newValidateCmd(),
		newInitCmd(),
		newVersionCmd(),
	)
	return root
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.LoadFromEnv()
	}
	return config.Load(path)
}

func newServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the authorization proxy and the HTTP tool endpoint",
		Long: `Run the authorization proxy and the HTTP tool endpoint.

Without --config the settings are read from the environment
(BASE_URL, SENTRY_CLIENT_ID, SENTRY_CLIENT_SECRET, COOKIE_SECRET,
JWT_SECRET, SESSION_ENCRYPTION_KEY, ...).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			log.LogInfoWithFields("main", "Starting sentry-mcp", map[string]any{
				"version": BuildVersion,
				"config":  configPath,
			})

			app, err := internal.NewSentryMCP(context.Background(), cfg, BuildVersion)
			if err != nil {
				return fmt.Errorf("failed to create server: %w", err)
			}
			return app.Run()
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to a JSON or YAML config file")
	return cmd
}

type stdioOptions struct {
	accessToken      string
	host             string
	organizationSlug string
}

func (o stdioOptions) serverContext() (tools.ServerContext, error) {
	token := o.accessToken
	if token == "" {
		token = os.Getenv("SENTRY_AUTH_TOKEN")
	}
	if token == "" {
		return tools.ServerContext{}, errors.New("an access token is required: pass --access-token or set SENTRY_AUTH_TOKEN")
	}
	host := o.host
	if host == "" {
		host = os.Getenv("SENTRY_HOST")
	}
	if host == "" {
		host = config.DefaultSentryHost
	}
	return tools.ServerContext{
		Host:             host,
		AccessToken:      token,
		OrganizationSlug: o.organizationSlug,
	}, nil
}

func newStdioCmd() *cobra.Command {
	var opts stdioOptions
	cmd := &cobra.Command{
		Use:   "stdio",
		Short: "Serve the tools over stdin and stdout with a user token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := opts.serverContext()
			if err != nil {
				return err
			}
			return internal.RunStdio(sc, BuildVersion)
		},
	}
	cmd.Flags().StringVar(&opts.accessToken, "access-token", "", "Sentry user auth token (default $SENTRY_AUTH_TOKEN)")
	cmd.Flags().StringVar(&opts.host, "host", "", "Sentry host (default $SENTRY_HOST or sentry.io)")
	cmd.Flags().StringVar(&opts.organizationSlug, "organization-slug", "", "organization used when a tool call names none")
	return cmd
}

func newValidateCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a config file and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Validating: %s\n", configPath)
			if _, err := config.Load(configPath); err != nil {
				fmt.Fprintf(out, "\n%v\n\nResult: FAIL\n", err)
				return errors.New("validation failed")
			}
			fmt.Fprintln(out, "\nResult: PASS")
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to the config file")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

func defaultConfig() map[string]any {
	return map[string]any{
		"version": config.SupportedVersion,
		"baseUrl": "https://mcp.yourcompany.com",
		"addr":    config.DefaultAddr,
		"sentry": map[string]any{
			"host":         config.DefaultSentryHost,
			"clientId":     map[string]string{"$env": "SENTRY_CLIENT_ID"},
			"clientSecret": map[string]string{"$env": "SENTRY_CLIENT_SECRET"},
		},
		"auth": map[string]any{
			"cookieSecret":   map[string]string{"$env": "COOKIE_SECRET"},
			"jwtSecret":      map[string]string{"$env": "JWT_SECRET"},
			"encryptionKey":  map[string]string{"$env": "SESSION_ENCRYPTION_KEY"},
			"allowedOrigins": []string{"https://claude.ai"},
			"approvalTtl":    "8760h",
			"storage":        string(config.StorageMemory),
		},
	}
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init FILE",
		Short: "Write a starter config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := json.MarshalIndent(defaultConfig(), "", "  ")
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}
			if err := os.WriteFile(args[0], data, 0o644); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Generated default config at: %s\n", args[0])
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), BuildVersion)
		},
	}
}
