package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/listsync/internal/config"
	"github.com/tonimelisma/listsync/internal/tokenfile"
)

func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage the saved SharePoint credentials",
		Long: `listsync does not log in by itself. Sign in with your usual tool and
hand the result over as a token file: a JSON object with an OAuth2 "token"
and/or a "cookies" map (FedAuth, rtFa).`,
	}

	cmd.AddCommand(newAuthImportCmd())
	cmd.AddCommand(newAuthStatusCmd())

	return cmd
}

func newAuthImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file|->",
		Short: "Validate a token file and store it where listsync reads it",
		Args:  cobra.ExactArgs(1),
		// Must work before a config file exists.
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE:        runAuthImport,
	}
}

func newAuthStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "status",
		Short:       "Show what the saved credentials contain",
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE:        runAuthStatus,
	}
}

// tokenPath finds the token file without requiring a config file: the
// environment wins, then a loadable config, then the default location.
func tokenPath(flags CLIFlags) (string, error) {
	env := config.ReadEnvOverrides()
	if env.TokenFile != "" {
		return env.TokenFile, nil
	}

	resolved, err := config.Resolve(env, config.CLIOverrides{ConfigPath: flags.ConfigPath})
	switch {
	case err == nil:
		return resolved.TokenFilePath(), nil
	case errors.Is(err, config.ErrNoConfig):
		return config.DefaultConfig().TokenFilePath(), nil
	default:
		return "", err
	}
}

func runAuthImport(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	var (
		data []byte
		err  error
	)

	if args[0] == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(args[0])
	}

	if err != nil {
		return fmt.Errorf("reading credentials: %w", err)
	}

	tf, err := tokenfile.Decode(data, args[0])
	if err != nil {
		return err
	}

	dest, err := tokenPath(cc.Flags)
	if err != nil {
		return err
	}

	if err := tokenfile.Save(dest, tf); err != nil {
		return err
	}

	cc.Logger.Info("credentials imported",
		slog.String("path", dest),
		slog.Int("cookies", len(tf.Cookies)),
		slog.Bool("token", tf.Token != nil),
	)
	cc.Statusf("Credentials saved to %s\n", dest)

	return nil
}

// authStatus is the --json shape of auth status.
type authStatus struct {
	Path        string     `json:"path"`
	Present     bool       `json:"present"`
	HasToken    bool       `json:"has_token"`
	TokenExpiry *time.Time `json:"token_expiry,omitempty"`
	Cookies     []string   `json:"cookies,omitempty"`
}

func runAuthStatus(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	path, err := tokenPath(cc.Flags)
	if err != nil {
		return err
	}

	tf, err := tokenfile.Load(path)
	if err != nil {
		return err
	}

	st := authStatus{Path: path, Present: tf != nil}

	if tf != nil {
		st.HasToken = tf.Token != nil
		if st.HasToken && !tf.Token.Expiry.IsZero() {
			exp := tf.Token.Expiry
			st.TokenExpiry = &exp
		}

		for name := range tf.Cookies {
			st.Cookies = append(st.Cookies, name)
		}

		sort.Strings(st.Cookies)
	}

	if cc.Flags.JSON {
		return writeJSON(os.Stdout, st)
	}

	printAuthStatus(os.Stdout, &st, time.Now())

	return nil
}

func printAuthStatus(w io.Writer, st *authStatus, now time.Time) {
	ew := &errWriter{w: w}

	if !st.Present {
		ew.printf("No credentials at %s\n", filepath.Clean(st.Path))
		return
	}

	ew.printf("Credentials: %s\n", st.Path)

	switch {
	case !st.HasToken:
		ew.printf("  token:   none\n")
	case st.TokenExpiry == nil:
		ew.printf("  token:   present, no expiry\n")
	case st.TokenExpiry.Before(now):
		ew.printf("  token:   expired %s\n", formatTime(*st.TokenExpiry, now))
	default:
		ew.printf("  token:   valid until %s\n", formatTime(*st.TokenExpiry, now))
	}

	if len(st.Cookies) == 0 {
		ew.printf("  cookies: none\n")
		return
	}

	ew.printf("  cookies: %d (", len(st.Cookies))

	for i, name := range st.Cookies {
		if i > 0 {
			ew.printf(", ")
		}

		ew.printf("%s", name)
	}

	ew.printf(")\n")
}
