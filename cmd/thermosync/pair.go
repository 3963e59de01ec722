package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/joshp123/thermosync/internal/app"
	"github.com/joshp123/thermosync/internal/thermostat"
)

var (
	flagPairCode    string
	flagPairNoOpen  bool
	flagPairJSON    bool
	flagPairTimeout time.Duration
)

var pairCmd = &cobra.Command{
	Use:   "pair",
	Short: "Pair a ThermoSmart thermostat",
	Long: `Opens the ThermoSmart consent page, waits for the redirect on the
configured loopback redirect_url (or reads the code from stdin), exchanges it
and stores the thermostat credentials. A running daemon picks the device up on
its next start.`,
	RunE: runPair,
}

func init() {
	pairCmd.Flags().StringVar(&flagPairCode, "code", "", "Authorization code (skip the browser flow)")
	pairCmd.Flags().BoolVar(&flagPairNoOpen, "no-open", false, "Do not open the browser automatically")
	pairCmd.Flags().BoolVar(&flagPairJSON, "json", false, "Output JSON to stdout")
	pairCmd.Flags().DurationVar(&flagPairTimeout, "timeout", 5*time.Minute, "Timeout for the pairing flow")
	rootCmd.AddCommand(pairCmd)
}

type pairOutput struct {
	DeviceID        string `json:"device_id"`
	CredentialsFile string `json:"credentials_file"`
	AuthorizeURL    string `json:"authorize_url,omitempty"`
}

func runPair(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	exchanger, err := app.NewExchanger(cfg)
	if err != nil {
		return err
	}
	creds, err := app.NewCredentialStore(cfg, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), flagPairTimeout)
	defer cancel()

	out := pairOutput{CredentialsFile: cfg.ThermoSmart.CredentialsFile}
	code := strings.TrimSpace(flagPairCode)
	if code == "" {
		state := uuid.NewString()
		out.AuthorizeURL = exchanger.AuthCodeURL(state)
		printPrompt("Open this URL to authorize:", out.AuthorizeURL, "")
		if !flagPairNoOpen {
			_ = openBrowser(out.AuthorizeURL)
		}
		code, err = waitForAuthCode(ctx, exchanger.RedirectURL(), state)
		if err != nil {
			return err
		}
	}

	pairing, err := exchanger.Exchange(ctx, code)
	if err != nil {
		return err
	}
	if err := creds.Put(ctx, thermostat.Credentials{DeviceID: pairing.DeviceID, AccessToken: pairing.AccessToken}); err != nil {
		return fmt.Errorf("store credentials: %w", err)
	}
	out.DeviceID = pairing.DeviceID

	if flagPairJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	fmt.Printf("Paired thermostat %s\n", out.DeviceID)
	fmt.Printf("Credentials stored in %s\n", out.CredentialsFile)
	return nil
}

// printPrompt writes to stderr when stdout carries JSON.
func printPrompt(lines ...string) {
	w := io.Writer(os.Stdout)
	if flagPairJSON {
		w = os.Stderr
	}
	for _, line := range lines {
		fmt.Fprintln(w, line)
	}
}

func waitForAuthCode(ctx context.Context, redirectURL, state string) (string, error) {
	parsed, err := url.Parse(redirectURL)
	if err != nil {
		return "", fmt.Errorf("invalid redirect URL: %w", err)
	}

	if isLoopback(parsed.Hostname()) && parsed.Scheme == "http" && parsed.Host != "" {
		code, err := listenForAuthCode(ctx, parsed, state)
		if err == nil {
			return code, nil
		}
		printPrompt(fmt.Sprintf("Warning: failed to listen for callback, falling back to manual paste: %v", err))
	}

	printPrompt("Paste the authorization code (or full redirect URL): ")
	return readCode(os.Stdin)
}

func listenForAuthCode(ctx context.Context, redirect *url.URL, state string) (string, error) {
	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)
	fail := func(err error) {
		select {
		case errCh <- err:
		default:
		}
	}

	srv := &http.Server{
		Addr:              redirect.Host,
		ReadHeaderTimeout: 10 * time.Second,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if redirect.Path != "" && r.URL.Path != redirect.Path {
				http.NotFound(w, r)
				return
			}
			query := r.URL.Query()
			if errStr := query.Get("error"); errStr != "" {
				fail(fmt.Errorf("authorization error: %s", errStr))
				_, _ = w.Write([]byte("Authorization failed. You can close this window."))
				return
			}
			if got := query.Get("state"); got != "" && got != state {
				fail(errors.New("state mismatch"))
				_, _ = w.Write([]byte("State mismatch. You can close this window."))
				return
			}
			code := query.Get("code")
			if code == "" {
				fail(errors.New("missing code in callback"))
				_, _ = w.Write([]byte("Missing authorization code. You can close this window."))
				return
			}
			select {
			case codeCh <- code:
			default:
			}
			_, _ = w.Write([]byte("Thermostat authorized. You can close this window."))
		}),
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fail(err)
		}
	}()
	defer func() {
		_ = srv.Close()
	}()

	select {
	case <-ctx.Done():
		return "", errors.New("authorization timed out")
	case err := <-errCh:
		return "", err
	case code := <-codeCh:
		return code, nil
	}
}

// readCode accepts a bare code or a full redirect URL.
func readCode(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", errors.New("no code provided")
	}
	if parsed, err := url.Parse(line); err == nil && parsed.Query().Get("code") != "" {
		return parsed.Query().Get("code"), nil
	}
	return line, nil
}

func openBrowser(target string) error {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", target).Start()
	case "linux":
		return exec.Command("xdg-open", target).Start()
	default:
		return nil
	}
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}
