package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/s0up4200/garminconnect/config"
	"github.com/s0up4200/garminconnect/garmin"
)

var (
	cfgFile  string
	cfg      *config.Config
	logger   zerolog.Logger
	client   *garmin.Client
	registry *prometheus.Registry
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "garminconnect",
	Short: "Read daily health and device data from Garmin Connect",
	Long: `garminconnect signs in to Garmin Connect and reads daily summaries,
sleep, body composition, hydration, device settings and alarms.

Expired sessions are renewed transparently; rate limits are reported, never retried.`,
	PersistentPreRunE: initializeApp,
	SilenceUsage:      true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")

	rootCmd.AddCommand(testCmd)
}

// initializeApp initializes the configuration and client
func initializeApp(cmd *cobra.Command, args []string) error {
	// Load configuration
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Setup logger
	logger = setupLogger(cfg.Logging)

	registry = prometheus.NewRegistry()

	opts := []garmin.Option{
		garmin.WithBaseURL(cfg.Garmin.BaseURL),
		garmin.WithSSOURL(cfg.Garmin.SSOURL),
		garmin.WithTimeout(cfg.Garmin.Timeout),
		garmin.WithSSORetries(cfg.Garmin.SSORetries),
		garmin.WithMetrics(garmin.NewMetrics(registry)),
	}
	if cfg.Garmin.UserAgent != "" {
		opts = append(opts, garmin.WithUserAgent(cfg.Garmin.UserAgent))
	}
	if cfg.Garmin.AutoLogin && cfg.Garmin.Email != "" && cfg.Garmin.Password != "" {
		opts = append(opts, garmin.WithAutoLogin(cfg.Garmin.Email, cfg.Garmin.Password))
	}

	client = garmin.NewClient(logger, opts...)

	return nil
}

// setupLogger configures the zerolog logger
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	// Set log level
	level := zerolog.InfoLevel
	switch strings.ToLower(cfg.Level) {
	case "trace":
		level = zerolog.TraceLevel
	case "debug":
		level = zerolog.DebugLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	// Configure output format
	if cfg.Format == "json" {
		return zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	// Console format; colour only when stderr is a terminal
	fd := os.Stderr.Fd()
	tty := isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
	output := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
		NoColor:    !cfg.Color || !tty,
	}

	return zerolog.New(output).With().Timestamp().Logger()
}

// login signs in with the configured credentials, prompting for anything missing
func login(ctx context.Context) (garmin.AccountID, error) {
	email := cfg.Garmin.Email
	if email == "" {
		return garmin.AccountID{}, fmt.Errorf("garmin.email is not configured")
	}

	password := cfg.Garmin.Password
	if password == "" {
		var err error
		password, err = promptPassword(email)
		if err != nil {
			return garmin.AccountID{}, err
		}
	}

	logger.Debug().Str("email", email).Msg("Signing in to Garmin Connect")
	account, err := client.Login(ctx, email, password)
	if err != nil {
		return garmin.AccountID{}, fmt.Errorf("failed to sign in: %w", err)
	}
	return account, nil
}

func promptPassword(email string) (string, error) {
	if !term.IsTerminal(int(syscall.Stdin)) {
		return "", fmt.Errorf("garmin.password is not configured and stdin is not a terminal")
	}

	if _, err := fmt.Fprintf(os.Stdout, "Password for %s: ", email); err != nil {
		return "", fmt.Errorf("failed to write prompt: %w", err)
	}

	secret, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}

	_, _ = os.Stdout.WriteString("\n") // newline after hidden input

	return string(secret), nil
}

// testCmd represents the test command
var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Test sign-in to Garmin Connect",
	Long:  `Sign in with the configured account and display the resolved profile.`,
	RunE:  runTest,
}

func runTest(cmd *cobra.Command, args []string) error {
	fmt.Printf("Signing in to %s as %s...\n", cfg.Garmin.BaseURL, cfg.Garmin.Email)

	account, err := login(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Println("✓ Sign-in successful!")
	fmt.Printf("\nAccount:\n")
	fmt.Printf("- Display name: %s\n", account.DisplayName)
	if account.UserName != "" {
		fmt.Printf("- User name: %s\n", account.UserName)
	}
	fmt.Printf("- Auto login: %s\n", boolToStatus(cfg.Garmin.AutoLogin))

	return nil
}

func boolToStatus(b bool) string {
	if b {
		return "Enabled"
	}
	return "Disabled"
}
