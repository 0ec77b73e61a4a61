package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"leadgen-outreach-go/internal/config"
	"leadgen-outreach-go/internal/mailer"
)

var (
	tokenChannel  string
	tokenRedirect string
)

var oauthTokenCmd = &cobra.Command{
	Use:   "oauth-token",
	Short: "Obtain a Google refresh token for a mail channel",
	Long: `Walk through the OAuth consent flow for a channel's client id and
secret and print the refresh token to store in its configuration.`,
	RunE: runOAuthToken,
}

func init() {
	oauthTokenCmd.Flags().StringVar(&tokenChannel, "channel", "gmail", "Channel whose oauth client to use")
	oauthTokenCmd.Flags().StringVar(&tokenRedirect, "redirect-url", "http://localhost:8080/callback", "OAuth redirect URL registered for the client")
	rootCmd.AddCommand(oauthTokenCmd)
}

func runOAuthToken(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	ch, ok := cfg.Channels[tokenChannel]
	if !ok {
		return fmt.Errorf("unknown channel %q", tokenChannel)
	}
	if ch.OAuth.ClientID == "" || ch.OAuth.ClientSecret == "" {
		return fmt.Errorf("channel %s has no oauth client_id and client_secret", tokenChannel)
	}

	oauthCfg := mailer.GmailOAuthConfig(ch, tokenRedirect)
	out := cmd.OutOrStdout()

	authURL := oauthCfg.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
	fmt.Fprintf(out, "Go to the following link in your browser: %v\n", authURL)
	fmt.Fprintln(out, "\nAfter authorization, you'll be redirected to a URL. Copy the 'code' parameter from that URL.")

	var authCode string
	fmt.Fprint(out, "\nEnter the authorization code: ")
	if _, err := fmt.Fscan(cmd.InOrStdin(), &authCode); err != nil {
		return fmt.Errorf("failed to read authorization code: %w", err)
	}

	tok, err := oauthCfg.Exchange(context.Background(), authCode)
	if err != nil {
		return fmt.Errorf("unable to retrieve token: %w", err)
	}

	fmt.Fprintf(out, "\nRefresh Token: %s\n", tok.RefreshToken)
	fmt.Fprintf(out, "Expiry: %v\n", tok.Expiry)
	fmt.Fprintf(out, "\nSet channels.%s.oauth.refresh_token to the refresh token above.\n", tokenChannel)
	return nil
}
