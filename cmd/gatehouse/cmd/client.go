package cmd

import (
	"bufio"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/terraconstructs/gatehouse/pkg/sdk"
)

var (
	serverURL        string
	loginEmail       string
	loginStdin       bool
	loginPerspective string
	whoamiSessionID  string
	whoamiAPIKey     string
)

func apiClient() *sdk.Client {
	return sdk.NewClient(serverURL, sdk.WithHTTPClient(defaultHTTPClient()), sdk.WithNames(cfg.Names()))
}

func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in to a gatehouse server and print header credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		if loginEmail == "" {
			return fmt.Errorf("--email flag is required")
		}
		var passphrase string
		if loginStdin {
			scanner := bufio.NewScanner(os.Stdin)
			if scanner.Scan() {
				passphrase = scanner.Text()
			}
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("failed to read passphrase: %w", err)
			}
		} else {
			var err error
			passphrase, err = pterm.DefaultInteractiveTextInput.WithMask("*").Show("Passphrase")
			if err != nil {
				return fmt.Errorf("failed to read passphrase: %w", err)
			}
		}

		var perspective *int
		if loginPerspective != "" {
			p, err := cfg.PerspectiveByName(loginPerspective)
			if err != nil {
				return err
			}
			id := int(p)
			perspective = &id
		}

		creds, err := apiClient().Signin(cmd.Context(), loginEmail, passphrase, perspective)
		if err != nil {
			return fmt.Errorf("sign-in failed: %w", err)
		}

		names := cfg.Names()
		pterm.Success.Printf("Signed in as %s\n", creds.AgentID)
		return pterm.DefaultTable.WithData(pterm.TableData{
			{names.SessionID, creds.SessionID},
			{names.APIKey, creds.APIKey},
			{"perspective", fmt.Sprintf("%d", creds.Perspective)},
		}).Render()
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the agent behind a set of session credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		if whoamiSessionID == "" || whoamiAPIKey == "" {
			return fmt.Errorf("--session-id and --api-key are required")
		}
		profile, err := apiClient().Me(cmd.Context(), &sdk.Credentials{SessionID: whoamiSessionID, APIKey: whoamiAPIKey})
		if err != nil {
			return err
		}
		pterm.DefaultSection.Println("Signed-in agent")
		pterm.Info.Printf("Agent ID: %s\n", profile.AgentID)
		if profile.Email != "" {
			pterm.Info.Printf("Email: %s\n", profile.Email)
		}
		pterm.Info.Printf("Created: %s\n", profile.Created.Format(time.RFC1123))
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{loginCmd, whoamiCmd} {
		c.Flags().StringVar(&serverURL, "server-url", "http://localhost:8080", "gatehouse server base URL")
		rootCmd.AddCommand(c)
	}
	loginCmd.Flags().StringVar(&loginEmail, "email", "", "Agent email address (required)")
	loginCmd.Flags().BoolVar(&loginStdin, "stdin", false, "Read the passphrase from stdin")
	loginCmd.Flags().StringVar(&loginPerspective, "perspective", "", "Perspective name or id")
	whoamiCmd.Flags().StringVar(&whoamiSessionID, "session-id", os.Getenv("GATEHOUSE_SESSION_ID"), "Session id (env: GATEHOUSE_SESSION_ID)")
	whoamiCmd.Flags().StringVar(&whoamiAPIKey, "api-key", os.Getenv("GATEHOUSE_API_KEY"), "API key (env: GATEHOUSE_API_KEY)")
}
