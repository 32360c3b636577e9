package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"net/mail"
	"os"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/terraconstructs/gatehouse/internal/db/models"
	"github.com/terraconstructs/gatehouse/internal/repository"
	"github.com/terraconstructs/gatehouse/pkg/credential"
)

var (
	agentEmail      string
	agentPassphrase string
	agentStdin      bool
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Manage agents",
}

var agentCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an agent that can sign in with an email and passphrase",
	RunE: func(cmd *cobra.Command, args []string) error {
		if agentEmail == "" {
			return fmt.Errorf("--email flag is required")
		}
		if _, err := mail.ParseAddress(agentEmail); err != nil {
			return fmt.Errorf("invalid email format: %w", err)
		}

		passphrase := agentPassphrase
		if agentStdin {
			scanner := bufio.NewScanner(os.Stdin)
			fmt.Print("Enter passphrase: ")
			if scanner.Scan() {
				passphrase = scanner.Text()
			}
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("failed to read passphrase: %w", err)
			}
		}
		if passphrase == "" {
			return fmt.Errorf("passphrase is required (use --passphrase or --stdin)")
		}

		hash, err := credential.HashPassphrase(passphrase, credential.DefaultPassphraseParams())
		if err != nil {
			return fmt.Errorf("failed to hash passphrase: %w", err)
		}

		st, err := openStores(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		a := &models.Agent{Email: agentEmail, PassphraseHash: hash}
		if err := st.agents.Create(cmd.Context(), a); err != nil {
			if errors.Is(err, repository.ErrEmailTaken) {
				return fmt.Errorf("an agent with email %s already exists", agentEmail)
			}
			return fmt.Errorf("failed to create agent: %w", err)
		}

		pterm.Success.Printf("Created agent %s\n", a.ID)
		pterm.Info.Printf("Email: %s\n", a.Email)
		return nil
	},
}

var agentShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show an agent by email",
	RunE: func(cmd *cobra.Command, args []string) error {
		if agentEmail == "" {
			return fmt.Errorf("--email flag is required")
		}
		st, err := openStores(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		a, err := st.agents.GetByEmail(cmd.Context(), agentEmail)
		if err != nil {
			return err
		}
		return pterm.DefaultTable.WithData(pterm.TableData{
			{"ID", a.ID},
			{"EMAIL", a.Email},
			{"CREATED", a.CreatedAt.Format(time.RFC3339)},
		}).Render()
	},
}

func init() {
	agentCreateCmd.Flags().StringVar(&agentEmail, "email", "", "Agent email address (required)")
	agentCreateCmd.Flags().StringVar(&agentPassphrase, "passphrase", "", "Agent passphrase")
	agentCreateCmd.Flags().BoolVar(&agentStdin, "stdin", false, "Read the passphrase from stdin")
	agentShowCmd.Flags().StringVar(&agentEmail, "email", "", "Agent email address (required)")

	agentCmd.AddCommand(agentCreateCmd, agentShowCmd)
	rootCmd.AddCommand(agentCmd)
}
