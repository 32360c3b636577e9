package cmd

import (
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/terraconstructs/gatehouse/internal/repository"
	"github.com/terraconstructs/gatehouse/pkg/agent"
	"github.com/terraconstructs/gatehouse/pkg/credential"
	"github.com/terraconstructs/gatehouse/pkg/session"
)

var (
	sessionEmail       string
	sessionAgentID     string
	sessionPerspective string
	sessionFilter      string
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect and manage sessions",
}

var sessionOpenCmd = &cobra.Command{
	Use:   "open",
	Short: "Open a session for an agent without a passphrase",
	Long: `Opens a session for the agent with the given email and prints its
header credentials. Intended for operators and service bootstrapping.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if sessionEmail == "" {
			return fmt.Errorf("--email flag is required")
		}
		perspective, err := openPerspective()
		if err != nil {
			return err
		}

		st, err := openStores(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		a, err := st.agents.GetByEmail(cmd.Context(), sessionEmail)
		if err != nil {
			return err
		}
		issued, err := session.NewManager(st.sessions, st.agents).Open(cmd.Context(), agent.New(a.ID), perspective)
		if err != nil {
			return fmt.Errorf("failed to open session: %w", err)
		}

		names := cfg.Names()
		pterm.Success.Printf("Opened session for %s\n", a.Email)
		return pterm.DefaultTable.WithData(pterm.TableData{
			{names.SessionID, issued.ID()},
			{names.APIKey, issued.APIKey},
			{"perspective", fmt.Sprintf("%d (%s)", issued.Perspective(), cfg.Perspectives[issued.Perspective()])},
		}).Render()
	},
}

func openPerspective() (session.Perspective, error) {
	if sessionPerspective == "" {
		return cfg.PerspectiveIDs()[0], nil
	}
	return cfg.PerspectiveByName(sessionPerspective)
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions, most recently used first",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStores(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		filter, err := repository.NewSessionFilter(sessionFilter, cfg.SessionSettings().TTL, cfg.Perspectives)
		if err != nil {
			return err
		}

		records, err := st.sessions.List(cmd.Context(), sessionAgentID)
		if err != nil {
			return fmt.Errorf("failed to list sessions: %w", err)
		}
		now := time.Now()
		records, err = filter.Apply(records, now)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			pterm.Info.Println("No sessions.")
			return nil
		}

		table := pterm.TableData{{"SESSION", "AGENT", "PERSPECTIVE", "LAST USED", "STATUS"}}
		for _, rec := range records {
			status := "active"
			if filter.Expired(rec, now) {
				status = "expired"
			}
			table = append(table, []string{
				rec.SessionID,
				rec.AgentID,
				cfg.Perspectives[rec.Perspective],
				rec.LastUtilised.Format(time.RFC3339),
				status,
			})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(table).Render()
	},
}

var sessionRevokeCmd = &cobra.Command{
	Use:   "revoke SESSION_ID",
	Short: "Delete a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStores(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.sessions.Delete(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("failed to revoke session: %w", err)
		}
		pterm.Success.Printf("Revoked session %s\n", credential.Mask(args[0]))
		return nil
	},
}

var sessionPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete expired sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStores(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		n, err := st.sessions.DeleteExpired(cmd.Context(), cfg.SessionSettings().TTL)
		if err != nil {
			return fmt.Errorf("failed to prune sessions: %w", err)
		}
		pterm.Success.Printf("Pruned %d expired sessions\n", n)
		return nil
	},
}

func init() {
	sessionOpenCmd.Flags().StringVar(&sessionEmail, "email", "", "Email of the agent to open a session for (required)")
	sessionOpenCmd.Flags().StringVar(&sessionPerspective, "perspective", "", "Perspective name or id (default: lowest configured id)")
	sessionListCmd.Flags().StringVar(&sessionAgentID, "agent", "", "Only list sessions of this agent id")
	sessionListCmd.Flags().StringVar(&sessionFilter, "filter", "",
		`Boolean expression over session_id, agent_id, perspective, perspective_name, status and expired, e.g. 'perspective == 2 and status == "active"'`)

	sessionCmd.AddCommand(sessionOpenCmd, sessionListCmd, sessionRevokeCmd, sessionPruneCmd)
	rootCmd.AddCommand(sessionCmd)
}
