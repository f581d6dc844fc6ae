package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/intentrouter/internal/config"
	"github.com/nextlevelbuilder/intentrouter/internal/pipeline"
	"github.com/nextlevelbuilder/intentrouter/internal/turn"
)

func routeCmd() *cobra.Command {
	var (
		actorID     string
		contextFile string
		state       string
		persist     bool
		timeout     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "route <message>",
		Short: "Run one message through the pipeline and print the outcome as JSON",
		Long: "Route classifies, adjusts and dispatches a single message exactly as the gateway would. " +
			"By default state is kept in memory only; --persist uses the configured database.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if !persist {
				cfg.Database.Backend = "memory"
			}
			cfg.Pipeline.RateLimit.MaxRequests = 0

			msg := pipeline.Message{
				ActorID:           actorID,
				Text:              strings.Join(args, " "),
				ConversationState: turn.ConversationState(state),
			}
			if contextFile != "" {
				snap, err := readSnapshot(contextFile)
				if err != nil {
					return err
				}
				msg.Context = snap
				if snap.ActorID != "" && !cmd.Flags().Changed("actor") {
					msg.ActorID = snap.ActorID
				}
			}

			eng, err := buildEngine(cfg)
			if err != nil {
				return err
			}
			defer eng.close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			out, err := eng.pipeline.Process(ctx, msg)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "cli", "actor id the message is attributed to")
	cmd.Flags().StringVar(&contextFile, "context", "", "JSON file with the conversation context snapshot")
	cmd.Flags().StringVar(&state, "state", "", "conversation state (e.g. negotiating, post_procedure)")
	cmd.Flags().BoolVar(&persist, "persist", false, "load and save actor state in the configured database")
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "overall deadline for the turn")
	return cmd
}

func readSnapshot(path string) (*turn.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read context: %w", err)
	}
	var snap turn.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse context %s: %w", path, err)
	}
	return &snap, nil
}
