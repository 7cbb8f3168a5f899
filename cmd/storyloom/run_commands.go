package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"storyloom/internal/api"
)

func newStartCommand(ctx *commandContext) *cobra.Command {
	var owner string
	var title string
	var brief string
	var voice string
	var style string
	var aspect string
	var scenes int
	var words int
	var rawConfig string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a new pipeline run",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}

			var cfg json.RawMessage
			if strings.TrimSpace(rawConfig) != "" {
				cfg = json.RawMessage(rawConfig)
			} else {
				payload := map[string]any{
					"title":   title,
					"brief":   brief,
					"voiceId": voice,
				}
				if style != "" {
					payload["imageStyle"] = style
				}
				if aspect != "" {
					payload["aspectRatio"] = aspect
				}
				if scenes > 0 {
					payload["sceneCount"] = scenes
				}
				if words > 0 {
					payload["wordsPerScene"] = words
				}
				encoded, err := json.Marshal(payload)
				if err != nil {
					return fmt.Errorf("encode run config: %w", err)
				}
				cfg = encoded
			}

			view, err := client.Start(cmd.Context(), owner, cfg)
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, view)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "started run %s for %s (phase %s)\n", view.ID, view.OwnerRef, view.Phase)
			return nil
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "Owner reference (project id)")
	cmd.Flags().StringVar(&title, "title", "", "Story title")
	cmd.Flags().StringVar(&brief, "brief", "", "Story brief")
	cmd.Flags().StringVar(&voice, "voice", "", "Narration voice id")
	cmd.Flags().StringVar(&style, "style", "", "Illustration style")
	cmd.Flags().StringVar(&aspect, "aspect", "", "Aspect ratio (16:9, 9:16, 1:1)")
	cmd.Flags().IntVar(&scenes, "scenes", 0, "Scene count")
	cmd.Flags().IntVar(&words, "words", 0, "Words per scene")
	cmd.Flags().StringVar(&rawConfig, "config-json", "", "Raw run configuration JSON (overrides other flags)")
	_ = cmd.MarkFlagRequired("owner")

	return cmd
}

// resolveRunID turns either a positional run id or an --owner flag into a
// concrete run id.
func resolveRunID(cmd *cobra.Command, ctx *commandContext, args []string, owner string) (string, error) {
	if len(args) == 1 && strings.TrimSpace(args[0]) != "" {
		return strings.TrimSpace(args[0]), nil
	}
	if strings.TrimSpace(owner) == "" {
		return "", errors.New("a run id argument or --owner is required")
	}
	client, err := ctx.apiClient()
	if err != nil {
		return "", err
	}
	view, err := client.Active(cmd.Context(), strings.TrimSpace(owner))
	if err != nil {
		return "", err
	}
	return view.ID, nil
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var owner string

	cmd := &cobra.Command{
		Use:   "status [run-id]",
		Short: "Show a run's phase, progress, and artifact",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := resolveRunID(cmd, ctx, args, owner)
			if err != nil {
				return err
			}
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			view, err := client.Status(cmd.Context(), runID)
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, view)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderRunStatus(view))
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "Resolve the owner's active run")
	return cmd
}

func newActionCommand(ctx *commandContext, use, short string, call func(*cobra.Command, *apiClient, string) (api.ActionResponse, error)) *cobra.Command {
	var owner string

	cmd := &cobra.Command{
		Use:   use + " [run-id]",
		Short: short,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := resolveRunID(cmd, ctx, args, owner)
			if err != nil {
				return err
			}
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			action, err := call(cmd, client, runID)
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, action)
			}
			if action.Detail != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "run %s: %s (%s), phase %s\n", action.RunID, action.Action, action.Detail, action.Phase)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "run %s: %s, phase %s\n", action.RunID, action.Action, action.Phase)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "Resolve the owner's active run")
	return cmd
}

func newAdvanceCommand(ctx *commandContext) *cobra.Command {
	return newActionCommand(ctx, "advance", "Drive one step of the pipeline",
		func(cmd *cobra.Command, client *apiClient, runID string) (api.ActionResponse, error) {
			return client.Advance(cmd.Context(), runID)
		})
}

func newRetryCommand(ctx *commandContext) *cobra.Command {
	return newActionCommand(ctx, "retry", "Retry a failed run from its rollback phase",
		func(cmd *cobra.Command, client *apiClient, runID string) (api.ActionResponse, error) {
			return client.Retry(cmd.Context(), runID)
		})
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return newActionCommand(ctx, "cancel", "Cancel a run and stop its stage job",
		func(cmd *cobra.Command, client *apiClient, runID string) (api.ActionResponse, error) {
			return client.Cancel(cmd.Context(), runID)
		})
}

func newListCommand(ctx *commandContext) *cobra.Command {
	var phases []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			list, err := client.List(cmd.Context(), phases)
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, list)
			}
			if len(list.Runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no runs")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderRunList(list.Runs))
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&phases, "phase", nil, "Filter by phase (repeatable)")
	return cmd
}
