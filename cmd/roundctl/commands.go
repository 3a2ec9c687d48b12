package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"roundcore/internal/blob"
	"roundcore/internal/config"
	"roundcore/internal/core"
	"roundcore/pkg/domain"
)

var (
	statusColors = map[domain.ExperimentStatus]*color.Color{
		domain.StatusInactive:  color.New(color.FgYellow),
		domain.StatusActive:    color.New(color.FgGreen),
		domain.StatusCompleted: color.New(color.FgCyan),
		domain.StatusArchived:  color.New(color.FgHiBlack),
	}
	headerColor = color.New(color.Bold)
)

func openArchiveSink() (core.ArchiveSink, error) {
	store, err := blob.Open(context.Background())
	if err != nil {
		return nil, err
	}
	return blob.NewSink(store), nil
}

func setupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup <config.yaml>",
		Short: "Install an experiment configuration from a YAML document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newService()
			if err != nil {
				return err
			}
			doc, err := config.Load(args[0])
			if err != nil {
				return err
			}
			configuration, err := config.Install(cmd.Context(), svc, doc)
			if err != nil {
				return err
			}
			fmt.Printf("installed configuration %s (%s, %d rounds)\n",
				configuration.ID, configuration.Name, len(doc.Rounds))
			return nil
		},
	}
}

func createCmd() *cobra.Command {
	var configurationID, experimentType string
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create an experiment from an installed configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newService()
			if err != nil {
				return err
			}
			experiment, _, err := svc.CreateExperiment(cmd.Context(), core.Experiment{
				Name:            args[0],
				ConfigurationID: configurationID,
				ExperimentType:  experimentType,
			})
			if err != nil {
				return err
			}
			fmt.Printf("created experiment %s\n", experiment.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&configurationID, "configuration", "", "experiment configuration ID (required)")
	cmd.Flags().StringVar(&experimentType, "type", "", "experiment type (e.g. forestry)")
	_ = cmd.MarkFlagRequired("configuration")
	return cmd
}

func joinCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "join <experiment-id> <identifier>",
		Short: "Register a participant on an experiment",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newService()
			if err != nil {
				return err
			}
			participant, _, err := svc.AddParticipant(cmd.Context(), core.Participant{
				ExperimentID: args[0],
				Identifier:   args[1],
			})
			if err != nil {
				return err
			}
			fmt.Printf("participant %s joined as #%d\n", participant.ID, participant.JoinOrder)
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [experiment-id]",
		Short: "Show experiment state, or list all experiments",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newService()
			if err != nil {
				return err
			}
			if len(args) == 0 {
				return printExperimentList(cmd.Context(), svc)
			}
			return printExperiment(cmd.Context(), svc, args[0])
		},
	}
}

func printExperimentList(ctx context.Context, svc *core.Service) error {
	experiments := svc.ListExperiments(ctx)
	if len(experiments) == 0 {
		fmt.Println("no experiments")
		return nil
	}
	for _, experiment := range experiments {
		fmt.Printf("%s  %s  %s\n",
			experiment.ID,
			colorStatus(experiment.Status),
			experiment.Name,
		)
	}
	return nil
}

func printExperiment(ctx context.Context, svc *core.Service, id string) error {
	experiment, ok := svc.GetExperiment(ctx, id)
	if !ok {
		return fmt.Errorf("experiment %s not found", id)
	}
	headerColor.Printf("%s (%s)\n", experiment.Name, experiment.ID)
	fmt.Printf("  status:  %s\n", colorStatus(experiment.Status))
	fmt.Printf("  round:   %d (repeat %d)\n",
		experiment.CurrentRoundSequenceNumber,
		experiment.CurrentRepeatedRoundSequenceNumber)
	if experiment.CurrentRoundStartTime != nil {
		fmt.Printf("  started: %s\n", experiment.CurrentRoundStartTime.Format("2006-01-02 15:04:05"))
	}

	participants := svc.ListParticipants(ctx, id)
	fmt.Printf("  participants: %d\n", len(participants))
	for _, group := range svc.ListGroups(ctx, id) {
		if !group.Active {
			continue
		}
		members := svc.ListGroupMemberships(ctx, group.ID)
		fmt.Printf("  group %d: %d/%d members", group.Number, len(members), group.MaxSize)
		if group.SessionID != "" {
			fmt.Printf(" (session %s)", group.SessionID)
		}
		fmt.Println()
	}
	for _, rd := range svc.ListRoundData(ctx, id) {
		fmt.Printf("  round data %s repeat=%d elapsed=%ds\n",
			rd.ID, rd.RepeatingRoundSequenceNumber, rd.ElapsedSeconds)
	}
	return nil
}

func colorStatus(status domain.ExperimentStatus) string {
	if c, ok := statusColors[status]; ok {
		return c.Sprint(string(status))
	}
	return string(status)
}

func invokeCmd() *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "invoke <experiment-id> <action>",
		Short: "Dispatch an administrative action",
		Long: `Dispatch a named administrative action against an experiment.
Supported actions: activate, start_round, end_round, advance_to_next_round,
complete, archive, clear_participants, clone.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newService()
			if err != nil {
				return err
			}
			result, err := svc.Invoke(cmd.Context(), args[0], args[1], actor)
			var invalid domain.InvalidActionError
			if errors.As(err, &invalid) {
				return fmt.Errorf("%s: %s", invalid.Action, invalid.Reason)
			}
			if err != nil {
				return err
			}
			if result.Changed {
				color.Green("%s: %s", result.Action, result.Message)
			} else {
				color.Yellow("%s: %s", result.Action, result.Message)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "cli", "actor recorded with the action")
	return cmd
}

func archivesCmd() *cobra.Command {
	var prefix string
	cmd := &cobra.Command{
		Use:   "archives",
		Short: "List exported experiment archives",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := blob.Open(cmd.Context())
			if err != nil {
				return err
			}
			infos, err := store.List(cmd.Context(), prefix)
			if err != nil {
				return err
			}
			if len(infos) == 0 {
				fmt.Println("no archives")
				return nil
			}
			for _, info := range infos {
				fmt.Printf("%s  %8d bytes  %s\n",
					info.LastModified.Format("2006-01-02 15:04:05"), info.Size, info.Key)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "experiments/", "key prefix filter")
	return cmd
}
