package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/openscreening/gateway/actions"
	"github.com/openscreening/gateway/client"
	"github.com/openscreening/gateway/config"
	"github.com/openscreening/gateway/dicom"
	"github.com/openscreening/gateway/events"
	"github.com/openscreening/gateway/relay"
	"github.com/openscreening/gateway/server"
	"github.com/openscreening/gateway/services"
	"github.com/openscreening/gateway/store"
	"github.com/openscreening/gateway/types"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "gateway",
		Short: "Clinical imaging worklist gateway",
		Long: `gateway bridges an imaging modality to a central scheduling
application: it serves DICOM worklist queries and procedure step updates
on the clinical network, and tunnels commands and events through a relay
namespace that permits no inbound connections.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")

	root.AddCommand(serveCommand())
	root.AddCommand(statsCommand())
	root.AddCommand(purgeCommand())
	root.AddCommand(echoCommand())
	root.AddCommand(queryCommand())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return logger
}

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway: DICOM server, relay listener, event dispatcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger := setupLogger(cfg.LogLevel)

			s, err := store.Open(cfg.Worklist.DBPath)
			if err != nil {
				return fmt.Errorf("failed to open worklist store: %w", err)
			}
			defer s.Close()

			commandSigner, err := relay.NewSigner(cfg.Relay.Namespace, cfg.Relay.HybridConnection,
				cfg.Relay.KeyName, cfg.Relay.SharedAccessKey, 0)
			if err != nil {
				return err
			}
			eventSigner, err := relay.NewSigner(cfg.Relay.Namespace, cfg.Relay.EventsConnection,
				cfg.Relay.KeyName, cfg.Relay.SharedAccessKey, 0)
			if err != nil {
				return err
			}

			dispatcher := events.NewDispatcher(relay.NewSender(eventSigner, logger), 0, logger)

			registry := services.NewRegistry()
			registry.RegisterHandler(types.CEchoRQ, services.NewEchoService())
			registry.RegisterHandler(types.CFindRQ, services.NewFindService(s))
			mpps := services.NewMPPSService(s, dispatcher)
			registry.RegisterHandler(types.NCreateRQ, mpps)
			registry.RegisterHandler(types.NSetRQ, mpps)

			listener := relay.NewListener(commandSigner, actions.NewProcessor(s, logger), logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger.Info("Starting gateway",
				"ae_title", cfg.Worklist.AETitle,
				"port", cfg.Worklist.Port,
				"relay_namespace", cfg.Relay.Namespace)

			group, ctx := errgroup.WithContext(ctx)
			group.Go(func() error {
				addr := fmt.Sprintf(":%d", cfg.Worklist.Port)
				return server.ListenAndServe(ctx, addr, cfg.Worklist.AETitle, registry,
					server.WithLogger(logger))
			})
			group.Go(func() error {
				return listener.Run(ctx)
			})
			group.Go(func() error {
				return dispatcher.Run(ctx)
			})

			err = group.Wait()
			if errors.Is(err, context.Canceled) {
				err = nil
			}
			logger.Info("Gateway stopped")
			return err
		},
	}
}

func statsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show worklist item counts by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			s, err := store.Open(cfg.Worklist.DBPath)
			if err != nil {
				return err
			}
			defer s.Close()

			stats, err := s.Statistics()
			if err != nil {
				return err
			}

			fmt.Printf("total: %d\n", stats.Total)
			for status, count := range stats.ByStatus {
				fmt.Printf("%s: %d\n", status, count)
			}
			return nil
		},
	}
}

func purgeCommand() *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete completed and discontinued items past retention",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			s, err := store.Open(cfg.Worklist.DBPath)
			if err != nil {
				return err
			}
			defer s.Close()

			removed, err := s.PurgeOlderThan(days)
			if err != nil {
				return err
			}

			fmt.Printf("purged %d items older than %d days\n", removed, days)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 30, "retention period in days")
	return cmd
}

func echoCommand() *cobra.Command {
	var addr, aeTitle, calledAE string

	cmd := &cobra.Command{
		Use:   "echo",
		Short: "Send a C-ECHO to verify a DICOM peer",
		RunE: func(cmd *cobra.Command, args []string) error {
			assoc, err := client.Connect(addr, client.Config{
				CallingAETitle: aeTitle,
				CalledAETitle:  calledAE,
				ConnectTimeout: 10 * time.Second,
			})
			if err != nil {
				return err
			}
			defer assoc.Close()

			resp, err := assoc.SendCEcho(1)
			if err != nil {
				return err
			}

			fmt.Printf("C-ECHO status: 0x%04X\n", resp.Status)
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "localhost:11112", "peer address")
	cmd.Flags().StringVar(&aeTitle, "aet", "GATEWAY_SCU", "calling AE title")
	cmd.Flags().StringVar(&calledAE, "called-aet", "GATEWAY_MWL", "called AE title")
	return cmd
}

func queryCommand() *cobra.Command {
	var addr, aeTitle, calledAE, modality, date string

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Query a worklist server for scheduled procedures",
		RunE: func(cmd *cobra.Command, args []string) error {
			assoc, err := client.Connect(addr, client.Config{
				CallingAETitle: aeTitle,
				CalledAETitle:  calledAE,
				ConnectTimeout: 10 * time.Second,
			})
			if err != nil {
				return err
			}
			defer assoc.Close()

			identifier := dicom.NewDataset()
			identifier.AddElement(dicom.TagPatientName, dicom.VR_PN, "")
			identifier.AddElement(dicom.TagPatientID, dicom.VR_LO, "")
			identifier.AddElement(dicom.TagAccessionNumber, dicom.VR_SH, "")
			sps := dicom.NewDataset()
			sps.AddElement(dicom.TagModality, dicom.VR_CS, modality)
			sps.AddElement(dicom.TagScheduledProcedureStepStartDate, dicom.VR_DA, date)
			identifier.AddSequence(dicom.TagScheduledProcedureStepSequence, sps)

			responses, err := assoc.SendCFind(&client.CFindRequest{
				MessageID: 1,
				Dataset:   identifier,
			})
			if err != nil {
				return err
			}

			matches := 0
			for _, resp := range responses {
				if resp.Status != types.StatusPending || resp.Dataset == nil {
					continue
				}
				matches++
				ds := resp.Dataset
				scheduled := ""
				if items := ds.GetSequence(dicom.TagScheduledProcedureStepSequence); len(items) > 0 {
					scheduled = items[0].GetString(dicom.TagScheduledProcedureStepStartDate) +
						" " + items[0].GetString(dicom.TagScheduledProcedureStepStartTime)
				}
				fmt.Printf("%s  %s  %s  %s\n",
					ds.GetString(dicom.TagAccessionNumber),
					ds.GetString(dicom.TagPatientName),
					ds.GetString(dicom.TagPatientID),
					scheduled)
			}
			fmt.Printf("%d matching items\n", matches)
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "localhost:11112", "peer address")
	cmd.Flags().StringVar(&aeTitle, "aet", "GATEWAY_SCU", "calling AE title")
	cmd.Flags().StringVar(&calledAE, "called-aet", "GATEWAY_MWL", "called AE title")
	cmd.Flags().StringVar(&modality, "modality", "", "modality filter (empty for all)")
	cmd.Flags().StringVar(&date, "date", "", "scheduled date filter, YYYYMMDD (empty for all)")
	return cmd
}
