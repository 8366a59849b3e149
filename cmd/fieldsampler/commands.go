package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"fieldtrack/internal/client"
	"fieldtrack/internal/config"
	"fieldtrack/internal/logging"
	"fieldtrack/internal/sampler"
)

type overrides struct {
	server   string
	token    string
	actor    string
	interval time.Duration
}

func (o *overrides) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.server, "server", "", "fieldtrack server URL")
	cmd.Flags().StringVar(&o.token, "token", "", "API bearer token")
	cmd.Flags().StringVar(&o.actor, "actor", "", "user id this device samples for")
	cmd.Flags().DurationVar(&o.interval, "interval", 0, "sampling interval")
}

func loadConfig(profile string, o *overrides) (*config.SamplerConfig, error) {
	cfg, err := config.LoadSampler(profile)
	if err != nil {
		return nil, err
	}
	if o != nil {
		if o.server != "" {
			cfg.ServerURL = o.server
		}
		if o.token != "" {
			cfg.Token = o.token
		}
		if o.actor != "" {
			cfg.ActorID = o.actor
		}
		if o.interval > 0 {
			cfg.Interval = o.interval
		}
	}
	return cfg, nil
}

// buildSampler wires the device adapters described by cfg.
func buildSampler(cfg *config.SamplerConfig, logger *slog.Logger) (*sampler.Sampler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	api, err := client.New(cfg.ServerURL, cfg.Token, cfg.ActorID)
	if err != nil {
		return nil, err
	}
	markers, err := sampler.NewFileMarkerStore(cfg.StateDir)
	if err != nil {
		return nil, err
	}

	devices := sampler.Devices{
		Permissions: sampler.ConsentPermissions{Foreground: cfg.ForegroundConsent, Background: cfg.BackgroundConsent},
		Submitter:   api,
	}
	if cfg.ReplayFile != "" {
		replay, err := sampler.NewReplayProvider(cfg.ReplayFile)
		if err != nil {
			return nil, err
		}
		devices.Locations = replay
	} else {
		devices.Locations = sampler.StaticProvider{Fix: sampler.Fix{Latitude: *cfg.StaticLat, Longitude: *cfg.StaticLon}}
	}
	if cfg.GeocoderURL != "" {
		geocoder, err := sampler.NewNominatimGeocoder(cfg.GeocoderURL)
		if err != nil {
			return nil, err
		}
		devices.Geocoder = geocoder
	}
	return sampler.New(devices, markers, cfg.Interval, logger), nil
}

func runCmd(profile *string) *cobra.Command {
	var o overrides
	cmd := &cobra.Command{
		Use:   "run <assignment-id>",
		Short: "Start sampling for an assignment and keep running",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*profile, &o)
			if err != nil {
				return err
			}
			logger := logging.NewWithWriter(os.Stderr, cfg.LogLevel)
			s, err := buildSampler(cfg, logger)
			if err != nil {
				return err
			}
			if err := s.Start(cmd.Context(), args[0]); err != nil {
				switch {
				case errors.Is(err, sampler.ErrPermissionDenied):
					return fmt.Errorf("%w (enable consent in the device profile)", err)
				case errors.Is(err, sampler.ErrSessionActive):
					return fmt.Errorf("%w (run `fieldsampler stop` to end it first)", err)
				}
				return err
			}
			return waitForSignal(cmd.OutOrStdout(), s)
		},
	}
	o.register(cmd)
	return cmd
}

func resumeCmd(profile *string) *cobra.Command {
	var o overrides
	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Continue the session recorded on this device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*profile, &o)
			if err != nil {
				return err
			}
			logger := logging.NewWithWriter(os.Stderr, cfg.LogLevel)
			s, err := buildSampler(cfg, logger)
			if err != nil {
				return err
			}
			resumed, err := s.Resume(cmd.Context())
			if err != nil {
				return err
			}
			if !resumed {
				fmt.Fprintln(cmd.OutOrStdout(), "No session to resume.")
				return nil
			}
			return waitForSignal(cmd.OutOrStdout(), s)
		},
	}
	o.register(cmd)
	return cmd
}

// waitForSignal blocks until SIGINT/SIGTERM or until the session ends on its own.
func waitForSignal(out io.Writer, s *sampler.Sampler) error {
	renderSnapshot(out, s.Snapshot())

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-sigs:
			// The marker stays so "resume" can continue the session.
			s.Detach()
			return nil
		case <-ticker.C:
			if s.Snapshot().State == sampler.StateIdle {
				fmt.Fprintln(out, "Session ended.")
				return nil
			}
		}
	}
}

func stopCmd(profile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "End the session on this device",
		Long: `Clears the session marker. A sampler running in another process
notices on its next tick and stops.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*profile, nil)
			if err != nil {
				return err
			}
			markers, err := sampler.NewFileMarkerStore(cfg.StateDir)
			if err != nil {
				return err
			}
			marker, err := markers.Load()
			if err != nil {
				return err
			}
			if marker == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "No active session.")
				return nil
			}
			if err := markers.Clear(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stopped session for assignment %s.\n", marker.AssignmentID)
			return nil
		},
	}
}

func statusCmd(profile *string) *cobra.Command {
	var checkServer bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the session recorded on this device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*profile, nil)
			if err != nil {
				return err
			}
			markers, err := sampler.NewFileMarkerStore(cfg.StateDir)
			if err != nil {
				return err
			}
			marker, err := markers.Load()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			renderMarker(out, marker, time.Now())

			if checkServer && marker != nil {
				api, err := client.New(cfg.ServerURL, cfg.Token, cfg.ActorID)
				if err != nil {
					return err
				}
				ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
				defer cancel()
				assignment, err := api.GetAssignment(ctx, marker.AssignmentID)
				if err != nil {
					fmt.Fprintf(out, "  Server:     %s\n", color.New(color.FgRed).Sprint(err.Error()))
					return nil
				}
				fmt.Fprintf(out, "  Server:     %s\n", colorStatus(assignment.ComputedStatus))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&checkServer, "check-server", false, "Also show the assignment status reported by the server")
	return cmd
}

func renderMarker(out io.Writer, marker *sampler.Marker, now time.Time) {
	if marker == nil {
		fmt.Fprintf(out, "Session: %s\n", color.New(color.FgHiBlack).Sprint("none"))
		return
	}
	age := now.Sub(marker.StartedAt)
	state := color.New(color.FgGreen).Sprint("active")
	if age > sampler.MarkerMaxAge {
		state = color.New(color.FgYellow).Sprint("stale (will not resume)")
	}
	fmt.Fprintf(out, "Session: %s\n", state)
	fmt.Fprintf(out, "  Assignment: %s\n", marker.AssignmentID)
	fmt.Fprintf(out, "  Started:    %s (%s ago)\n", marker.StartedAt.Local().Format("2006-01-02 15:04:05"), age.Round(time.Second))
}

func renderSnapshot(out io.Writer, snap sampler.Snapshot) {
	fmt.Fprintf(out, "Sampling %s every %s\n", color.New(color.FgCyan).Sprint(snap.AssignmentID), snap.Interval)
	if snap.LastSampleAt != nil {
		fmt.Fprintf(out, "  First sample: %s\n", color.New(color.FgGreen).Sprint("submitted"))
	} else if snap.LastError != "" {
		fmt.Fprintf(out, "  First sample: %s\n", color.New(color.FgYellow).Sprint(snap.LastError))
	}
}

func colorStatus(status string) string {
	switch status {
	case "in progress":
		return color.New(color.FgGreen).Sprint(status)
	case "pending":
		return color.New(color.FgYellow).Sprint(status)
	case "completed":
		return color.New(color.FgBlue).Sprint(status)
	default:
		return color.New(color.FgHiBlack).Sprint(status)
	}
}
