package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/kardianos/service"
	"github.com/spf13/cobra"

	"dreamlines/shutdown"
)

const serviceName = "dreamlines"

// serviceConfig describes the installed service. The service manager starts
// the binary with "serve" and the absolute env file path.
func serviceConfig(envFile string) *service.Config {
	args := []string{"serve"}
	if envFile != "" {
		if abs, err := filepath.Abs(envFile); err == nil {
			envFile = abs
		}
		args = append(args, "--env-file", envFile)
	}
	return &service.Config{
		Name:        serviceName,
		DisplayName: "DreamLines Coloring Books",
		Description: "Web UI for generating personalized coloring book PDFs.",
		Arguments:   args,
		Option: service.KeyValue{
			"StartType": "automatic",
			"Restart":   "on-failure",
		},
	}
}

// program adapts App.Serve to the service.Interface lifecycle.
type program struct {
	run    func(ctx context.Context) error
	cancel context.CancelFunc
	exit   chan error
}

// Start must not block.
func (p *program) Start(s service.Service) error {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.exit = make(chan error, 1)
	go func() {
		p.exit <- p.run(ctx)
	}()
	return nil
}

// Stop cancels Serve and waits for the graceful shutdown to finish.
func (p *program) Stop(s service.Service) error {
	if p.cancel == nil {
		return nil
	}
	p.cancel()
	select {
	case err := <-p.exit:
		return err
	case <-time.After(shutdown.DefaultTimeout + 5*time.Second):
		return fmt.Errorf("timeout waiting for service to stop")
	}
}

func runningUnderServiceManager() bool {
	return !service.Interactive()
}

// runService runs serve under the platform service manager.
func runService(opts *cliOptions, host string, port int) error {
	prg := &program{}
	prg.run = func(ctx context.Context) error {
		cmd := &cobra.Command{}
		cmd.SetContext(ctx)
		app, err := bootstrap(cmd, opts, nil)
		if err != nil {
			return err
		}
		return app.Serve(ctx, host, port)
	}

	s, err := service.New(prg, serviceConfig(opts.envFile))
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}
	return s.Run()
}

func newServiceCommand(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Manage the DreamLines OS service",
	}

	for _, action := range service.ControlAction {
		cmd.AddCommand(&cobra.Command{
			Use:   action,
			Short: serviceActionHelp(action),
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				s, err := service.New(&program{}, serviceConfig(opts.envFile))
				if err != nil {
					return fmt.Errorf("failed to create service: %w", err)
				}
				if err := service.Control(s, action); err != nil {
					return fmt.Errorf("failed to %s service: %w", action, err)
				}
				color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "Service %s: ok\n", action)
				return nil
			},
		})
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the service status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := service.New(&program{}, serviceConfig(opts.envFile))
			if err != nil {
				return fmt.Errorf("failed to create service: %w", err)
			}
			status, err := s.Status()
			if err != nil && !errors.Is(err, service.ErrNotInstalled) {
				return fmt.Errorf("failed to get service status: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), describeStatus(status, err))
			return nil
		},
	})
	return cmd
}

func serviceActionHelp(action string) string {
	switch action {
	case "install":
		return "Install DreamLines as an OS service"
	case "uninstall":
		return "Remove the OS service"
	case "start":
		return "Start the OS service"
	case "stop":
		return "Stop the OS service"
	case "restart":
		return "Stop then start the OS service"
	}
	return action + " the OS service"
}

func describeStatus(status service.Status, err error) string {
	if errors.Is(err, service.ErrNotInstalled) {
		return color.YellowString("Service is not installed")
	}
	switch status {
	case service.StatusRunning:
		return color.GreenString("Service is running")
	case service.StatusStopped:
		return color.RedString("Service is stopped")
	default:
		return "Service status unknown"
	}
}
