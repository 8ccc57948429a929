/*
 * Copyright (C) 2024, Vizaxe
 *
 * This file is part of objcache.
 *
 * objcache is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * objcache is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <https://www.gnu.org/licenses/>.
 */

package coremain

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Vizaxe/objcache/pkg/mlog"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type serverFlags struct {
	c         string
	asService bool
}

var rootCmd = &cobra.Command{
	Use:   "objcache",
	Short: "A key-value cache on object storage with lazy ttl eviction.",
}

func init() {
	sf := new(serverFlags)
	startCmd := &cobra.Command{
		Use:   "start [-c config_file]",
		Short: "Start the cache http api.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if sf.asService {
				svc, err := newService(sf)
				if err != nil {
					return fmt.Errorf("failed to init service, %w", err)
				}
				return svc.Run()
			}
			return StartServer(cmd.Context(), sf)
		},
		DisableFlagsInUseLine: true,
		SilenceUsage:          true,
	}
	rootCmd.AddCommand(startCmd)
	fs := startCmd.Flags()
	fs.StringVarP(&sf.c, "config", "c", "", "config file")
	fs.BoolVar(&sf.asService, "as-service", false, "start as a service")
	_ = fs.MarkHidden("as-service")

	sweepFlags := new(serverFlags)
	sweepCmd := &cobra.Command{
		Use:   "sweep [-c config_file]",
		Short: "Run one cleanup cycle and print its report.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweep(cmd, sweepFlags)
		},
		DisableFlagsInUseLine: true,
		SilenceUsage:          true,
	}
	sweepCmd.Flags().StringVarP(&sweepFlags.c, "config", "c", "", "config file")
	rootCmd.AddCommand(sweepCmd)

	rootCmd.AddCommand(newSvcCmd())
}

func AddSubCmd(c *cobra.Command) {
	rootCmd.AddCommand(c)
}

func Run() error {
	return rootCmd.Execute()
}

func setup(ctx context.Context, sf *serverFlags) (*Objcache, error) {
	cfg, fileUsed, err := loadConfig(sf.c)
	if err != nil {
		return nil, err
	}
	logger, err := mlog.NewLogger(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to init logger, %w", err)
	}
	logger.Info("config loaded", zap.String("file", fileUsed))
	return NewObjcache(ctx, cfg, logger)
}

// StartServer serves the http api until ctx is done or the process
// receives SIGINT or SIGTERM.
func StartServer(ctx context.Context, sf *serverFlags) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	m, err := setup(ctx, sf)
	if err != nil {
		return err
	}
	defer m.Close()
	return m.ListenAndServe(ctx)
}

func runSweep(cmd *cobra.Command, sf *serverFlags) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m, err := setup(ctx, sf)
	if err != nil {
		return err
	}
	defer m.Close()

	rep, err := m.Cache().Cleanup(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}
