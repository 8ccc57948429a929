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
	"fmt"
	"path/filepath"

	"github.com/Vizaxe/objcache/pkg/mlog"
	"github.com/kardianos/service"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type serverService struct {
	sf     *serverFlags
	cancel context.CancelFunc
	done   chan error
}

func (s *serverService) Start(_ service.Service) error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan error, 1)
	go func() {
		err := StartServer(ctx, s.sf)
		if err != nil {
			mlog.L().Error("server exited", zap.Error(err))
		}
		s.done <- err
	}()
	return nil
}

func (s *serverService) Stop(_ service.Service) error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	return <-s.done
}

func newService(sf *serverFlags) (service.Service, error) {
	args := []string{"start", "--as-service"}
	if len(sf.c) > 0 {
		abs, err := filepath.Abs(sf.c)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve config path, %w", err)
		}
		args = append(args, "-c", abs)
	}
	return service.New(&serverService{sf: sf}, &service.Config{
		Name:        "objcache",
		DisplayName: "objcache",
		Description: "A key-value cache on object storage with lazy ttl eviction.",
		Arguments:   args,
	})
}

func newSvcCmd() *cobra.Command {
	svcCmd := &cobra.Command{
		Use:   "service",
		Short: "Manage objcache as a system service.",
	}
	for _, action := range service.ControlAction {
		sf := new(serverFlags)
		c := &cobra.Command{
			Use:   action,
			Short: fmt.Sprintf("%s the objcache service.", action),
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				s, err := newService(sf)
				if err != nil {
					return err
				}
				return service.Control(s, cmd.Name())
			},
			SilenceUsage: true,
		}
		if action == "install" {
			c.Flags().StringVarP(&sf.c, "config", "c", "", "config file")
		}
		svcCmd.AddCommand(c)
	}
	return svcCmd
}
