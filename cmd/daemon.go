// Copyright 2022
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/quantfabric/qf-kernel/common"
	"github.com/quantfabric/qf-kernel/instrument"
	"github.com/quantfabric/qf-kernel/realtime"
	"github.com/quantfabric/qf-kernel/store"
)

func init() {
	rootCmd.AddCommand(daemonCmd)
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the kernel save loop",
	Long:  `Connect to the store, warm the caches, and run periodic save passes until interrupted.`,
	Run: func(cmd *cobra.Command, args []string) {
		common.SetupLogging()
		log.Info().Str("Version", common.CurrentVersion.String()).Msg("starting kernel daemon")

		ctx := context.Background()

		db, err := store.Connect(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("could not connect to database")
		}

		var pub realtime.Publisher = realtime.Nop{}
		if url := viper.GetString("realtime.url"); url != "" {
			ws := realtime.NewWebSocket(url)
			defer ws.Close()
			pub = ws
		}

		repo := instrument.NewRepository(db, nil, pub)

		scheduler, err := repo.StartSaveLoop()
		if err != nil {
			log.Fatal().Err(err).Msg("could not start save loop")
		}

		// shutdown cleanly on interrupt
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt)
		sig := <-c
		fmt.Printf("Received signal: '%s'; shutting down...\n", sig.String())
		scheduler.Stop()

		repo.SaveAll(ctx)
	},
}
