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
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/quantfabric/qf-kernel/common"
)

func init() {
	// Database
	viper.BindEnv("database.url", "DATABASE_URL")
	rootCmd.PersistentFlags().String("database-url", "", "PostgreSQL connection string")
	viper.BindPFlag("database.url", rootCmd.PersistentFlags().Lookup("database-url"))

	// Realtime cluster peer
	viper.BindEnv("realtime.url", "QF_REALTIME_URL")
	rootCmd.PersistentFlags().String("realtime-url", "", "WebSocket peer to mirror mutations to, if blank clustering is off")
	viper.BindPFlag("realtime.url", rootCmd.PersistentFlags().Lookup("realtime-url"))

	// Kernel behaviour
	viper.BindEnv("kernel.persist_timeseries", "QF_PERSIST_TIMESERIES")
	rootCmd.PersistentFlags().Bool("persist-timeseries", false, "Flush time-series points on every upsert instead of waiting for a save pass")
	viper.BindPFlag("kernel.persist_timeseries", rootCmd.PersistentFlags().Lookup("persist-timeseries"))

	viper.BindEnv("kernel.save_interval", "QF_SAVE_INTERVAL")
	rootCmd.PersistentFlags().Duration("save-interval", 0, "Interval between periodic save passes")
	viper.BindPFlag("kernel.save_interval", rootCmd.PersistentFlags().Lookup("save-interval"))

	viper.BindEnv("kernel.timezone", "QF_TIMEZONE")
	rootCmd.PersistentFlags().String("timezone", "America/New_York", "Market timezone kernel timestamps are normalized to")
	viper.BindPFlag("kernel.timezone", rootCmd.PersistentFlags().Lookup("timezone"))

	// Logging configuration
	viper.BindEnv("log.level", "QF_LOG_LEVEL")
	rootCmd.PersistentFlags().String("log-level", "warning", "Logging level")
	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))

	viper.BindEnv("log.output", "QF_LOG_OUTPUT")
	rootCmd.PersistentFlags().String("log-output", "stdout", "Write logs to specified output one of: file path, `stdout`, or `stderr`")
	viper.BindPFlag("log.output", rootCmd.PersistentFlags().Lookup("log-output"))

	viper.BindEnv("log.pretty", "QF_LOG_PRETTY")
	rootCmd.PersistentFlags().Bool("log-pretty", false, "Use human friendly console log output")
	viper.BindPFlag("log.pretty", rootCmd.PersistentFlags().Lookup("log-pretty"))
}

var rootCmd = &cobra.Command{
	Use:     "qfkernel",
	Version: common.CurrentVersion.String(),
	Short:   "qf-kernel is a portfolio accounting kernel",
	Long:    `A reference-data and portfolio-accounting kernel that caches instruments, positions, orders and time series in memory and reconciles them against a relational store.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
