// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// debstrap builds a reproducible root filesystem image from signed Debian
// package repositories and prints the digest of the resulting tar.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/google/debstrap/internal/container"
	"github.com/google/debstrap/pkg/bootstrap"
	"github.com/spf13/cobra"
)

var (
	cacheRoot      string
	definitionsDir string
	keyringsDir    string
	runtimeBinary  string
	outputPath     string
)

var rootCmd = &cobra.Command{
	Use:   "debstrap <definition>",
	Short: "Build a reproducible Debian root filesystem image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		def, err := bootstrap.LoadDefinition(definitionsDir, args[0])
		if err != nil {
			return err
		}
		builder := &bootstrap.Builder{
			CacheRoot:  cacheRoot,
			KeyringDir: keyringsDir,
			Runtime:    container.New(runtimeBinary),
			OutputPath: outputPath,
		}
		digest, err := builder.Build(cmd.Context(), def)
		if err != nil {
			return err
		}
		fmt.Println("sha256:" + digest)
		return nil
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.Flags().StringVar(&cacheRoot, "cache-root", "debs", "Directory holding cached repository files and packages.")
	rootCmd.Flags().StringVar(&definitionsDir, "definitions", "definitions", "Directory holding <name>.json build definitions.")
	rootCmd.Flags().StringVar(&keyringsDir, "keyrings", "keyrings", "Directory holding <name>.gpg archive keyrings.")
	rootCmd.Flags().StringVar(&runtimeBinary, "runtime", "docker", "Container runtime binary used for the second stage.")
	rootCmd.Flags().StringVar(&outputPath, "output", "root.tar", "Path the final image tar is installed at.")
}

func main() {
	log.SetFlags(0)
	log.SetOutput(os.Stderr)
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
