package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pagewatch/internal/types"
)

// cacheCmd groups the plan cache operations
var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and maintain the plan cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print cache totals, hit rate and top entries",
	RunE:  runCacheStats,
}

var cacheCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete expired cache entries",
	RunE:  runCacheCleanup,
}

var (
	invalidateInstruction string
	invalidateURL         string
)

var cacheInvalidateCmd = &cobra.Command{
	Use:   "invalidate",
	Short: "Drop the cache entry for an (instruction, url) pair",
	Long: `Removes the cache entry so the next run generates a fresh plan. The plan
row itself is kept for history.

Example:
  pagewatch cache invalidate --instruction "Check the roast date and price" --url https://roastery.example.com/p/ethiopia`,
	RunE: runCacheInvalidate,
}

func init() {
	cacheInvalidateCmd.Flags().StringVar(&invalidateInstruction, "instruction", "", "Task instruction (required)")
	cacheInvalidateCmd.Flags().StringVar(&invalidateURL, "url", "", "Task URL (required)")
	_ = cacheInvalidateCmd.MarkFlagRequired("instruction")
	_ = cacheInvalidateCmd.MarkFlagRequired("url")
}

func runCacheStats(cmd *cobra.Command, args []string) error {
	engine, err := buildEngine()
	if err != nil {
		return err
	}
	defer engine.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stats, err := engine.Cache.Stats(ctx)
	if err != nil {
		return fmt.Errorf("cache stats: %w", err)
	}
	out, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runCacheCleanup(cmd *cobra.Command, args []string) error {
	engine, err := buildEngine()
	if err != nil {
		return err
	}
	defer engine.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	removed := engine.Cache.CleanupExpired(ctx)
	logger.Info("Cache cleanup complete", zap.Int("removed", removed))
	fmt.Printf("removed %d expired entries\n", removed)
	return nil
}

func runCacheInvalidate(cmd *cobra.Command, args []string) error {
	engine, err := buildEngine()
	if err != nil {
		return err
	}
	defer engine.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sig := types.TaskSignature(invalidateInstruction, invalidateURL)
	if err := engine.Cache.Invalidate(ctx, sig); err != nil {
		return fmt.Errorf("invalidate: %w", err)
	}
	fmt.Printf("invalidated cache entry for %q\n", sig)
	return nil
}
